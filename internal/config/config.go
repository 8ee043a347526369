package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	NatsURL             string
	DatabaseURL         string
	BatchFlushInterval  time.Duration
	BatchFlushThreshold int
	BufferMaxSize       int
	LogLevel            string
	SlackBotToken       string
	SlackAlertChannel   string
	ShowToolMetadata    bool
	StreamResponses     bool
	LatexMode           bool
}

func Load() Config {
	return Config{
		Port:                envInt("QUILL_PORT", 8710),
		NatsURL:             envStr("NATS_URL", "nats://hermes:4222"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		BatchFlushInterval:  time.Duration(envInt("BATCH_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		BatchFlushThreshold: envInt("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:       envInt("BUFFER_MAX_SIZE", 10000),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		SlackBotToken:       envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel:   envStr("SLACK_ALERT_CHANNEL", ""),
		ShowToolMetadata:    envBool("SHOW_TOOL_METADATA", true),
		StreamResponses:     envBool("STREAM_RESPONSES", true),
		LatexMode:           envBool("LATEX_MODE", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
