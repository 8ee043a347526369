package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := skipWithoutDB(t)
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegration_SessionRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	userID := "integration-user-" + time.Now().Format("20060102150405")
	sessionID := "integration-session-1"

	runs := []transcript.RunRecord{
		{
			Messages: []transcript.RawMessage{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
		},
	}
	encoded, err := EncodeRuns(runs)
	if err != nil {
		t.Fatalf("encode runs: %v", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_sessions (session_id, user_id, runs) VALUES ($1, $2, $3)`,
		sessionID, userID, string(encoded),
	)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM agent_sessions WHERE user_id = $1", userID)
	})

	got, err := s.GetRunRecords(ctx, userID, sessionID)
	if err != nil {
		t.Fatalf("get run records: %v", err)
	}
	if len(got) != 1 || len(got[0].Messages) != 2 {
		t.Fatalf("unexpected records: %+v", got)
	}

	ids, err := s.ListSessionIDs(ctx, userID)
	if err != nil {
		t.Fatalf("list session ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != sessionID {
		t.Errorf("unexpected session ids: %v", ids)
	}

	if err := s.DeleteSession(ctx, userID, sessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	got, err = s.GetRunRecords(ctx, userID, sessionID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestIntegration_GetRunRecords_AbsentSession(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetRunRecords(context.Background(), "no-such-user", "no-such-session")
	if err != nil {
		t.Fatalf("absent session must not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil records, got %+v", got)
	}
}

func TestIntegration_InsertRunEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sessionID := "integration-events-" + time.Now().Format("20060102150405")
	envs := []events.Envelope{
		{
			UserID:    "int-user",
			SessionID: sessionID,
			Event: events.RunEvent{
				Event:     events.KindToolCallStarted,
				RunID:     "int-run-1",
				CreatedAt: 10,
				Tool:      &events.ToolInfo{ToolCallID: "tc-1", ToolName: "search"},
			},
		},
		{
			UserID:    "int-user",
			SessionID: sessionID,
			Event: events.RunEvent{
				Event:     events.KindToolCallCompleted,
				RunID:     "int-run-1",
				CreatedAt: 11,
				Tool:      &events.ToolInfo{ToolCallID: "tc-1", Result: "ok"},
			},
		},
	}

	if err := s.InsertRunEvents(ctx, envs); err != nil {
		t.Fatalf("insert run events: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM run_events WHERE session_id = $1", sessionID)
	})

	var count int
	row := s.pool.QueryRow(ctx, "SELECT count(*) FROM run_events WHERE session_id = $1", sessionID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 journaled events, got %d", count)
	}
}
