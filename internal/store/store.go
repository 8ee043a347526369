package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// DecodeRuns parses the legacy agent_sessions.runs column. The column is
// doubly JSON-encoded: a JSON string whose value is itself the JSON array
// of run objects. The double decode is isolated here so the rest of Quill
// only ever sees parsed structures.
func DecodeRuns(raw []byte) ([]transcript.RunRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("decode runs outer layer: %w", err)
	}
	if inner == "" {
		return nil, nil
	}

	var runs []transcript.RunRecord
	if err := json.Unmarshal([]byte(inner), &runs); err != nil {
		return nil, fmt.Errorf("decode runs inner layer: %w", err)
	}
	return runs, nil
}

// EncodeRuns is the write-side counterpart of DecodeRuns, preserving the
// double encoding for compatibility with existing stored data. Used by
// tests and tooling; Quill itself never writes run records.
func EncodeRuns(runs []transcript.RunRecord) ([]byte, error) {
	inner, err := json.Marshal(runs)
	if err != nil {
		return nil, fmt.Errorf("encode runs inner layer: %w", err)
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encode runs outer layer: %w", err)
	}
	return outer, nil
}

// GetRunRecords returns the ordered run history for one session, or nil
// when the session does not exist. A malformed runs column is logged and
// treated as an empty history, never an error to the caller.
func (s *Store) GetRunRecords(ctx context.Context, userID, sessionID string) ([]transcript.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT runs FROM agent_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session runs: %w", err)
	}

	runs, err := DecodeRuns(raw)
	if err != nil {
		slog.Warn("malformed run record, treating session as empty",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		return nil, nil
	}
	return runs, nil
}

// ListSessionIDs returns the user's session ids, newest first.
func (s *Store) ListSessionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id FROM agent_sessions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes one session's history.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	slog.Info("session deleted", "user_id", userID, "session_id", sessionID, "rows", tag.RowsAffected())
	return nil
}

// DeleteAllSessions removes every session for one user.
func (s *Store) DeleteAllSessions(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete all sessions: %w", err)
	}

	slog.Info("all sessions deleted", "user_id", userID, "rows", tag.RowsAffected())
	return nil
}

// InsertRunEvents batch-inserts observed run events into the run_events
// journal.
func (s *Store) InsertRunEvents(ctx context.Context, envs []events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	rows := runEventRows(envs)
	if len(rows) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"run_events"},
		[]string{"event_id", "user_id", "session_id", "run_id", "event_type", "created_at", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy run events: %w", err)
	}

	slog.Debug("inserted run events", "count", len(rows))
	return nil
}

// runEventRows converts envelopes to journal rows. An envelope whose event
// cannot be encoded (e.g. invalid raw tool args) is logged and skipped
// rather than journaled with an empty payload.
func runEventRows(envs []events.Envelope) [][]any {
	rows := make([][]any, 0, len(envs))
	for _, env := range envs {
		payload, err := json.Marshal(env.Event)
		if err != nil {
			slog.Warn("unencodable run event, skipping",
				"session_id", env.SessionID,
				"event", env.Event.Event,
				"error", err,
			)
			continue
		}
		rows = append(rows, []any{
			uuid.New().String(),
			env.UserID,
			env.SessionID,
			env.Event.RunID,
			env.Event.Event,
			env.Event.CreatedAt,
			payload,
		})
	}
	return rows
}
