package store

import (
	"context"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// SessionStore is the interface consumed by the API, the live manager, and
// the batcher. The concrete implementation is *Store (pgx-backed).
type SessionStore interface {
	GetRunRecords(ctx context.Context, userID, sessionID string) ([]transcript.RunRecord, error)
	ListSessionIDs(ctx context.Context, userID string) ([]string, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	DeleteAllSessions(ctx context.Context, userID string) error
	InsertRunEvents(ctx context.Context, envs []events.Envelope) error
	Close()
}
