package events

import (
	"encoding/json"
	"log/slog"
	"time"
)

// RunEvent is one incremental occurrence during an agent run: a content
// fragment, a tool-call bracket, or a run lifecycle transition.
type RunEvent struct {
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Content   string    `json:"content,omitempty"`
	Tool      *ToolInfo `json:"tool,omitempty"`
	CreatedAt float64   `json:"created_at,omitempty"` // unix seconds
}

// ToolInfo carries the tool-call fields attached to tool events.
type ToolInfo struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	Result     string          `json:"result,omitempty"`
}

// Envelope scopes a RunEvent to one conversation. Agents publish envelopes
// on swarm.run.> and Quill fans them to the live manager and the journal.
type Envelope struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Event     RunEvent `json:"event"`
}

// Known event kinds. Unknown kinds still flow through for run-id tracking.
const (
	KindRunStarted        = "RunStarted"
	KindRunContent        = "RunContent"
	KindToolCallStarted   = "ToolCallStarted"
	KindToolCallCompleted = "ToolCallCompleted"
	KindRunCompleted      = "RunCompleted"
	KindRunError          = "RunError"
	KindRunCancelled      = "RunCancelled"
)

// DefaultUserID is used when an envelope arrives without a user scope.
const DefaultUserID = "user_default"

// Normalize fills in missing fields with sensible defaults.
// It never drops a parseable envelope; the result is always usable.
func Normalize(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}

	if env.UserID == "" {
		env.UserID = DefaultUserID
	}

	if env.Event.CreatedAt == 0 {
		slog.Debug("run event missing created_at, using ingestion time",
			"session_id", env.SessionID,
			"event", env.Event.Event,
		)
		env.Event.CreatedAt = float64(time.Now().UnixNano()) / 1e9
	}

	return env, nil
}

// IsTerminal reports whether the event ends its run.
func (e RunEvent) IsTerminal() bool {
	switch e.Event {
	case KindRunCompleted, KindRunError, KindRunCancelled:
		return true
	}
	return false
}

// ToolCallID returns the tool-call identifier, or "" when the event
// carries none.
func (e RunEvent) ToolCallID() string {
	if e.Tool == nil {
		return ""
	}
	return e.Tool.ToolCallID
}
