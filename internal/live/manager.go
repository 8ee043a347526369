// Package live routes run event envelopes to per-conversation stream
// processors and publishes incremental transcript snapshots.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/runctl"
	"github.com/MikeSquared-Agency/quill/internal/session"
	"github.com/MikeSquared-Agency/quill/internal/stream"
)

// SnapshotSubject carries every incremental transcript emission.
const SnapshotSubject = "swarm.quill.transcript.snapshot"

// PublishFunc publishes a message to NATS.
type PublishFunc func(subject string, data []byte) error

// FailureAlerter is notified when a run fails. Optional.
type FailureAlerter interface {
	PostRunFailureAlert(ctx context.Context, userID, sessionID, runID, reason string) error
}

// snapshotEvent is the NATS payload wrapping one transcript snapshot.
type snapshotEvent struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	stream.Snapshot
}

// Manager owns one stream.Processor per active conversation. Processors are
// never shared across conversations, and the cancellation controller is
// keyed the same way, so one user's cancel can never touch another's run.
type Manager struct {
	ctl     *runctl.Controller
	opts    stream.Options
	alerter FailureAlerter

	// publish and canceller are wired once, before the ingester starts
	// delivering envelopes, and are read-only afterwards.
	publish   PublishFunc
	canceller runctl.Canceller

	mu    sync.Mutex
	convs map[string]*stream.Processor
}

func NewManager(ctl *runctl.Controller, opts stream.Options, alerter FailureAlerter) *Manager {
	return &Manager{
		ctl:     ctl,
		opts:    opts,
		alerter: alerter,
		convs:   make(map[string]*stream.Processor),
	}
}

// SetPublisher wires the NATS publisher and the cancel boundary. Must be
// called before the first envelope arrives.
func (m *Manager) SetPublisher(publish PublishFunc, canceller runctl.Canceller) {
	m.publish = publish
	m.canceller = canceller
}

// HandleEvent applies one envelope to its conversation's processor.
func (m *Manager) HandleEvent(ctx context.Context, env events.Envelope) {
	if env.SessionID == "" {
		slog.Warn("live: envelope missing session_id", "event", env.Event.Event)
		return
	}

	key := session.Key(env.UserID, env.SessionID)

	// Terminal events never open a conversation: a redelivered RunCompleted
	// for an already-finalized turn would otherwise broadcast a phantom
	// placeholder-only transcript.
	var proc *stream.Processor
	if env.Event.IsTerminal() {
		m.mu.Lock()
		proc = m.convs[key]
		m.mu.Unlock()
		if proc == nil {
			slog.Debug("live: terminal event for idle conversation, ignoring",
				"event", env.Event.Event,
				"session_id", env.SessionID,
			)
			return
		}
	} else {
		proc = m.conversation(key, env)
	}

	m.ctl.Track(key, env.Event.RunID)

	switch env.Event.Event {
	case events.KindRunCompleted:
		proc.Finish()
		m.finalize(key)

	case events.KindRunError:
		proc.Fail()
		m.finalize(key)
		if m.alerter != nil {
			if err := m.alerter.PostRunFailureAlert(ctx, env.UserID, env.SessionID, env.Event.RunID, env.Event.Content); err != nil {
				slog.Warn("live: failed to post run failure alert", "error", err)
			}
		}

	case events.KindRunCancelled:
		proc.Cancel()
		m.finalize(key)

	default:
		proc.HandleEvent(env.Event)
	}
}

// Cancel requests cancellation of the conversation's in-flight run.
// Returns false when nothing was running; that is not an error.
func (m *Manager) Cancel(ctx context.Context, userID, sessionID string) (bool, error) {
	return m.ctl.Cancel(ctx, session.Key(userID, sessionID))
}

// ActiveConversations returns the number of in-flight conversations
// (for health checks).
func (m *Manager) ActiveConversations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// conversation returns the processor for a key, creating and seeding it on
// the first event of a run. A RunStarted event always begins a fresh turn.
func (m *Manager) conversation(key string, env events.Envelope) *stream.Processor {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, ok := m.convs[key]
	if ok && env.Event.Event != events.KindRunStarted {
		return proc
	}

	userID, sessionID := env.UserID, env.SessionID
	proc = stream.NewProcessor(m.opts, func(s stream.Snapshot) {
		m.publishSnapshot(userID, sessionID, s)
	})
	m.convs[key] = proc

	userMsg := ""
	if env.Event.Event == events.KindRunStarted {
		userMsg = env.Event.Content
	}
	proc.Begin(userMsg)
	m.ctl.Start(key, env.Event.RunID, m.canceller)

	return proc
}

func (m *Manager) finalize(key string) {
	m.ctl.Clear(key)
	m.mu.Lock()
	delete(m.convs, key)
	m.mu.Unlock()
}

func (m *Manager) publishSnapshot(userID, sessionID string, s stream.Snapshot) {
	if m.publish == nil {
		return
	}

	payload, err := json.Marshal(snapshotEvent{
		UserID:    userID,
		SessionID: sessionID,
		Snapshot:  s,
	})
	if err != nil {
		slog.Error("live: failed to marshal snapshot", "error", err)
		return
	}

	if err := m.publish(SnapshotSubject, payload); err != nil {
		slog.Warn("live: failed to publish snapshot",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
	}
}
