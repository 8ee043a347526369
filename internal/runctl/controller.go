// Package runctl tracks the single in-flight generation per conversation
// and exposes race-free cancellation.
package runctl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Canceller is the agent-collaborator boundary: it requests cancellation of
// one specific run.
type Canceller interface {
	CancelRun(ctx context.Context, runID string) error
}

type handle struct {
	runID string
	agent Canceller
}

// Controller maps conversation keys to their owned cancellation handle.
// State is scoped per key, never process-wide, so cancelling one
// conversation can never terminate another's stream.
type Controller struct {
	mu     sync.Mutex
	active map[string]*handle
}

func NewController() *Controller {
	return &Controller{active: make(map[string]*handle)}
}

// Start records the handle for a newly launched generation. At most one
// generation is active per key: a second Start for the same key replaces
// the previous handle.
func (c *Controller) Start(key, runID string, agent Canceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[key] = &handle{runID: runID, agent: agent}
}

// Track updates the tracked run id for an in-flight generation. Called on
// every observed event so a concurrent Cancel always targets the most
// recent identifier. No-op when no generation is active for the key.
func (c *Controller) Track(key, runID string) {
	if runID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.active[key]; ok {
		h.runID = runID
	}
}

// Cancel requests cancellation of the key's active generation and clears
// the handle. Returns false when nothing was in flight; that is not an
// error.
func (c *Controller) Cancel(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	h, ok := c.active[key]
	delete(c.active, key)
	c.mu.Unlock()

	if !ok {
		return false, nil
	}

	slog.Info("cancelling run", "key", key, "run_id", h.runID)
	if err := h.agent.CancelRun(ctx, h.runID); err != nil {
		return true, fmt.Errorf("cancel run %s: %w", h.runID, err)
	}
	return true, nil
}

// Clear unconditionally drops the key's handle. Called on normal completion
// and on every error path so a stale handle can never be cancelled after
// the run it referred to has ended.
func (c *Controller) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, key)
}

// Active returns the tracked run id for a key, if any. Used by health and
// introspection endpoints.
func (c *Controller) Active(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.active[key]
	if !ok {
		return "", false
	}
	return h.runID, true
}
