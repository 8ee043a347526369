// Package agent holds the boundary adapters to the external agent runtime.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// CancelSubject is where run cancellation requests are published. The agent
// runtime owning the run is responsible for halting it at its next emission
// boundary; cancellation is cooperative, not preemptive.
const CancelSubject = "swarm.run.cancel"

// PublishFunc publishes a message to NATS.
type PublishFunc func(subject string, data []byte) error

// NATSCanceller requests cancellation of a specific run by publishing on
// the shared cancel subject.
type NATSCanceller struct {
	publish PublishFunc
}

func NewNATSCanceller(publish PublishFunc) *NATSCanceller {
	return &NATSCanceller{publish: publish}
}

func (c *NATSCanceller) CancelRun(_ context.Context, runID string) error {
	payload, err := json.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	if err := c.publish(CancelSubject, payload); err != nil {
		return fmt.Errorf("publish cancel request: %w", err)
	}
	return nil
}
