package transcript

import (
	"fmt"

	"github.com/MikeSquared-Agency/quill/internal/events"
)

// TimingEntry holds the bracketing timestamps for one tool call.
// A bound is nil until the matching event has been observed.
type TimingEntry struct {
	ToolCallID string
	Start      *float64
	End        *float64
}

// Duration returns the execution time in seconds, or false when either
// bound is missing.
func (e *TimingEntry) Duration() (float64, bool) {
	if e == nil || e.Start == nil || e.End == nil {
		return 0, false
	}
	return *e.End - *e.Start, true
}

// FormatDuration returns a fixed-precision seconds string, or "N/A" when
// the duration is unavailable.
func (e *TimingEntry) FormatDuration() string {
	d, ok := e.Duration()
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.3fs", d)
}

// TimingIndex maps tool_call_id to its bracketing timestamps. It is built
// once per run (batch path) or populated event by event (live path) and is
// never shared across conversations.
type TimingIndex struct {
	entries map[string]*TimingEntry
}

func NewTimingIndex() *TimingIndex {
	return &TimingIndex{entries: make(map[string]*TimingEntry)}
}

// BuildTimingIndex scans a run's event list and records every tool-call
// bracket. Events without a tool_call_id are ignored.
func BuildTimingIndex(evts []events.RunEvent) *TimingIndex {
	ti := NewTimingIndex()
	for _, e := range evts {
		ti.Observe(e)
	}
	return ti
}

// Observe records a single event's contribution to the index.
func (ti *TimingIndex) Observe(e events.RunEvent) {
	id := e.ToolCallID()
	if id == "" {
		return
	}

	entry, ok := ti.entries[id]
	if !ok {
		entry = &TimingEntry{ToolCallID: id}
		ti.entries[id] = entry
	}

	switch e.Event {
	case events.KindToolCallStarted:
		t := e.CreatedAt
		entry.Start = &t
	case events.KindToolCallCompleted:
		t := e.CreatedAt
		entry.End = &t
	}
}

// Lookup returns the entry for a tool call, or false when none was observed.
func (ti *TimingIndex) Lookup(toolCallID string) (*TimingEntry, bool) {
	entry, ok := ti.entries[toolCallID]
	return entry, ok
}

// FormatDuration is a convenience for callers holding only the id.
func (ti *TimingIndex) FormatDuration(toolCallID string) string {
	entry, ok := ti.Lookup(toolCallID)
	if !ok {
		return "N/A"
	}
	return entry.FormatDuration()
}

// TimingStats summarizes the tool calls observed in one run or session.
type TimingStats struct {
	ToolCalls    int     `json:"tool_calls"`
	Completed    int     `json:"completed"`
	TotalSeconds float64 `json:"total_seconds"`
	MaxSeconds   float64 `json:"max_seconds"`
}

// Stats aggregates durations over all fully bracketed tool calls.
func (ti *TimingIndex) Stats() TimingStats {
	var s TimingStats
	s.ToolCalls = len(ti.entries)
	for _, entry := range ti.entries {
		d, ok := entry.Duration()
		if !ok {
			continue
		}
		s.Completed++
		s.TotalSeconds += d
		if d > s.MaxSeconds {
			s.MaxSeconds = d
		}
	}
	return s
}
