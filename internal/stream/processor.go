// Package stream converts a live run event stream into incremental
// transcript snapshots. One Processor serves exactly one conversation turn
// and is never shared.
package stream

import (
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// State is the processor's position in the run lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstEvent
	StateStreamingContent
	StateInTool
	StateFinished
	StateCancelled
	StateErrored
)

func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateErrored
}

// placeholderContent is the loading marker shown while the first event is
// awaited. Whether the placeholder is still present is tracked by a typed
// flag, never by comparing against this string.
const placeholderContent = "### ..."

// errorContent replaces the in-progress transcript when a run fails.
// Partial content is discarded so the failure never looks like a
// truncated success.
const errorContent = "An error occurred while processing your request."

// Snapshot is one incremental transcript emission.
type Snapshot struct {
	Messages []transcript.Message `json:"messages"`
	// Streaming reports whether the run is still in flight: the caller keeps
	// the input locked and the stop affordance visible while true.
	Streaming bool `json:"streaming"`
	// Expanded is the suggested container size signal. Callers may ignore it.
	Expanded bool `json:"expanded"`
}

// EmitFunc receives each snapshot. It is called synchronously at every
// emission boundary; the messages slice is a copy the receiver may keep.
type EmitFunc func(Snapshot)

// Options are the caller's display flags for one turn.
type Options struct {
	ShowToolMetadata bool

	// Stream controls emission granularity. When true, a snapshot goes out
	// for every content fragment; when false, fragments accumulate silently
	// and snapshots are emitted only at tool boundaries and terminal states.
	Stream bool
}

// Processor is the live-path state machine. It owns the content
// accumulation buffer and the per-run timing index, both separate from the
// transcript itself.
type Processor struct {
	mu sync.Mutex

	opts   Options
	emit   EmitFunc
	timing *transcript.TimingIndex

	messages       []transcript.Message
	buf            strings.Builder
	hasPlaceholder bool
	state          State
	runID          string
}

func NewProcessor(opts Options, emit EmitFunc) *Processor {
	if emit == nil {
		emit = func(Snapshot) {}
	}
	return &Processor{
		opts:   opts,
		emit:   emit,
		timing: transcript.NewTimingIndex(),
		state:  StateIdle,
	}
}

// Begin seeds the transcript with the submitted user turn and the opening
// assistant placeholder, then emits the first snapshot.
func (p *Processor) Begin(userMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if userMsg != "" {
		p.messages = append(p.messages, transcript.Message{
			Role:    transcript.RoleUser,
			Content: userMsg,
		})
	}
	p.messages = append(p.messages, transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: placeholderContent,
	})
	p.hasPlaceholder = true
	p.state = StateAwaitingFirstEvent

	p.emitLocked()
}

// HandleEvent applies one run event. The run_id is recorded on every event,
// not just the first, so a concurrent cancellation always targets the most
// recent identifier.
func (p *Processor) HandleEvent(e events.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.RunID != "" {
		p.runID = e.RunID
	}
	p.timing.Observe(e)

	switch e.Event {
	case events.KindToolCallStarted:
		p.handleToolStarted(e)
	case events.KindToolCallCompleted:
		p.handleToolCompleted(e)
	case events.KindRunContent:
		p.handleContent(e)
	default:
		// Observed for run-id tracking only.
	}
}

func (p *Processor) handleToolStarted(e events.RunEvent) {
	p.state = StateInTool
	p.buf.WriteString("\n")

	if !p.opts.ShowToolMetadata {
		return
	}
	p.buf.WriteString("\n")
	p.clearPlaceholder()

	var tool events.ToolInfo
	if e.Tool != nil {
		tool = *e.Tool
	}
	p.messages = append(p.messages, transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: transcript.ToolStartedContent(tool.ToolName, tool.ToolArgs),
		Meta:    &transcript.Meta{Title: transcript.TitleToolCallStarted},
	})

	p.emitLocked()
}

func (p *Processor) handleToolCompleted(e events.RunEvent) {
	p.state = StateStreamingContent

	if !p.opts.ShowToolMetadata {
		return
	}
	p.clearPlaceholder()

	var tool events.ToolInfo
	if e.Tool != nil {
		tool = *e.Tool
	}
	execTime := p.timing.FormatDuration(tool.ToolCallID)

	p.messages = append(p.messages, transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: transcript.ToolCompletedContent(tool.Result, execTime),
		Meta:    &transcript.Meta{Title: transcript.TitleToolCallCompleted, Execution: execTime},
	})

	// Fresh entry to receive the content that follows the tool call.
	p.messages = append(p.messages, transcript.Message{
		Role: transcript.RoleAssistant,
	})
	p.buf.Reset()

	p.emitLocked()
}

func (p *Processor) handleContent(e events.RunEvent) {
	if e.Content == "" {
		return
	}
	p.state = StateStreamingContent

	// Accumulation is in place: the buffer grows and the trailing assistant
	// entry is overwritten with its full value, never appended to.
	p.buf.WriteString(e.Content)
	p.replaceLast(transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: p.buf.String(),
	})
	p.hasPlaceholder = false

	if p.opts.Stream {
		p.emitLocked()
	}
}

// Finish finalizes a normally completed run: the final snapshot restores
// the caller's input to its idle state.
func (p *Processor) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateFinished
	p.emitLocked()
}

// Fail replaces the trailing placeholder or partial entry with a single
// generic error entry and discards the accumulated buffer.
func (p *Processor) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Reset()
	p.replaceLast(transcript.Message{
		Role:    transcript.RoleAssistant,
		Content: errorContent,
	})
	p.hasPlaceholder = false
	p.state = StateErrored

	p.emitLocked()
}

// Cancel finalizes the transcript as-is: whatever was accumulated up to the
// cancellation point is kept. Cancellation is not an error.
func (p *Processor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateCancelled
	p.emitLocked()
}

// CurrentRunID returns the run identifier seen on the most recent event.
func (p *Processor) CurrentRunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Messages returns a copy of the current transcript.
func (p *Processor) Messages() []transcript.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyMessages()
}

// clearPlaceholder turns the unfilled opening placeholder into an empty
// assistant entry. No-op once anything has been written.
func (p *Processor) clearPlaceholder() {
	if !p.hasPlaceholder {
		return
	}
	p.replaceLast(transcript.Message{Role: transcript.RoleAssistant})
	p.hasPlaceholder = false
}

func (p *Processor) replaceLast(m transcript.Message) {
	if len(p.messages) == 0 {
		p.messages = append(p.messages, m)
		return
	}
	p.messages[len(p.messages)-1] = m
}

func (p *Processor) copyMessages() []transcript.Message {
	out := make([]transcript.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Processor) emitLocked() {
	p.emit(Snapshot{
		Messages:  p.copyMessages(),
		Streaming: !p.state.Terminal(),
		Expanded:  len(p.messages) > 0,
	})
}
