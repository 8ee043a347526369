package stream

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

func contentEvent(runID, content string) events.RunEvent {
	return events.RunEvent{Event: events.KindRunContent, RunID: runID, Content: content}
}

func toolStarted(runID, toolCallID, name string, args string, at float64) events.RunEvent {
	return events.RunEvent{
		Event:     events.KindToolCallStarted,
		RunID:     runID,
		CreatedAt: at,
		Tool:      &events.ToolInfo{ToolCallID: toolCallID, ToolName: name, ToolArgs: json.RawMessage(args)},
	}
}

func toolCompleted(runID, toolCallID, result string, at float64) events.RunEvent {
	return events.RunEvent{
		Event:     events.KindToolCallCompleted,
		RunID:     runID,
		CreatedAt: at,
		Tool:      &events.ToolInfo{ToolCallID: toolCallID, Result: result},
	}
}

func TestProcessor_BeginSeedsPlaceholder(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{ShowToolMetadata: true, Stream: true}, func(s Snapshot) {
		snaps = append(snaps, s)
	})

	p.Begin("hello")

	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	msgs := snaps[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected user + placeholder, got %d entries", len(msgs))
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("unexpected user entry: %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAssistant {
		t.Errorf("placeholder must be an assistant entry: %+v", msgs[1])
	}
	if !snaps[0].Streaming {
		t.Error("snapshot should report streaming while in flight")
	}
	if p.State() != StateAwaitingFirstEvent {
		t.Errorf("unexpected state: %v", p.State())
	}
}

func TestProcessor_ContentAccumulatesInPlace(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{Stream: true}, func(s Snapshot) { snaps = append(snaps, s) })

	p.Begin("hi")
	p.HandleEvent(contentEvent("r1", "Hel"))
	p.HandleEvent(contentEvent("r1", "lo "))
	p.HandleEvent(contentEvent("r1", "world"))

	// One snapshot per fragment plus the Begin snapshot.
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snaps))
	}

	last := snaps[len(snaps)-1].Messages
	if len(last) != 2 {
		t.Fatalf("fragments must overwrite the trailing entry, not append: %d entries", len(last))
	}
	if last[1].Content != "Hello world" {
		t.Errorf("unexpected accumulated content: %q", last[1].Content)
	}

	// Intermediate snapshot holds the partial value.
	mid := snaps[2].Messages
	if mid[1].Content != "Hello " {
		t.Errorf("unexpected partial content: %q", mid[1].Content)
	}
}

func TestProcessor_NoFragmentSnapshotsWhenStreamingOff(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{ShowToolMetadata: true}, func(s Snapshot) { snaps = append(snaps, s) })

	p.Begin("hi")
	p.HandleEvent(contentEvent("r1", "Hel"))
	p.HandleEvent(contentEvent("r1", "lo"))

	// Fragments accumulate silently: only the Begin snapshot so far.
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot before completion, got %d", len(snaps))
	}

	p.HandleEvent(toolStarted("r1", "tc1", "search", `{"q":"x"}`, 0))
	if len(snaps) != 2 {
		t.Fatalf("tool boundaries must still emit, got %d snapshots", len(snaps))
	}
	p.HandleEvent(toolCompleted("r1", "tc1", "docs: x", 1))
	p.HandleEvent(contentEvent("r1", "found it"))
	p.Finish()

	// Tool completion plus the terminal snapshot; nothing per fragment.
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots in total, got %d", len(snaps))
	}

	final := snaps[len(snaps)-1]
	if final.Streaming {
		t.Error("terminal snapshot must not be streaming")
	}
	last := final.Messages[len(final.Messages)-1]
	if last.Content != "found it" {
		t.Errorf("terminal snapshot must carry the full accumulated content, got %q", last.Content)
	}
}

func TestProcessor_ToolEventsWithMetadata(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{ShowToolMetadata: true, Stream: true}, func(s Snapshot) {
		snaps = append(snaps, s)
	})

	p.Begin("hi")
	p.HandleEvent(toolStarted("r1", "tc-1", "search", `{"q":"x"}`, 10))
	p.HandleEvent(toolCompleted("r1", "tc-1", "docs: x", 12.5))
	p.HandleEvent(contentEvent("r1", "found it"))
	p.Finish()

	msgs := p.Messages()
	// user, cleared placeholder, tool started, tool completed, content.
	if len(msgs) != 5 {
		t.Fatalf("expected 5 entries, got %d: %+v", len(msgs), msgs)
	}
	if msgs[1].Content != "" {
		t.Errorf("placeholder should have been cleared to empty, got %q", msgs[1].Content)
	}
	if msgs[2].Meta == nil || msgs[2].Meta.Title != transcript.TitleToolCallStarted {
		t.Errorf("expected tool-started entry, got %+v", msgs[2])
	}
	if !strings.Contains(msgs[3].Content, "**Execution time:** 2.500s") {
		t.Errorf("expected incremental timing in completed entry, got %q", msgs[3].Content)
	}
	if msgs[4].Content != "found it" {
		t.Errorf("post-tool content should land in a fresh entry, got %q", msgs[4].Content)
	}

	final := snaps[len(snaps)-1]
	if final.Streaming {
		t.Error("final snapshot must clear the streaming flag")
	}
	if p.State() != StateFinished {
		t.Errorf("unexpected state: %v", p.State())
	}
}

func TestProcessor_ToolEventsAbsorbedWithoutMetadata(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{Stream: true}, func(s Snapshot) { snaps = append(snaps, s) })

	p.Begin("hi")
	before := len(snaps)
	p.HandleEvent(toolStarted("r1", "tc-1", "search", `{}`, 0))
	p.HandleEvent(toolCompleted("r1", "tc-1", "out", 1))

	if len(snaps) != before {
		t.Errorf("tool events must not emit snapshots when metadata is off")
	}

	// Content stitching still advanced: the next fragment carries the
	// separator newline from the tool bracket.
	p.HandleEvent(contentEvent("r1", "after"))
	msgs := p.Messages()
	if got := msgs[len(msgs)-1].Content; got != "\nafter" {
		t.Errorf("expected stitched content %q, got %q", "\nafter", got)
	}
}

func TestProcessor_RunIDTrackedOnEveryEvent(t *testing.T) {
	p := NewProcessor(Options{ShowToolMetadata: true}, nil)
	p.Begin("hi")

	p.HandleEvent(contentEvent("run-a", "x"))
	if p.CurrentRunID() != "run-a" {
		t.Errorf("expected run-a, got %s", p.CurrentRunID())
	}

	// Even ignored event kinds update the tracked id.
	p.HandleEvent(events.RunEvent{Event: "ReasoningStep", RunID: "run-b"})
	if p.CurrentRunID() != "run-b" {
		t.Errorf("expected run-b, got %s", p.CurrentRunID())
	}
}

func TestProcessor_FailDiscardsPartialContent(t *testing.T) {
	p := NewProcessor(Options{Stream: true}, nil)
	p.Begin("hi")
	p.HandleEvent(contentEvent("r1", "partial answer that will be discar"))

	p.Fail()

	msgs := p.Messages()
	last := msgs[len(msgs)-1]
	if strings.Contains(last.Content, "partial") {
		t.Errorf("partial content must be discarded on failure, got %q", last.Content)
	}
	if last.Content != errorContent {
		t.Errorf("expected generic error entry, got %q", last.Content)
	}
	if p.State() != StateErrored {
		t.Errorf("unexpected state: %v", p.State())
	}
}

func TestProcessor_CancelKeepsAccumulatedContent(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{Stream: true}, func(s Snapshot) { snaps = append(snaps, s) })
	p.Begin("hi")
	p.HandleEvent(contentEvent("r1", "kept up to here"))

	p.Cancel()

	msgs := p.Messages()
	if msgs[len(msgs)-1].Content != "kept up to here" {
		t.Errorf("cancellation must keep accumulated content, got %q", msgs[len(msgs)-1].Content)
	}
	if snaps[len(snaps)-1].Streaming {
		t.Error("cancel snapshot must clear the streaming flag")
	}
	if p.State() != StateCancelled {
		t.Errorf("unexpected state: %v", p.State())
	}
}

// TestProcessor_LiveReplayEquivalence checks that feeding an event stream
// through the processor produces the same transcript as reconstructing the
// equivalent stored run record, modulo the transient placeholder and the
// user turn held by the live transcript.
func TestProcessor_LiveReplayEquivalence(t *testing.T) {
	p := NewProcessor(Options{ShowToolMetadata: true, Stream: true}, nil)
	p.Begin("hi")
	p.HandleEvent(toolStarted("r1", "1", "search", `{"q":"x"}`, 0))
	p.HandleEvent(toolCompleted("r1", "1", "docs: x", 1))
	p.HandleEvent(contentEvent("r1", "found it"))
	p.Finish()

	live := p.Messages()
	var liveComparable []transcript.Message
	for _, m := range live {
		if m.Role == transcript.RoleUser || m.Content == "" {
			continue
		}
		liveComparable = append(liveComparable, m)
	}

	rec := transcript.RunRecord{
		Messages: []transcript.RawMessage{
			{Role: "user", Content: "hi"},
			{Role: "tool", Content: "docs: x", ToolName: "search", ToolArgs: json.RawMessage(`{"q":"x"}`), ToolCallID: "1"},
			{Role: "assistant", Content: "found it"},
		},
		Events: []events.RunEvent{
			toolStarted("r1", "1", "search", `{"q":"x"}`, 0),
			toolCompleted("r1", "1", "docs: x", 1),
		},
	}
	replayed := transcript.Reconstruct(rec, transcript.Options{ShowToolMetadata: true})

	if !reflect.DeepEqual(liveComparable, replayed) {
		t.Errorf("live and replayed transcripts diverge:\nlive:     %+v\nreplayed: %+v", liveComparable, replayed)
	}
}

func TestProcessor_EmptySnapshotNotExpanded(t *testing.T) {
	var snaps []Snapshot
	p := NewProcessor(Options{}, func(s Snapshot) { snaps = append(snaps, s) })
	p.Begin("")

	if len(snaps) == 0 {
		t.Fatal("expected a snapshot")
	}
	if !snaps[0].Expanded {
		t.Error("placeholder alone still counts as content for sizing")
	}
}
