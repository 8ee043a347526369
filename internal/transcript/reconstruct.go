package transcript

// Options controls how a stored run is rendered into a transcript.
type Options struct {
	// ShowToolMetadata emits the synthetic tool-started/completed entries.
	// When false, tool turns are skipped entirely.
	ShowToolMetadata bool

	// LatexMode appends a single trailing space to the last assistant entry
	// after deduplication. Cosmetic only: it forces the rendering surface to
	// re-render with the alternate math delimiters. No semantic effect.
	LatexMode bool
}

// Reconstruct derives the display transcript for one stored run record.
// Malformed or empty records yield an empty transcript, never an error.
func Reconstruct(rec RunRecord, opts Options) []Message {
	msgs := runEntries(rec, opts.ShowToolMetadata)
	msgs = Dedupe(msgs)
	if opts.LatexMode {
		applyLatexHook(msgs)
	}
	return msgs
}

// Assemble derives the display transcript for a whole session history.
// Deduplication runs once over the concatenated entries, matching the
// live path's semantics.
func Assemble(recs []RunRecord, opts Options) []Message {
	var msgs []Message
	for _, rec := range recs {
		msgs = append(msgs, runEntries(rec, opts.ShowToolMetadata)...)
	}
	msgs = Dedupe(msgs)
	if opts.LatexMode {
		applyLatexHook(msgs)
	}
	return msgs
}

// runEntries emits the raw (pre-dedupe) entries for one run. The user turn
// is not re-emitted: the live transcript already holds it from submission
// time, so only messages after the run's last user message are rendered.
func runEntries(rec RunRecord, showTool bool) []Message {
	timing := BuildTimingIndex(rec.Events)

	lastUser := -1
	for i, m := range rec.Messages {
		if Role(m.Role) == RoleUser {
			lastUser = i
		}
	}

	var out []Message
	for _, m := range rec.Messages[lastUser+1:] {
		switch Role(m.Role) {
		case RoleTool:
			if !showTool {
				continue
			}
			execTime := timing.FormatDuration(m.ToolCallID)
			out = append(out,
				Message{
					Role:    RoleAssistant,
					Content: ToolStartedContent(m.ToolName, m.ToolArgs),
					Meta:    &Meta{Title: TitleToolCallStarted},
				},
				Message{
					Role:    RoleAssistant,
					Content: ToolCompletedContent(string(m.Content), execTime),
					Meta:    &Meta{Title: TitleToolCallCompleted, Execution: execTime},
				},
			)

		case RoleAssistant:
			out = append(out, Message{
				Role:    RoleAssistant,
				Content: string(m.Content),
			})
		}
	}
	return out
}

// applyLatexHook appends the trailing space to the last assistant entry
// in place. See Options.LatexMode.
func applyLatexHook(msgs []Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			msgs[i].Content += " "
			return
		}
	}
}
