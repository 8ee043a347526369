package transcript

// dedupeKey identifies a transcript entry for deduplication. Metadata is
// deliberately excluded: two entries are distinct only by (role, content).
type dedupeKey struct {
	role    Role
	content string
}

// Dedupe returns a new transcript retaining the first occurrence of each
// distinct (role, content) pair, preserving original order. It is applied
// exactly once, as a final pass, so legitimate identical tool outputs are
// not discarded before the full picture is known.
func Dedupe(msgs []Message) []Message {
	seen := make(map[dedupeKey]bool, len(msgs))
	unique := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		key := dedupeKey{role: m.Role, content: m.Content}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, m)
	}
	return unique
}
