package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/events"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Titles tagging the synthetic tool entries.
const (
	TitleToolCallStarted   = "ToolCallStarted"
	TitleToolCallCompleted = "ToolCallCompleted"
)

// Meta is the optional presentation metadata on a transcript entry.
// It never participates in deduplication.
type Meta struct {
	Title     string `json:"title,omitempty"`
	Execution string `json:"execution_time,omitempty"`
}

// Message is one displayable entry in a conversation transcript.
// Ordering is insertion order; there is no timestamp on the entry itself.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Meta    *Meta  `json:"metadata,omitempty"`
}

// RunRecord is the persisted unit for one agent run: the raw message list
// plus the run's event list. It is read-only to Quill.
type RunRecord struct {
	Messages []RawMessage      `json:"messages"`
	Events   []events.RunEvent `json:"events"`
}

// RawMessage mirrors the stored message shape inside a run record.
type RawMessage struct {
	Role       string          `json:"role"`
	Content    FlexContent     `json:"content"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// FlexContent absorbs the legacy content column shapes: a plain string,
// null, or a list of fragments (joined with newlines).
type FlexContent string

func (c *FlexContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = FlexContent(s)
		return nil
	}

	if string(data) == "null" {
		*c = ""
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err == nil {
		var parts []string
		for _, item := range items {
			if item == nil {
				continue
			}
			part := strings.TrimSpace(fmt.Sprintf("%v", item))
			if part != "" {
				parts = append(parts, part)
			}
		}
		*c = FlexContent(strings.Join(parts, "\n"))
		return nil
	}

	return fmt.Errorf("unsupported content shape: %s", data)
}

// ToolStartedContent renders the entry announcing a tool invocation.
// Shared by the live and batch paths so both produce identical transcripts.
func ToolStartedContent(toolName string, toolArgs json.RawMessage) string {
	return fmt.Sprintf("\n**Tool:** `%s`\n**Arguments:** `%s`\n", toolName, string(toolArgs))
}

// ToolCompletedContent renders the entry carrying a tool's result and its
// formatted execution time ("N/A" when timing is unavailable).
func ToolCompletedContent(result, execTime string) string {
	return fmt.Sprintf("**Results:**\n%s\n**Execution time:** %s", strings.TrimSpace(result), execTime)
}
