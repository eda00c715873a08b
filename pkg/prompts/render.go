package prompts

import (
	"fmt"
	"strings"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// RenderTranscript renders chat blobs for the model, each blob wrapped in
// an indexed tag, each message as "- [TIME] NAME: MESSAGE". Doc blobs
// render their content verbatim inside the tag.
func RenderTranscript(blobs []models.Blob) string {
	parts := make([]string, 0, len(blobs))
	for i, b := range blobs {
		parts = append(parts, fmt.Sprintf("<chat data_index=%d>\n%s\n</chat>", i, renderBlob(&b)))
	}
	return strings.Join(parts, "\n")
}

func renderBlob(b *models.Blob) string {
	if b.Type == models.BlobTypeDoc {
		return b.Content
	}
	lines := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		name := string(m.Role)
		if m.Alias != "" {
			name = m.Alias
		}
		if m.CreatedAt != "" {
			lines = append(lines, fmt.Sprintf("- [%s] %s: %s", m.CreatedAt, name, m.Content))
		} else {
			lines = append(lines, fmt.Sprintf("- %s: %s", name, m.Content))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderTopicsGuideline renders the allowed taxonomy for the extract and
// organize stages.
func RenderTopicsGuideline(topics []config.TopicConfig) string {
	var b strings.Builder
	for _, t := range topics {
		b.WriteString("- " + t.Topic)
		if t.Description != "" {
			b.WriteString(" (" + t.Description + ")")
		}
		b.WriteString("\n")
		for _, st := range t.SubTopics {
			b.WriteString("  - " + st.Name)
			if st.Description != "" {
				b.WriteString(": " + st.Description)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSubTopicsGuideline renders one topic's declared sub-topics as
// reorganization suggestions.
func RenderSubTopicsGuideline(topics []config.TopicConfig, topic string) string {
	for _, t := range topics {
		if t.Topic != topic {
			continue
		}
		lines := make([]string, 0, len(t.SubTopics))
		for _, st := range t.SubTopics {
			lines = append(lines, "- "+st.Name)
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// RenderKnownSlots renders the (topic, sub_topic) pairs the user already
// has, hinting the extract stage toward consistent naming.
func RenderKnownSlots(keys []models.ProfileKey) string {
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, "- "+k.Topic+Sep+k.SubTopic)
	}
	return strings.Join(lines, "\n")
}

// ExtractInput assembles the per-call input of the extract stage.
func ExtractInput(topicsGuideline, knownSlots, transcript string) string {
	return fmt.Sprintf(`#### Topics Guidelines
%s
#### User Before Topics
%s
#### Chats
%s
`, topicsGuideline, knownSlots, transcript)
}

// MergeInput assembles the per-call input of the merge stage. Description
// and updateInstruction are optional slot-level guidance from the project
// taxonomy.
func MergeInput(topic, subTopic, oldMemo, newMemo, today, description, updateInstruction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## User Topic\n%s, %s\n", topic, subTopic)
	if description != "" {
		fmt.Fprintf(&b, "## Topic Description\n%s\n", description)
	}
	if updateInstruction != "" {
		fmt.Fprintf(&b, "## Update Instruction\n%s\n", updateInstruction)
	}
	fmt.Fprintf(&b, "## Today\n%s\n## Old Memo\n%s\n## New Memo\n%s\n", today, oldMemo, newMemo)
	return b.String()
}

// OrganizeInput assembles the per-call input of the organize stage: every
// slot of one saturated topic.
func OrganizeInput(topic string, slots []SubTopicMemo) string {
	lines := make([]string, 0, len(slots))
	for _, s := range slots {
		lines = append(lines, "- "+s.SubTopic+Sep+s.Memo)
	}
	return fmt.Sprintf("topic: %s\n%s\n", topic, strings.Join(lines, "\n"))
}

// TagEventInput assembles the per-call input of the event-tag stage.
func TagEventInput(eventSummary, profileDelta string) string {
	return fmt.Sprintf("## Session Summary\n%s\n## Profile Changes\n%s\n", eventSummary, profileDelta)
}

// RenderEventTagsGuideline renders the declared event-tag taxonomy.
func RenderEventTagsGuideline(tags []config.EventTagConfig) string {
	lines := make([]string, 0, len(tags))
	for _, t := range tags {
		line := "- " + t.Name
		if t.Description != "" {
			line += ": " + t.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// PickSlotsInput assembles the per-call input of the chat-aware slot
// filter: the indexed memo list plus the latest turns.
func PickSlotsInput(slots []models.ProfileSlot, chats []models.ChatMessage) string {
	var b strings.Builder
	b.WriteString("<memos>\n")
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s, %s, %s\n", i, s.Attributes.Topic, s.Attributes.SubTopic, s.Content)
	}
	b.WriteString("</memos>\n\n<context>\n")
	for _, m := range chats {
		prefix := "Q"
		if m.Role == models.RoleAssistant {
			prefix = "A"
		}
		fmt.Fprintf(&b, "%s: %s\n", prefix, m.Content)
	}
	b.WriteString("</context>\n")
	return b.String()
}
