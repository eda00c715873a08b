// Package prompts carries the stage prompts of the consolidation
// pipeline together with their deterministic output parsers. Every stage
// speaks a line grammar: replies are "- " bullets whose fields are
// separated by Sep. Anything else is rejected, never repaired.
package prompts

// Sep separates fields within one output line.
const Sep = "::"

// Prompt ids used for the gateway's prompt registry and call logging.
const (
	PromptIDExtract        = "extract_profile"
	PromptIDMerge          = "merge_profile"
	PromptIDOrganize       = "organize_profile"
	PromptIDSummaryProfile = "summary_profile"
	PromptIDSummaryChat    = "summary_chat"
	PromptIDTagEvent       = "tag_event"
	PromptIDPickSlots      = "pick_slots"
)

// Fact is one atomic (topic, sub_topic, memo) triple the extract stage
// produced. Attributes are raw here; normalization happens in the
// pipeline.
type Fact struct {
	Topic    string
	SubTopic string
	Memo     string
}

// MergeOutcome tags the merge stage's verdict.
type MergeOutcome int

// Merge verdicts.
const (
	// MergeUpdate replaces the old memo with the returned one.
	MergeUpdate MergeOutcome = iota
	// MergeAbort discards the new memo; the old one is retained.
	MergeAbort
)

// MergeAction is the parsed reply of the merge stage.
type MergeAction struct {
	Outcome MergeOutcome
	Memo    string
}

// SubTopicMemo is one consolidated slot the organize stage returned. The
// topic is fixed by the call.
type SubTopicMemo struct {
	SubTopic string
	Memo     string
}

// TagValue is one (tag, value) pair from the event-tag stage.
type TagValue struct {
	Tag   string
	Value string
}
