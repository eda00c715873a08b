package prompts

import "fmt"

// LangZH selects the Chinese prompt pack; anything else falls back to
// English.
const LangZH = "zh"

// ExtractSystem returns the extract stage's system prompt.
func ExtractSystem(lang string) string {
	if lang == LangZH {
		return zhExtractSystem
	}
	return enExtractSystem
}

// MergeSystem returns the merge stage's system prompt.
func MergeSystem(lang string) string {
	if lang == LangZH {
		return zhMergeSystem
	}
	return enMergeSystem
}

// OrganizeSystem returns the organize stage's system prompt.
// maxSubTopics bounds the consolidated output; suggestions lists the
// declared sub-topics of the saturated topic and may be empty.
func OrganizeSystem(lang string, maxSubTopics int, suggestions string) string {
	if suggestions == "" {
		suggestions = "(none declared, use your own judgement)"
	}
	return fmt.Sprintf(enOrganizeSystem, maxSubTopics, suggestions, maxSubTopics)
}

// SummaryChatSystem returns the session-summary system prompt.
func SummaryChatSystem(lang string) string {
	if lang == LangZH {
		return zhSummaryChatSystem
	}
	return enSummaryChatSystem
}

// SummaryProfileSystem returns the slot re-summarization system prompt.
func SummaryProfileSystem(lang string) string {
	if lang == LangZH {
		return zhSummaryProfileSystem
	}
	return enSummaryProfileSystem
}

// TagEventSystem returns the event-tag system prompt with the project's
// declared attribute taxonomy baked in.
func TagEventSystem(lang string, guideline string) string {
	return fmt.Sprintf(enTagEventSystem, guideline)
}

// PickSlotsSystem returns the chat-aware slot filter's system prompt.
// max bounds how many memos the model may select.
func PickSlotsSystem(lang string, max int) string {
	return fmt.Sprintf(enPickSlotsSystem, max)
}

// ContextPack wraps the rendered profile and event sections into the
// final memory prompt handed to the caller's own model.
func ContextPack(lang, profileSection, eventSection string) string {
	if lang == LangZH {
		return zhContextPack(profileSection, eventSection)
	}
	return enContextPack(profileSection, eventSection)
}
