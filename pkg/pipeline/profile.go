package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/prompts"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// profilePath runs extract, merge-or-add, organize, and re-summarize,
// producing the delta to commit plus its event-facing entries.
func (p *Pipeline) profilePath(ctx context.Context, projectID string, slots []models.ProfileSlot, transcript string, rules *config.ProfileRules) (*services.ProfileDelta, []models.ProfileDeltaEntry, error) {
	facts, err := p.extract(ctx, projectID, slots, transcript, rules)
	if err != nil {
		return nil, nil, err
	}

	slotByKey := make(map[models.ProfileKey]models.ProfileSlot, len(slots))
	for _, s := range slots {
		slotByKey[s.Attributes.Key()] = s
	}

	adds, updates, err := p.mergeFacts(ctx, projectID, facts, slotByKey, rules)
	if err != nil {
		return nil, nil, err
	}

	deletes := p.organize(ctx, projectID, slots, &adds, &updates, rules)
	adds = dedupeAdds(adds)
	p.resummarize(ctx, projectID, adds, updates, rules)

	delta := &services.ProfileDelta{Adds: adds, Updates: updates, Deletes: deletes}

	slotByID := make(map[string]models.ProfileSlot, len(slots))
	for _, s := range slots {
		slotByID[s.ID] = s
	}
	entries := make([]models.ProfileDeltaEntry, 0, len(adds)+len(updates))
	for _, a := range adds {
		entries = append(entries, models.ProfileDeltaEntry{
			Content:    a.Content,
			Attributes: models.ProfileAttributes{Topic: a.Attributes.Topic, SubTopic: a.Attributes.SubTopic},
		})
	}
	for _, u := range updates {
		s, ok := slotByID[u.SlotID]
		if !ok {
			continue
		}
		entries = append(entries, models.ProfileDeltaEntry{
			Content:    u.Content,
			Attributes: models.ProfileAttributes{Topic: s.Attributes.Topic, SubTopic: s.Attributes.SubTopic},
		})
	}
	return delta, entries, nil
}

// extract renders the transcript through the extract prompt and returns
// normalized, coalesced facts. Strict mode drops facts outside the
// project taxonomy.
func (p *Pipeline) extract(ctx context.Context, projectID string, slots []models.ProfileSlot, transcript string, rules *config.ProfileRules) ([]prompts.Fact, error) {
	keys := make([]models.ProfileKey, 0, len(slots))
	for _, s := range slots {
		keys = append(keys, s.Attributes.Key())
	}

	input := prompts.ExtractInput(
		prompts.RenderTopicsGuideline(rules.Topics),
		prompts.RenderKnownSlots(keys),
		transcript)
	reply, err := p.gateway.Complete(ctx, projectID, input,
		prompts.ExtractSystem(rules.Language),
		llm.CompleteOptions{PromptID: prompts.PromptIDExtract, Temperature: &stageTemperature})
	if err != nil {
		return nil, fmt.Errorf("extract stage failed: %w", err)
	}

	var (
		order []models.ProfileKey
		byKey = make(map[models.ProfileKey]string)
	)
	for _, f := range prompts.ParseFacts(reply) {
		topic := models.NormalizeAttribute(f.Topic)
		subTopic := models.NormalizeAttribute(f.SubTopic)
		if topic == "" || subTopic == "" {
			continue
		}
		if rules.StrictMode && !rules.HasSlot(topic, subTopic) {
			slog.Debug("strict mode dropped fact",
				"project_id", projectID, "topic", topic, "sub_topic", subTopic)
			continue
		}
		key := models.ProfileKey{Topic: topic, SubTopic: subTopic}
		if memo, ok := byKey[key]; ok {
			byKey[key] = memo + "; " + f.Memo
			continue
		}
		byKey[key] = f.Memo
		order = append(order, key)
	}

	facts := make([]prompts.Fact, 0, len(order))
	for _, k := range order {
		facts = append(facts, prompts.Fact{Topic: k.Topic, SubTopic: k.SubTopic, Memo: byKey[k]})
	}
	return facts, nil
}

// mergeFacts turns each extracted fact into either a queued add (no
// existing slot) or a merge-verdict update. A merge reply outside the
// grammar drops the fact; a gateway failure fails the stage.
func (p *Pipeline) mergeFacts(ctx context.Context, projectID string, facts []prompts.Fact, slotByKey map[models.ProfileKey]models.ProfileSlot, rules *config.ProfileRules) ([]models.ProfileAdd, []services.ProfileCommitUpdate, error) {
	today := time.Now().Format("2006/01/02")

	var (
		adds    []models.ProfileAdd
		updates []services.ProfileCommitUpdate
	)
	for _, f := range facts {
		key := models.ProfileKey{Topic: f.Topic, SubTopic: f.SubTopic}
		slot, exists := slotByKey[key]
		if !exists {
			adds = append(adds, models.ProfileAdd{
				Content:    f.Memo,
				Attributes: models.ProfileAttributes{Topic: f.Topic, SubTopic: f.SubTopic},
			})
			continue
		}

		input := prompts.MergeInput(f.Topic, f.SubTopic, slot.Content, f.Memo, today,
			slotDescription(rules, f.Topic, f.SubTopic),
			rules.SlotUpdateInstruction(f.Topic, f.SubTopic))
		reply, err := p.gateway.Complete(ctx, projectID, input,
			prompts.MergeSystem(rules.Language),
			llm.CompleteOptions{PromptID: prompts.PromptIDMerge, Temperature: &stageTemperature})
		if err != nil {
			return nil, nil, fmt.Errorf("merge stage failed for %s/%s: %w", f.Topic, f.SubTopic, err)
		}

		action, err := prompts.ParseMergeAction(reply)
		if err != nil {
			slog.Warn("unparseable merge verdict, fact dropped",
				"error", err, "project_id", projectID, "topic", f.Topic, "sub_topic", f.SubTopic)
			continue
		}
		if action.Outcome == prompts.MergeAbort {
			continue
		}

		content := action.Memo
		if p.counter.Count(content) > rules.MaxPreProfileTokens {
			content, err = p.compact(ctx, projectID, rules.Language, content)
			if err != nil {
				slog.Warn("merged memo too long and compaction failed, update dropped",
					"error", err, "project_id", projectID, "topic", f.Topic, "sub_topic", f.SubTopic)
				continue
			}
		}
		updates = append(updates, services.ProfileCommitUpdate{
			SlotID:   slot.ID,
			Content:  content,
			BumpHits: true,
		})
	}
	return adds, updates, nil
}

// organize reorganizes every topic whose prospective slot count exceeds
// the limit. The topic's existing slots are deleted and replaced by the
// consolidated set; queued adds and updates of that topic are
// superseded. Any failure keeps the pre-organize set.
func (p *Pipeline) organize(ctx context.Context, projectID string, slots []models.ProfileSlot, adds *[]models.ProfileAdd, updates *[]services.ProfileCommitUpdate, rules *config.ProfileRules) []string {
	if rules.MaxProfileSubtopics <= 0 {
		return nil
	}

	updatedContent := make(map[string]string, len(*updates))
	for _, u := range *updates {
		updatedContent[u.SlotID] = u.Content
	}

	// Prospective state per topic: existing slots with updates applied,
	// plus the queued adds.
	type member struct {
		subTopic string
		content  string
		slotID   string
	}
	byTopic := make(map[string][]member)
	for _, s := range slots {
		content := s.Content
		if c, ok := updatedContent[s.ID]; ok {
			content = c
		}
		k := s.Attributes.Key()
		byTopic[k.Topic] = append(byTopic[k.Topic], member{subTopic: k.SubTopic, content: content, slotID: s.ID})
	}
	for _, a := range *adds {
		byTopic[a.Attributes.Topic] = append(byTopic[a.Attributes.Topic], member{subTopic: a.Attributes.SubTopic, content: a.Content})
	}

	var deletes []string
	reorganized := make(map[string]bool)
	preOrganize := len(*adds) // consolidated entries are appended past this point
	for topic, members := range byTopic {
		if len(members) <= rules.MaxProfileSubtopics {
			continue
		}
		target := rules.MaxProfileSubtopics/2 + 1

		input := make([]prompts.SubTopicMemo, 0, len(members))
		for _, m := range members {
			input = append(input, prompts.SubTopicMemo{SubTopic: m.subTopic, Memo: m.content})
		}
		reply, err := p.gateway.Complete(ctx, projectID,
			prompts.OrganizeInput(topic, input),
			prompts.OrganizeSystem(rules.Language, target, prompts.RenderSubTopicsGuideline(rules.Topics, topic)),
			llm.CompleteOptions{PromptID: prompts.PromptIDOrganize, Temperature: &stageTemperature})
		if err != nil {
			slog.Warn("organize stage failed, topic kept as-is",
				"error", err, "project_id", projectID, "topic", topic)
			continue
		}
		consolidated := prompts.ParseSubTopics(reply)
		if len(consolidated) == 0 {
			slog.Warn("organize returned no slots, topic kept as-is",
				"project_id", projectID, "topic", topic)
			continue
		}
		if len(consolidated) > target {
			consolidated = consolidated[:target]
		}

		reorganized[topic] = true
		for _, m := range members {
			if m.slotID != "" {
				deletes = append(deletes, m.slotID)
			}
		}
		for _, c := range consolidated {
			subTopic := models.NormalizeAttribute(c.SubTopic)
			if subTopic == "" {
				continue
			}
			*adds = append(*adds, models.ProfileAdd{
				Content:    c.Memo,
				Attributes: models.ProfileAttributes{Topic: topic, SubTopic: subTopic},
			})
		}
	}
	if len(reorganized) == 0 {
		return deletes
	}

	// Queued work inside a reorganized topic is superseded by the
	// consolidated set.
	slotTopic := make(map[string]string, len(slots))
	for _, s := range slots {
		slotTopic[s.ID] = s.Attributes.Key().Topic
	}
	*adds = filterSupersededAdds(*adds, preOrganize, reorganized)

	keptUpdates := (*updates)[:0]
	for _, u := range *updates {
		if reorganized[slotTopic[u.SlotID]] {
			continue
		}
		keptUpdates = append(keptUpdates, u)
	}
	*updates = keptUpdates
	return deletes
}

// filterSupersededAdds drops every add queued before organize ran whose
// topic was reorganized. Those adds were inputs to the consolidation, so
// only the consolidated entries (appended at index >= preOrganize) may
// represent the topic in the commit.
func filterSupersededAdds(adds []models.ProfileAdd, preOrganize int, reorganized map[string]bool) []models.ProfileAdd {
	out := adds[:0]
	for i, a := range adds {
		if i < preOrganize && reorganized[a.Attributes.Topic] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// dedupeAdds keeps the first add per (topic, sub_topic).
func dedupeAdds(adds []models.ProfileAdd) []models.ProfileAdd {
	seen := make(map[models.ProfileKey]bool, len(adds))
	out := adds[:0]
	for _, a := range adds {
		key := models.ProfileKey{Topic: a.Attributes.Topic, SubTopic: a.Attributes.SubTopic}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// resummarize compacts over-long contents in place. A failed compaction
// keeps the long value; the slot still commits.
func (p *Pipeline) resummarize(ctx context.Context, projectID string, adds []models.ProfileAdd, updates []services.ProfileCommitUpdate, rules *config.ProfileRules) {
	if rules.MaxPreProfileTokens <= 0 {
		return
	}
	for i := range adds {
		if p.counter.Count(adds[i].Content) <= rules.MaxPreProfileTokens {
			continue
		}
		if compacted, err := p.compact(ctx, projectID, rules.Language, adds[i].Content); err == nil {
			adds[i].Content = compacted
		} else {
			slog.Warn("slot compaction failed, committing long value",
				"error", err, "project_id", projectID, "topic", adds[i].Attributes.Topic)
		}
	}
	for i := range updates {
		if p.counter.Count(updates[i].Content) <= rules.MaxPreProfileTokens {
			continue
		}
		if compacted, err := p.compact(ctx, projectID, rules.Language, updates[i].Content); err == nil {
			updates[i].Content = compacted
		} else {
			slog.Warn("slot compaction failed, committing long value",
				"error", err, "project_id", projectID, "slot_id", updates[i].SlotID)
		}
	}
}

// compact runs the summarize-profile prompt over one over-long value.
func (p *Pipeline) compact(ctx context.Context, projectID, lang, content string) (string, error) {
	reply, err := p.gateway.Complete(ctx, projectID, content,
		prompts.SummaryProfileSystem(lang),
		llm.CompleteOptions{PromptID: prompts.PromptIDSummaryProfile, Temperature: &stageTemperature})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("empty summary reply")
	}
	return reply, nil
}

// slotDescription returns the most specific configured description for
// a slot: the sub-topic's when present, the topic's otherwise.
func slotDescription(rules *config.ProfileRules, topic, subTopic string) string {
	for _, t := range rules.Topics {
		if t.Topic != topic {
			continue
		}
		for _, st := range t.SubTopics {
			if st.Name == subTopic && st.Description != "" {
				return st.Description
			}
		}
		return t.Description
	}
	return ""
}
