// Package composer assembles the memory context handed back to callers:
// a token-budgeted selection of profile slots and recent events rendered
// through the language-specific context pack.
package composer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/prompts"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// ProfileReader is the profile surface the composer selects from.
type ProfileReader interface {
	List(ctx context.Context, projectID, userID string, cacheTTL time.Duration) ([]models.ProfileSlot, error)
}

// EventReader is the event surface the composer selects from.
type EventReader interface {
	List(ctx context.Context, projectID, userID string, filter services.EventListFilter) ([]models.Event, error)
}

// Composer builds memory contexts. The gateway is only used for
// chat-aware slot filtering and may be nil to disable it.
type Composer struct {
	profiles ProfileReader
	events   EventReader
	gateway  llm.Gateway
	counter  services.TokenCounter
	defaults *config.ContextDefaults
}

// New creates a Composer.
func New(profiles ProfileReader, events EventReader, gateway llm.Gateway, counter services.TokenCounter, defaults *config.ContextDefaults) *Composer {
	return &Composer{
		profiles: profiles,
		events:   events,
		gateway:  gateway,
		counter:  counter,
		defaults: defaults,
	}
}

// Compose renders one user's memory context within the token budget.
func (c *Composer) Compose(ctx context.Context, projectID, userID string, params models.ContextParams, rules *config.ProfileRules) (string, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaults.MaxTokens
	}
	ratio := params.ProfileEventRatio
	if ratio <= 0 || ratio > 1 {
		ratio = c.defaults.ProfileEventRatio
	}
	profileBudget := int(float64(maxTokens) * ratio)
	eventBudget := maxTokens - profileBudget

	slots, err := c.profiles.List(ctx, projectID, userID, rules.CacheTTL)
	if err != nil {
		return "", err
	}
	slots = selectSlots(slots, params)
	if len(params.Chats) > 0 && c.gateway != nil && len(slots) > 0 {
		slots = c.filterByChats(ctx, projectID, slots, params.Chats, rules)
	}
	profileSection := c.renderProfiles(slots, profileBudget)

	events, err := c.events.List(ctx, projectID, userID, services.EventListFilter{
		TopK:           c.defaults.MaxEvents,
		RequireSummary: params.RequireEventSummary,
	})
	if err != nil {
		return "", err
	}
	eventSection := c.renderEvents(events, eventBudget)

	return prompts.ContextPack(rules.Language, profileSection, eventSection), nil
}

// selectSlots applies the topic filters, the preference ordering, and
// the per-topic cardinality caps.
func selectSlots(slots []models.ProfileSlot, params models.ContextParams) []models.ProfileSlot {
	if len(params.OnlyTopics) > 0 {
		allowed := make(map[string]bool, len(params.OnlyTopics))
		for _, t := range params.OnlyTopics {
			allowed[models.NormalizeAttribute(t)] = true
		}
		kept := slots[:0:0]
		for _, s := range slots {
			if allowed[s.Attributes.Key().Topic] {
				kept = append(kept, s)
			}
		}
		slots = kept
	}

	rank := make(map[string]int, len(params.PreferTopics))
	for i, t := range params.PreferTopics {
		rank[models.NormalizeAttribute(t)] = i
	}
	topicRank := func(s models.ProfileSlot) int {
		if r, ok := rank[s.Attributes.Key().Topic]; ok {
			return r
		}
		return len(rank)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		ri, rj := topicRank(slots[i]), topicRank(slots[j])
		if ri != rj {
			return ri < rj
		}
		return slots[i].UpdatedAt.After(slots[j].UpdatedAt)
	})

	limitFor := func(topic string) int {
		if l, ok := params.TopicLimits[topic]; ok {
			return l
		}
		return params.MaxSubtopicSize
	}
	perTopic := make(map[string]int)
	out := slots[:0:0]
	for _, s := range slots {
		topic := s.Attributes.Key().Topic
		if limit := limitFor(topic); limit > 0 && perTopic[topic] >= limit {
			continue
		}
		perTopic[topic]++
		out = append(out, s)
	}
	return out
}

// filterByChats asks the model which slots matter for the latest turns.
// Any failure falls back to the unfiltered selection.
func (c *Composer) filterByChats(ctx context.Context, projectID string, slots []models.ProfileSlot, chats []models.ChatMessage, rules *config.ProfileRules) []models.ProfileSlot {
	reply, err := c.gateway.Complete(ctx, projectID,
		prompts.PickSlotsInput(slots, chats),
		prompts.PickSlotsSystem(rules.Language, len(slots)),
		llm.CompleteOptions{PromptID: prompts.PromptIDPickSlots})
	if err != nil {
		slog.Warn("chat-aware slot filter failed, using full selection",
			"error", err, "project_id", projectID)
		return slots
	}
	picked, err := prompts.ParsePickedIndices(reply, len(slots))
	if err != nil {
		slog.Warn("unparseable slot filter reply, using full selection",
			"error", err, "project_id", projectID)
		return slots
	}
	out := make([]models.ProfileSlot, 0, len(picked))
	for _, i := range picked {
		out = append(out, slots[i])
	}
	return out
}

// renderProfiles renders slots as "topic::sub_topic: content" lines up
// to the budget.
func (c *Composer) renderProfiles(slots []models.ProfileSlot, budget int) string {
	var (
		b     strings.Builder
		spent int
	)
	for _, s := range slots {
		key := s.Attributes.Key()
		line := key.Topic + prompts.Sep + key.SubTopic + ": " + s.Content
		cost := c.counter.Count(line)
		if spent+cost > budget {
			break
		}
		spent += cost
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	return b.String()
}

// renderEvents renders each event as a dated tip with its profile delta
// lines, joined with "\n---\n", up to the budget.
func (c *Composer) renderEvents(events []models.Event, budget int) string {
	var (
		parts []string
		spent int
	)
	for _, e := range events {
		rendered := renderEvent(e)
		if rendered == "" {
			continue
		}
		cost := c.counter.Count(rendered)
		if spent+cost > budget {
			break
		}
		spent += cost
		parts = append(parts, rendered)
	}
	return strings.Join(parts, "\n---\n")
}

func renderEvent(e models.Event) string {
	var lines []string
	if e.Data.EventTip != "" {
		lines = append(lines, "["+e.CreatedAt.Format("2006/01/02")+"] "+e.Data.EventTip)
	}
	for _, d := range e.Data.ProfileDelta {
		lines = append(lines, "- "+d.Attributes.Topic+prompts.Sep+d.Attributes.SubTopic+": "+d.Content)
	}
	return strings.Join(lines, "\n")
}
