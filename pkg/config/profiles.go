package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxProfileConfigBytes caps the raw YAML document a project may store as
// its profile configuration.
const MaxProfileConfigBytes = 65536

// SubTopicConfig describes one slot under a topic. In YAML a sub-topic is
// either a bare string or a mapping with a name and an optional
// description that is surfaced to the extraction prompt.
type SubTopicConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// UpdateDescription overrides the merge instruction for this slot.
	UpdateDescription string `yaml:"update_description"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (s *SubTopicConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		return nil
	}
	type plain SubTopicConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("sub-topic entry missing name")
	}
	*s = SubTopicConfig(p)
	return nil
}

// TopicConfig groups sub-topics under one topic name.
type TopicConfig struct {
	Topic       string           `yaml:"topic"`
	Description string           `yaml:"description"`
	SubTopics   []SubTopicConfig `yaml:"sub_topics"`
}

// EventTagConfig describes one attribute that event tagging may attach to
// a flushed event.
type EventTagConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ProfileDefaults carries the service-wide profile and flush behavior that
// projects may override through their stored profile configuration.
type ProfileDefaults struct {
	// Language selects the prompt pack, "en" or "zh".
	Language string `yaml:"language"`

	// MaxProfileSubtopics bounds slots per topic before reorganization.
	MaxProfileSubtopics int `yaml:"max_profile_subtopics"`

	// MaxPreProfileTokens bounds a slot value before re-summarization.
	MaxPreProfileTokens int `yaml:"max_pre_profile_tokens"`

	// MinEventSummaryTokens gates conversation summaries on flush. A
	// transcript shorter than this is carried verbatim.
	MinEventSummaryTokens int `yaml:"min_event_summary_tokens"`

	// EnableEventSummary toggles conversation summaries entirely.
	EnableEventSummary bool `yaml:"enable_event_summary"`

	// StrictMode drops extracted facts outside the configured taxonomy
	// instead of admitting new topics.
	StrictMode bool `yaml:"strict_mode"`

	// PersistChatBlobs keeps chat blobs after a successful flush.
	PersistChatBlobs bool `yaml:"persist_chat_blobs"`

	// CacheTTL bounds the profile read cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Topics replaces the built-in taxonomy when set.
	Topics []TopicConfig `yaml:"overwrite_user_profiles"`

	// AdditionalTopics extends the effective taxonomy.
	AdditionalTopics []TopicConfig `yaml:"additional_user_profiles"`

	// EventTags lists attributes for event tagging. Empty disables it.
	EventTags []EventTagConfig `yaml:"event_attributes"`
}

// DefaultProfileDefaults returns the built-in profile behavior.
func DefaultProfileDefaults() *ProfileDefaults {
	return &ProfileDefaults{
		Language:              "en",
		MaxProfileSubtopics:   15,
		MaxPreProfileTokens:   256,
		MinEventSummaryTokens: 256,
		EnableEventSummary:    true,
		CacheTTL:              20 * time.Minute,
	}
}

// ProfileRules is the resolved, effective profile behavior for one
// project: service defaults merged with the project's stored overrides.
type ProfileRules struct {
	Language              string
	MaxProfileSubtopics   int
	MaxPreProfileTokens   int
	MinEventSummaryTokens int
	EnableEventSummary    bool
	StrictMode            bool
	PersistChatBlobs      bool
	CacheTTL              time.Duration
	Topics                []TopicConfig
	EventTags             []EventTagConfig
}

// projectProfileConfig is the subset of keys a project may override in its
// stored profile configuration document.
type projectProfileConfig struct {
	Language              *string          `yaml:"language"`
	MaxProfileSubtopics   *int             `yaml:"max_profile_subtopics"`
	MaxPreProfileTokens   *int             `yaml:"max_pre_profile_tokens"`
	MinEventSummaryTokens *int             `yaml:"min_event_summary_tokens"`
	EnableEventSummary    *bool            `yaml:"enable_event_summary"`
	StrictMode            *bool            `yaml:"strict_mode"`
	PersistChatBlobs      *bool            `yaml:"persist_chat_blobs"`
	OverwriteProfiles     []TopicConfig    `yaml:"overwrite_user_profiles"`
	AdditionalProfiles    []TopicConfig    `yaml:"additional_user_profiles"`
	EventAttributes       []EventTagConfig `yaml:"event_attributes"`
}

// ValidateProjectProfileConfig checks a project-supplied profile
// configuration document without applying it.
func ValidateProjectProfileConfig(doc string) error {
	if len(doc) > MaxProfileConfigBytes {
		return fmt.Errorf("profile config exceeds %d bytes", MaxProfileConfigBytes)
	}
	var p projectProfileConfig
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	for _, t := range append(append([]TopicConfig{}, p.OverwriteProfiles...), p.AdditionalProfiles...) {
		if t.Topic == "" {
			return fmt.Errorf("topic entry missing topic name")
		}
		for _, st := range t.SubTopics {
			if st.Name == "" {
				return fmt.Errorf("topic %q has a sub-topic without a name", t.Topic)
			}
		}
	}
	for _, tag := range p.EventAttributes {
		if tag.Name == "" {
			return fmt.Errorf("event attribute missing name")
		}
	}
	return nil
}

// ResolveProfileRules merges the service defaults with a project's stored
// profile configuration document. An empty document yields the defaults
// unchanged. Overwrite topics replace the taxonomy; additional topics
// extend it; scalar keys override when present.
func (d *ProfileDefaults) ResolveProfileRules(doc string) (*ProfileRules, error) {
	rules := &ProfileRules{
		Language:              d.Language,
		MaxProfileSubtopics:   d.MaxProfileSubtopics,
		MaxPreProfileTokens:   d.MaxPreProfileTokens,
		MinEventSummaryTokens: d.MinEventSummaryTokens,
		EnableEventSummary:    d.EnableEventSummary,
		StrictMode:            d.StrictMode,
		PersistChatBlobs:      d.PersistChatBlobs,
		CacheTTL:              d.CacheTTL,
		EventTags:             d.EventTags,
	}

	base := d.Topics
	if len(base) == 0 {
		base = BuiltinTopics()
	}
	rules.Topics = base
	if len(d.AdditionalTopics) > 0 {
		rules.Topics = mergeTopics(rules.Topics, d.AdditionalTopics)
	}

	if doc == "" {
		return rules, nil
	}
	if len(doc) > MaxProfileConfigBytes {
		return nil, fmt.Errorf("profile config exceeds %d bytes", MaxProfileConfigBytes)
	}
	var p projectProfileConfig
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if p.Language != nil {
		rules.Language = *p.Language
	}
	if p.MaxProfileSubtopics != nil {
		rules.MaxProfileSubtopics = *p.MaxProfileSubtopics
	}
	if p.MaxPreProfileTokens != nil {
		rules.MaxPreProfileTokens = *p.MaxPreProfileTokens
	}
	if p.MinEventSummaryTokens != nil {
		rules.MinEventSummaryTokens = *p.MinEventSummaryTokens
	}
	if p.EnableEventSummary != nil {
		rules.EnableEventSummary = *p.EnableEventSummary
	}
	if p.StrictMode != nil {
		rules.StrictMode = *p.StrictMode
	}
	if p.PersistChatBlobs != nil {
		rules.PersistChatBlobs = *p.PersistChatBlobs
	}
	if len(p.OverwriteProfiles) > 0 {
		rules.Topics = p.OverwriteProfiles
	}
	if len(p.AdditionalProfiles) > 0 {
		rules.Topics = mergeTopics(rules.Topics, p.AdditionalProfiles)
	}
	if len(p.EventAttributes) > 0 {
		rules.EventTags = p.EventAttributes
	}
	return rules, nil
}

// mergeTopics appends extra topics onto base, folding sub-topics into an
// existing topic of the same name rather than duplicating it.
func mergeTopics(base, extra []TopicConfig) []TopicConfig {
	out := make([]TopicConfig, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.Topic] = i
	}
	for _, t := range extra {
		i, ok := index[t.Topic]
		if !ok {
			index[t.Topic] = len(out)
			out = append(out, t)
			continue
		}
		// Clone before folding so base's backing array is untouched.
		subs := make([]SubTopicConfig, len(out[i].SubTopics))
		copy(subs, out[i].SubTopics)
		seen := make(map[string]bool, len(subs))
		for _, st := range subs {
			seen[st.Name] = true
		}
		for _, st := range t.SubTopics {
			if !seen[st.Name] {
				subs = append(subs, st)
				seen[st.Name] = true
			}
		}
		out[i].SubTopics = subs
		if t.Description != "" {
			out[i].Description = t.Description
		}
	}
	return out
}

// HasSlot reports whether the taxonomy contains the given topic and
// sub-topic pair. Topics with no declared sub-topics accept any sub-topic.
func (r *ProfileRules) HasSlot(topic, subTopic string) bool {
	for _, t := range r.Topics {
		if t.Topic != topic {
			continue
		}
		if len(t.SubTopics) == 0 {
			return true
		}
		for _, st := range t.SubTopics {
			if st.Name == subTopic {
				return true
			}
		}
		return false
	}
	return false
}

// SlotUpdateInstruction returns the merge instruction override for a slot,
// or empty when none is configured.
func (r *ProfileRules) SlotUpdateInstruction(topic, subTopic string) string {
	for _, t := range r.Topics {
		if t.Topic != topic {
			continue
		}
		for _, st := range t.SubTopics {
			if st.Name == subTopic {
				return st.UpdateDescription
			}
		}
	}
	return ""
}
