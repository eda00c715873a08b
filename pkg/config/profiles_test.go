package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSubTopicConfigUnmarshalYAML(t *testing.T) {
	t.Run("scalar form", func(t *testing.T) {
		var topic TopicConfig
		err := yaml.Unmarshal([]byte("topic: interest\nsub_topics:\n  - travel\n  - foods\n"), &topic)
		require.NoError(t, err)
		require.Len(t, topic.SubTopics, 2)
		assert.Equal(t, "travel", topic.SubTopics[0].Name)
		assert.Empty(t, topic.SubTopics[0].Description)
	})

	t.Run("mapping form", func(t *testing.T) {
		var topic TopicConfig
		err := yaml.Unmarshal([]byte(`
topic: work
sub_topics:
  - name: title
    description: "current job title"
    update_description: "keep only the most recent title"
`), &topic)
		require.NoError(t, err)
		require.Len(t, topic.SubTopics, 1)
		assert.Equal(t, "title", topic.SubTopics[0].Name)
		assert.Equal(t, "current job title", topic.SubTopics[0].Description)
		assert.Equal(t, "keep only the most recent title", topic.SubTopics[0].UpdateDescription)
	})

	t.Run("mapping without name fails", func(t *testing.T) {
		var topic TopicConfig
		err := yaml.Unmarshal([]byte("topic: work\nsub_topics:\n  - description: orphan\n"), &topic)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing name")
	})
}

func TestResolveProfileRules(t *testing.T) {
	defaults := DefaultProfileDefaults()

	t.Run("empty document yields defaults", func(t *testing.T) {
		rules, err := defaults.ResolveProfileRules("")
		require.NoError(t, err)
		assert.Equal(t, "en", rules.Language)
		assert.Equal(t, 15, rules.MaxProfileSubtopics)
		assert.True(t, rules.EnableEventSummary)
		assert.False(t, rules.StrictMode)
		assert.NotEmpty(t, rules.Topics, "falls back to the built-in taxonomy")
	})

	t.Run("scalar overrides", func(t *testing.T) {
		rules, err := defaults.ResolveProfileRules(`
language: zh
max_profile_subtopics: 5
strict_mode: true
enable_event_summary: false
persist_chat_blobs: true
`)
		require.NoError(t, err)
		assert.Equal(t, "zh", rules.Language)
		assert.Equal(t, 5, rules.MaxProfileSubtopics)
		assert.True(t, rules.StrictMode)
		assert.False(t, rules.EnableEventSummary)
		assert.True(t, rules.PersistChatBlobs)
		// Untouched keys keep defaults.
		assert.Equal(t, 256, rules.MaxPreProfileTokens)
	})

	t.Run("overwrite replaces taxonomy", func(t *testing.T) {
		rules, err := defaults.ResolveProfileRules(`
overwrite_user_profiles:
  - topic: preferences
    sub_topics:
      - theme
`)
		require.NoError(t, err)
		require.Len(t, rules.Topics, 1)
		assert.Equal(t, "preferences", rules.Topics[0].Topic)
	})

	t.Run("additional extends taxonomy", func(t *testing.T) {
		rules, err := defaults.ResolveProfileRules(`
additional_user_profiles:
  - topic: gaming
    sub_topics:
      - favorite_games
  - topic: interest
    sub_topics:
      - podcasts
`)
		require.NoError(t, err)

		byName := make(map[string]TopicConfig, len(rules.Topics))
		for _, topic := range rules.Topics {
			byName[topic.Topic] = topic
		}
		require.Contains(t, byName, "gaming", "new topic appended")

		interest := byName["interest"]
		var found bool
		for _, st := range interest.SubTopics {
			if st.Name == "podcasts" {
				found = true
			}
		}
		assert.True(t, found, "sub-topic folded into existing topic")
		// Built-in interest sub-topics survive the merge.
		assert.Greater(t, len(interest.SubTopics), 1)
	})

	t.Run("event attributes override", func(t *testing.T) {
		rules, err := defaults.ResolveProfileRules(`
event_attributes:
  - name: emotion
  - name: goal
`)
		require.NoError(t, err)
		require.Len(t, rules.EventTags, 2)
		assert.Equal(t, "emotion", rules.EventTags[0].Name)
	})

	t.Run("invalid YAML", func(t *testing.T) {
		_, err := defaults.ResolveProfileRules("language: [broken")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidYAML)
	})

	t.Run("oversized document", func(t *testing.T) {
		doc := "language: en\n# " + strings.Repeat("x", MaxProfileConfigBytes)
		_, err := defaults.ResolveProfileRules(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestValidateProjectProfileConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "valid document",
			doc:  "language: zh\nstrict_mode: true\n",
		},
		{
			name: "valid with topics",
			doc:  "additional_user_profiles:\n  - topic: gaming\n    sub_topics:\n      - favorite_games\n",
		},
		{
			name:    "invalid YAML",
			doc:     "language: [broken",
			wantErr: "invalid YAML",
		},
		{
			name:    "topic without name",
			doc:     "overwrite_user_profiles:\n  - sub_topics:\n      - theme\n",
			wantErr: "missing topic name",
		},
		{
			name:    "event attribute without name",
			doc:     "event_attributes:\n  - description: orphan\n",
			wantErr: "missing name",
		},
		{
			name:    "oversized document",
			doc:     "# " + strings.Repeat("x", MaxProfileConfigBytes),
			wantErr: "exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectProfileConfig(tt.doc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestProfileRulesHasSlot(t *testing.T) {
	rules := &ProfileRules{
		Topics: []TopicConfig{
			{Topic: "basic_info", SubTopics: []SubTopicConfig{{Name: "name"}, {Name: "age"}}},
			{Topic: "notes"}, // no declared sub-topics: accepts any
		},
	}

	assert.True(t, rules.HasSlot("basic_info", "name"))
	assert.False(t, rules.HasSlot("basic_info", "unknown"))
	assert.True(t, rules.HasSlot("notes", "anything"))
	assert.False(t, rules.HasSlot("missing_topic", "name"))
}

func TestProfileRulesSlotUpdateInstruction(t *testing.T) {
	rules := &ProfileRules{
		Topics: []TopicConfig{
			{Topic: "work", SubTopics: []SubTopicConfig{
				{Name: "title", UpdateDescription: "keep only the most recent title"},
				{Name: "company"},
			}},
		},
	}

	assert.Equal(t, "keep only the most recent title", rules.SlotUpdateInstruction("work", "title"))
	assert.Empty(t, rules.SlotUpdateInstruction("work", "company"))
	assert.Empty(t, rules.SlotUpdateInstruction("interest", "travel"))
}

func TestMergeTopicsDeduplicates(t *testing.T) {
	base := []TopicConfig{
		{Topic: "interest", SubTopics: []SubTopicConfig{{Name: "travel"}}},
	}
	extra := []TopicConfig{
		{Topic: "interest", SubTopics: []SubTopicConfig{{Name: "travel"}, {Name: "music"}}},
	}

	merged := mergeTopics(base, extra)
	require.Len(t, merged, 1)
	require.Len(t, merged[0].SubTopics, 2)
	assert.Equal(t, "travel", merged[0].SubTopics[0].Name)
	assert.Equal(t, "music", merged[0].SubTopics[1].Name)

	// The input slices are not mutated.
	assert.Len(t, base[0].SubTopics, 1)
}
