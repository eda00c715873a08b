package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/prompts"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

type fakeGateway struct {
	replies map[string][]string
	errs    map[string]error
	calls   []string
}

func (g *fakeGateway) Complete(_ context.Context, _ string, _ string, _ string, opts llm.CompleteOptions) (string, error) {
	g.calls = append(g.calls, opts.PromptID)
	if err, ok := g.errs[opts.PromptID]; ok {
		return "", err
	}
	queue := g.replies[opts.PromptID]
	if len(queue) == 0 {
		return "", errors.New("no scripted reply for " + opts.PromptID)
	}
	reply := queue[0]
	g.replies[opts.PromptID] = queue[1:]
	return reply, nil
}

func (g *fakeGateway) Embed(context.Context, string, []string, llm.EmbedPhase) ([][]float32, error) {
	return nil, errors.New("not scripted")
}

type fakeBuffers struct {
	entries  []models.BufferedBlob
	marked   map[models.BufferStatus][]string
	released []string
}

func (b *fakeBuffers) EntriesForFlush(context.Context, string, string, models.BlobType, []string, models.BufferStatus) ([]models.BufferedBlob, error) {
	return b.entries, nil
}

func (b *fakeBuffers) MarkBatch(_ context.Context, _ string, ids []string, _, to models.BufferStatus) error {
	if b.marked == nil {
		b.marked = make(map[models.BufferStatus][]string)
	}
	b.marked[to] = append(b.marked[to], ids...)
	return nil
}

func (b *fakeBuffers) ReleaseClaim(_ context.Context, _ string, ids []string) error {
	b.released = append(b.released, ids...)
	return nil
}

type fakeProfiles struct {
	slots     []models.ProfileSlot
	committed *services.ProfileDelta
	commitErr error
}

func (p *fakeProfiles) List(context.Context, string, string, time.Duration) ([]models.ProfileSlot, error) {
	return p.slots, nil
}

func (p *fakeProfiles) CommitDelta(_ context.Context, _, _ string, delta *services.ProfileDelta) ([]string, []string, []string, error) {
	if p.commitErr != nil {
		return nil, nil, nil, p.commitErr
	}
	p.committed = delta
	added := make([]string, len(delta.Adds))
	for i := range delta.Adds {
		added[i] = "added-" + delta.Adds[i].Attributes.SubTopic
	}
	updated := make([]string, len(delta.Updates))
	for i, u := range delta.Updates {
		updated[i] = u.SlotID
	}
	return added, updated, delta.Deletes, nil
}

type fakeEvents struct {
	appended *models.EventData
}

func (e *fakeEvents) Append(_ context.Context, _, _ string, data models.EventData) (string, error) {
	e.appended = &data
	return "event-1", nil
}

type fakeBlobs struct {
	deleted []string
}

func (b *fakeBlobs) DeleteMany(_ context.Context, _, _ string, ids []string) error {
	b.deleted = append(b.deleted, ids...)
	return nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func chatEntry(entryID, blobID, content string, tokenSize int) models.BufferedBlob {
	return models.BufferedBlob{
		EntryID:   entryID,
		TokenSize: tokenSize,
		Blob: models.Blob{
			ID:       blobID,
			Type:     models.BlobTypeChat,
			Messages: []models.ChatMessage{{Role: models.RoleUser, Content: content}},
		},
	}
}

func testRules() *config.ProfileRules {
	rules, err := config.DefaultProfileDefaults().ResolveProfileRules("")
	if err != nil {
		panic(err)
	}
	rules.MinEventSummaryTokens = 1000 // keep summarize-chat out of most tests
	return rules
}

func newTestPipeline(gw *fakeGateway, buffers *fakeBuffers, profiles *fakeProfiles) (*Pipeline, *fakeEvents, *fakeBlobs) {
	events := &fakeEvents{}
	blobs := &fakeBlobs{}
	cfg := config.DefaultFlushConfig()
	return New(buffers, profiles, events, blobs, gw, wordCounter{}, cfg), events, blobs
}

var target = services.FlushTarget{ProjectID: "proj", UserID: "user", BlobType: models.BlobTypeChat}

func TestProcessBatchAddsAndUpdates(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"- work::title::software engineer\n- basic_info::name::John"},
		prompts.PromptIDMerge:   {"- UPDATE::software engineer at Memobase"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{
		chatEntry("e1", "b1", "I am John, a software engineer at Memobase", 10),
	}}
	profiles := &fakeProfiles{slots: []models.ProfileSlot{
		{ID: "slot-1", Content: "engineer", Attributes: models.ProfileAttributes{Topic: "work", SubTopic: "title"}},
	}}
	p, events, blobs := newTestPipeline(gw, buffers, profiles)

	result, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, testRules())
	require.NoError(t, err)

	require.NotNil(t, profiles.committed)
	require.Len(t, profiles.committed.Adds, 1)
	assert.Equal(t, "basic_info", profiles.committed.Adds[0].Attributes.Topic)
	require.Len(t, profiles.committed.Updates, 1)
	assert.Equal(t, "slot-1", profiles.committed.Updates[0].SlotID)
	assert.Equal(t, "software engineer at Memobase", profiles.committed.Updates[0].Content)
	assert.True(t, profiles.committed.Updates[0].BumpHits)

	assert.Equal(t, []string{"added-name"}, result.AddedIDs)
	assert.Equal(t, []string{"slot-1"}, result.UpdatedIDs)
	assert.Equal(t, "event-1", result.EventID)

	require.NotNil(t, events.appended)
	assert.Len(t, events.appended.ProfileDelta, 2)
	// Below the summary threshold the transcript is carried verbatim.
	assert.NotEmpty(t, events.appended.EventTip)

	assert.Equal(t, []string{"e1"}, buffers.marked[models.BufferStatusDone])
	assert.Equal(t, []string{"b1"}, blobs.deleted)
}

func TestProcessBatchNoFacts(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"NONE"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "hi", 2)}}
	profiles := &fakeProfiles{}
	p, events, _ := newTestPipeline(gw, buffers, profiles)

	result, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, testRules())
	require.NoError(t, err)
	assert.Empty(t, result.EventID)
	assert.Nil(t, events.appended)
	assert.Equal(t, []string{"e1"}, buffers.marked[models.BufferStatusDone])
}

func TestProcessBatchMergeAbortDropsFact(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"- work::title::nothing new"},
		prompts.PromptIDMerge:   {"- ABORT::invalid"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{slots: []models.ProfileSlot{
		{ID: "slot-1", Content: "engineer", Attributes: models.ProfileAttributes{Topic: "work", SubTopic: "title"}},
	}}
	p, events, _ := newTestPipeline(gw, buffers, profiles)

	result, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, testRules())
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
	assert.Nil(t, events.appended)
}

func TestProcessBatchTruncationReleasesOldest(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"NONE"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{
		chatEntry("old", "b1", "old chat", 2000),
		chatEntry("new", "b2", "new chat", 100),
	}}
	profiles := &fakeProfiles{}
	p, _, _ := newTestPipeline(gw, buffers, profiles)

	_, err := p.ProcessBatch(context.Background(), target, []string{"old", "new"}, testRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, buffers.released)
	assert.Equal(t, []string{"new"}, buffers.marked[models.BufferStatusDone])
}

func TestProcessBatchEmpty(t *testing.T) {
	gw := &fakeGateway{}
	p, _, _ := newTestPipeline(gw, &fakeBuffers{}, &fakeProfiles{})

	_, err := p.ProcessBatch(context.Background(), target, []string{"gone"}, testRules())
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestProcessBatchCommitFailureMarksFailed(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"- interest::movie::likes Tenet"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{commitErr: errors.New("db down")}
	p, _, blobs := newTestPipeline(gw, buffers, profiles)

	_, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, testRules())
	require.Error(t, err)
	assert.Equal(t, []string{"e1"}, buffers.marked[models.BufferStatusFailed])
	assert.Empty(t, blobs.deleted)
}

func TestProcessBatchStrictModeDropsUnknownSlots(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"- made_up_topic::oddity::something"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{}
	p, _, _ := newTestPipeline(gw, buffers, profiles)

	rules := testRules()
	rules.StrictMode = true
	result, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, rules)
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
}

func TestProcessBatchPersistChatBlobsKeepsBlobs(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"NONE"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	p, _, blobs := newTestPipeline(gw, buffers, &fakeProfiles{})

	rules := testRules()
	rules.PersistChatBlobs = true
	_, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, rules)
	require.NoError(t, err)
	assert.Empty(t, blobs.deleted)
}

func TestCoalesceDuplicateFacts(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract: {"- interest::movie::likes Tenet\n- interest::movie::likes Inception"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{}
	p, _, _ := newTestPipeline(gw, buffers, profiles)

	_, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, testRules())
	require.NoError(t, err)
	require.Len(t, profiles.committed.Adds, 1)
	assert.Equal(t, "likes Tenet; likes Inception", profiles.committed.Adds[0].Content)
}

func TestOrganizeReplacesSaturatedTopic(t *testing.T) {
	slots := make([]models.ProfileSlot, 0, 4)
	for _, sub := range []string{"a", "b", "c", "d"} {
		slots = append(slots, models.ProfileSlot{
			ID:         "slot-" + sub,
			Content:    "memo " + sub,
			Attributes: models.ProfileAttributes{Topic: "interest", SubTopic: sub},
		})
	}
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract:  {"- interest::e::memo e"},
		prompts.PromptIDOrganize: {"- hobbies::memos a to e consolidated\n- media::screen time"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{slots: slots}
	p, _, _ := newTestPipeline(gw, buffers, profiles)

	rules := testRules()
	rules.MaxProfileSubtopics = 4 // prospective count 5 exceeds it, target 3

	_, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, rules)
	require.NoError(t, err)
	require.NotNil(t, profiles.committed)
	assert.ElementsMatch(t, []string{"slot-a", "slot-b", "slot-c", "slot-d"}, profiles.committed.Deletes)
	require.Len(t, profiles.committed.Adds, 2)
	assert.Equal(t, "hobbies", profiles.committed.Adds[0].Attributes.SubTopic)
	assert.Empty(t, profiles.committed.Updates)
}

func TestEventTagsFilteredAgainstTaxonomy(t *testing.T) {
	gw := &fakeGateway{replies: map[string][]string{
		prompts.PromptIDExtract:  {"- interest::movie::likes Tenet"},
		prompts.PromptIDTagEvent: {"- emotion::curious\n- undeclared::junk"},
	}}
	buffers := &fakeBuffers{entries: []models.BufferedBlob{chatEntry("e1", "b1", "chat", 2)}}
	profiles := &fakeProfiles{}
	p, events, _ := newTestPipeline(gw, buffers, profiles)

	rules := testRules()
	rules.EventTags = []config.EventTagConfig{{Name: "emotion"}}

	_, err := p.ProcessBatch(context.Background(), target, []string{"e1"}, rules)
	require.NoError(t, err)
	require.NotNil(t, events.appended)
	require.Len(t, events.appended.EventTags, 1)
	assert.Equal(t, models.EventTag{Tag: "emotion", Value: "curious"}, events.appended.EventTags[0])
}
