package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
	"github.com/sekai-app/sekai-memobase/test/pgtest"
)

const rootSecret = "integration-secret"

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type env struct {
	pool     *pgxpool.Pool
	store    *coordination.Store
	users    *services.UserService
	projects *services.ProjectService
	blobs    *services.BlobService
	buffers  *services.BufferService
	profiles *services.ProfileService
	events   *services.EventService
	statuses *services.StatusService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	pool := pgtest.Setup(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordination.NewStoreFromRedis(coordination.NewRedisFromClient(client))
	t.Cleanup(func() { _ = store.Close() })

	e := &env{
		pool:     pool,
		store:    store,
		users:    services.NewUserService(pool),
		projects: services.NewProjectService(pool, config.DefaultProfileDefaults()),
		blobs:    services.NewBlobService(pool),
		buffers:  services.NewBufferService(pool),
		profiles: services.NewProfileService(pool, store.Cache),
		events:   services.NewEventService(pool, nil, wordCounter{}),
		statuses: services.NewStatusService(pool),
	}
	require.NoError(t, e.projects.EnsureRootProject(context.Background(), rootSecret))
	return e
}

func (e *env) newUser(t *testing.T) string {
	t.Helper()
	id, err := e.users.Create(context.Background(), models.RootProjectID, "", nil)
	require.NoError(t, err)
	return id
}

func chatBlob(content string) *models.Blob {
	return &models.Blob{
		Type:     models.BlobTypeChat,
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: content}},
	}
}

func TestUserServiceCRUD(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.users.Create(ctx, models.RootProjectID, "", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(id))

	user, err := e.users.Get(ctx, models.RootProjectID, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Data["name"])

	require.NoError(t, e.users.Update(ctx, models.RootProjectID, id, map[string]any{"name": "Grace"}))
	user, err = e.users.Get(ctx, models.RootProjectID, id)
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.Data["name"])

	users, total, err := e.users.List(ctx, models.RootProjectID, services.ListUsersQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, users, 1)

	require.NoError(t, e.users.Delete(ctx, models.RootProjectID, id))
	_, err = e.users.Get(ctx, models.RootProjectID, id)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestUserServiceRejectsBadIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.users.Create(ctx, models.RootProjectID, "not-a-uuid", nil)
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	id := e.newUser(t)
	_, err = e.users.Create(ctx, models.RootProjectID, id, nil)
	assert.ErrorIs(t, err, services.ErrAlreadyExists)
}

func TestUserStatusAppendAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	first, err := e.statuses.Append(ctx, models.RootProjectID, userID, "mood", map[string]any{"value": "calm"})
	require.NoError(t, err)
	second, err := e.statuses.Append(ctx, models.RootProjectID, userID, "mood", map[string]any{"value": "curious"})
	require.NoError(t, err)
	_, err = e.statuses.Append(ctx, models.RootProjectID, userID, "progress", nil)
	require.NoError(t, err)

	statuses, err := e.statuses.List(ctx, models.RootProjectID, userID, "mood", 0, 10)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, second, statuses[0].ID) // newest first
	assert.Equal(t, first, statuses[1].ID)
	assert.Equal(t, "curious", statuses[0].Attributes["value"])

	// Paging: one entry per page, second page carries the older row.
	page, err := e.statuses.List(ctx, models.RootProjectID, userID, "mood", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first, page[0].ID)

	_, err = e.statuses.Append(ctx, models.RootProjectID, userID, "", nil)
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	_, err = e.statuses.Append(ctx, models.RootProjectID, uuid.NewString(), "mood", nil)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestProjectAuthentication(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.projects.Authenticate(ctx, rootSecret)
	require.NoError(t, err)
	assert.Equal(t, models.RootProjectID, p.ID)

	_, err = e.projects.Authenticate(ctx, "wrong-token")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = e.projects.Authenticate(ctx, "")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

func TestProjectScopedTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.pool.Exec(ctx, `
INSERT INTO projects (id, project_secret, status)
VALUES ('acme', 'shhh', 'active')`)
	require.NoError(t, err)

	p, err := e.projects.Authenticate(ctx, "sk-memobase-acme-shhh")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.ID)

	// Secret for one project must not unlock another.
	_, err = e.projects.Authenticate(ctx, "sk-memobase-other-shhh")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = e.projects.Authenticate(ctx, "sk-memobase-acme-wrong")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	// Bare secrets still authenticate directly.
	p, err = e.projects.Authenticate(ctx, "shhh")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.ID)
}

func TestProjectProfileConfig(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc := "language: zh\nstrict_mode: true"
	require.NoError(t, e.projects.UpdateProfileConfig(ctx, models.RootProjectID, doc))

	stored, err := e.projects.GetProfileConfig(ctx, models.RootProjectID)
	require.NoError(t, err)
	assert.Equal(t, doc, stored)

	rules, err := e.projects.RulesFor(ctx, models.RootProjectID)
	require.NoError(t, err)
	assert.Equal(t, "zh", rules.Language)
	assert.True(t, rules.StrictMode)

	err = e.projects.UpdateProfileConfig(ctx, models.RootProjectID, "language: [broken")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestProjectUsageAndBilling(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.projects.RecordUsage(ctx, models.RootProjectID, 100, 50))
	require.NoError(t, e.projects.RecordUsage(ctx, models.RootProjectID, 10, 5))

	billing, err := e.projects.Billing(ctx, models.RootProjectID)
	require.NoError(t, err)
	assert.EqualValues(t, 165, billing.TokensUsed)

	usage, err := e.projects.Usage(ctx, models.RootProjectID, 7)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.EqualValues(t, 110, usage[0].InputTokens)
	assert.EqualValues(t, 55, usage[0].OutputTokens)
	assert.Equal(t, 2, usage[0].Calls)

	// Unlimited quota never trips.
	assert.NoError(t, e.projects.CheckQuota(ctx, models.RootProjectID))
}

func TestBlobLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	blobID, err := e.blobs.Insert(ctx, models.RootProjectID, userID, chatBlob("hello world"))
	require.NoError(t, err)

	blob, err := e.blobs.Get(ctx, models.RootProjectID, userID, blobID)
	require.NoError(t, err)
	require.Len(t, blob.Messages, 1)
	assert.Equal(t, "hello world", blob.Messages[0].Content)

	ids, err := e.blobs.ListIDs(ctx, models.RootProjectID, userID, models.BlobTypeChat, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{blobID}, ids)

	require.NoError(t, e.blobs.Delete(ctx, models.RootProjectID, userID, blobID))
	_, err = e.blobs.Get(ctx, models.RootProjectID, userID, blobID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestBufferClaimAndMark(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	blobID, err := e.blobs.Insert(ctx, models.RootProjectID, userID, chatBlob("buffered message"))
	require.NoError(t, err)
	entryID, err := e.buffers.Enqueue(ctx, models.RootProjectID, userID, blobID, models.BlobTypeChat, 25)
	require.NoError(t, err)

	sum, err := e.buffers.IdleTokenSum(ctx, models.RootProjectID, userID, models.BlobTypeChat)
	require.NoError(t, err)
	assert.Equal(t, 25, sum)

	claimed, err := e.buffers.ClaimIdle(ctx, models.RootProjectID, userID, models.BlobTypeChat)
	require.NoError(t, err)
	assert.Equal(t, []string{entryID}, claimed)

	// Claimed entries no longer count as idle.
	sum, err = e.buffers.IdleTokenSum(ctx, models.RootProjectID, userID, models.BlobTypeChat)
	require.NoError(t, err)
	assert.Zero(t, sum)

	entries, err := e.buffers.EntriesForFlush(ctx, models.RootProjectID, userID, models.BlobTypeChat,
		claimed, models.BufferStatusProcessing)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 25, entries[0].TokenSize)
	assert.Equal(t, "buffered message", entries[0].Blob.Messages[0].Content)

	require.NoError(t, e.buffers.MarkBatch(ctx, models.RootProjectID, claimed,
		models.BufferStatusProcessing, models.BufferStatusDone))
	done, err := e.buffers.IDsByStatus(ctx, models.RootProjectID, userID, models.BlobTypeChat, models.BufferStatusDone)
	require.NoError(t, err)
	assert.Equal(t, []string{entryID}, done)
}

func TestBufferReleaseClaim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	blobID, err := e.blobs.Insert(ctx, models.RootProjectID, userID, chatBlob("to release"))
	require.NoError(t, err)
	_, err = e.buffers.Enqueue(ctx, models.RootProjectID, userID, blobID, models.BlobTypeChat, 10)
	require.NoError(t, err)

	claimed, err := e.buffers.ClaimIdle(ctx, models.RootProjectID, userID, models.BlobTypeChat)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, e.buffers.ReleaseClaim(ctx, models.RootProjectID, claimed))
	idle, err := e.buffers.IDsByStatus(ctx, models.RootProjectID, userID, models.BlobTypeChat, models.BufferStatusIdle)
	require.NoError(t, err)
	assert.Equal(t, claimed, idle)
}

func TestBlobDeleteCascadesBufferEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	blobID, err := e.blobs.Insert(ctx, models.RootProjectID, userID, chatBlob("ephemeral"))
	require.NoError(t, err)
	_, err = e.buffers.Enqueue(ctx, models.RootProjectID, userID, blobID, models.BlobTypeChat, 5)
	require.NoError(t, err)

	require.NoError(t, e.blobs.DeleteMany(ctx, models.RootProjectID, userID, []string{blobID}))

	idle, err := e.buffers.IDsByStatus(ctx, models.RootProjectID, userID, models.BlobTypeChat, models.BufferStatusIdle)
	require.NoError(t, err)
	assert.Empty(t, idle)
}

func TestProfileCommitDelta(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	ids, err := e.profiles.AddMany(ctx, models.RootProjectID, userID, []models.ProfileAdd{
		{Content: "engineer", Attributes: models.ProfileAttributes{Topic: "Work", SubTopic: "Title"}},
		{Content: "jazz", Attributes: models.ProfileAttributes{Topic: "interest", SubTopic: "music"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	added, updated, deleted, err := e.profiles.CommitDelta(ctx, models.RootProjectID, userID, &services.ProfileDelta{
		Adds: []models.ProfileAdd{
			{Content: "Tenet", Attributes: models.ProfileAttributes{Topic: "interest", SubTopic: "movie"}},
		},
		Updates: []services.ProfileCommitUpdate{
			{SlotID: ids[0], Content: "senior engineer", BumpHits: true},
		},
		Deletes: []string{ids[1]},
	})
	require.NoError(t, err)
	assert.Len(t, added, 1)
	assert.Equal(t, []string{ids[0]}, updated)
	assert.Equal(t, []string{ids[1]}, deleted)

	slots, err := e.profiles.List(ctx, models.RootProjectID, userID, time.Minute)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	byKey := map[models.ProfileKey]models.ProfileSlot{}
	for _, s := range slots {
		byKey[s.Attributes.Key()] = s
	}
	work := byKey[models.ProfileKey{Topic: "work", SubTopic: "title"}]
	assert.Equal(t, "senior engineer", work.Content)
	assert.Equal(t, 2, work.Attributes.UpdateHits)
	assert.Contains(t, byKey, models.ProfileKey{Topic: "interest", SubTopic: "movie"})
}

func TestProfileListUsesCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	_, err := e.profiles.AddMany(ctx, models.RootProjectID, userID, []models.ProfileAdd{
		{Content: "pizza", Attributes: models.ProfileAttributes{Topic: "interest", SubTopic: "food"}},
	})
	require.NoError(t, err)

	// First read populates the cache.
	slots, err := e.profiles.List(ctx, models.RootProjectID, userID, time.Minute)
	require.NoError(t, err)
	require.Len(t, slots, 1)

	// Delete behind the cache's back: a cached read still sees the slot.
	_, err = e.pool.Exec(ctx, `DELETE FROM profile_slots WHERE user_id = $1`, userID)
	require.NoError(t, err)
	slots, err = e.profiles.List(ctx, models.RootProjectID, userID, time.Minute)
	require.NoError(t, err)
	assert.Len(t, slots, 1)

	// Invalidation exposes the real state.
	e.profiles.Invalidate(ctx, models.RootProjectID, userID)
	slots, err = e.profiles.List(ctx, models.RootProjectID, userID, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestEventAppendAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	_, err := e.events.Append(ctx, models.RootProjectID, userID, models.EventData{
		ProfileDelta: []models.ProfileDeltaEntry{{
			Content:    "engineer",
			Attributes: models.ProfileAttributes{Topic: "work", SubTopic: "title"},
		}},
	})
	require.NoError(t, err)
	withTip, err := e.events.Append(ctx, models.RootProjectID, userID, models.EventData{
		EventTip: "talked about work",
	})
	require.NoError(t, err)

	all, err := e.events.List(ctx, models.RootProjectID, userID, services.EventListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	summarized, err := e.events.List(ctx, models.RootProjectID, userID, services.EventListFilter{RequireSummary: true})
	require.NoError(t, err)
	require.Len(t, summarized, 1)
	assert.Equal(t, withTip, summarized[0].ID)

	_, err = e.events.Append(ctx, models.RootProjectID, userID, models.EventData{})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestEventUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	userID := e.newUser(t)

	id, err := e.events.Append(ctx, models.RootProjectID, userID, models.EventData{EventTip: "first"})
	require.NoError(t, err)

	require.NoError(t, e.events.Update(ctx, models.RootProjectID, userID, id, models.EventData{EventTip: "revised"}))
	all, err := e.events.List(ctx, models.RootProjectID, userID, services.EventListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "revised", all[0].Data.EventTip)

	require.NoError(t, e.events.Delete(ctx, models.RootProjectID, userID, id))
	assert.ErrorIs(t, e.events.Delete(ctx, models.RootProjectID, userID, id), services.ErrNotFound)
}

func TestSearchWithoutGateway(t *testing.T) {
	e := newEnv(t)
	_, err := e.events.SearchByText(context.Background(), models.RootProjectID, "u", "query", 5, 0.2)
	assert.ErrorIs(t, err, services.ErrServiceUnavailable)
}
