package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloros/memoryd/pkg/model"
	"github.com/kloros/memoryd/pkg/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.Database {
	t.Helper()
	db, err := sqlite.New(context.Background(), sqlite.Config{
		Path: filepath.Join(t.TempDir(), "memory.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strptr(s string) *string   { return &s }
func intptr(n int) *int         { return &n }
func f64ptr(f float64) *float64 { return &f }

func TestStoreEventRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	in := model.Event{
		Timestamp:      time.Now().Add(-time.Minute),
		Type:           model.EventUserInput,
		Content:        "turn on the lights",
		Metadata:       map[string]any{"room": "kitchen", "retries": float64(2)},
		ConversationID: strptr("conv-1"),
		Confidence:     f64ptr(0.92),
		TokenCount:     intptr(7),
	}
	id, err := db.StoreEvent(ctx, in)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := db.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.Type, got.Type)
	assert.Equal(t, in.Content, got.Content)
	assert.Equal(t, in.Metadata, got.Metadata)
	assert.Equal(t, *in.ConversationID, *got.ConversationID)
	assert.InDelta(t, *in.Confidence, *got.Confidence, 1e-9)
	assert.Equal(t, *in.TokenCount, *got.TokenCount)
	assert.WithinDuration(t, in.Timestamp, got.Timestamp, time.Millisecond)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetEventMissing(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetEvent(context.Background(), 4242)
	require.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestEventIDsMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := db.StoreEvent(ctx, model.Event{Type: model.EventLLMResponse, Content: "r"})
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
}

func TestGetEventsOrderingAndFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 6; i++ {
		conv := "c1"
		typ := model.EventUserInput
		if i%2 == 1 {
			conv = "c2"
			typ = model.EventLLMResponse
		}
		_, err := db.StoreEvent(ctx, model.Event{
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			Type:           typ,
			Content:        "msg",
			ConversationID: &conv,
		})
		require.NoError(t, err)
	}

	all, err := db.GetEvents(ctx, model.EventQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp), "events must be newest first")
	}

	c1, err := db.GetEvents(ctx, model.EventQuery{Limit: 10, ConversationID: strptr("c1")})
	require.NoError(t, err)
	assert.Len(t, c1, 3)

	llm, err := db.GetEventsByType(ctx, model.EventLLMResponse, 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, llm, 3)

	mid := base.Add(2 * time.Minute)
	ranged, err := db.GetEvents(ctx, model.EventQuery{Limit: 10, StartTime: &mid})
	require.NoError(t, err)
	assert.Len(t, ranged, 4)

	paged, err := db.GetEvents(ctx, model.EventQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
	assert.WithinDuration(t, base.Add(3*time.Minute), paged[0].Timestamp, time.Millisecond)
}

func TestConversationIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, conv := range []string{"a", "b", "a"} {
		c := conv
		_, err := db.StoreEvent(ctx, model.Event{Type: model.EventUserInput, Content: "x", ConversationID: &c})
		require.NoError(t, err)
	}
	_, err := db.StoreEvent(ctx, model.Event{Type: model.EventSystemStartup, Content: "boot"})
	require.NoError(t, err)

	ids, err := db.ConversationIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestMarkEpisodeCondensed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := time.Now()

	id, err := db.StoreEpisode(ctx, model.Episode{
		StartTime:      created.Add(-10 * time.Minute),
		EndTime:        created,
		ConversationID: "c1",
		EventCount:     5,
	})
	require.NoError(t, err)

	require.NoError(t, db.MarkEpisodeCondensed(ctx, id))

	ep, err := db.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.True(t, ep.IsCondensed)
	require.NotNil(t, ep.CondensedAt)
	assert.False(t, ep.CondensedAt.Before(created.Add(-time.Millisecond)))

	// second transition is a no-op, condensed_at keeps its first value
	first := *ep.CondensedAt
	require.NoError(t, db.MarkEpisodeCondensed(ctx, id))
	again, err := db.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, first, *again.CondensedAt, time.Millisecond)

	require.ErrorIs(t, db.MarkEpisodeCondensed(ctx, 999), sqlite.ErrNotFound)
}

func TestStoreEpisodeRejectsInvertedRange(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	_, err := db.StoreEpisode(context.Background(), model.Episode{
		StartTime:      now,
		EndTime:        now.Add(-time.Minute),
		ConversationID: "c1",
	})
	require.Error(t, err)
}

func TestGetSummariesOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	epID, err := db.StoreEpisode(ctx, model.Episode{StartTime: now.Add(-time.Hour), EndTime: now, ConversationID: "c1"})
	require.NoError(t, err)

	for i, imp := range []float64{0.3, 0.9, 0.6} {
		_, err := db.StoreSummary(ctx, model.EpisodeSummary{
			EpisodeID:       epID,
			SummaryText:     "s",
			KeyTopics:       []string{"weather"},
			ImportanceScore: imp,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	got, err := db.GetSummaries(ctx, model.SummaryQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.9, got[0].ImportanceScore)
	assert.Equal(t, 0.6, got[1].ImportanceScore)
	assert.Equal(t, []string{"weather"}, got[0].KeyTopics)

	important, err := db.GetSummaries(ctx, model.SummaryQuery{Limit: 10, MinImportance: 0.5})
	require.NoError(t, err)
	assert.Len(t, important, 2)

	byEpisode, err := db.GetSummaries(ctx, model.SummaryQuery{Limit: 10, EpisodeID: &epID})
	require.NoError(t, err)
	assert.Len(t, byEpisode, 3)
}

func TestCleanupOldEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	old := "old-conv"
	fresh := "fresh-conv"
	for i := 0; i < 3; i++ {
		_, err := db.StoreEvent(ctx, model.Event{
			Timestamp: now.Add(-40 * 24 * time.Hour), Type: model.EventUserInput, Content: "old", ConversationID: &old,
		})
		require.NoError(t, err)
	}
	var freshIDs []int64
	for i := 0; i < 2; i++ {
		id, err := db.StoreEvent(ctx, model.Event{
			Timestamp: now.Add(-time.Hour), Type: model.EventUserInput, Content: "new", ConversationID: &fresh,
		})
		require.NoError(t, err)
		freshIDs = append(freshIDs, id)
	}

	// an uncondensed episode for the dead conversation should be pruned, a
	// condensed one must survive
	uncondensedID, err := db.StoreEpisode(ctx, model.Episode{
		StartTime: now.Add(-40 * 24 * time.Hour), EndTime: now.Add(-40 * 24 * time.Hour), ConversationID: old,
	})
	require.NoError(t, err)
	condensedID, err := db.StoreEpisode(ctx, model.Episode{
		StartTime: now.Add(-40 * 24 * time.Hour), EndTime: now.Add(-40 * 24 * time.Hour), ConversationID: old,
	})
	require.NoError(t, err)
	require.NoError(t, db.MarkEpisodeCondensed(ctx, condensedID))

	deleted, err := db.CleanupOldEvents(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	for _, id := range freshIDs {
		_, err := db.GetEvent(ctx, id)
		assert.NoError(t, err)
	}
	_, err = db.GetEpisode(ctx, uncondensedID)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
	_, err = db.GetEpisode(ctx, condensedID)
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	_, err := db.StoreEvent(ctx, model.Event{Timestamp: now.Add(-48 * time.Hour), Type: model.EventUserInput, Content: "a"})
	require.NoError(t, err)
	_, err = db.StoreEvent(ctx, model.Event{Timestamp: now.Add(-time.Hour), Type: model.EventUserInput, Content: "b"})
	require.NoError(t, err)
	epID, err := db.StoreEpisode(ctx, model.Episode{StartTime: now.Add(-time.Hour), EndTime: now, ConversationID: "c"})
	require.NoError(t, err)
	require.NoError(t, db.MarkEpisodeCondensed(ctx, epID))
	_, err = db.StoreSummary(ctx, model.EpisodeSummary{EpisodeID: epID, SummaryText: "s"})
	require.NoError(t, err)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.TotalEpisodes)
	assert.Equal(t, int64(1), stats.CondensedEpisodes)
	assert.Equal(t, int64(1), stats.TotalSummaries)
	assert.Equal(t, int64(1), stats.EventsLast24h)
	assert.Greater(t, stats.DBSizeBytes, int64(0))
}

func TestEventTypeCountsAndAvgConversationLength(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	c1, c2 := "c1", "c2"
	for i := 0; i < 4; i++ {
		_, err := db.StoreEvent(ctx, model.Event{Timestamp: now.Add(-time.Minute), Type: model.EventUserInput, Content: "u", ConversationID: &c1})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := db.StoreEvent(ctx, model.Event{Timestamp: now.Add(-time.Minute), Type: model.EventLLMResponse, Content: "r", ConversationID: &c2})
		require.NoError(t, err)
	}

	counts, err := db.EventTypeCounts(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[string(model.EventUserInput)])
	assert.Equal(t, int64(2), counts[string(model.EventLLMResponse)])

	avg, err := db.AvgConversationLength(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestMetaRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v, err := db.GetMeta(ctx, "last_vacuum")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetMeta(ctx, "last_vacuum", "2026-01-02T15:04:05Z"))
	require.NoError(t, db.SetMeta(ctx, "last_vacuum", "2026-02-02T15:04:05Z"))

	v, err = db.GetMeta(ctx, "last_vacuum")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-02T15:04:05Z", v)
}

func TestIntegrityDetectionAndRepair(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	// orphaned summary: the referenced episode never existed
	_, err := db.StoreSummary(ctx, model.EpisodeSummary{EpisodeID: 9999, SummaryText: "ghost"})
	require.NoError(t, err)

	// condensed episode without a summary
	epID, err := db.StoreEpisode(ctx, model.Episode{StartTime: now.Add(-time.Hour), EndTime: now, ConversationID: "c1"})
	require.NoError(t, err)
	require.NoError(t, db.MarkEpisodeCondensed(ctx, epID))

	// event from the far future
	_, err = db.StoreEvent(ctx, model.Event{Timestamp: now.Add(90 * 24 * time.Hour), Type: model.EventUserInput, Content: "time traveler"})
	require.NoError(t, err)

	n, err := db.CountOrphanedSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.CountCondensedWithoutSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.CountInvalidTimestampEvents(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	fixed, err := db.DeleteOrphanedSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed)
	fixed, err = db.ResetCondensedWithoutSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed)
	fixed, err = db.DeleteInvalidTimestampEvents(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed)

	n, err = db.CountOrphanedSummaries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.CountCondensedWithoutSummary(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ep, err := db.GetEpisode(ctx, epID)
	require.NoError(t, err)
	assert.False(t, ep.IsCondensed)
	assert.Nil(t, ep.CondensedAt)
}

func TestVacuum(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Vacuum(context.Background()))
}

func TestSchemaIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	ctx := context.Background()

	db1, err := sqlite.New(ctx, sqlite.Config{Path: path})
	require.NoError(t, err)
	id, err := db1.StoreEvent(ctx, model.Event{Type: model.EventUserInput, Content: "persisted"})
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := sqlite.New(ctx, sqlite.Config{Path: path})
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Content)
}
