// Package store defines the interfaces the rest of the system consumes and
// asserts that the SQLite engine satisfies them.
package store

import (
	"context"
	"time"

	"github.com/kloros/memoryd/pkg/model"
	"github.com/kloros/memoryd/pkg/store/sqlite"
)

// EventStore is durable CRUD for events.
type EventStore interface {
	StoreEvent(ctx context.Context, e model.Event) (int64, error)
	GetEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	GetEventsByType(ctx context.Context, t model.EventType, limit int, start, end *time.Time) ([]model.Event, error)
	ConversationIDs(ctx context.Context) ([]string, error)
}

// EpisodeStore is durable CRUD for episodes.
type EpisodeStore interface {
	StoreEpisode(ctx context.Context, ep model.Episode) (int64, error)
	GetEpisodes(ctx context.Context, q model.EpisodeQuery) ([]model.Episode, error)
	GetEpisode(ctx context.Context, id int64) (*model.Episode, error)
	MarkEpisodeCondensed(ctx context.Context, id int64) error
}

// SummaryStore is durable CRUD for episode summaries.
type SummaryStore interface {
	StoreSummary(ctx context.Context, s model.EpisodeSummary) (int64, error)
	GetSummaries(ctx context.Context, q model.SummaryQuery) ([]model.EpisodeSummary, error)
}

// MetaStore is the maintenance bookkeeping key/value table.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// IntegrityStore detects and repairs structural inconsistencies.
type IntegrityStore interface {
	CountCondensedWithoutSummary(ctx context.Context) (int64, error)
	CountOrphanedSummaries(ctx context.Context) (int64, error)
	CountStaleUncondensed(ctx context.Context, olderThan time.Time) (int64, error)
	CountInvalidTimestampEvents(ctx context.Context, maxFuture time.Time) (int64, error)
	ResetCondensedWithoutSummary(ctx context.Context) (int64, error)
	DeleteOrphanedSummaries(ctx context.Context) (int64, error)
	DeleteInvalidTimestampEvents(ctx context.Context, maxFuture time.Time) (int64, error)
}

// Store is the full storage-engine surface the maintenance engine runs
// against.
type Store interface {
	EventStore
	EpisodeStore
	SummaryStore
	MetaStore
	IntegrityStore

	Stats(ctx context.Context) (model.Stats, error)
	EventTypeCounts(ctx context.Context, since time.Time) (map[string]int64, error)
	AvgConversationLength(ctx context.Context, since time.Time) (float64, error)
	CleanupOldEvents(ctx context.Context, keepDays int) (int64, error)
	Vacuum(ctx context.Context) error
	Close() error
}

var _ Store = (*sqlite.Database)(nil)
