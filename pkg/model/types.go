package model

import (
	"context"
	"time"
)

// EventType enumerates the kinds of interaction records the assistant writes.
type EventType string

const (
	EventUserInput          EventType = "user_input"
	EventLLMResponse        EventType = "llm_response"
	EventTTSOutput          EventType = "tts_output"
	EventWakeDetected       EventType = "wake_detected"
	EventMemoryHousekeeping EventType = "memory_housekeeping"
	EventErrorOccurred      EventType = "error_occurred"
	EventSelfReflection     EventType = "self_reflection"
	EventToolInvocation     EventType = "tool_invocation"
	EventSystemStartup      EventType = "system_startup"
)

// Event is a single immutable interaction record. Rows are never updated
// after insertion; only retention cleanup deletes them.
type Event struct {
	ID             int64          `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"event_type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ConversationID *string        `json:"conversation_id,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	TokenCount     *int           `json:"token_count,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Episode is a time-bounded, conversation-scoped group of events. It
// transitions uncondensed -> condensed exactly once, when a summary has been
// durably stored for it.
type Episode struct {
	ID             int64      `json:"id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	ConversationID string     `json:"conversation_id"`
	EventCount     int        `json:"event_count"`
	TokenCount     int        `json:"token_count"`
	IsCondensed    bool       `json:"is_condensed"`
	CondensedAt    *time.Time `json:"condensed_at,omitempty"`
}

// EpisodeSummary is the condensed natural-language artifact for one episode.
type EpisodeSummary struct {
	ID              int64     `json:"id"`
	EpisodeID       int64     `json:"episode_id"`
	SummaryText     string    `json:"summary_text"`
	KeyTopics       []string  `json:"key_topics"`
	EmotionalTone   *string   `json:"emotional_tone,omitempty"`
	ImportanceScore float64   `json:"importance_score"`
	CreatedAt       time.Time `json:"created_at"`
	ModelUsed       string    `json:"model_used"`
	TokenBudgetUsed int       `json:"token_budget_used"`
}

// EventQuery filters GetEvents. A zero Limit falls back to a default page
// size; results are always newest-timestamp-first.
type EventQuery struct {
	Limit          int
	Offset         int
	ConversationID *string
	Type           *EventType
	StartTime      *time.Time
	EndTime        *time.Time
}

// EpisodeQuery filters GetEpisodes.
type EpisodeQuery struct {
	Limit          int
	Offset         int
	ConversationID *string
	IsCondensed    *bool
}

// SummaryQuery filters GetSummaries. Results are ordered by importance
// descending, then recency descending.
type SummaryQuery struct {
	Limit         int
	Offset        int
	EpisodeID     *int64
	MinImportance float64
	CreatedSince  *time.Time
}

// Stats is the base aggregate snapshot of the store.
type Stats struct {
	TotalEvents       int64 `json:"total_events"`
	TotalEpisodes     int64 `json:"total_episodes"`
	CondensedEpisodes int64 `json:"condensed_episodes"`
	TotalSummaries    int64 `json:"total_summaries"`
	EventsLast24h     int64 `json:"events_last_24h"`
	DBSizeBytes       int64 `json:"db_size_bytes"`
}

// IntegrityIssue is a detected, non-fatal data inconsistency. It is reported
// as a structured finding, never raised as an error.
type IntegrityIssue struct {
	Type        string `json:"type"`
	Count       int64  `json:"count"`
	Description string `json:"description"`
}

// Integrity issue type identifiers.
const (
	IssueCondensedWithoutSummary = "condensed_without_summary"
	IssueOrphanedSummaries       = "orphaned_summaries"
	IssueOldUncondensedEpisodes  = "old_uncondensed_episodes"
	IssueInvalidTimestamps       = "invalid_timestamps"
)

// CleanupReport is the shared result shape of the aged-file retention
// subtasks.
type CleanupReport struct {
	Scanned           int      `json:"scanned"`
	DeletedOrArchived int      `json:"deleted_or_archived"`
	BytesFreed        int64    `json:"bytes_freed"`
	Errors            []string `json:"errors,omitempty"`
}

// Condenser groups raw events into episodes and condenses pending episodes
// into summaries. Implementations call back into the store.
type Condenser interface {
	GroupEventsIntoEpisodes(ctx context.Context, conversationID string) ([]Episode, error)
	ProcessUncondensedEpisodes(ctx context.Context, maxN int) (int, error)
}

// EventLogger records operational telemetry as regular events. The
// maintenance engine uses it to write housekeeping rows into the same store
// it maintains.
type EventLogger interface {
	LogEvent(ctx context.Context, eventType EventType, content string, metadata map[string]any) error
}

// VectorExporter pushes stored memories to an external semantic index. Its
// internals are out of scope for this module.
type VectorExporter interface {
	ExportVectorIndex(ctx context.Context) error
}

// KnowledgeRebuilder regenerates an external derived knowledge base.
type KnowledgeRebuilder interface {
	RebuildKnowledgeBase(ctx context.Context) error
}
