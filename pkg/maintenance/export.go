package maintenance

import (
	"context"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// MemorySummary is the export consumed by the external reflection/reporting
// layer: the trailing period's activity with its most important summaries.
type MemorySummary struct {
	Days         int                    `json:"days"`
	GeneratedAt  time.Time              `json:"generated_at"`
	TotalEvents  int64                  `json:"total_events"`
	EventsByType map[string]int64       `json:"events_by_type"`
	TopSummaries []model.EpisodeSummary `json:"top_summaries"`
	TopTopics    []string               `json:"top_topics"`
}

// ExportMemorySummary builds the summary for the trailing number of days.
func (e *Engine) ExportMemorySummary(ctx context.Context, days int) (MemorySummary, error) {
	if days <= 0 {
		days = 7
	}
	since := e.now().Add(-time.Duration(days) * 24 * time.Hour)

	byType, err := e.store.EventTypeCounts(ctx, since)
	if err != nil {
		return MemorySummary{}, err
	}
	var total int64
	for _, n := range byType {
		total += n
	}

	summaries, err := e.store.GetSummaries(ctx, model.SummaryQuery{Limit: 10, CreatedSince: &since})
	if err != nil {
		return MemorySummary{}, err
	}
	topics, err := e.topWeeklyTopics(ctx, since, 10)
	if err != nil {
		return MemorySummary{}, err
	}

	return MemorySummary{
		Days:         days,
		GeneratedAt:  e.now(),
		TotalEvents:  total,
		EventsByType: byType,
		TopSummaries: summaries,
		TopTopics:    topics,
	}, nil
}
