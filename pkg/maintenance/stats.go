package maintenance

import (
	"context"
	"sort"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// MaintenanceStatus is the bookkeeping snapshot inside comprehensive stats.
type MaintenanceStatus struct {
	LastVacuum       *time.Time `json:"last_vacuum,omitempty"`
	LastCleanup      *time.Time `json:"last_cleanup,omitempty"`
	LastCondensation *time.Time `json:"last_condensation,omitempty"`
}

// ComprehensiveStats extends the base store stats with derived weekly
// aggregates and the maintenance snapshot.
type ComprehensiveStats struct {
	model.Stats
	EventTypes24h             map[string]int64  `json:"event_types_24h"`
	AvgConversationLengthWeek float64           `json:"avg_conversation_length_week"`
	TopWeeklyTopics           []string          `json:"top_weekly_topics"`
	SummarizationRatio        float64           `json:"summarization_ratio"`
	Maintenance               MaintenanceStatus `json:"maintenance"`
}

// GetComprehensiveStats assembles the extended snapshot the reporting layer
// consumes.
func (e *Engine) GetComprehensiveStats(ctx context.Context) (ComprehensiveStats, error) {
	base, err := e.store.Stats(ctx)
	if err != nil {
		return ComprehensiveStats{}, err
	}
	now := e.now()
	weekAgo := now.Add(-7 * 24 * time.Hour)

	byType, err := e.store.EventTypeCounts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return ComprehensiveStats{}, err
	}
	avgLen, err := e.store.AvgConversationLength(ctx, weekAgo)
	if err != nil {
		return ComprehensiveStats{}, err
	}
	topics, err := e.topWeeklyTopics(ctx, weekAgo, 10)
	if err != nil {
		return ComprehensiveStats{}, err
	}

	ratio := 0.0
	if base.TotalEvents > 0 {
		ratio = float64(base.TotalSummaries) / float64(base.TotalEvents)
	}

	return ComprehensiveStats{
		Stats:                     base,
		EventTypes24h:             byType,
		AvgConversationLengthWeek: avgLen,
		TopWeeklyTopics:           topics,
		SummarizationRatio:        ratio,
		Maintenance: MaintenanceStatus{
			LastVacuum:       e.lastMetaTime(ctx, metaLastVacuum),
			LastCleanup:      e.lastMetaTime(ctx, metaLastCleanup),
			LastCondensation: e.lastMetaTime(ctx, metaLastCondensation),
		},
	}, nil
}

// topWeeklyTopics aggregates key_topics across the week's summaries.
func (e *Engine) topWeeklyTopics(ctx context.Context, since time.Time, max int) ([]string, error) {
	summaries, err := e.store.GetSummaries(ctx, model.SummaryQuery{Limit: 200, CreatedSince: &since})
	if err != nil {
		return nil, err
	}

	freq := map[string]int{}
	for _, s := range summaries {
		for _, t := range s.KeyTopics {
			freq[t]++
		}
	}

	type tc struct {
		topic string
		n     int
	}
	ranked := make([]tc, 0, len(freq))
	for t, n := range freq {
		ranked = append(ranked, tc{t, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].topic < ranked[j].topic
	})

	topics := make([]string, 0, max)
	for _, r := range ranked {
		if len(topics) == max {
			break
		}
		topics = append(topics, r.topic)
	}
	return topics, nil
}
