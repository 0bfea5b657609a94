package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/kloros/memoryd/pkg/model"
	"github.com/kloros/memoryd/pkg/reflection"
)

// Health status bands.
const (
	StatusHealthy        = "healthy"
	StatusNeedsAttention = "needs_attention"
	StatusCritical       = "critical"
)

// Fixed score deductions per detected condition.
const (
	penaltyCondensedWithoutSummary = 15
	penaltyOrphanedSummaries       = 10
	penaltyOldUncondensed          = 10
	penaltyInvalidTimestamps       = 10
	penaltyVacuumOverdue           = 10
	penaltyUncondensedBacklog      = 15
	penaltyOversizedDB             = 10
	penaltyReflectionOversize      = 5
	penaltyReflectionStale         = 5
)

const oversizedDBBytes = 500 * 1024 * 1024

// HealthReport is the derived 0-100 health composite.
type HealthReport struct {
	HealthScore       int                    `json:"health_score"`
	Status            string                 `json:"status"`
	Recommendations   []string               `json:"recommendations"`
	IntegrityIssues   []model.IntegrityIssue `json:"integrity_issues"`
	StatsSummary      model.Stats            `json:"stats_summary"`
	ReflectionSummary reflection.Stats       `json:"reflection_summary"`
}

// GetHealthReport scores the store: start at 100 and deduct a fixed penalty
// per detected issue class, maintenance backlog and oversized persisted
// state. Adding an issue never raises the score.
func (e *Engine) GetHealthReport(ctx context.Context) (HealthReport, error) {
	issues, err := e.ValidateDataIntegrity(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	refStats, err := e.reflog.GetStats()
	if err != nil {
		return HealthReport{}, err
	}

	score := 100
	var recs []string
	deduct := func(points int, rec string) {
		score -= points
		recs = append(recs, rec)
	}

	for _, issue := range issues {
		switch issue.Type {
		case model.IssueCondensedWithoutSummary:
			deduct(penaltyCondensedWithoutSummary, "run FixIntegrityIssues to reset episodes missing summaries")
		case model.IssueOrphanedSummaries:
			deduct(penaltyOrphanedSummaries, "run FixIntegrityIssues to delete orphaned summaries")
		case model.IssueOldUncondensedEpisodes:
			deduct(penaltyOldUncondensed, "run condensation; episodes have been pending for over a week")
		case model.IssueInvalidTimestamps:
			deduct(penaltyInvalidTimestamps, "run FixIntegrityIssues to drop events with invalid timestamps")
		}
	}

	now := e.now()
	lastVacuum := e.lastMetaTime(ctx, metaLastVacuum)
	if lastVacuum == nil || now.Sub(*lastVacuum) > time.Duration(e.opts.AutoVacuumDays)*24*time.Hour {
		deduct(penaltyVacuumOverdue, "database vacuum is overdue")
	}

	if backlog := stats.TotalEpisodes - stats.CondensedEpisodes; backlog > int64(e.opts.MaxUncondensedEpisodes) {
		deduct(penaltyUncondensedBacklog,
			fmt.Sprintf("uncondensed backlog (%d) exceeds threshold (%d)", backlog, e.opts.MaxUncondensedEpisodes))
	}

	if stats.DBSizeBytes > oversizedDBBytes {
		deduct(penaltyOversizedDB, "database exceeds 500 MB; review retention settings")
	}

	if refStats.SizeMB > float64(e.opts.ReflectionLogMaxMB) {
		deduct(penaltyReflectionOversize, "reflection log exceeds its size threshold; rotation is pending")
	}
	staleWindow := 2 * time.Duration(e.opts.ReflectionArchiveDays) * 24 * time.Hour
	if refStats.OldestEntry != nil && now.Sub(*refStats.OldestEntry) > staleWindow {
		deduct(penaltyReflectionStale, "reflection log holds entries past twice the archive window")
	}

	if score < 0 {
		score = 0
	}
	status := StatusCritical
	switch {
	case score >= 90:
		status = StatusHealthy
	case score >= 70:
		status = StatusNeedsAttention
	}

	return HealthReport{
		HealthScore:       score,
		Status:            status,
		Recommendations:   recs,
		IntegrityIssues:   issues,
		StatsSummary:      stats,
		ReflectionSummary: refStats,
	}, nil
}
