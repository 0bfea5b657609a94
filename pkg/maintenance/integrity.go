package maintenance

import (
	"context"
	"fmt"

	"github.com/kloros/memoryd/pkg/model"
)

// ValidateDataIntegrity checks the store for the four detectable
// inconsistency classes. Findings are structured results, never errors; an
// error here means the queries themselves failed.
func (e *Engine) ValidateDataIntegrity(ctx context.Context) ([]model.IntegrityIssue, error) {
	now := e.now()
	var issues []model.IntegrityIssue

	n, err := e.store.CountCondensedWithoutSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("condensed-without-summary check: %w", err)
	}
	if n > 0 {
		issues = append(issues, model.IntegrityIssue{
			Type:        model.IssueCondensedWithoutSummary,
			Count:       n,
			Description: "episodes flagged condensed with no stored summary",
		})
	}

	n, err = e.store.CountOrphanedSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("orphaned-summaries check: %w", err)
	}
	if n > 0 {
		issues = append(issues, model.IntegrityIssue{
			Type:        model.IssueOrphanedSummaries,
			Count:       n,
			Description: "summaries whose episode no longer exists",
		})
	}

	n, err = e.store.CountStaleUncondensed(ctx, now.Add(-uncondensedMaxAge))
	if err != nil {
		return nil, fmt.Errorf("stale-uncondensed check: %w", err)
	}
	if n > 0 {
		issues = append(issues, model.IntegrityIssue{
			Type:        model.IssueOldUncondensedEpisodes,
			Count:       n,
			Description: fmt.Sprintf("episodes uncondensed for more than %s", uncondensedMaxAge),
		})
	}

	n, err = e.store.CountInvalidTimestampEvents(ctx, now.Add(futureTolerance))
	if err != nil {
		return nil, fmt.Errorf("invalid-timestamps check: %w", err)
	}
	if n > 0 {
		issues = append(issues, model.IntegrityIssue{
			Type:        model.IssueInvalidTimestamps,
			Count:       n,
			Description: "events stamped before the epoch or in the future",
		})
	}

	return issues, nil
}

// FixReport counts the rows each auto-repair corrected.
type FixReport struct {
	ResetEpisodes    int64 `json:"reset_episodes"`
	DeletedSummaries int64 `json:"deleted_summaries"`
	DeletedEvents    int64 `json:"deleted_events"`
}

// FixIntegrityIssues applies the three auto-repairable corrections: episodes
// incorrectly flagged condensed are reset, orphaned summaries and events
// with invalid timestamps are deleted. Stale-uncondensed findings have no
// repair here; condensation clears them.
func (e *Engine) FixIntegrityIssues(ctx context.Context) (FixReport, error) {
	var rep FixReport
	var err error

	if rep.ResetEpisodes, err = e.store.ResetCondensedWithoutSummary(ctx); err != nil {
		return rep, fmt.Errorf("reset condensed episodes: %w", err)
	}
	if rep.DeletedSummaries, err = e.store.DeleteOrphanedSummaries(ctx); err != nil {
		return rep, fmt.Errorf("delete orphaned summaries: %w", err)
	}
	if rep.DeletedEvents, err = e.store.DeleteInvalidTimestampEvents(ctx, e.now().Add(futureTolerance)); err != nil {
		return rep, fmt.Errorf("delete invalid-timestamp events: %w", err)
	}

	if rep.ResetEpisodes+rep.DeletedSummaries+rep.DeletedEvents > 0 {
		e.logger.Info("integrity repairs applied",
			"reset_episodes", rep.ResetEpisodes,
			"deleted_summaries", rep.DeletedSummaries,
			"deleted_events", rep.DeletedEvents)
	}
	return rep, nil
}
