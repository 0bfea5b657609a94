package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// Integrity queries. Each detects one class of structural inconsistency
// between related rows; none of them mutates anything.

// CountCondensedWithoutSummary counts episodes flagged condensed that have
// no summary row.
func (d *Database) CountCondensedWithoutSummary(ctx context.Context) (int64, error) {
	return d.countQuery(ctx, `
        SELECT COUNT(*) FROM episodes e
        WHERE e.is_condensed = 1
          AND NOT EXISTS (SELECT 1 FROM episode_summaries s WHERE s.episode_id = e.id);
    `)
}

// CountOrphanedSummaries counts summaries whose episode no longer exists.
func (d *Database) CountOrphanedSummaries(ctx context.Context) (int64, error) {
	return d.countQuery(ctx, `
        SELECT COUNT(*) FROM episode_summaries s
        WHERE NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = s.episode_id);
    `)
}

// CountStaleUncondensed counts episodes still uncondensed past the given
// cutoff (judged by their end time).
func (d *Database) CountStaleUncondensed(ctx context.Context, olderThan time.Time) (int64, error) {
	return d.countQuery(ctx, `
        SELECT COUNT(*) FROM episodes WHERE is_condensed = 0 AND end_time < ?;
    `, toUnix(olderThan))
}

// CountInvalidTimestampEvents counts events stamped before the epoch or past
// the future tolerance.
func (d *Database) CountInvalidTimestampEvents(ctx context.Context, maxFuture time.Time) (int64, error) {
	return d.countQuery(ctx, `
        SELECT COUNT(*) FROM events WHERE timestamp <= 0 OR timestamp > ?;
    `, toUnix(maxFuture))
}

// Auto-repairs. Each returns how many rows it corrected.

// ResetCondensedWithoutSummary clears the condensed flag on episodes that
// lack a summary, putting them back in the condensation queue.
func (d *Database) ResetCondensedWithoutSummary(ctx context.Context) (int64, error) {
	return d.execCount(ctx, `
        UPDATE episodes SET is_condensed = 0, condensed_at = NULL
        WHERE is_condensed = 1
          AND NOT EXISTS (SELECT 1 FROM episode_summaries s WHERE s.episode_id = episodes.id);
    `)
}

// DeleteOrphanedSummaries removes summaries pointing at missing episodes.
func (d *Database) DeleteOrphanedSummaries(ctx context.Context) (int64, error) {
	return d.execCount(ctx, `
        DELETE FROM episode_summaries
        WHERE NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = episode_summaries.episode_id);
    `)
}

// DeleteInvalidTimestampEvents removes events with out-of-range timestamps.
func (d *Database) DeleteInvalidTimestampEvents(ctx context.Context, maxFuture time.Time) (int64, error) {
	return d.execCount(ctx, `
        DELETE FROM events WHERE timestamp <= 0 OR timestamp > ?;
    `, toUnix(maxFuture))
}

func (d *Database) countQuery(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Database) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
