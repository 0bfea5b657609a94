package sqlite

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// Stats returns the base aggregate snapshot.
func (d *Database) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	row := d.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM events),
            (SELECT COUNT(*) FROM episodes),
            (SELECT COUNT(*) FROM episodes WHERE is_condensed = 1),
            (SELECT COUNT(*) FROM episode_summaries),
            (SELECT COUNT(*) FROM events WHERE timestamp >= ?);
    `, toUnix(time.Now().Add(-24*time.Hour)))
	if err := row.Scan(&s.TotalEvents, &s.TotalEpisodes, &s.CondensedEpisodes, &s.TotalSummaries, &s.EventsLast24h); err != nil {
		return model.Stats{}, err
	}
	if fi, err := os.Stat(d.path); err == nil {
		s.DBSizeBytes = fi.Size()
	}
	return s, nil
}

// EventTypeCounts returns a per-type histogram of events since the given
// time.
func (d *Database) EventTypeCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT event_type, COUNT(*) FROM events
        WHERE timestamp >= ?
        GROUP BY event_type;
    `, toUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// AvgConversationLength is the mean number of events per conversation with
// activity since the given time. Zero when there are none.
func (d *Database) AvgConversationLength(ctx context.Context, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := d.db.QueryRowContext(ctx, `
        SELECT AVG(n) FROM (
            SELECT COUNT(*) AS n FROM events
            WHERE timestamp >= ? AND conversation_id IS NOT NULL
            GROUP BY conversation_id
        );
    `, toUnix(since)).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// CleanupOldEvents deletes events older than keepDays and returns how many
// went. Afterwards it prunes uncondensed episodes whose conversation no
// longer has any surviving events; condensed episodes stay, since their
// summaries are the durable artifact.
func (d *Database) CleanupOldEvents(ctx context.Context, keepDays int) (int64, error) {
	cutoff := toUnix(time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour))

	var deleted int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?;`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
            DELETE FROM episodes
            WHERE is_condensed = 0
              AND conversation_id NOT IN (
                  SELECT DISTINCT conversation_id FROM events WHERE conversation_id IS NOT NULL
              );
        `)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
