package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// StoreEpisode inserts an episode row and returns the assigned id.
func (d *Database) StoreEpisode(ctx context.Context, ep model.Episode) (int64, error) {
	if ep.ConversationID == "" {
		return 0, errors.New("episode requires a conversation id")
	}
	if ep.EndTime.Before(ep.StartTime) {
		return 0, fmt.Errorf("episode end %v before start %v", ep.EndTime, ep.StartTime)
	}

	// condensed_at is non-null iff is_condensed
	if ep.IsCondensed && ep.CondensedAt == nil {
		now := time.Now()
		ep.CondensedAt = &now
	}
	if !ep.IsCondensed {
		ep.CondensedAt = nil
	}

	var condensedAt any
	if ep.CondensedAt != nil {
		condensedAt = toUnix(*ep.CondensedAt)
	}

	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO episodes(start_time, end_time, conversation_id, event_count, token_count, is_condensed, condensed_at)
            VALUES(?, ?, ?, ?, ?, ?, ?);
        `, toUnix(ep.StartTime), toUnix(ep.EndTime), ep.ConversationID, ep.EventCount, ep.TokenCount, ep.IsCondensed, condensedAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const episodeColumns = `id, start_time, end_time, conversation_id, event_count, token_count, is_condensed, condensed_at`

// GetEpisodes lists episodes matching the query, most recent first.
func (d *Database) GetEpisodes(ctx context.Context, q model.EpisodeQuery) ([]model.Episode, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}

	var where []string
	var args []any
	if q.ConversationID != nil {
		where = append(where, "conversation_id = ?")
		args = append(args, *q.ConversationID)
	}
	if q.IsCondensed != nil {
		where = append(where, "is_condensed = ?")
		args = append(args, *q.IsCondensed)
	}

	query := `SELECT ` + episodeColumns + ` FROM episodes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time DESC LIMIT ? OFFSET ?;`
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetEpisode fetches one episode by id, ErrNotFound when absent.
func (d *Database) GetEpisode(ctx context.Context, id int64) (*model.Episode, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?;`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// MarkEpisodeCondensed transitions an episode to condensed, stamping
// condensed_at. The transition happens at most once; a second call is a
// no-op on an already-condensed row.
func (d *Database) MarkEpisodeCondensed(ctx context.Context, id int64) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE episodes SET is_condensed = 1, condensed_at = ?
            WHERE id = ? AND is_condensed = 0;
        `, toUnix(time.Now()), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM episodes WHERE id = ?);`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
		}
		return nil
	})
}

func scanEpisode(r rowScanner) (model.Episode, error) {
	var (
		ep          model.Episode
		start, end  float64
		condensedAt sql.NullFloat64
	)
	if err := r.Scan(&ep.ID, &start, &end, &ep.ConversationID, &ep.EventCount, &ep.TokenCount, &ep.IsCondensed, &condensedAt); err != nil {
		return model.Episode{}, err
	}
	ep.StartTime = fromUnix(start)
	ep.EndTime = fromUnix(end)
	if condensedAt.Valid {
		t := fromUnix(condensedAt.Float64)
		ep.CondensedAt = &t
	}
	return ep, nil
}

// StoreSummary inserts a summary row and returns the assigned id.
func (d *Database) StoreSummary(ctx context.Context, s model.EpisodeSummary) (int64, error) {
	if s.SummaryText == "" {
		return 0, errors.New("summary requires text")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.ImportanceScore == 0 {
		s.ImportanceScore = 0.5
	}

	topics, err := json.Marshal(s.KeyTopics)
	if err != nil {
		return 0, fmt.Errorf("marshal key topics: %w", err)
	}

	var id int64
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO episode_summaries(episode_id, summary_text, key_topics, emotional_tone, importance_score, created_at, model_used, token_budget_used)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?);
        `, s.EpisodeID, s.SummaryText, string(topics), s.EmotionalTone, s.ImportanceScore, toUnix(s.CreatedAt), s.ModelUsed, s.TokenBudgetUsed)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetSummaries lists summaries by importance descending, then recency
// descending.
func (d *Database) GetSummaries(ctx context.Context, q model.SummaryQuery) ([]model.EpisodeSummary, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}

	where := []string{"importance_score >= ?"}
	args := []any{q.MinImportance}
	if q.EpisodeID != nil {
		where = append(where, "episode_id = ?")
		args = append(args, *q.EpisodeID)
	}
	if q.CreatedSince != nil {
		where = append(where, "created_at >= ?")
		args = append(args, toUnix(*q.CreatedSince))
	}

	query := `
        SELECT id, episode_id, summary_text, key_topics, emotional_tone, importance_score, created_at, model_used, token_budget_used
        FROM episode_summaries
        WHERE ` + strings.Join(where, " AND ") + `
        ORDER BY importance_score DESC, created_at DESC
        LIMIT ? OFFSET ?;`
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EpisodeSummary
	for rows.Next() {
		var (
			s       model.EpisodeSummary
			topics  sql.NullString
			tone    sql.NullString
			model_  sql.NullString
			created float64
		)
		if err := rows.Scan(&s.ID, &s.EpisodeID, &s.SummaryText, &topics, &tone, &s.ImportanceScore, &created, &model_, &s.TokenBudgetUsed); err != nil {
			return nil, err
		}
		s.CreatedAt = fromUnix(created)
		if topics.Valid && topics.String != "" {
			_ = json.Unmarshal([]byte(topics.String), &s.KeyTopics)
		}
		if tone.Valid {
			v := tone.String
			s.EmotionalTone = &v
		}
		if model_.Valid {
			s.ModelUsed = model_.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
