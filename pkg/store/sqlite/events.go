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

const defaultPageSize = 50

// StoreEvent inserts one immutable event row and returns the assigned id.
// Engine faults (lock timeout, constraint violation, I/O error) propagate to
// the caller; there is no internal retry.
func (d *Database) StoreEvent(ctx context.Context, e model.Event) (int64, error) {
	if e.Content == "" && e.Type == "" {
		return 0, errors.New("event requires a type or content")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var meta any
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(b)
	}

	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO events(timestamp, event_type, content, metadata, conversation_id, confidence, token_count, created_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?);
        `, toUnix(e.Timestamp), string(e.Type), e.Content, meta, e.ConversationID, e.Confidence, e.TokenCount, toUnix(e.CreatedAt))
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

const eventColumns = `id, timestamp, event_type, content, metadata, conversation_id, confidence, token_count, created_at`

// GetEvents returns a one-shot snapshot of events matching the query, newest
// timestamp first.
func (d *Database) GetEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}

	var where []string
	var args []any
	if q.ConversationID != nil {
		where = append(where, "conversation_id = ?")
		args = append(args, *q.ConversationID)
	}
	if q.Type != nil {
		where = append(where, "event_type = ?")
		args = append(args, string(*q.Type))
	}
	if q.StartTime != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, toUnix(*q.StartTime))
	}
	if q.EndTime != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, toUnix(*q.EndTime))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?;`
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEvent fetches one event by id, ErrNotFound when absent.
func (d *Database) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?;`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEventsByType is the convenience filter over GetEvents.
func (d *Database) GetEventsByType(ctx context.Context, t model.EventType, limit int, start, end *time.Time) ([]model.Event, error) {
	return d.GetEvents(ctx, model.EventQuery{
		Limit:     limit,
		Type:      &t,
		StartTime: start,
		EndTime:   end,
	})
}

// ConversationIDs returns the distinct conversation ids with surviving
// events, most recent activity first.
func (d *Database) ConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT conversation_id FROM events
        WHERE conversation_id IS NOT NULL
        GROUP BY conversation_id
        ORDER BY MAX(timestamp) DESC;
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var (
		e       model.Event
		ts      float64
		created float64
		typ     string
		meta    sql.NullString
		conv    sql.NullString
		conf    sql.NullFloat64
		tokens  sql.NullInt64
	)
	if err := r.Scan(&e.ID, &ts, &typ, &e.Content, &meta, &conv, &conf, &tokens, &created); err != nil {
		return model.Event{}, err
	}
	e.Timestamp = fromUnix(ts)
	e.CreatedAt = fromUnix(created)
	e.Type = model.EventType(typ)
	if meta.Valid && meta.String != "" {
		// metadata is opaque; a malformed blob is surfaced as nil rather
		// than failing the read
		_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
	}
	if conv.Valid {
		v := conv.String
		e.ConversationID = &v
	}
	if conf.Valid {
		v := conf.Float64
		e.Confidence = &v
	}
	if tokens.Valid {
		v := int(tokens.Int64)
		e.TokenCount = &v
	}
	return e, nil
}
