// Package sqlite is the durable storage engine: one SQLite file holding
// events, episodes and episode summaries, opened in WAL mode so readers run
// concurrently alongside a single writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row lookup by id matches nothing.
var ErrNotFound = errors.New("sqlite: not found")

// Config controls database initialization.
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Database wraps the pooled sql.DB handle for the memory store.
type Database struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// New opens (creating if needed) the database at cfg.Path and ensures the
// schema. The parent directory is created when missing. Safe to call on
// every process start: all schema statements are create-if-absent.
func New(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	// WAL allows concurrent readers with one writer; _txlock=immediate takes
	// the write lock at BEGIN so writers queue on the 30s busy timeout
	// instead of failing mid-transaction.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	d := &Database{db: db, path: cfg.Path, logger: cfg.Logger}

	if _, err := db.ExecContext(ctx, `PRAGMA cache_size=-16000; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if err := d.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) ensureSchema(ctx context.Context) error {
	// The events table carries embedding/decay_score/sentiment as reserved
	// columns; this engine never reads or writes them.
	//
	// episode_summaries declares its episode reference but the connection
	// does not enable foreign-key enforcement: orphaned summaries are a
	// detectable, repairable integrity issue rather than an insert error.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp REAL NOT NULL,
            event_type TEXT NOT NULL,
            content TEXT NOT NULL,
            metadata JSON,
            conversation_id TEXT,
            confidence REAL,
            token_count INTEGER,
            created_at REAL NOT NULL,
            embedding BLOB,
            decay_score REAL,
            sentiment TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_events_conversation ON events(conversation_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);`,
		`CREATE TABLE IF NOT EXISTS episodes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            start_time REAL NOT NULL,
            end_time REAL NOT NULL,
            conversation_id TEXT NOT NULL,
            event_count INTEGER NOT NULL DEFAULT 0,
            token_count INTEGER NOT NULL DEFAULT 0,
            is_condensed INTEGER NOT NULL DEFAULT 0,
            condensed_at REAL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_conversation ON episodes(conversation_id);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_condensed ON episodes(is_condensed);`,
		`CREATE TABLE IF NOT EXISTS episode_summaries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            episode_id INTEGER NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
            summary_text TEXT NOT NULL,
            key_topics JSON,
            emotional_tone TEXT,
            importance_score REAL NOT NULL DEFAULT 0.5,
            created_at REAL NOT NULL,
            model_used TEXT,
            token_budget_used INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_episode ON episode_summaries(episode_id);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_importance ON episode_summaries(importance_score);`,
		`CREATE TABLE IF NOT EXISTS maintenance_meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at REAL NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside one transaction: commit on success, roll back on any
// error. Every mutating operation goes through here so there is never a
// partial-commit state.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// GetMeta reads a maintenance bookkeeping value; empty string when unset.
func (d *Database) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM maintenance_meta WHERE key = ?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetMeta writes a maintenance bookkeeping value.
func (d *Database) SetMeta(ctx context.Context, key, value string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO maintenance_meta(key, value, updated_at) VALUES(?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;
        `, key, value, toUnix(time.Now()))
		return err
	})
}

// Vacuum reclaims free pages. It blocks other writers for its full duration,
// so callers rate-limit it.
func (d *Database) Vacuum(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `VACUUM;`)
	return err
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// DB exposes the underlying handle.
func (d *Database) DB() *sql.DB { return d.db }

// Close releases the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// toUnix converts a time to REAL seconds since epoch, the on-disk timestamp
// representation.
func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnix(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
