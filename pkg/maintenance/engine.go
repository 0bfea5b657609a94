// Package maintenance keeps the memory store healthy: it runs a fixed,
// ordered list of independent best-effort subtasks (retention, condensation,
// compaction, stats, integrity, log rotation/archival, file cleanup) where
// one subtask's failure never aborts the rest.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kloros/memoryd/pkg/config"
	"github.com/kloros/memoryd/pkg/model"
	"github.com/kloros/memoryd/pkg/reflection"
	"github.com/kloros/memoryd/pkg/store"
)

// maintenance_meta bookkeeping keys.
const (
	metaLastVacuum       = "last_vacuum"
	metaLastCleanup      = "last_cleanup"
	metaLastCondensation = "last_condensation"
)

// uncondensedMaxAge is how long an episode may sit uncondensed before it
// counts as an integrity finding.
const uncondensedMaxAge = 7 * 24 * time.Hour

// futureTolerance is the clock-skew allowance before an event timestamp is
// considered invalid.
const futureTolerance = 24 * time.Hour

// Options is the engine configuration, read once at construction.
type Options struct {
	RetentionDays           int
	AutoVacuumDays          int
	MaxUncondensedEpisodes  int
	ReflectionLogMaxMB      int
	ReflectionRetentionDays int
	ReflectionArchiveDays   int

	CacheDir   string
	BackupDir  string
	AudioDir   string
	ScriptsDir string
}

// OptionsFromConfig maps the process configuration onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		RetentionDays:           cfg.RetentionDays,
		AutoVacuumDays:          cfg.AutoVacuumDays,
		MaxUncondensedEpisodes:  cfg.MaxUncondensedEpisodes,
		ReflectionLogMaxMB:      cfg.ReflectionLogMaxMB,
		ReflectionRetentionDays: cfg.ReflectionRetentionDays,
		ReflectionArchiveDays:   cfg.ReflectionArchiveDays,
		CacheDir:                cfg.CacheDir,
		BackupDir:               cfg.BackupDir,
		AudioDir:                cfg.AudioDir,
		ScriptsDir:              cfg.ScriptsDir,
	}
}

func (o Options) withDefaults() Options {
	if o.RetentionDays <= 0 {
		o.RetentionDays = 30
	}
	if o.AutoVacuumDays <= 0 {
		o.AutoVacuumDays = 7
	}
	if o.MaxUncondensedEpisodes <= 0 {
		o.MaxUncondensedEpisodes = 100
	}
	if o.ReflectionLogMaxMB <= 0 {
		o.ReflectionLogMaxMB = 50
	}
	if o.ReflectionRetentionDays <= 0 {
		o.ReflectionRetentionDays = 60
	}
	if o.ReflectionArchiveDays <= 0 {
		o.ReflectionArchiveDays = 30
	}
	return o
}

// Engine orchestrates maintenance against one storage engine. It spawns no
// background work; the external scheduler calls RunDailyMaintenance and must
// serialize invocations itself.
type Engine struct {
	store     store.Store
	condenser model.Condenser
	reflog    *reflection.Log
	telemetry model.EventLogger
	exporter  model.VectorExporter
	rebuilder model.KnowledgeRebuilder
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a maintenance engine. condenser and reflog are required;
// telemetry, exporter and rebuilder are optional collaborators.
func New(s store.Store, condenser model.Condenser, reflog *reflection.Log, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     s,
		condenser: condenser,
		reflog:    reflog,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithTelemetry installs the event-logger collaborator.
func (e *Engine) WithTelemetry(t model.EventLogger) *Engine {
	e.telemetry = t
	return e
}

// WithExporter installs the vector-index export collaborator.
func (e *Engine) WithExporter(x model.VectorExporter) *Engine {
	e.exporter = x
	return e
}

// WithRebuilder installs the knowledge-base rebuild collaborator.
func (e *Engine) WithRebuilder(r model.KnowledgeRebuilder) *Engine {
	e.rebuilder = r
	return e
}

// Result is the aggregate outcome of one maintenance run.
type Result struct {
	RunID             string                         `json:"run_id"`
	Timestamp         time.Time                      `json:"timestamp"`
	TasksCompleted    []string                       `json:"tasks_completed"`
	Errors            []string                       `json:"errors"`
	DeletedEvents     int64                          `json:"deleted_events"`
	CondensedEpisodes int                            `json:"condensed_episodes"`
	Vacuumed          bool                           `json:"vacuumed"`
	Stats             *ComprehensiveStats            `json:"stats,omitempty"`
	IntegrityIssues   []model.IntegrityIssue         `json:"integrity_issues"`
	Rotation          reflection.RotationResult      `json:"rotation"`
	Archival          reflection.ArchiveResult       `json:"archival"`
	FileCleanups      map[string]model.CleanupReport `json:"file_cleanups"`
}

// RunDailyMaintenance executes the fixed subtask list in order. Each
// subtask's failure is recorded and the loop continues; a fault escaping the
// orchestration itself is caught once and folded into the returned result,
// never raised to the scheduler.
func (e *Engine) RunDailyMaintenance(ctx context.Context) (res Result) {
	res = Result{
		RunID:        uuid.NewString(),
		Timestamp:    e.now(),
		FileCleanups: map[string]model.CleanupReport{},
	}
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("fatal: %v", r))
			e.logger.Error("maintenance run aborted", "run_id", res.RunID, "panic", r)
		}
	}()

	e.logger.Info("daily maintenance starting", "run_id", res.RunID)

	subtasks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"cleanup_old_events", func(ctx context.Context) error {
			n, err := e.store.CleanupOldEvents(ctx, e.opts.RetentionDays)
			if err != nil {
				return err
			}
			res.DeletedEvents = n
			return e.store.SetMeta(ctx, metaLastCleanup, e.now().Format(time.RFC3339))
		}},
		{"condense_pending_episodes", func(ctx context.Context) error {
			n, err := e.condenser.ProcessUncondensedEpisodes(ctx, e.opts.MaxUncondensedEpisodes)
			if err != nil {
				return err
			}
			res.CondensedEpisodes = n
			return e.store.SetMeta(ctx, metaLastCondensation, e.now().Format(time.RFC3339))
		}},
		{"vacuum_database", func(ctx context.Context) error {
			vacuumed, err := e.maybeVacuum(ctx)
			res.Vacuumed = vacuumed
			return err
		}},
		{"comprehensive_stats", func(ctx context.Context) error {
			stats, err := e.GetComprehensiveStats(ctx)
			if err != nil {
				return err
			}
			res.Stats = &stats
			return nil
		}},
		{"validate_integrity", func(ctx context.Context) error {
			issues, err := e.ValidateDataIntegrity(ctx)
			if err != nil {
				return err
			}
			res.IntegrityIssues = issues
			return nil
		}},
		{"rotate_reflection_log", func(context.Context) error {
			rot, err := e.reflog.Rotate(e.opts.ReflectionLogMaxMB)
			if err != nil {
				return err
			}
			res.Rotation = rot
			return nil
		}},
		{"archive_reflection_log", func(context.Context) error {
			arch, err := e.reflog.Archive(time.Duration(e.opts.ReflectionArchiveDays) * 24 * time.Hour)
			if err != nil {
				return err
			}
			res.Archival = arch
			return nil
		}},
		{"cleanup_aged_files", func(context.Context) error {
			for _, p := range e.filePolicies() {
				res.FileCleanups[p.Name] = CleanupAgedFiles(p, e.now())
			}
			return nil
		}},
		{"export_vector_index", func(ctx context.Context) error {
			if e.exporter == nil {
				return nil
			}
			return e.exporter.ExportVectorIndex(ctx)
		}},
		{"rebuild_knowledge_base", func(ctx context.Context) error {
			if e.rebuilder == nil {
				return nil
			}
			return e.rebuilder.RebuildKnowledgeBase(ctx)
		}},
	}

	for _, task := range subtasks {
		if err := runSubtask(ctx, task.run); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", task.name, err))
			e.logger.Error("maintenance subtask failed", "run_id", res.RunID, "task", task.name, "err", err)
			continue
		}
		res.TasksCompleted = append(res.TasksCompleted, task.name)
	}

	if e.telemetry != nil {
		_ = e.telemetry.LogEvent(ctx, model.EventMemoryHousekeeping, "daily maintenance completed", map[string]any{
			"run_id":             res.RunID,
			"tasks_completed":    len(res.TasksCompleted),
			"errors":             len(res.Errors),
			"deleted_events":     res.DeletedEvents,
			"condensed_episodes": res.CondensedEpisodes,
		})
	}

	e.logger.Info("daily maintenance finished",
		"run_id", res.RunID, "completed", len(res.TasksCompleted), "errors", len(res.Errors))
	return res
}

// runSubtask isolates one subtask: a panic inside it becomes an error at its
// boundary instead of taking the run down.
func runSubtask(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// maybeVacuum compacts the database at most once per AutoVacuumDays, keyed
// off the persisted last-vacuum timestamp.
func (e *Engine) maybeVacuum(ctx context.Context) (bool, error) {
	last, err := e.store.GetMeta(ctx, metaLastVacuum)
	if err != nil {
		return false, err
	}
	if last != "" {
		t, err := time.Parse(time.RFC3339, last)
		if err == nil && e.now().Sub(t) < time.Duration(e.opts.AutoVacuumDays)*24*time.Hour {
			return false, nil
		}
	}
	if err := e.store.Vacuum(ctx); err != nil {
		return false, err
	}
	return true, e.store.SetMeta(ctx, metaLastVacuum, e.now().Format(time.RFC3339))
}

// GetReflectionLogStats exposes the reflection-log state to the reporting
// layer.
func (e *Engine) GetReflectionLogStats() (reflection.Stats, error) {
	return e.reflog.GetStats()
}

// lastMetaTime reads an RFC3339 bookkeeping value; nil when unset.
func (e *Engine) lastMetaTime(ctx context.Context, key string) *time.Time {
	v, err := e.store.GetMeta(ctx, key)
	if err != nil || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
