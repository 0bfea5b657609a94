package config_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloros/memoryd/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 7, cfg.AutoVacuumDays)
	assert.Equal(t, 100, cfg.MaxUncondensedEpisodes)
	assert.Equal(t, 50, cfg.ReflectionLogMaxMB)
	assert.Equal(t, 60, cfg.ReflectionRetentionDays)
	assert.Equal(t, 30, cfg.ReflectionArchiveDays)
	assert.Equal(t, 30*time.Minute, cfg.CondenseGap)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Contains(t, cfg.DBPath, ".kloros")
	assert.Contains(t, cfg.ReflectionLogPath, "reflection.log")
	assert.Contains(t, cfg.ArchiveDir(), "archives")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KLOROS_DB_PATH", "/tmp/test-memory.db")
	t.Setenv("KLOROS_RETENTION_DAYS", "10")
	t.Setenv("KLOROS_AUTO_VACUUM_DAYS", "3")
	t.Setenv("KLOROS_MAX_UNCONDENSED_EPISODES", "25")
	t.Setenv("KLOROS_REFLECTION_LOG", "/tmp/refl/reflection.log")
	t.Setenv("KLOROS_REFLECTION_LOG_MAX_MB", "5")
	t.Setenv("KLOROS_CONDENSE_GAP", "15m")
	t.Setenv("KLOROS_LOG_LEVEL", "debug")

	cfg := config.Load()
	assert.Equal(t, "/tmp/test-memory.db", cfg.DBPath)
	assert.Equal(t, 10, cfg.RetentionDays)
	assert.Equal(t, 3, cfg.AutoVacuumDays)
	assert.Equal(t, 25, cfg.MaxUncondensedEpisodes)
	assert.Equal(t, "/tmp/refl/reflection.log", cfg.ReflectionLogPath)
	assert.Equal(t, "/tmp/refl/archives", cfg.ArchiveDir())
	assert.Equal(t, 5, cfg.ReflectionLogMaxMB)
	assert.Equal(t, 15*time.Minute, cfg.CondenseGap)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("KLOROS_RETENTION_DAYS", "not-a-number")
	t.Setenv("KLOROS_CONDENSE_GAP", "soon")

	cfg := config.Load()
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 30*time.Minute, cfg.CondenseGap)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := config.SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("maintenance cycle complete", "tasks", 10)

	require.Contains(t, stderr.String(), "maintenance cycle complete")
	require.Contains(t, file.String(), `"maintenance cycle complete"`)
	assert.Contains(t, file.String(), `"tasks":10`)
}
