// Package config collects all environment-sourced configuration into one
// value, read once at startup and passed into the components by reference.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized option. Values come from KLOROS_* environment
// variables with the documented defaults.
type Config struct {
	// Storage
	DBPath string

	// HTTP surface
	ListenAddr string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Maintenance
	RetentionDays          int
	AutoVacuumDays         int
	MaxUncondensedEpisodes int

	// Reflection log
	ReflectionLogPath       string
	ReflectionLogMaxMB      int
	ReflectionRetentionDays int
	ReflectionArchiveDays   int

	// Condensation
	CondenseGap time.Duration

	// Aged-file retention roots. Empty or missing directories are skipped.
	CacheDir   string
	BackupDir  string
	AudioDir   string
	ScriptsDir string
}

// Load reads configuration from the environment.
func Load() Config {
	home := stateDir()
	return Config{
		DBPath:     getenv("KLOROS_DB_PATH", filepath.Join(home, "memory.db")),
		ListenAddr: getenv("KLOROS_LISTEN_ADDR", ":8486"),

		LogFile:  getenv("KLOROS_LOG_FILE", filepath.Join(home, "memoryd.log")),
		LogLevel: parseLogLevel(getenv("KLOROS_LOG_LEVEL", "INFO")),

		RetentionDays:          getenvInt("KLOROS_RETENTION_DAYS", 30),
		AutoVacuumDays:         getenvInt("KLOROS_AUTO_VACUUM_DAYS", 7),
		MaxUncondensedEpisodes: getenvInt("KLOROS_MAX_UNCONDENSED_EPISODES", 100),

		ReflectionLogPath:       getenv("KLOROS_REFLECTION_LOG", filepath.Join(home, "reflection.log")),
		ReflectionLogMaxMB:      getenvInt("KLOROS_REFLECTION_LOG_MAX_MB", 50),
		ReflectionRetentionDays: getenvInt("KLOROS_REFLECTION_RETENTION_DAYS", 60),
		ReflectionArchiveDays:   getenvInt("KLOROS_REFLECTION_ARCHIVE_DAYS", 30),

		CondenseGap: getenvDuration("KLOROS_CONDENSE_GAP", 30*time.Minute),

		CacheDir:   getenv("KLOROS_CACHE_DIR", filepath.Join(home, "cache")),
		BackupDir:  getenv("KLOROS_BACKUP_DIR", filepath.Join(home, "backups")),
		AudioDir:   getenv("KLOROS_AUDIO_DIR", filepath.Join(home, "audio")),
		ScriptsDir: getenv("KLOROS_SCRIPTS_DIR", filepath.Join(home, "scripts")),
	}
}

// ArchiveDir is the reflection archive directory, always beside the
// reflection log.
func (c Config) ArchiveDir() string {
	return filepath.Join(filepath.Dir(c.ReflectionLogPath), "archives")
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kloros")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
