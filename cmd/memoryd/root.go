package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kloros/memoryd/pkg/config"
	"github.com/kloros/memoryd/pkg/engine/condense"
	"github.com/kloros/memoryd/pkg/maintenance"
	"github.com/kloros/memoryd/pkg/reflection"
	"github.com/kloros/memoryd/pkg/store"
	"github.com/kloros/memoryd/pkg/store/sqlite"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	cfg       config.Config
	logger    *slog.Logger
	logClose  func() error
	db        *sqlite.Database
	recorder  *store.Recorder
	reflog    *reflection.Log
	maintEng  *maintenance.Engine
	condenser *condense.Engine
)

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Persistent memory substrate for the KLoROS assistant",
	Long: `memoryd owns the assistant's append-only event log, its episode
condensation records, and the maintenance engine that keeps both healthy.

All subcommands read KLOROS_* environment variables once at startup.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		cfg = config.Load()
		logger, logClose = config.SetupLogger(cfg.LogFile, cfg.LogLevel)

		var err error
		db, err = sqlite.New(cmd.Context(), sqlite.Config{Path: cfg.DBPath, Logger: logger})
		if err != nil {
			return fmt.Errorf("open memory database: %w", err)
		}

		recorder = store.NewRecorder(db, logger)
		reflog = reflection.New(cfg.ReflectionLogPath, cfg.ArchiveDir())
		condenser = condense.New(db, cfg.CondenseGap, logger)
		maintEng = maintenance.New(db, condenser, reflog, maintenance.OptionsFromConfig(cfg), logger).
			WithTelemetry(recorder)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db != nil {
			if err := db.Close(); err != nil {
				return err
			}
		}
		if logClose != nil {
			return logClose()
		}
		return nil
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one daily maintenance cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		res := maintEng.RunDailyMaintenance(cmd.Context())
		return printJSON(res)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print comprehensive store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := maintEng.GetComprehensiveStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the derived health report",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := maintEng.GetHealthReport(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Detect data-integrity issues without fixing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, err := maintEng.ValidateDataIntegrity(cmd.Context())
		if err != nil {
			return err
		}
		if issues == nil {
			fmt.Println("no integrity issues found")
			return nil
		}
		return printJSON(issues)
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Apply the auto-repairable integrity corrections",
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := maintEng.FixIntegrityIssues(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(rep)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [days]",
	Short: "Export a memory summary for the trailing period",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days := 7
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("days must be a number: %w", err)
			}
			days = n
		}
		summary, err := maintEng.ExportMemorySummary(cmd.Context(), days)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the CLI.
func Execute() error {
	rootCmd.AddCommand(serveCmd, maintainCmd, statsCmd, healthCmd, validateCmd, fixCmd, exportCmd)
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}
