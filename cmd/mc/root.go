package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	mclog "github.com/ShayCichocki/missioncontrol/pkg/log"
)

var (
	configPath string
	logLevel   string
	dbPath     string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mc",
	Short: "Mission Control: job orchestration for an AI agent workforce",
	Long: `Mission Control queues work for named agents, runs it through external
engines, routes results through decomposition and QA review, and opens
challenge boards for decisions that need a human.

Run 'mc serve' to start the scheduler loop and HTTP API, or use the
subcommands below to inspect and steer the queue directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromPath(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.Path = dbPath
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		lvl, err := mclog.ParseLevel(level)
		if err != nil {
			return err
		}
		mclog.InitLog(lvl)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .mc.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides store.path)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(versionCmd)
}

// openStore opens and migrates the configured database.
func openStore() (*state.DB, error) {
	db, err := state.OpenWithDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// newScheduler wires a scheduler over db. bus may be nil; nil engines
// are built from the config.
func newScheduler(db *state.DB, bus *notify.Bus, engines *engine.Set) (*orchestrator.Scheduler, *notify.Emitter) {
	if engines == nil {
		engines = engine.NewSet(cfg)
	}
	emitter := notify.NewEmitter(db, bus)
	sched := orchestrator.New(orchestrator.Options{
		Store:        db,
		Engines:      engines,
		Emitter:      emitter,
		QAAgent:      cfg.QA.Agent,
		QAEngine:     cfg.QA.Engine,
		MasterIntent: cfg.MasterIntent,
	})
	return sched, emitter
}
