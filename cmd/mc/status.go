package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/server"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/tui"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts, settings and unread notifications",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live job monitor",
	Long: `Open a full-screen monitor of active jobs.

Keys: r reload, a toggle finished jobs, q quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		return tui.Run(cmd.Context(), db, nil, cfg.TUI.RefreshRate)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop the scheduler from claiming new jobs",
	Long: `Stop the scheduler from claiming new jobs. Running jobs finish normally.

When signals_dir is configured a pause signal file is written so a
running 'mc serve' picks it up; otherwise the setting is written to the
database directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Let the scheduler claim jobs again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(false)
	},
}

func setPaused(paused bool) error {
	verb, signal := "Resumed", notify.SignalResume
	if paused {
		verb, signal = "Paused", notify.SignalPause
	}
	if cfg.SignalsDir != "" {
		if err := notify.Send(cfg.SignalsDir, signal); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("%s (signal written to %s)", verb, cfg.SignalsDir), color.FgGreen)
		return nil
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SetPaused(paused); err != nil {
		return err
	}
	printStatus("✓", verb, color.FgGreen)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := db.Snapshot()
	if err != nil {
		return err
	}
	bold := color.New(color.Bold)
	bold.Println("Mission Control")
	fmt.Printf("  Database:    %s\n", db.Path())
	if snap.PauseAll {
		fmt.Printf("  Scheduler:   %s\n", color.YellowString("PAUSED"))
	} else {
		fmt.Printf("  Scheduler:   %s\n", color.GreenString("active"))
	}
	fmt.Printf("  Concurrency: %d max, %d per tick (settings v%d)\n\n", snap.MaxConcurrency, snap.ParallelJobs, snap.Version)

	bold.Println("Jobs")
	for _, st := range []models.JobStatus{
		models.JobStatusQueued, models.JobStatusRunning, models.JobStatusReviewing,
		models.JobStatusPausedHuman, models.JobStatusFailed, models.JobStatusRejected, models.JobStatusDone,
	} {
		n, err := db.CountByStatus(st)
		if err != nil {
			return err
		}
		fmt.Printf("  %-13s %s\n", st, statusColor(st).Sprint(n))
	}

	stalled, err := state.NewRecoveryManager(db, cfg.Scheduler.StallAfter).CheckStalled()
	if err != nil {
		return err
	}
	if len(stalled) > 0 {
		fmt.Println()
		printStatus("!", fmt.Sprintf("%d jobs running past %s; see 'mc jobs --stalled'", len(stalled), cfg.Scheduler.StallAfter), color.FgYellow)
	}

	unread, err := db.ListNotifications(true)
	if err != nil {
		return err
	}
	if len(unread) > 0 {
		fmt.Println()
		bold.Printf("Notifications (%d unread)\n", len(unread))
		for i, n := range unread {
			if i == 5 {
				fmt.Printf("  ... and %d more\n", len(unread)-5)
				break
			}
			fmt.Printf("  [%s] %s\n", n.Kind, n.Title)
		}
	}

	summary, err := server.QuickAnswer(db)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", summary)
	return nil
}
