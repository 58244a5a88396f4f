package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/router"
	"github.com/ShayCichocki/missioncontrol/internal/server"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

var (
	serveAddr     string
	serveNoLoop   bool
	serveNoServer bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and HTTP API",
	Long: `Run the scheduler loop, the signal-file watcher and the HTTP API until
interrupted.

The loop ticks every scheduler.interval with jitter. When the health probe
fails the interval doubles up to scheduler.max_interval and resets on the
next healthy probe. Touch <signals_dir>/pause to pause the scheduler and
<signals_dir>/resume to resume it.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoLoop, "no-loop", false, "Serve the API without running the scheduler loop")
	serveCmd.Flags().BoolVar(&serveNoServer, "no-server", false, "Run the scheduler loop without the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := zap.S().Named("serve")
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	bus := notify.NewBus(256)
	engines := engine.NewSet(cfg)
	sched, emitter := newScheduler(db, bus, engines)

	g, gctx := errgroup.WithContext(ctx)

	if !serveNoLoop {
		loop := orchestrator.NewLoop(sched, orchestrator.LoopConfig{
			Interval:    cfg.Scheduler.Interval,
			MaxInterval: cfg.Scheduler.MaxInterval,
			Jitter:      cfg.Scheduler.Jitter,
			StallAfter:  cfg.Scheduler.StallAfter,
			Probe:       orchestrator.HealthProbe(db.Ping, cfg.Scheduler.HealthURL, 5*time.Second),
		})
		g.Go(func() error { return loop.Run(gctx) })
	}

	if cfg.SignalsDir != "" {
		watcher, err := notify.NewSignalWatcher(cfg.SignalsDir, db, emitter)
		if err != nil {
			return fmt.Errorf("signal watcher: %w", err)
		}
		g.Go(func() error { return watcher.Run(gctx, 5*time.Second) })
	}

	if !serveNoServer {
		token, err := config.GetAPIToken(cfg)
		if err != nil {
			log.Warnw("mutating API routes are disabled", "error", err)
		}
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(server.Options{
			Store:        db,
			Scheduler:    sched,
			Engines:      engines,
			Tiers:        router.NewTierRouter(cfg.Router.QuickPathMaxChars, cfg.Router.DeepMinChars),
			Bus:          bus,
			Releaser:     state.NewRecoveryManager(db, cfg.Scheduler.StallAfter),
			Token:        token,
			CORSOrigins:  cfg.Server.CORSOrigins,
			ChatEngine:   chatEngine(engines),
			FastModel:    cfg.Anthropic.FastModel,
			DeepModel:    cfg.Anthropic.Model,
			MasterIntent: cfg.MasterIntent,
			StallAfter:   cfg.Scheduler.StallAfter,
		})
		g.Go(func() error { return srv.Run(gctx, addr) })
	}

	log.Infow("mission control started", "db", db.Path(), "engines", engines.Names())
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// chatEngine prefers the in-process API engine when it is configured.
func chatEngine(engines *engine.Set) string {
	if _, err := engines.Get(models.EngineAPI); err == nil {
		return models.EngineAPI
	}
	return models.EngineClaude
}
