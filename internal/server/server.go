// Package server exposes the job queue, scheduler, boards and chat over
// HTTP. Reads are open; anything that mutates state needs the bearer
// token.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/actions"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/router"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/validate"
	mclog "github.com/ShayCichocki/missioncontrol/pkg/log"
)

const gracefulShutdownTimeout = 5 * time.Second

// Releaser marks a stalled job failed.
type Releaser interface {
	Release(jobID string) (bool, error)
}

// Options configures a Server.
type Options struct {
	Store     state.Store
	Scheduler *orchestrator.Scheduler
	Engines   *engine.Set
	Tiers     *router.TierRouter
	// Bus enables GET /api/events when set.
	Bus      *notify.Bus
	Releaser Releaser
	Token    string
	// CORSOrigins defaults to any origin.
	CORSOrigins []string
	// ChatEngine answers fast and deep chat messages.
	ChatEngine   string
	FastModel    string
	DeepModel    string
	MasterIntent string
	StallAfter   time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts       Options
	dispatcher *actions.Dispatcher
	validate   *validate.Validator
	log        *zap.SugaredLogger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Tiers == nil {
		opts.Tiers = router.NewTierRouter(0, 0)
	}
	if opts.ChatEngine == "" {
		opts.ChatEngine = "api"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		opts:       opts,
		dispatcher: actions.NewDispatcher(opts.Store, opts.Scheduler.Boards(), opts.Scheduler.PostExec(), "chat"),
		validate:   validate.New(),
		log:        zap.S().Named("server"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "PUT", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}),
		chiMiddleware.RequestID,
		mclog.Logger(zap.L(), "http"),
		chiMiddleware.Recoverer,
	)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/settings", s.getSettings)
		r.Get("/agents", s.listAgents)
		r.Post("/route", s.route)

		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/jobs/{id}/children", s.listChildren)
		r.Get("/jobs/{id}/reviews", s.listReviews)

		r.Get("/boards", s.listBoards)
		r.Get("/boards/{id}", s.getBoard)

		r.Get("/notifications", s.listNotifications)
		if s.opts.Bus != nil {
			r.Get("/events", s.events)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Put("/settings", s.putSettings)
			r.Post("/jobs", s.enqueue)
			r.Post("/jobs/{id}/requeue", s.requeue)
			r.Post("/jobs/{id}/approve", s.approve)
			r.Post("/jobs/{id}/release", s.release)
			r.Post("/scheduler/run", s.runScheduler)

			r.Post("/boards", s.createBoard)
			r.Post("/boards/{id}/responses", s.addResponse)
			r.Post("/boards/{id}/synthesise", s.synthesise)
			r.Post("/boards/{id}/decide", s.decide)

			r.Post("/notifications/{id}/read", s.markRead)
			r.Post("/actions", s.executeActions)
			r.Post("/chat", s.chat)
		})
	})
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if s.opts.Token == "" {
		s.log.Warn("no API token configured; mutating routes will reject every request")
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.log.Infof("shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		s.log.Info("api server terminated")
	}()

	s.log.Infow("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
