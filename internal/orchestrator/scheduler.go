package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/metrics"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/prompt"
	"github.com/ShayCichocki/missioncontrol/internal/router"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Reasons a tick was skipped.
const (
	SkipPaused     = "paused"
	SkipAtCapacity = "at_capacity"
)

// Errors returned by ClaimAndRun and RunJob when settings forbid a claim.
var (
	ErrPaused     = errors.New(SkipPaused)
	ErrAtCapacity = errors.New(SkipAtCapacity)
)

// Options configures a Scheduler.
type Options struct {
	Store   state.Store
	Engines *engine.Set
	// Emitter defaults to one that only stores notifications.
	Emitter *notify.Emitter
	// Boards defaults to a service over Store.
	Boards       *board.Service
	QAAgent      string
	QAEngine     string
	MasterIntent string
}

// Scheduler claims queued jobs and runs them to completion.
type Scheduler struct {
	store    state.Store
	engines  *engine.Set
	router   *router.AgentRouter
	composer *prompt.Composer
	post     *PostExec
	boards   *board.Service
	emitter  *notify.Emitter
	log      *zap.SugaredLogger
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Emitter == nil {
		opts.Emitter = notify.NewEmitter(opts.Store, nil)
	}
	if opts.Boards == nil {
		opts.Boards = board.NewService(opts.Store)
	}
	return &Scheduler{
		store:    opts.Store,
		engines:  opts.Engines,
		router:   router.NewAgentRouter(opts.Store, opts.QAAgent),
		composer: prompt.NewComposer(opts.Store, opts.MasterIntent),
		post:     NewPostExec(opts.Store, opts.Boards, opts.Emitter, opts.QAAgent, opts.QAEngine),
		boards:   opts.Boards,
		emitter:  opts.Emitter,
		log:      zap.S().Named("scheduler"),
	}
}

// PostExec returns the post-execution router.
func (s *Scheduler) PostExec() *PostExec { return s.post }

// Boards returns the challenge board service.
func (s *Scheduler) Boards() *board.Service { return s.boards }

// RunResult is what a single claim-and-run reports.
type RunResult struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Result string           `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// OK reports whether the run ended without failure.
func (r RunResult) OK() bool {
	return r.Status == models.JobStatusDone || r.Status == models.JobStatusReviewing
}

// TickReport summarizes one tick.
type TickReport struct {
	SettingsVersion int64       `json:"settings_version"`
	Skipped         string      `json:"skipped,omitempty"`
	Conflicts       int         `json:"conflicts"`
	Runs            []RunResult `json:"runs"`
}

// Tick reads the settings snapshot once, and unless paused or at
// capacity claims up to parallel_jobs jobs, one conditional update each,
// then runs them concurrently. It returns when every run has finished.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	snap, slots, err := s.gate()
	report := TickReport{SettingsVersion: snap.Version}
	if errors.Is(err, ErrPaused) || errors.Is(err, ErrAtCapacity) {
		report.Skipped = err.Error()
		return report, nil
	}
	if err != nil {
		return report, err
	}

	var claimed []*models.Job
	for i := 0; i < slots; i++ {
		job, err := s.claim(ctx, "")
		if errors.Is(err, state.ErrNoQueuedJobs) {
			break
		}
		if errors.Is(err, state.ErrClaimConflict) {
			report.Conflicts++
			continue
		}
		if err != nil {
			return report, err
		}
		claimed = append(claimed, job)
	}
	if len(claimed) == 0 {
		return report, nil
	}

	results := make([]RunResult, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(slots)
	for i, job := range claimed {
		g.Go(func() error {
			results[i] = s.execute(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	report.Runs = results

	s.log.Infow("tick finished", "claimed", len(claimed), "conflicts", report.Conflicts, "settings_version", snap.Version)
	return report, nil
}

// gate reads the settings snapshot once and returns how many jobs may be
// claimed now. It returns ErrPaused or ErrAtCapacity when none may.
func (s *Scheduler) gate() (state.Snapshot, int, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return snap, 0, fmt.Errorf("read settings: %w", err)
	}
	if snap.PauseAll {
		metrics.IncTickSkipped(SkipPaused)
		s.log.Debugw("claim skipped", "reason", SkipPaused)
		return snap, 0, ErrPaused
	}
	running, err := s.store.CountRunning()
	if err != nil {
		return snap, 0, err
	}
	capacity := snap.MaxConcurrency - running
	if capacity <= 0 {
		metrics.IncTickSkipped(SkipAtCapacity)
		s.log.Debugw("claim skipped", "reason", SkipAtCapacity, "running", running, "max", snap.MaxConcurrency)
		return snap, 0, ErrAtCapacity
	}
	return snap, min(snap.ParallelJobs, capacity), nil
}

// ClaimAndRun claims the next queued job and runs it. It returns
// ErrPaused or ErrAtCapacity when settings forbid a claim,
// state.ErrNoQueuedJobs when the queue is empty and state.ErrClaimConflict
// when another caller won the claim; none is retried.
func (s *Scheduler) ClaimAndRun(ctx context.Context) (RunResult, error) {
	if _, _, err := s.gate(); err != nil {
		return RunResult{}, err
	}
	job, err := s.claim(ctx, "")
	if err != nil {
		return RunResult{}, err
	}
	return s.execute(ctx, job), nil
}

// RunJob claims a specific queued job and runs it, subject to the same
// settings checks as ClaimAndRun.
func (s *Scheduler) RunJob(ctx context.Context, jobID string) (RunResult, error) {
	if _, _, err := s.gate(); err != nil {
		return RunResult{}, err
	}
	job, err := s.claim(ctx, jobID)
	if err != nil {
		return RunResult{}, err
	}
	return s.execute(ctx, job), nil
}

func (s *Scheduler) claim(ctx context.Context, jobID string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		job *models.Job
		err error
	)
	if jobID == "" {
		job, err = s.store.ClaimNext()
	} else {
		job, err = s.store.ClaimJob(jobID)
	}
	switch {
	case errors.Is(err, state.ErrNoQueuedJobs):
		metrics.IncClaim(metrics.ClaimEmpty)
	case errors.Is(err, state.ErrClaimConflict):
		metrics.IncClaim(metrics.ClaimConflict)
		s.log.Infow("claim conflict, skipping", "job", jobID)
	case err == nil:
		metrics.IncClaim(metrics.ClaimWon)
		s.emitter.Publish(notify.Event{Type: notify.EventJobClaimed, JobID: job.ID, JobTitle: job.Title, ParentID: job.ParentJobID})
	}
	return job, err
}

// execute runs a claimed job and hands the outcome to PostExec.
func (s *Scheduler) execute(ctx context.Context, job *models.Job) RunResult {
	out, agent := s.run(ctx, job)
	metrics.ObserveRun(out.Engine, string(job.Type), string(out.Status), out.Duration.Seconds())

	res := RunResult{JobID: job.ID, Result: out.Result, Error: out.Error}
	status, err := s.post.Handle(ctx, job, agent, out)
	res.Status = status
	if err != nil {
		s.log.Errorw("post-execution", "job", job.ID, "error", err)
		if res.Error == "" {
			res.Error = err.Error()
		} else {
			res.Error += "; " + err.Error()
		}
	}
	s.log.Infow("job finished", "job", job.ID, "type", job.Type, "status", status, "duration", out.Duration.Round(time.Millisecond))
	return res
}

// run routes, composes and executes. Routing or composition failures
// become failed outcomes so the job is still released.
func (s *Scheduler) run(ctx context.Context, job *models.Job) (engine.Outcome, *models.Agent) {
	fail := func(format string, args ...any) engine.Outcome {
		return engine.Outcome{Status: models.JobStatusFailed, Engine: job.Engine, ExitCode: -1, Error: fmt.Sprintf(format, args...)}
	}

	agent, err := s.router.RouteJob(ctx, job.ID)
	if err != nil && !errors.Is(err, router.ErrNoAgents) {
		return fail("route job: %v", err), nil
	}
	agentID := ""
	if agent != nil {
		agentID = agent.ID
		job.AgentID = agent.ID
	}

	in, err := s.composer.Load(ctx, job.ID, agentID)
	if err != nil {
		return fail("compose prompt: %v", err), agent
	}
	req := engine.Request{
		JobID:   job.ID,
		Prompt:  prompt.Compose(in),
		Command: job.Command,
	}
	for _, t := range prompt.Tools(in.Agent, in.Job) {
		req.Tools = append(req.Tools, t.Name)
	}
	if agent != nil {
		req.Model = agent.Model
	}

	s.log.Debugw("running job", "job", job.ID, "engine", job.Engine, "agent", agentID, "tools", req.Tools)
	return s.engines.Run(ctx, job.Engine, req), agent
}

// stallTracker remembers which stalled jobs have been reported.
type stallTracker struct {
	mu       sync.Mutex
	reported map[string]bool
}

// ReportStalled raises one notification per newly stalled job and
// returns every job currently past the threshold. Nothing is mutated.
func (s *Scheduler) ReportStalled(ctx context.Context, threshold time.Duration, seen *stallTracker) ([]models.Job, error) {
	jobs, err := s.store.StalledJobs(threshold)
	if err != nil {
		return nil, err
	}
	seen.mu.Lock()
	defer seen.mu.Unlock()
	current := make(map[string]bool, len(jobs))
	for i := range jobs {
		j := &jobs[i]
		current[j.ID] = true
		if seen.reported[j.ID] {
			continue
		}
		s.log.Warnw("job stalled", "job", j.ID, "started_at", j.StartedAt, "threshold", threshold)
		s.emitter.Notify(ctx, notify.KindJobStalled, j, "Job stalled: "+j.Title,
			fmt.Sprintf("running longer than %s; release or wait for it to finish", threshold))
	}
	seen.reported = current
	return jobs, nil
}
