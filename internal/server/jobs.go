package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/version"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// EnqueueRequest is the body of POST /api/jobs.
type EnqueueRequest struct {
	Title     string   `json:"title" validate:"required"`
	Type      string   `json:"type" validate:"jobtype"`
	Prompt    string   `json:"prompt"`
	Command   string   `json:"command"`
	Agent     string   `json:"agent"`
	Engine    string   `json:"engine"`
	Priority  int      `json:"priority" validate:"omitempty,min=1,max=10"`
	ParentID  string   `json:"parent_id"`
	ProjectID string   `json:"project_id"`
	Source    string   `json:"source"`
	Tools     []string `json:"tools"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	j := &models.Job{
		Title:       req.Title,
		Type:        models.JobType(req.Type),
		PromptText:  req.Prompt,
		Command:     req.Command,
		Engine:      req.Engine,
		Priority:    req.Priority,
		ParentJobID: req.ParentID,
		ProjectID:   req.ProjectID,
		Source:      req.Source,
		Tools:       req.Tools,
	}
	if j.Source == "" {
		j.Source = "api"
	}
	if req.Agent != "" {
		agent, err := s.opts.Store.GetAgentByName(req.Agent)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if agent == nil {
			s.fail(w, r, fmt.Errorf("%w: unknown agent %q", errBadRequest, req.Agent))
			return
		}
		j.AgentID = agent.ID
		if j.Engine == "" {
			j.Engine = agent.Engine
		}
	}
	if err := s.opts.Store.CreateJob(j); err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(notify.Event{Type: notify.EventJobEnqueued, JobID: j.ID, JobTitle: j.Title, ParentID: j.ParentJobID, AgentID: j.AgentID})
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := state.JobFilter{
		Status:   models.JobStatus(q.Get("status")),
		Type:     models.JobType(q.Get("type")),
		ParentID: q.Get("parent"),
		AgentID:  q.Get("agent"),
		BoardID:  q.Get("board"),
	}
	if f.Status != "" && !f.Status.Valid() {
		s.fail(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, f.Status))
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.fail(w, r, fmt.Errorf("%w: bad limit %q", errBadRequest, l))
			return
		}
		f.Limit = n
	}
	jobs, err := s.opts.Store.ListJobs(f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, nonNilJobs(jobs))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.job(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, j)
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.job(id); err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.opts.Store.ListChildren(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, nonNilJobs(jobs))
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.opts.Store.ListReviews(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []models.QAReview{}
	}
	render.JSON(w, r, reviews)
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	j, err := s.opts.Store.Requeue(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, j)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	j, err := s.opts.Scheduler.PostExec().ForceApprove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, j)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	if s.opts.Releaser == nil {
		s.fail(w, r, fmt.Errorf("%w: release is not enabled", errBadRequest))
		return
	}
	released, err := s.opts.Releaser.Release(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"ok": released})
}

// runRequest optionally names the job to claim.
type runRequest struct {
	JobID string `json:"job_id"`
}

type runResponse struct {
	OK     bool             `json:"ok"`
	JobID  string           `json:"job_id,omitempty"`
	Status models.JobStatus `json:"status,omitempty"`
	Result string           `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) runScheduler(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var (
		res orchestrator.RunResult
		err error
	)
	if req.JobID != "" {
		res, err = s.opts.Scheduler.RunJob(r.Context(), req.JobID)
	} else {
		res, err = s.opts.Scheduler.ClaimAndRun(r.Context())
	}
	switch {
	case errors.Is(err, orchestrator.ErrPaused), errors.Is(err, orchestrator.ErrAtCapacity):
		render.JSON(w, r, runResponse{Error: err.Error()})
	case errors.Is(err, state.ErrNoQueuedJobs):
		render.JSON(w, r, runResponse{Error: "no_queued_jobs"})
	case errors.Is(err, state.ErrClaimConflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, runResponse{Error: "claim_conflict"})
	case err != nil:
		s.fail(w, r, err)
	default:
		render.JSON(w, r, runResponse{OK: res.OK(), JobID: res.JobID, Status: res.Status, Result: res.Result, Error: res.Error})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true, "db": "ok", "version": version.Get()}
	if err := s.opts.Store.Ping(); err != nil {
		body["ok"] = false
		body["db"] = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, body)
		return
	}
	if snap, err := s.opts.Store.Snapshot(); err == nil {
		body["paused"] = snap.PauseAll
	}
	if s.opts.StallAfter > 0 {
		stalled, err := s.opts.Store.StalledJobs(s.opts.StallAfter)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		body["stalled"] = nonNilJobs(stalled)
	}
	render.JSON(w, r, body)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Store.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, snap)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := render.DecodeJSON(r.Body, &values); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	for k, v := range values {
		if err := s.opts.Store.SetSetting(k, v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	snap, err := s.opts.Store.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(notify.Event{Type: notify.EventSettingsChanged, Message: fmt.Sprintf("version %d", snap.Version)})
	render.JSON(w, r, snap)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.opts.Store.ListAgents(r.URL.Query().Get("active") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	render.JSON(w, r, agents)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.opts.Store.ListNotifications(r.URL.Query().Get("unread") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	render.JSON(w, r, notes)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Store.MarkNotificationRead(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"ok": true})
}

func (s *Server) job(id string) (*models.Job, error) {
	j, err := s.opts.Store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, state.ErrNotFound)
	}
	return j, nil
}

func (s *Server) publish(ev notify.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Emit(ev)
	}
}

func nonNilJobs(jobs []models.Job) []models.Job {
	if jobs == nil {
		return []models.Job{}
	}
	return jobs
}
