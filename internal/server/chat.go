package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/ShayCichocki/missioncontrol/internal/actions"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/metrics"
	"github.com/ShayCichocki/missioncontrol/internal/router"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/stream"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ChatRequest is the body of POST /api/chat and POST /api/route.
type ChatRequest struct {
	Message  string `json:"message" validate:"required"`
	HasImage bool   `json:"has_image"`
}

// ActionsRequest is the body of POST /api/actions.
type ActionsRequest struct {
	Text string `json:"text" validate:"required"`
}

type actionsResponse struct {
	Text    string           `json:"text"`
	Results []actions.Result `json:"results"`
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.opts.Tiers.Classify(router.Message{Text: req.Message, HasImage: req.HasImage}))
}

func (s *Server) executeActions(w http.ResponseWriter, r *http.Request) {
	var req ActionsRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	clean, batch := actions.Extract(req.Text)
	results := s.dispatcher.Execute(r.Context(), batch)
	if results == nil {
		results = []actions.Result{}
	}
	render.JSON(w, r, actionsResponse{Text: clean, Results: results})
}

// chat classifies the message and streams the answer. Quick-path
// messages are answered from the store; everything else goes to the
// chat engine. Only deep answers may execute actions.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	decision := s.opts.Tiers.Classify(router.Message{Text: req.Message, HasImage: req.HasImage})
	metrics.IncTier(string(decision.Tier))
	s.log.Infow("chat message routed", "tier", decision.Tier, "rule", decision.Rule)

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	sw := stream.NewWriter(w)
	defer func() {
		if err := sw.Done(string(decision.Tier)); err != nil {
			s.log.Debugw("finish stream", "error", err)
		}
	}()

	if decision.Tier == models.TierQuickPath {
		answer, err := QuickAnswer(s.opts.Store)
		if err != nil {
			_ = sw.Error(err)
			return
		}
		_ = sw.Text(answer)
		return
	}

	out := s.opts.Engines.Run(r.Context(), s.opts.ChatEngine, engine.Request{
		JobID:  "chat-" + sw.MessageID(),
		Prompt: ChatPrompt(req.Message, decision.Tier, s.opts.MasterIntent),
		Model:  s.modelFor(decision.Tier),
	})
	if !out.OK() {
		_ = sw.Error(errors.New(out.Error))
		return
	}

	clean, batch := actions.Extract(out.Result)
	_ = sw.Text(clean)
	if len(batch) == 0 {
		return
	}
	if decision.Tier != models.TierDeep {
		s.log.Warnw("ignoring actions from non-deep tier", "tier", decision.Tier, "count", len(batch))
		return
	}
	for _, res := range s.dispatcher.Execute(context.WithoutCancel(r.Context()), batch) {
		_ = sw.Action(res)
	}
}

func (s *Server) modelFor(tier models.Tier) string {
	if tier == models.TierFast && s.opts.FastModel != "" {
		return s.opts.FastModel
	}
	return s.opts.DeepModel
}

// ChatPrompt builds the engine prompt for a chat message. Only the deep
// tier is told about action directives.
func ChatPrompt(message string, tier models.Tier, masterIntent string) string {
	var sb strings.Builder
	sb.WriteString("You are Mission Control, the operator console for an AI agent workforce.\n")
	if masterIntent != "" {
		sb.WriteString("\n## Business intent\n")
		sb.WriteString(strings.TrimSpace(masterIntent))
		sb.WriteString("\n")
	}
	if tier == models.TierDeep {
		sb.WriteString("\n## Actions\n")
		sb.WriteString("To change the system, append blocks of the form [MC_ACTION:<type>]{json}[/MC_ACTION]. Types:\n")
		sb.WriteString("- create_task {\"title\", \"prompt\", \"agent\", \"priority\"}\n")
		sb.WriteString("- spawn_job {\"title\", \"type\", \"parent_id\", \"agent\", \"prompt\"}\n")
		sb.WriteString("- challenge_board {\"title\", \"context\", \"options\": [...], \"challengers\": [{\"agent\", \"perspective\"}]}\n")
		sb.WriteString("- decide {\"board_id\", \"decision\", \"rationale\"}\n")
		sb.WriteString("- requeue {\"job_id\"}\n")
		sb.WriteString("- approve {\"job_id\"}\n")
		sb.WriteString("Only emit actions the operator asked for.\n")
	} else {
		sb.WriteString("\nAnswer briefly. Do not emit action blocks.\n")
	}
	sb.WriteString("\n## Operator\n")
	sb.WriteString(strings.TrimSpace(message))
	sb.WriteString("\n")
	return sb.String()
}

// quickStore is what QuickAnswer reads.
type quickStore interface {
	ListJobs(f state.JobFilter) ([]models.Job, error)
	Snapshot() (state.Snapshot, error)
	ListNotifications(unreadOnly bool) ([]models.Notification, error)
	ListBoards() ([]models.ChallengeBoard, error)
}

// QuickAnswer summarises queue state without calling a model.
func QuickAnswer(store quickStore) (string, error) {
	counts := map[models.JobStatus]int{}
	for _, st := range []models.JobStatus{
		models.JobStatusQueued, models.JobStatusRunning, models.JobStatusReviewing,
		models.JobStatusFailed, models.JobStatusPausedHuman,
	} {
		jobs, err := store.ListJobs(state.JobFilter{Status: st})
		if err != nil {
			return "", err
		}
		counts[st] = len(jobs)
	}
	snap, err := store.Snapshot()
	if err != nil {
		return "", err
	}
	notes, err := store.ListNotifications(true)
	if err != nil {
		return "", err
	}
	boards, err := store.ListBoards()
	if err != nil {
		return "", err
	}
	open := 0
	for _, b := range boards {
		if b.Status == models.BoardOpen {
			open++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Queue: %d queued, %d running, %d in review.",
		counts[models.JobStatusQueued], counts[models.JobStatusRunning], counts[models.JobStatusReviewing])
	if n := counts[models.JobStatusFailed] + counts[models.JobStatusPausedHuman]; n > 0 {
		fmt.Fprintf(&sb, " Needs attention: %d failed, %d waiting on a human.",
			counts[models.JobStatusFailed], counts[models.JobStatusPausedHuman])
	}
	if snap.PauseAll {
		sb.WriteString(" Scheduler is paused.")
	}
	if len(notes) > 0 {
		fmt.Fprintf(&sb, " %d unread notifications.", len(notes))
	}
	if open > 0 {
		fmt.Fprintf(&sb, " %d boards await a decision.", open)
	}
	return sb.String(), nil
}
