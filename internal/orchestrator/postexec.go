package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/decompose"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/internal/metrics"
	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/review"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ErrStaleRun is returned when a run finishes after its job left the
// running period it was claimed in. The result is discarded.
var ErrStaleRun = errors.New("job left its claimed running period; result discarded")

// PostExec writes a run's outcome and routes follow-up work by job type.
type PostExec struct {
	store      state.Store
	scorer     *review.Scorer
	decomposer *decompose.Decomposer
	boards     *board.Service
	emitter    *notify.Emitter
	qaAgent    string
	qaEngine   string
	log        *zap.SugaredLogger
}

// NewPostExec creates a PostExec.
func NewPostExec(store state.Store, boards *board.Service, emitter *notify.Emitter, qaAgent, qaEngine string) *PostExec {
	return &PostExec{
		store:      store,
		scorer:     review.NewScorer(store),
		decomposer: decompose.New(store),
		boards:     boards,
		emitter:    emitter,
		qaAgent:    qaAgent,
		qaEngine:   qaEngine,
		log:        zap.S().Named("postexec"),
	}
}

// Handle records out against a claimed job in a single guarded write and
// then runs the follow-up for its type. It returns the status written.
// A successful task is written as reviewing directly, so the job never
// passes through done before its review is enqueued.
func (p *PostExec) Handle(ctx context.Context, job *models.Job, agent *models.Agent, out engine.Outcome) (models.JobStatus, error) {
	if job.StartedAt == nil {
		return "", fmt.Errorf("job %s has no claim timestamp", job.ID)
	}

	rec := state.RunRecord{
		Status:       out.Status,
		Result:       out.Result,
		LastError:    out.Error,
		EvidenceHash: out.EvidenceHash,
	}
	if raw, err := json.Marshal(out); err == nil {
		rec.LastRunJSON = string(raw)
	}

	var entries []decompose.Entry
	switch {
	case job.Type == models.JobTypeTask && job.BoardID == "" && out.OK():
		rec.Status = models.JobStatusReviewing
	case job.Type == models.JobTypeDecomposition && out.OK():
		parsed, dropped, err := decompose.ParseResponse(out.Result)
		if err == nil && len(parsed) == 0 {
			err = decompose.ErrNoValidEntries
		}
		if err != nil {
			rec.Status = models.JobStatusFailed
			rec.LastError = "decomposition: " + err.Error()
			rec.EvidenceHash = ""
			break
		}
		if dropped > 0 {
			p.log.Warnw("dropped invalid sub-jobs", "job", job.ID, "dropped", dropped)
		}
		entries = parsed
	}

	applied, err := p.store.CompleteRun(job.ID, *job.StartedAt, rec)
	if err != nil {
		return "", err
	}
	if !applied {
		p.log.Warnw("late result discarded", "job", job.ID, "status", rec.Status)
		return "", ErrStaleRun
	}
	job.Status = rec.Status
	job.Result = rec.Result
	job.LastError = rec.LastError
	p.emitter.Publish(notify.Event{
		Type: notify.EventJobFinished, JobID: job.ID, JobTitle: job.Title,
		ParentID: job.ParentJobID, AgentID: job.AgentID, Status: string(rec.Status), Message: rec.LastError,
	})

	if rec.Status == models.JobStatusPausedHuman {
		p.emitter.JobTerminal(ctx, job, rec.Status, rec.LastError)
		if job.BoardID != "" {
			// A paused challenger is terminal for the board and may be the
			// last one it was waiting on.
			return rec.Status, p.ingestChallenger(ctx, job, agentName(agent), "", false)
		}
		return rec.Status, nil
	}

	switch job.Type {
	case models.JobTypeReview:
		err = p.afterReview(ctx, job, out)
	case models.JobTypeDecomposition:
		err = p.afterDecomposition(ctx, job, entries)
	case models.JobTypeIntegration:
		p.afterIntegration(job)
	default:
		err = p.afterTask(ctx, job, agent, out)
	}
	return rec.Status, err
}

func (p *PostExec) afterTask(ctx context.Context, job *models.Job, agent *models.Agent, out engine.Outcome) error {
	if job.BoardID != "" {
		return p.afterChallenger(ctx, job, agent, out)
	}
	if job.Status == models.JobStatusFailed {
		p.emitter.JobTerminal(ctx, job, job.Status, job.LastError)
		return nil
	}

	if _, err := p.EnqueueReview(ctx, job); err != nil {
		return err
	}
	if job.ParentJobID != "" {
		if _, err := p.CheckFanIn(ctx, job.ParentJobID); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostExec) afterChallenger(ctx context.Context, job *models.Job, agent *models.Agent, out engine.Outcome) error {
	return p.ingestChallenger(ctx, job, agentName(agent), out.Result, out.OK())
}

// ingestChallenger hands a terminal challenger to its board and raises
// the board_open notification if that opened it.
func (p *PostExec) ingestChallenger(ctx context.Context, job *models.Job, name, output string, succeeded bool) error {
	opened, err := p.boards.IngestChallenger(ctx, job, name, output, succeeded)
	if err != nil {
		return fmt.Errorf("ingest challenger: %w", err)
	}
	if opened {
		b, err := p.store.GetBoard(job.BoardID)
		if err != nil {
			return err
		}
		if b != nil {
			p.emitter.BoardOpen(ctx, b)
		}
	}
	return nil
}

func agentName(a *models.Agent) string {
	if a == nil {
		return ""
	}
	return a.Name
}

// ForceApprove marks a job done on a human's say-so, then runs the
// follow-up its parent or board was waiting on. An approved challenger
// records its output as a response; an approved child may complete the
// fan-in.
func (p *PostExec) ForceApprove(ctx context.Context, id string) (*models.Job, error) {
	j, err := p.store.ForceApprove(id)
	if err != nil {
		return nil, err
	}
	p.log.Infow("job force-approved", "job", j.ID, "parent", j.ParentJobID, "board", j.BoardID)
	p.emitter.Publish(notify.Event{
		Type: notify.EventJobApproved, JobID: j.ID, JobTitle: j.Title,
		ParentID: j.ParentJobID, AgentID: j.AgentID, Status: string(j.Status),
	})

	switch {
	case j.BoardID != "":
		name := ""
		if j.AgentID != "" {
			a, err := p.store.GetAgent(j.AgentID)
			if err != nil {
				return j, err
			}
			name = agentName(a)
		}
		// A decided board keeps its decision; the approval still stands.
		err := p.ingestChallenger(ctx, j, name, j.Result, strings.TrimSpace(j.Result) != "")
		if err != nil && !errors.Is(err, state.ErrBoardDecided) {
			return j, err
		}
	case j.ParentJobID != "" && fansIn(j.Type):
		if _, err := p.CheckFanIn(ctx, j.ParentJobID); err != nil {
			return j, err
		}
	}
	return j, nil
}

// fansIn reports whether a child of this type is one of the siblings
// SiblingsSettled waits on.
func fansIn(t models.JobType) bool {
	return t != models.JobTypeReview && t != models.JobTypeIntegration
}

// EnqueueReview creates the review child for a task awaiting QA.
func (p *PostExec) EnqueueReview(ctx context.Context, job *models.Job) (*models.Job, error) {
	r := &models.Job{
		Title:       "Review: " + job.Title,
		Type:        models.JobTypeReview,
		Engine:      p.qaEngine,
		Source:      "qa",
		Priority:    job.Priority,
		ParentJobID: job.ID,
		ProjectID:   job.ProjectID,
		PromptText:  fmt.Sprintf("Review the work produced for %q against its original instructions:\n\n%s", job.Title, job.PromptText),
	}

	qa, err := p.store.GetAgentByName(p.qaAgent)
	if err != nil {
		return nil, err
	}
	if qa != nil {
		r.AgentID = qa.ID
		if r.Engine == "" {
			r.Engine = qa.Engine
		}
	} else {
		p.log.Warnw("QA agent not found, leaving review for the router", "agent", p.qaAgent)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.CreateJob(r); err != nil {
		return nil, fmt.Errorf("enqueue review: %w", err)
	}
	p.emitter.Publish(notify.Event{Type: notify.EventJobEnqueued, JobID: r.ID, JobTitle: r.Title, ParentID: job.ID, AgentID: r.AgentID})
	return r, nil
}

func (p *PostExec) afterReview(ctx context.Context, job *models.Job, out engine.Outcome) error {
	if !out.OK() {
		p.log.Warnw("review run failed", "job", job.ID, "parent", job.ParentJobID, "error", out.Error)
		return nil
	}

	qa, _ := p.scorer.Ingest(ctx, job, out.Result)
	metrics.ObserveReview(qa.Total)
	p.emitter.Publish(notify.Event{
		Type: notify.EventReviewRecorded, JobID: job.ParentJobID, AgentID: job.AgentID,
		Message: fmt.Sprintf("total %d, passed %v", qa.Total, qa.Passed),
	})

	parent, err := p.store.GetJob(job.ParentJobID)
	if err != nil || parent == nil {
		return err
	}
	switch {
	case parent.Status == models.JobStatusRejected:
		p.emitter.JobTerminal(ctx, parent, parent.Status, qa.Feedback)
	case parent.Status == models.JobStatusDone && parent.ParentJobID == "":
		p.emitter.JobTerminal(ctx, parent, parent.Status, fmt.Sprintf("QA score %d/50", qa.Total))
	}
	return nil
}

func (p *PostExec) afterDecomposition(ctx context.Context, job *models.Job, entries []decompose.Entry) error {
	if job.Status == models.JobStatusFailed {
		p.emitter.JobTerminal(ctx, job, job.Status, job.LastError)
		return nil
	}
	children, err := p.decomposer.Create(ctx, job, entries)
	for _, c := range children {
		p.emitter.Publish(notify.Event{Type: notify.EventJobEnqueued, JobID: c.ID, JobTitle: c.Title, ParentID: c.ParentJobID, AgentID: c.AgentID})
	}
	return err
}

func (p *PostExec) afterIntegration(job *models.Job) {
	if job.Status != models.JobStatusDone {
		p.log.Warnw("integration failed", "job", job.ID, "parent", job.ParentJobID, "error", job.LastError)
		return
	}
	p.log.Infow("integration complete", "job", job.ID, "parent", job.ParentJobID)
}

// CheckFanIn enqueues the integration job for parentID once every
// non-review child is done or reviewing. It returns the new job, or nil
// if siblings are still pending or an integration job already exists.
func (p *PostExec) CheckFanIn(ctx context.Context, parentID string) (*models.Job, error) {
	settled, total, err := p.store.SiblingsSettled(parentID)
	if err != nil || !settled {
		return nil, err
	}
	parent, err := p.store.GetJob(parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("fan-in parent %s: %w", parentID, state.ErrNotFound)
	}
	children, err := p.store.ListChildren(parentID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Integrate the results of %d sub-jobs of %q into one deliverable.\n", total, parent.Title))
	for _, c := range children {
		if c.Type == models.JobTypeReview || c.Type == models.JobTypeIntegration || c.Type == models.JobTypeDecomposition {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", c.Title, strings.TrimSpace(c.Result)))
	}

	j := &models.Job{
		Title:       "Integrate: " + parent.Title,
		Type:        models.JobTypeIntegration,
		Source:      "fan-in",
		Priority:    parent.Priority,
		ParentJobID: parentID,
		ProjectID:   parent.ProjectID,
		PromptText:  sb.String(),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	created, err := p.store.CreateIntegrationOnce(j)
	if err != nil || !created {
		return nil, err
	}
	p.log.Infow("integration enqueued", "parent", parentID, "job", j.ID, "siblings", total)
	p.emitter.Publish(notify.Event{Type: notify.EventJobEnqueued, JobID: j.ID, JobTitle: j.Title, ParentID: parentID})
	return j, nil
}
