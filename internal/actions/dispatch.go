package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/metrics"
	"github.com/ShayCichocki/missioncontrol/internal/validate"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Store is the persistence the dispatcher writes through.
type Store interface {
	CreateJob(j *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetAgentByName(name string) (*models.Agent, error)
	Requeue(id string) (*models.Job, error)
}

// Approver force-approves a job and runs whatever was waiting on it.
type Approver interface {
	ForceApprove(ctx context.Context, id string) (*models.Job, error)
}

// Result reports one executed action.
type Result struct {
	Type  string   `json:"type"`
	OK    bool     `json:"ok"`
	IDs   []string `json:"ids,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Dispatcher executes decoded actions against the store and board service.
type Dispatcher struct {
	store    Store
	boards   *board.Service
	approver Approver
	validate *validate.Validator
	source   string
	log      *zap.SugaredLogger
}

// NewDispatcher creates a Dispatcher. source is recorded on created jobs.
func NewDispatcher(store Store, boards *board.Service, approver Approver, source string) *Dispatcher {
	if source == "" {
		source = "action"
	}
	return &Dispatcher{
		store:    store,
		boards:   boards,
		approver: approver,
		validate: validate.New(),
		source:   source,
		log:      zap.S().Named("actions"),
	}
}

// Execute runs every action in order. A failing action yields a Result
// with OK false and never stops the rest of the batch.
func (d *Dispatcher) Execute(ctx context.Context, batch []Action) []Result {
	results := make([]Result, 0, len(batch))
	for _, a := range batch {
		res := Result{Type: a.Type}
		ids, err := d.execute(ctx, a)
		if err != nil {
			res.Error = err.Error()
			d.log.Warnw("action failed", "type", a.Type, "error", err)
		} else {
			res.OK = true
			res.IDs = ids
			d.log.Infow("action executed", "type", a.Type, "ids", ids)
		}
		metrics.IncAction(a.Type, res.OK)
		results = append(results, res)
	}
	return results
}

// Decode parses and validates an action's payload.
func (d *Dispatcher) Decode(a Action) (any, error) {
	payload, err := newPayload(a.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(a.Payload, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", a.Type, err)
	}
	if err := d.validate.Struct(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (d *Dispatcher) execute(ctx context.Context, a Action) ([]string, error) {
	payload, err := d.Decode(a)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case *CreateTask:
		j := &models.Job{
			Title:      p.Title,
			PromptText: p.Prompt,
			Priority:   p.Priority,
			ProjectID:  p.ProjectID,
			Tools:      p.Tools,
		}
		return d.create(j, p.Agent)
	case *SpawnJob:
		if p.ParentID != "" {
			parent, err := d.store.GetJob(p.ParentID)
			if err != nil {
				return nil, err
			}
			if parent == nil {
				return nil, fmt.Errorf("parent job %s not found", p.ParentID)
			}
		}
		j := &models.Job{
			Title:       p.Title,
			Type:        models.JobType(p.Type),
			ParentJobID: p.ParentID,
			Engine:      p.Engine,
			PromptText:  p.Prompt,
			Command:     p.Command,
			Priority:    p.Priority,
		}
		return d.create(j, p.Agent)
	case *ChallengeBoard:
		b, jobs, err := d.boards.Create(ctx, p.CreateRequest)
		if err != nil {
			return nil, err
		}
		ids := []string{b.ID}
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		return ids, nil
	case *Decide:
		b, err := d.boards.Decide(ctx, p.BoardID, p.Decision, p.Rationale)
		if err != nil {
			return nil, err
		}
		return []string{b.ID}, nil
	case *Requeue:
		j, err := d.store.Requeue(p.JobID)
		if err != nil {
			return nil, err
		}
		return []string{j.ID}, nil
	case *Approve:
		j, err := d.approver.ForceApprove(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		return []string{j.ID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
}

func (d *Dispatcher) create(j *models.Job, agentName string) ([]string, error) {
	j.Source = d.source
	if agentName != "" {
		agent, err := d.store.GetAgentByName(agentName)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, fmt.Errorf("agent %q not found", agentName)
		}
		j.AgentID = agent.ID
		if j.Engine == "" {
			j.Engine = agent.Engine
		}
	}
	if err := d.store.CreateJob(j); err != nil {
		return nil, err
	}
	return []string{j.ID}, nil
}
