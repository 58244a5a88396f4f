package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ErrNoAgents is returned when no active agent can take a job.
var ErrNoAgents = errors.New("no active agents")

// AgentSource is the slice of the store the agent router needs.
type AgentSource interface {
	GetJob(id string) (*models.Job, error)
	GetAgent(id string) (*models.Agent, error)
	ListAgents(activeOnly bool) ([]models.Agent, error)
	AssignAgent(jobID, agentID string) (bool, error)
}

// Role names with routing meaning.
const (
	RoleQA           = "qa"
	RoleOrchestrator = "orchestrator"
)

// AgentRouter assigns unowned jobs to the best-fitting agent.
type AgentRouter struct {
	store   AgentSource
	qaAgent string
	log     *zap.SugaredLogger
}

// NewAgentRouter creates an AgentRouter. qaAgent names the agent that
// owns review jobs.
func NewAgentRouter(store AgentSource, qaAgent string) *AgentRouter {
	return &AgentRouter{store: store, qaAgent: qaAgent, log: zap.S().Named("router")}
}

// RouteJob returns the job's agent, choosing and persisting one if the
// job has none. A job never changes owner once assigned.
func (r *AgentRouter) RouteJob(ctx context.Context, jobID string) (*models.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := r.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if job.AgentID != "" {
		return r.store.GetAgent(job.AgentID)
	}

	agents, err := r.store.ListAgents(true)
	if err != nil {
		return nil, err
	}
	best := r.Pick(job, agents)
	if best == nil {
		return nil, ErrNoAgents
	}

	assigned, err := r.store.AssignAgent(job.ID, best.ID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		// Someone routed it first; honour their choice.
		current, err := r.store.GetJob(job.ID)
		if err != nil {
			return nil, err
		}
		return r.store.GetAgent(current.AgentID)
	}
	r.log.Debugf("Routed job %s (%s) to %s", job.ID, job.Type, best.Name)
	return best, nil
}

// Pick scores agents against a job and returns the best fit, or nil if
// agents is empty. Ties break on name so the choice is deterministic.
func (r *AgentRouter) Pick(job *models.Job, agents []models.Agent) *models.Agent {
	if len(agents) == 0 {
		return nil
	}
	type scored struct {
		agent *models.Agent
		score float64
	}
	words := tokenize(job.Title + " " + job.PromptText)

	ranked := make([]scored, 0, len(agents))
	for i := range agents {
		a := &agents[i]
		ranked = append(ranked, scored{agent: a, score: r.fit(job, a, words)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].agent.Name < ranked[j].agent.Name
	})
	return ranked[0].agent
}

func (r *AgentRouter) fit(job *models.Job, a *models.Agent, words map[string]bool) float64 {
	var score float64
	role := strings.ToLower(a.Role)

	switch job.Type {
	case models.JobTypeReview:
		if strings.EqualFold(a.Name, r.qaAgent) {
			score += 100
		}
		if role == RoleQA {
			score += 50
		}
	case models.JobTypeDecomposition, models.JobTypeIntegration:
		if role == RoleOrchestrator {
			score += 50
		}
	default:
		// QA and orchestrators are kept for their own job types.
		if role == RoleQA || role == RoleOrchestrator {
			score -= 20
		}
	}

	for w := range tokenize(a.Role + " " + a.Department) {
		if words[w] {
			score += 3
		}
	}
	for _, s := range a.Skills {
		if words[strings.ToLower(s.Name)] {
			score += 2
		}
	}
	if job.Engine != "" && strings.EqualFold(job.Engine, a.Engine) {
		score++
	}

	// Prefer agents that have been passing review.
	score += a.QualityScoreAvg / float64(models.ScoreMax*5)
	score -= 0.5 * float64(a.ConsecutiveFailures)
	return score
}

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 2 {
			out[f] = true
		}
	}
	return out
}
