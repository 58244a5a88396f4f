// Package decompose turns an orchestrator's output into sibling jobs.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ErrNoValidEntries is returned when an orchestrator's output yields no
// usable sub-jobs. No jobs are created in that case.
var ErrNoValidEntries = errors.New("no valid sub-jobs in decomposition output")

// rawEntry is the JSON shape emitted by orchestrator agents. Priority is
// kept raw because agents emit numbers, numeric strings and words.
type rawEntry struct {
	Title           string          `json:"title"`
	SuggestedAgent  string          `json:"suggested_agent"`
	Priority        json.RawMessage `json:"priority"`
	EstimatedEngine string          `json:"estimated_engine"`
	PromptText      string          `json:"prompt_text"`
}

// Entry is a validated sub-job.
type Entry struct {
	Title          string
	SuggestedAgent string
	Priority       int
	Engine         string
	PromptText     string
}

// ParseResponse extracts the JSON array from an orchestrator response and
// returns its valid entries along with how many were dropped.
func ParseResponse(response string) ([]Entry, int, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, 0, fmt.Errorf("no JSON array found in response (got %d chars): %q", len(response), preview)
	}

	var raw []rawEntry
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &raw); err != nil {
		return nil, 0, fmt.Errorf("unmarshal JSON: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		title := strings.TrimSpace(r.Title)
		agent := strings.TrimSpace(r.SuggestedAgent)
		if title == "" || agent == "" {
			dropped++
			continue
		}
		engine := strings.ToLower(strings.TrimSpace(r.EstimatedEngine))
		if engine == "" {
			engine = models.EngineClaude
		}
		entries = append(entries, Entry{
			Title:          title,
			SuggestedAgent: agent,
			Priority:       parsePriority(r.Priority),
			Engine:         engine,
			PromptText:     strings.TrimSpace(r.PromptText),
		})
	}
	return entries, dropped, nil
}

// parsePriority coerces a raw JSON priority into the valid range,
// falling back to the default when it is not a number.
func parsePriority(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return models.PriorityDefault
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.PriorityDefault
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return models.PriorityDefault
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return models.PriorityDefault
	}
	p := int(math.Round(f))
	if p < models.PriorityMin {
		return models.PriorityMin
	}
	if p > models.PriorityMax {
		return models.PriorityMax
	}
	return p
}

// Store is the persistence the decomposer needs.
type Store interface {
	GetAgentByName(name string) (*models.Agent, error)
	CreateJob(j *models.Job) error
}

// Decomposer creates sibling jobs from decomposition output.
type Decomposer struct {
	store Store
	log   *zap.SugaredLogger
}

// New creates a Decomposer.
func New(store Store) *Decomposer {
	return &Decomposer{store: store, log: zap.S().Named("decompose")}
}

// Ingest parses the output of a finished decomposition job and creates
// one task per valid entry. It returns ErrNoValidEntries, wrapped, if
// nothing could be created; the caller owns any status change.
func (d *Decomposer) Ingest(ctx context.Context, job *models.Job, output string) ([]*models.Job, error) {
	entries, dropped, err := ParseResponse(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidEntries, err)
	}
	if dropped > 0 {
		d.log.Warnw("dropped invalid sub-jobs", "job", job.ID, "dropped", dropped)
	}
	return d.Create(ctx, job, entries)
}

// Create enqueues entries as siblings of the decomposition job: they
// share its parent, not the decomposition job itself.
func (d *Decomposer) Create(ctx context.Context, job *models.Job, entries []Entry) ([]*models.Job, error) {
	if len(entries) == 0 {
		return nil, ErrNoValidEntries
	}

	parentID := job.ParentJobID
	if parentID == "" {
		// A decomposition enqueued by hand fans in on itself.
		parentID = job.ID
	}

	children := make([]*models.Job, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return children, err
		}
		child := &models.Job{
			Title:       e.Title,
			Type:        models.JobTypeTask,
			Engine:      e.Engine,
			Source:      "decomposition:" + job.ID,
			Priority:    e.Priority,
			ParentJobID: parentID,
			ProjectID:   job.ProjectID,
			PromptText:  e.PromptText,
		}
		if child.PromptText == "" {
			child.PromptText = e.Title
		}

		agent, err := d.store.GetAgentByName(e.SuggestedAgent)
		switch {
		case err != nil:
			return children, fmt.Errorf("resolve agent %q: %w", e.SuggestedAgent, err)
		case agent == nil:
			d.log.Warnw("suggested agent not found, leaving for router", "agent", e.SuggestedAgent, "title", e.Title)
		default:
			child.AgentID = agent.ID
		}

		if err := d.store.CreateJob(child); err != nil {
			return children, fmt.Errorf("create sub-job %q: %w", e.Title, err)
		}
		children = append(children, child)
	}

	d.log.Infow("decomposition ingested", "job", job.ID, "parent", parentID, "children", len(children))
	return children, nil
}
