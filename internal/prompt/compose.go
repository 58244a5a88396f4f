// Package prompt assembles the instruction text handed to an engine.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// reviewContract tells reviewer agents what shape their answer must take.
const reviewContract = `Respond with a JSON object scoring the work from 1 to 10 on each of:
completeness, accuracy, actionability, revenue_relevance, evidence.
Add a "feedback" string with concrete fixes. Example:
{"completeness": 8, "accuracy": 7, "actionability": 9, "revenue_relevance": 6, "evidence": 7, "feedback": "..."}`

// decompositionContract tells orchestrator agents how to split work.
const decompositionContract = `Respond with a JSON array of sub-jobs. Each entry has:
"title" (required), "suggested_agent" (required, an agent name),
"priority" (1 = most urgent, 10 = least), "estimated_engine", "prompt_text".`

// Input is everything Compose needs. It performs no I/O.
type Input struct {
	Agent        *models.Agent
	Job          *models.Job
	Project      *models.Project
	MasterIntent string
	// ParentResult is the output under review, for review jobs.
	ParentResult string
}

// Compose concatenates, in order: agent persona, job title and
// instructions, project specification, master intent, prior review
// notes, and granted tools. Equal inputs give byte-identical output.
func Compose(in Input) string {
	var sb strings.Builder

	if in.Agent != nil && strings.TrimSpace(in.Agent.Persona) != "" {
		sb.WriteString(strings.TrimSpace(in.Agent.Persona))
		sb.WriteString("\n\n")
	}

	if in.Job != nil {
		sb.WriteString("## Job\n")
		sb.WriteString("Title: ")
		sb.WriteString(in.Job.Title)
		sb.WriteString("\n")
		if in.Job.PromptText != "" {
			sb.WriteString("\n")
			sb.WriteString(strings.TrimSpace(in.Job.PromptText))
			sb.WriteString("\n")
		}
		switch in.Job.Type {
		case models.JobTypeReview:
			if in.ParentResult != "" {
				sb.WriteString("\n### Work under review\n")
				sb.WriteString(strings.TrimSpace(in.ParentResult))
				sb.WriteString("\n")
			}
			sb.WriteString("\n### Output format\n")
			sb.WriteString(reviewContract)
			sb.WriteString("\n")
		case models.JobTypeDecomposition:
			sb.WriteString("\n### Output format\n")
			sb.WriteString(decompositionContract)
			sb.WriteString("\n")
		}
	}

	if p := in.Project; p != nil {
		sb.WriteString("\n## Project: ")
		sb.WriteString(p.Name)
		sb.WriteString("\n")
		if p.Overview != "" {
			sb.WriteString("Overview: ")
			sb.WriteString(strings.TrimSpace(p.Overview))
			sb.WriteString("\n")
		}
		writeList(&sb, "Milestones", p.Milestones)
		writeList(&sb, "Acceptance criteria", p.AcceptanceCriteria)
		writeList(&sb, "Constraints", p.Constraints)
	}

	if intent := strings.TrimSpace(in.MasterIntent); intent != "" {
		sb.WriteString("\n## Business intent\n")
		sb.WriteString(intent)
		sb.WriteString("\n")
	}

	if in.Job != nil && strings.TrimSpace(in.Job.ReviewNotes) != "" {
		sb.WriteString("\n## Feedback from the previous attempt\n")
		sb.WriteString(in.Job.ReviewNotes)
		sb.WriteString("\n\nAddress every point above in this attempt.\n")
	}

	if tools := Tools(in.Agent, in.Job); len(tools) > 0 {
		sb.WriteString("\n## Tools available\n")
		for _, t := range tools {
			if t.Usage != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Usage)
			} else {
				fmt.Fprintf(&sb, "- %s\n", t.Name)
			}
		}
	}

	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(title)
	sb.WriteString(":\n")
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
}

// Tools returns the union of agent-level and job-level grants, sorted by
// name. Agent usage notes win over bare job grants of the same name.
func Tools(agent *models.Agent, job *models.Job) []models.Skill {
	byName := map[string]models.Skill{}
	if agent != nil {
		for _, s := range agent.Skills {
			if s.Name != "" {
				byName[s.Name] = s
			}
		}
	}
	if job != nil {
		for _, name := range job.Tools {
			if _, ok := byName[name]; !ok && name != "" {
				byName[name] = models.Skill{Name: name}
			}
		}
	}
	out := make([]models.Skill, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source is the slice of the store the composer reads.
type Source interface {
	GetJob(id string) (*models.Job, error)
	GetAgent(id string) (*models.Agent, error)
	GetProject(id string) (*models.Project, error)
}

// Composer loads a job's context from the store and composes its prompt.
type Composer struct {
	store        Source
	masterIntent string
}

// NewComposer creates a Composer.
func NewComposer(store Source, masterIntent string) *Composer {
	return &Composer{store: store, masterIntent: masterIntent}
}

// ComposeForJob builds the prompt for jobID as seen by agentID.
func (c *Composer) ComposeForJob(ctx context.Context, jobID, agentID string) (string, error) {
	in, err := c.Load(ctx, jobID, agentID)
	if err != nil {
		return "", err
	}
	return Compose(in), nil
}

// Load gathers the Input for a job without composing it.
func (c *Composer) Load(ctx context.Context, jobID, agentID string) (Input, error) {
	if err := ctx.Err(); err != nil {
		return Input{}, err
	}
	job, err := c.store.GetJob(jobID)
	if err != nil {
		return Input{}, err
	}
	if job == nil {
		return Input{}, fmt.Errorf("job %s not found", jobID)
	}
	in := Input{Job: job, MasterIntent: c.masterIntent}

	if agentID != "" {
		if in.Agent, err = c.store.GetAgent(agentID); err != nil {
			return Input{}, err
		}
	}
	if job.ProjectID != "" {
		if in.Project, err = c.store.GetProject(job.ProjectID); err != nil {
			return Input{}, err
		}
	}
	if job.Type == models.JobTypeReview && job.ParentJobID != "" {
		parent, err := c.store.GetJob(job.ParentJobID)
		if err != nil {
			return Input{}, err
		}
		if parent != nil {
			in.ParentResult = parent.Result
		}
	}
	return in, nil
}
