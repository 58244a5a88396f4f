package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func sampleInput() Input {
	return Input{
		Agent: &models.Agent{
			Name:    "Scribe",
			Persona: "You are Scribe, a growth copywriter.",
			Skills: []models.Skill{
				{Name: "web_search", Usage: "cite sources"},
				{Name: "analytics"},
			},
		},
		Job: &models.Job{
			Title:       "Write launch email",
			PromptText:  "Draft the announcement.",
			ReviewNotes: "Add a clear call to action.",
			Tools:       []string{"web_search", "crm"},
		},
		Project: &models.Project{
			Name:               "Launch",
			Overview:           "Ship v1",
			Milestones:         []string{"beta"},
			AcceptanceCriteria: []string{"200 signups"},
			Constraints:        []string{"no paid ads"},
		},
		MasterIntent: "Grow MRR.",
	}
}

func TestCompose_Order(t *testing.T) {
	out := Compose(sampleInput())

	markers := []string{
		"You are Scribe",
		"Title: Write launch email",
		"Draft the announcement.",
		"## Project: Launch",
		"- 200 signups",
		"## Business intent",
		"## Feedback from the previous attempt",
		"Add a clear call to action.",
		"Address every point above",
		"## Tools available",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		if idx < 0 {
			t.Fatalf("output missing %q:\n%s", m, out)
		}
		if idx < last {
			t.Errorf("%q appears out of order", m)
		}
		last = idx
	}
}

func TestCompose_Deterministic(t *testing.T) {
	a := Compose(sampleInput())
	for i := 0; i < 20; i++ {
		if b := Compose(sampleInput()); b != a {
			t.Fatal("Compose is not deterministic")
		}
	}
}

func TestCompose_OmitsEmptySections(t *testing.T) {
	out := Compose(Input{Job: &models.Job{Title: "Bare"}})
	for _, s := range []string{"## Project", "## Business intent", "## Feedback", "## Tools"} {
		if strings.Contains(out, s) {
			t.Errorf("unexpected section %q in:\n%s", s, out)
		}
	}
}

func TestCompose_ReviewContract(t *testing.T) {
	out := Compose(Input{
		Job:          &models.Job{Title: "Review", Type: models.JobTypeReview},
		ParentResult: "the draft",
	})
	if !strings.Contains(out, "revenue_relevance") || !strings.Contains(out, "the draft") {
		t.Errorf("review prompt missing contract or work:\n%s", out)
	}
}

func TestTools_Union(t *testing.T) {
	in := sampleInput()
	tools := Tools(in.Agent, in.Job)

	var names []string
	for _, s := range tools {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "analytics,crm,web_search" {
		t.Errorf("Tools = %s, want analytics,crm,web_search", got)
	}
	for _, s := range tools {
		if s.Name == "web_search" && s.Usage != "cite sources" {
			t.Errorf("agent usage note lost: %+v", s)
		}
	}
}

type fakeSource struct {
	jobs     map[string]*models.Job
	agents   map[string]*models.Agent
	projects map[string]*models.Project
}

func (f fakeSource) GetJob(id string) (*models.Job, error)         { return f.jobs[id], nil }
func (f fakeSource) GetAgent(id string) (*models.Agent, error)     { return f.agents[id], nil }
func (f fakeSource) GetProject(id string) (*models.Project, error) { return f.projects[id], nil }

func TestComposer_ComposeForJob(t *testing.T) {
	src := fakeSource{
		jobs: map[string]*models.Job{
			"parent": {ID: "parent", Title: "Write", Result: "final copy"},
			"rev":    {ID: "rev", Title: "Review", Type: models.JobTypeReview, ParentJobID: "parent", ProjectID: "p"},
		},
		agents:   map[string]*models.Agent{"qa": {ID: "qa", Persona: "You are QA."}},
		projects: map[string]*models.Project{"p": {ID: "p", Name: "Launch"}},
	}
	c := NewComposer(src, "Be frugal.")

	out, err := c.ComposeForJob(context.Background(), "rev", "qa")
	if err != nil {
		t.Fatalf("ComposeForJob failed: %v", err)
	}
	for _, want := range []string{"You are QA.", "final copy", "## Project: Launch", "Be frugal."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	if _, err := c.ComposeForJob(context.Background(), "nope", ""); err == nil {
		t.Error("expected error for missing job")
	}
}
