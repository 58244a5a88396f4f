// Package registry loads the agent roster and project specifications
// from YAML and seeds them into the store.
package registry

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// agentEntry mirrors models.Agent but lets "active" default to true.
type agentEntry struct {
	Name       string         `yaml:"name"`
	Role       string         `yaml:"role"`
	Department string         `yaml:"department"`
	Persona    string         `yaml:"persona"`
	Engine     string         `yaml:"engine"`
	Model      string         `yaml:"model"`
	Skills     []models.Skill `yaml:"skills"`
	Active     *bool          `yaml:"active"`
}

// File is the on-disk roster schema.
type File struct {
	Agents   []agentEntry     `yaml:"agents"`
	Projects []models.Project `yaml:"projects"`
}

// Roster is a validated, normalized registry file.
type Roster struct {
	Agents   []models.Agent
	Projects []models.Project
}

// Store is where a roster is written.
type Store interface {
	UpsertAgent(a *models.Agent) error
	UpsertProject(p *models.Project) error
}

// LoadFile reads and parses a roster file.
func LoadFile(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a roster document.
func Parse(data []byte) (*Roster, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	r := &Roster{}
	seen := map[string]bool{}
	for i, e := range f.Agents {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("agents[%d]: duplicate agent %q", i, name)
		}
		seen[name] = true

		a := models.Agent{
			Name:       name,
			Role:       strings.TrimSpace(e.Role),
			Department: strings.TrimSpace(e.Department),
			Persona:    strings.TrimSpace(e.Persona),
			Engine:     strings.TrimSpace(e.Engine),
			Model:      strings.TrimSpace(e.Model),
			Skills:     e.Skills,
			Active:     e.Active == nil || *e.Active,
		}
		if a.Engine == "" {
			a.Engine = models.EngineClaude
		}
		r.Agents = append(r.Agents, a)
	}

	for i, p := range f.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("projects[%d]: id is required", i)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		r.Projects = append(r.Projects, p)
	}
	return r, nil
}

// Apply upserts every agent and project. Agents are matched by name so
// reloading a roster keeps their performance history.
func (r *Roster) Apply(store Store) error {
	for i := range r.Agents {
		if err := store.UpsertAgent(&r.Agents[i]); err != nil {
			return fmt.Errorf("agent %s: %w", r.Agents[i].Name, err)
		}
	}
	for i := range r.Projects {
		if err := store.UpsertProject(&r.Projects[i]); err != nil {
			return fmt.Errorf("project %s: %w", r.Projects[i].ID, err)
		}
	}
	return nil
}
