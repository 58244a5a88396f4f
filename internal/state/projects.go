package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// UpsertProject inserts or replaces a project specification.
func (db *DB) UpsertProject(p *models.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	milestones, _ := json.Marshal(nonNil(p.Milestones))
	criteria, _ := json.Marshal(nonNil(p.AcceptanceCriteria))
	constraints, _ := json.Marshal(nonNil(p.Constraints))

	_, err := db.conn.Exec(`
		INSERT INTO projects (id, name, overview, milestones, acceptance_criteria, constraints)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			overview = excluded.overview,
			milestones = excluded.milestones,
			acceptance_criteria = excluded.acceptance_criteria,
			constraints = excluded.constraints`,
		p.ID, p.Name, p.Overview, string(milestones), string(criteria), string(constraints),
	)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID. Returns nil, nil if not found.
func (db *DB) GetProject(id string) (*models.Project, error) {
	var (
		p                                 models.Project
		milestones, criteria, constraints string
	)
	err := db.conn.QueryRow(`
		SELECT id, name, overview, milestones, acceptance_criteria, constraints
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Overview, &milestones, &criteria, &constraints)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{milestones, &p.Milestones},
		{criteria, &p.AcceptanceCriteria},
		{constraints, &p.Constraints},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal project field: %w", err)
		}
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
