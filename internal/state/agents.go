package state

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

const agentColumns = `id, name, role, department, persona, engine, model, active,
	quality_score_avg, reviews_count, consecutive_failures`

func scanAgent(s rowScanner) (*models.Agent, error) {
	var a models.Agent
	var active int
	err := s.Scan(&a.ID, &a.Name, &a.Role, &a.Department, &a.Persona, &a.Engine, &a.Model,
		&active, &a.QualityScoreAvg, &a.ReviewsCount, &a.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	a.Active = active != 0
	return &a, nil
}

// UpsertAgent inserts an agent or updates its configuration by name.
// Performance counters are never overwritten. Skills are replaced.
func (db *DB) UpsertAgent(a *models.Agent) error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.Engine == "" {
		a.Engine = models.EngineClaude
	}

	return db.Transaction(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`SELECT id FROM agents WHERE name = ?`, a.Name).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			_, err = tx.Exec(`
				INSERT INTO agents (id, name, role, department, persona, engine, model, active)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, a.Name, a.Role, a.Department, a.Persona, a.Engine, a.Model, boolToInt(a.Active),
			)
			if err != nil {
				return fmt.Errorf("insert agent: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup agent: %w", err)
		default:
			a.ID = existing
			_, err = tx.Exec(`
				UPDATE agents SET role = ?, department = ?, persona = ?, engine = ?, model = ?, active = ?
				WHERE id = ?`,
				a.Role, a.Department, a.Persona, a.Engine, a.Model, boolToInt(a.Active), a.ID,
			)
			if err != nil {
				return fmt.Errorf("update agent: %w", err)
			}
		}

		if _, err := tx.Exec(`DELETE FROM agent_skills WHERE agent_id = ?`, a.ID); err != nil {
			return fmt.Errorf("clear skills: %w", err)
		}
		for _, s := range a.Skills {
			if _, err := tx.Exec(`INSERT INTO agent_skills (agent_id, name, usage) VALUES (?, ?, ?)`,
				a.ID, s.Name, s.Usage); err != nil {
				return fmt.Errorf("insert skill %s: %w", s.Name, err)
			}
		}
		return nil
	})
}

// GetAgent retrieves an agent by ID, including skills. Returns nil, nil if
// not found.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	return db.getAgentWhere("id = ?", id)
}

// GetAgentByName retrieves an agent by name. Returns nil, nil if not found.
func (db *DB) GetAgentByName(name string) (*models.Agent, error) {
	return db.getAgentWhere("name = ?", name)
}

func (db *DB) getAgentWhere(cond string, arg any) (*models.Agent, error) {
	row := db.conn.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE `+cond, arg)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if a.Skills, err = db.listSkills(a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgents returns agents ordered by name, optionally only active ones.
func (db *DB) ListAgents(activeOnly bool) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Skills are loaded after the cursor is closed; the pool holds a
	// single connection.
	for i := range agents {
		if agents[i].Skills, err = db.listSkills(agents[i].ID); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

func (db *DB) listSkills(agentID string) ([]models.Skill, error) {
	rows, err := db.conn.Query(`SELECT name, usage FROM agent_skills WHERE agent_id = ? ORDER BY name`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []models.Skill
	for rows.Next() {
		var s models.Skill
		if err := rows.Scan(&s.Name, &s.Usage); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// RecordAgentReview folds one QA total into the agent's running average
// and updates its failure streak.
func (db *DB) RecordAgentReview(agentID string, total int, passed bool) error {
	res, err := db.conn.Exec(`
		UPDATE agents SET
			quality_score_avg = (quality_score_avg * reviews_count + ?) / (reviews_count + 1),
			reviews_count = reviews_count + 1,
			consecutive_failures = CASE WHEN ? THEN 0 ELSE consecutive_failures + 1 END
		WHERE id = ?`,
		float64(total), boolToInt(passed), agentID,
	)
	if err != nil {
		return fmt.Errorf("record agent review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
