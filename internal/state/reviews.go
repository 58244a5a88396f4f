package state

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// CreateReview stores an immutable QA review record.
func (db *DB) CreateReview(r *models.QAReview) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO qa_reviews (id, job_id, review_job_id, agent_id, completeness, accuracy,
			actionability, revenue_relevance, evidence, total, passed, feedback, malformed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.ReviewJobID, nullString(r.AgentID),
		r.Scores.Completeness, r.Scores.Accuracy, r.Scores.Actionability,
		r.Scores.RevenueRelevance, r.Scores.Evidence,
		r.Total, boolToInt(r.Passed), r.Feedback, boolToInt(r.Malformed), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// ListReviews returns the reviews recorded against a job, oldest first.
func (db *DB) ListReviews(jobID string) ([]models.QAReview, error) {
	rows, err := db.conn.Query(`
		SELECT id, job_id, review_job_id, COALESCE(agent_id, ''), completeness, accuracy,
			actionability, revenue_relevance, evidence, total, passed, feedback, malformed, created_at
		FROM qa_reviews WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.QAReview
	for rows.Next() {
		var (
			r                 models.QAReview
			passed, malformed int
			createdAt         string
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.ReviewJobID, &r.AgentID,
			&r.Scores.Completeness, &r.Scores.Accuracy, &r.Scores.Actionability,
			&r.Scores.RevenueRelevance, &r.Scores.Evidence,
			&r.Total, &passed, &r.Feedback, &malformed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Passed = passed != 0
		r.Malformed = malformed != 0
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
