package models

import "time"

// QA scoring bounds.
const (
	ScoreMin      = 1
	ScoreMax      = 10
	PassThreshold = 35
)

// ReviewScores holds the five QA dimensions, each 1-10.
type ReviewScores struct {
	Completeness     int `json:"completeness"`
	Accuracy         int `json:"accuracy"`
	Actionability    int `json:"actionability"`
	RevenueRelevance int `json:"revenue_relevance"`
	Evidence         int `json:"evidence"`
}

// Total returns the sum of all dimensions (max 50).
func (s ReviewScores) Total() int {
	return s.Completeness + s.Accuracy + s.Actionability + s.RevenueRelevance + s.Evidence
}

// Passed reports whether the total meets the inclusive pass threshold.
func (s ReviewScores) Passed() bool {
	return s.Total() >= PassThreshold
}

// Valid returns true if every dimension is within [ScoreMin, ScoreMax].
func (s ReviewScores) Valid() bool {
	for _, v := range []int{s.Completeness, s.Accuracy, s.Actionability, s.RevenueRelevance, s.Evidence} {
		if v < ScoreMin || v > ScoreMax {
			return false
		}
	}
	return true
}

// QAReview is an immutable review record attached to a parent job.
type QAReview struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	ReviewJobID string       `json:"review_job_id"`
	AgentID     string       `json:"agent_id,omitempty"`
	Scores      ReviewScores `json:"scores"`
	Total       int          `json:"total"`
	Passed      bool         `json:"passed"`
	Feedback    string       `json:"feedback,omitempty"`
	Malformed   bool         `json:"malformed"`
	CreatedAt   time.Time    `json:"created_at"`
}
