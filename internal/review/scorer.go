package review

import (
	"context"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Store is the persistence the scorer writes to.
type Store interface {
	GetJob(id string) (*models.Job, error)
	CreateReview(r *models.QAReview) error
	RecordReviewOutcome(jobID string, total int, notes string, passed bool) error
	RecordAgentReview(agentID string, total int, passed bool) error
}

// Scorer ingests completed review jobs.
type Scorer struct {
	store Store
	log   *zap.SugaredLogger
}

// NewScorer creates a Scorer.
func NewScorer(store Store) *Scorer {
	return &Scorer{store: store, log: zap.S().Named("review")}
}

// Ingest parses the output of a review job and records the verdict on
// the review's parent job. It never returns an error: store failures are
// logged and a parse failure is recorded as a minimum score.
func (s *Scorer) Ingest(ctx context.Context, reviewJob *models.Job, output string) (models.QAReview, Result) {
	res := Parse(output)
	qa := models.QAReview{
		JobID:       reviewJob.ParentJobID,
		ReviewJobID: reviewJob.ID,
		AgentID:     reviewJob.AgentID,
		Scores:      res.Scores,
		Total:       res.Total(),
		Passed:      res.Passed(),
		Feedback:    res.Notes(),
		Malformed:   res.Malformed,
	}
	if res.Malformed {
		s.log.Warnw("malformed review output", "review_job", reviewJob.ID, "parent", reviewJob.ParentJobID)
	}
	if reviewJob.ParentJobID == "" {
		s.log.Errorw("review job has no parent", "review_job", reviewJob.ID)
		return qa, res
	}
	if err := ctx.Err(); err != nil {
		s.log.Warnw("recording review after cancellation", "review_job", reviewJob.ID, "error", err)
	}

	if err := s.store.CreateReview(&qa); err != nil {
		s.log.Errorw("store review", "review_job", reviewJob.ID, "error", err)
	}
	if err := s.store.RecordReviewOutcome(qa.JobID, qa.Total, qa.Feedback, qa.Passed); err != nil {
		s.log.Errorw("write review outcome", "job", qa.JobID, "error", err)
	}

	// Performance counters belong to the agent whose work was reviewed.
	parent, err := s.store.GetJob(qa.JobID)
	switch {
	case err != nil:
		s.log.Errorw("load reviewed job", "job", qa.JobID, "error", err)
	case parent != nil && parent.AgentID != "":
		if err := s.store.RecordAgentReview(parent.AgentID, qa.Total, qa.Passed); err != nil {
			s.log.Errorw("update agent stats", "agent", parent.AgentID, "error", err)
		}
	}

	s.log.Infow("review recorded", "job", qa.JobID, "total", qa.Total, "passed", qa.Passed)
	return qa, res
}
