package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "mc.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// reviewingParent creates a task owned by agent and moves it to reviewing.
func reviewingParent(t *testing.T, db *state.DB, agentID string) *models.Job {
	t.Helper()
	parent := &models.Job{Title: "write copy", AgentID: agentID}
	if err := db.CreateJob(parent); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	claimed, err := db.ClaimJob(parent.ID)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	ok, err := db.CompleteRun(parent.ID, *claimed.StartedAt, state.RunRecord{
		Status: models.JobStatusReviewing,
		Result: "copy",
	})
	if err != nil || !ok {
		t.Fatalf("CompleteRun = %v, %v", ok, err)
	}
	return parent
}

func TestScorer_Ingest(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantStatus models.JobStatus
		wantScore  int
		wantFails  int
	}{
		{
			name:       "pass",
			output:     `Verdict: {"completeness":9,"accuracy":9,"actionability":9,"revenue_relevance":9,"evidence":9,"feedback":"solid"}`,
			wantStatus: models.JobStatusDone,
			wantScore:  45,
		},
		{
			name:       "fail",
			output:     `{"completeness":5,"accuracy":5,"actionability":5,"revenue_relevance":5,"evidence":5,"feedback":"thin"}`,
			wantStatus: models.JobStatusRejected,
			wantScore:  25,
			wantFails:  1,
		},
		{
			name:       "malformed",
			output:     "I could not review this.",
			wantStatus: models.JobStatusRejected,
			wantScore:  5,
			wantFails:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupStore(t)
			worker := &models.Agent{Name: "Scribe", Active: true}
			if err := db.UpsertAgent(worker); err != nil {
				t.Fatalf("UpsertAgent: %v", err)
			}
			parent := reviewingParent(t, db, worker.ID)
			reviewJob := &models.Job{
				ID:          "rev-1",
				Type:        models.JobTypeReview,
				ParentJobID: parent.ID,
			}

			qa, _ := NewScorer(db).Ingest(context.Background(), reviewJob, tt.output)
			if qa.Total != tt.wantScore {
				t.Errorf("Total = %d, want %d", qa.Total, tt.wantScore)
			}

			got, err := db.GetJob(parent.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("parent status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.QualityScore == nil || *got.QualityScore != tt.wantScore {
				t.Errorf("parent quality_score = %v, want %d", got.QualityScore, tt.wantScore)
			}
			if got.ReviewNotes == "" {
				t.Error("parent review_notes not written")
			}

			reviews, err := db.ListReviews(parent.ID)
			if err != nil || len(reviews) != 1 {
				t.Fatalf("ListReviews = %d, %v", len(reviews), err)
			}

			a, _ := db.GetAgent(worker.ID)
			if a.ReviewsCount != 1 {
				t.Errorf("ReviewsCount = %d, want 1", a.ReviewsCount)
			}
			if a.ConsecutiveFailures != tt.wantFails {
				t.Errorf("ConsecutiveFailures = %d, want %d", a.ConsecutiveFailures, tt.wantFails)
			}
		})
	}
}

func TestScorer_IngestOrphanDoesNotPanic(t *testing.T) {
	db := setupStore(t)
	qa, res := NewScorer(db).Ingest(context.Background(), &models.Job{ID: "r"}, "{}")
	if !res.Malformed {
		t.Error("empty object should be malformed")
	}
	if qa.Total != 5 {
		t.Errorf("Total = %d, want 5", qa.Total)
	}
}
