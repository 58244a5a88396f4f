package state

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// StalledJob is a job that has been running past the stall threshold.
type StalledJob struct {
	Job        models.Job    `json:"job"`
	RunningFor time.Duration `json:"running_for"`
}

// RecoveryManager detects stalled jobs and releases them on request.
// It never requeues anything by itself: the original process may still
// finish and a silent requeue would duplicate its side effects.
type RecoveryManager struct {
	db        *DB
	threshold time.Duration
	log       *zap.SugaredLogger
}

// NewRecoveryManager creates a RecoveryManager that treats jobs running
// longer than threshold as stalled.
func NewRecoveryManager(db *DB, threshold time.Duration) *RecoveryManager {
	return &RecoveryManager{db: db, threshold: threshold, log: zap.S().Named("recovery")}
}

// Threshold returns the stall threshold.
func (rm *RecoveryManager) Threshold() time.Duration {
	return rm.threshold
}

// CheckStalled reports every job running past the threshold.
func (rm *RecoveryManager) CheckStalled() ([]StalledJob, error) {
	jobs, err := rm.db.StalledJobs(rm.threshold)
	if err != nil {
		return nil, err
	}
	at := now()
	out := make([]StalledJob, 0, len(jobs))
	for _, j := range jobs {
		sj := StalledJob{Job: j}
		if j.StartedAt != nil {
			sj.RunningFor = at.Sub(*j.StartedAt)
		}
		out = append(out, sj)
	}
	return out, nil
}

// Release marks a stalled job failed so a human can requeue or approve it.
// The write is tied to the observed running period; if the process
// finished in the meantime nothing changes and false is returned.
func (rm *RecoveryManager) Release(jobID string) (bool, error) {
	j, err := rm.db.GetJob(jobID)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, ErrNotFound
	}
	if j.Status != models.JobStatusRunning || j.StartedAt == nil {
		return false, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, j.Status)
	}
	if now().Sub(*j.StartedAt) < rm.threshold {
		return false, fmt.Errorf("job %s is not stalled", jobID)
	}

	ok, err := rm.db.CompleteRun(jobID, *j.StartedAt, RunRecord{
		Status:    models.JobStatusFailed,
		LastError: fmt.Sprintf("stalled: running for more than %s", rm.threshold),
	})
	if err != nil {
		return false, err
	}
	if ok {
		rm.log.Infof("Released stalled job %s", jobID)
	}
	return ok, nil
}
