package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestRecoveryManager_CheckAndRelease(t *testing.T) {
	db := setupTestDB(t)
	advance := fixClock(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rm := NewRecoveryManager(db, 10*time.Minute)

	j := mustCreateJob(t, db, &models.Job{Title: "hang"})
	db.ClaimJob(j.ID)

	if _, err := rm.Release(j.ID); err == nil {
		t.Error("Release before the threshold should fail")
	}

	advance(30 * time.Minute)
	stalled, err := rm.CheckStalled()
	if err != nil {
		t.Fatalf("CheckStalled failed: %v", err)
	}
	if len(stalled) != 1 || stalled[0].RunningFor != 30*time.Minute {
		t.Fatalf("CheckStalled = %+v", stalled)
	}

	ok, err := rm.Release(j.ID)
	if err != nil || !ok {
		t.Fatalf("Release = %v, %v", ok, err)
	}
	got, _ := db.GetJob(j.ID)
	if got.Status != models.JobStatusFailed || got.LastError == "" {
		t.Errorf("released job = %s %q", got.Status, got.LastError)
	}

	if _, err := db.Requeue(j.ID); err != nil {
		t.Errorf("released job should be requeueable: %v", err)
	}
}
