package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

type fakeSource struct {
	jobs   []models.Job
	paused bool
	err    error
}

func (f *fakeSource) ListJobs(state.JobFilter) ([]models.Job, error) { return f.jobs, f.err }

func (f *fakeSource) Snapshot() (state.Snapshot, error) {
	return state.Snapshot{PauseAll: f.paused, MaxConcurrency: 2}, nil
}

func (f *fakeSource) ListNotifications(bool) ([]models.Notification, error) {
	return []models.Notification{{ID: "n1"}}, nil
}

func TestRows(t *testing.T) {
	now := time.Now()
	jobs := []models.Job{
		{ID: "0123456789", Title: "queued", Status: models.JobStatusQueued, Type: models.JobTypeTask, Priority: 5, CreatedAt: now.Add(-90 * time.Second)},
		{ID: "b", Title: "done", Status: models.JobStatusDone, Type: models.JobTypeTask, CreatedAt: now},
		{ID: "c", Title: "failed", Status: models.JobStatusFailed, Type: models.JobTypeReview, CreatedAt: now.Add(-3 * time.Hour)},
	}

	active := Rows(jobs, true, now)
	if len(active) != 2 {
		t.Fatalf("active rows = %d, want 2 (done hidden)", len(active))
	}
	if active[0][0] != "01234567" {
		t.Errorf("id column = %q, want truncated id", active[0][0])
	}
	if active[0][4] != "1m" || active[1][4] != "3h" {
		t.Errorf("ages = %q, %q", active[0][4], active[1][4])
	}
	if all := Rows(jobs, false, now); len(all) != 3 {
		t.Errorf("all rows = %d, want 3", len(all))
	}
}

func TestWatch_LoadAndView(t *testing.T) {
	src := &fakeSource{
		paused: true,
		jobs: []models.Job{
			{ID: "a", Title: "Write copy", Status: models.JobStatusRunning, Type: models.JobTypeTask, CreatedAt: time.Now()},
		},
	}
	w := NewWatch(src, nil, time.Second)

	model, cmd := w.Update(w.load())
	if cmd == nil {
		t.Error("load did not schedule the next refresh")
	}
	view := model.View()
	for _, want := range []string{"1/2 running", "PAUSED", "1 unread", "Write copy"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	src.err = errors.New("database is locked")
	model, _ = w.Update(w.load())
	if !strings.Contains(model.View(), "database is locked") {
		t.Error("load error not shown")
	}
}

func TestWatch_Events(t *testing.T) {
	events := make(chan notify.Event, 1)
	w := NewWatch(&fakeSource{}, events, time.Second)
	events <- notify.Event{Type: notify.EventJobFinished, JobTitle: "Write copy", Status: "reviewing"}

	msg := w.waitForEvent()
	if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("waitForEvent = %T, want eventMsg", msg)
	}
	model, _ := w.Update(msg)
	if !strings.Contains(model.View(), "job_finished Write copy → reviewing") {
		t.Errorf("event line missing:\n%s", model.View())
	}
}

func TestWatch_Keys(t *testing.T) {
	w := NewWatch(&fakeSource{}, nil, time.Second)
	w.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	if w.activeOnly {
		t.Error("a should toggle to all jobs")
	}
	if _, cmd := w.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q should quit")
	}
}
