package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(4)
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Emit(Event{Type: EventJobClaimed, JobID: "j1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.JobID != "j1" || ev.Timestamp.IsZero() {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(Event{Type: EventJobClaimed})
	bus.Emit(Event{Type: EventJobClaimed})
	if bus.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", bus.DroppedCount())
	}
}

func TestBus_UnsubscribeCloses(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	bus.Emit(Event{Type: EventJobClaimed})
}

type memStore struct {
	mu     sync.Mutex
	notes  []models.Notification
	paused []bool
	err    error
}

func (m *memStore) CreateNotification(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notes = append(m.notes, *n)
	return nil
}

func (m *memStore) SetPaused(p bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = append(m.paused, p)
	return nil
}

func (m *memStore) lastPaused() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.paused) == 0 {
		return false, false
	}
	return m.paused[len(m.paused)-1], true
}

func TestEmitter_JobTerminal(t *testing.T) {
	tests := []struct {
		status models.JobStatus
		want   string
	}{
		{models.JobStatusFailed, KindJobFailed},
		{models.JobStatusPausedHuman, KindHumanRequired},
		{models.JobStatusRejected, KindReviewRejected},
		{models.JobStatusDone, KindJobDone},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			store := &memStore{}
			bus := NewBus(4)
			ch, cancel := bus.Subscribe()
			defer cancel()

			NewEmitter(store, bus).JobTerminal(context.Background(), &models.Job{ID: "j", Title: "T"}, tt.status, "why")
			if len(store.notes) != 1 || store.notes[0].Kind != tt.want || store.notes[0].JobID != "j" {
				t.Fatalf("notes = %+v", store.notes)
			}
			if ev := <-ch; ev.Type != EventNotification {
				t.Errorf("event type = %s", ev.Type)
			}
		})
	}
}

func TestEmitter_StoreFailureIsSwallowed(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	NewEmitter(store, nil).Notify(context.Background(), KindJobFailed, nil, "x", "")
}

func TestSignalWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	store := &memStore{}
	w, err := NewSignalWatcher(dir, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := Send(dir, SignalPause); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if p, ok := store.lastPaused(); !ok || !p {
		t.Fatalf("pause file did not pause")
	}

	if err := Send(dir, SignalResume); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if p, _ := store.lastPaused(); p {
		t.Error("resume file did not resume")
	}
	for _, f := range []string{SignalPause, SignalResume} {
		if _, err := os.Stat(filepath.Join(dir, f)); !os.IsNotExist(err) {
			t.Errorf("signal file %s not consumed", f)
		}
	}
}

func TestSignalWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	store := &memStore{}
	w, err := NewSignalWatcher(dir, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 50*time.Millisecond) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := Send(dir, SignalPause); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if p, ok := store.lastPaused(); ok && p {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pause signal never applied")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
