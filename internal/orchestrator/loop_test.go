package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestNextInterval(t *testing.T) {
	base, max := 30*time.Second, 5*time.Minute
	tests := []struct {
		current time.Duration
		healthy bool
		want    time.Duration
	}{
		{base, false, time.Minute},
		{time.Minute, false, 2 * time.Minute},
		{4 * time.Minute, false, max},
		{max, false, max},
		{max, true, base},
		{time.Minute, true, base},
	}
	for _, tt := range tests {
		if got := NextInterval(tt.current, base, max, tt.healthy); got != tt.want {
			t.Errorf("NextInterval(%s, healthy=%v) = %s, want %s", tt.current, tt.healthy, got, tt.want)
		}
	}
}

func TestLoop_StepBacksOffAndResets(t *testing.T) {
	f := setup(t)
	healthy := false
	loop := NewLoop(f.sched, LoopConfig{
		Interval:    30 * time.Second,
		MaxInterval: 5 * time.Minute,
		Probe: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("down")
		},
	})
	f.enqueue(t, &models.Job{Title: "waiting"})

	interval := loop.cfg.Interval
	for _, want := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute} {
		interval = loop.Step(f.ctx, interval)
		if interval != want {
			t.Fatalf("interval = %s, want %s", interval, want)
		}
	}
	if running, _ := f.db.CountRunning(); running != 0 {
		t.Error("tick ran while probe failing")
	}

	healthy = true
	if interval = loop.Step(f.ctx, interval); interval != 30*time.Second {
		t.Errorf("interval after recovery = %s, want 30s", interval)
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	ok := func() error { return nil }

	if err := HealthProbe(ok, srv.URL+"/good", time.Second)(context.Background()); err != nil {
		t.Errorf("healthy probe failed: %v", err)
	}
	if err := HealthProbe(ok, srv.URL+"/bad", time.Second)(context.Background()); err == nil {
		t.Error("5xx should fail the probe")
	}
	if err := HealthProbe(func() error { return errors.New("locked") }, "", time.Second)(context.Background()); err == nil {
		t.Error("store failure should fail the probe")
	}
}
