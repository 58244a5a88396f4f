package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/metrics"
	"github.com/ShayCichocki/missioncontrol/internal/version"
)

// Prober reports whether downstream dependencies are reachable.
type Prober func(ctx context.Context) error

// LoopConfig configures the poll loop.
type LoopConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Jitter      time.Duration
	StallAfter  time.Duration
	// Probe gates every tick; nil means always healthy.
	Probe Prober
}

// Loop ticks the scheduler until its context ends. While the probe
// fails the interval doubles up to MaxInterval; the first healthy probe
// resets it.
type Loop struct {
	sched  *Scheduler
	cfg    LoopConfig
	stalls stallTracker
	log    *zap.SugaredLogger
}

// NewLoop creates a Loop.
func NewLoop(sched *Scheduler, cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	return &Loop{sched: sched, cfg: cfg, log: zap.S().Named("loop")}
}

// NextInterval returns the interval after a probe: doubled and capped
// when unhealthy, back to base when healthy.
func NextInterval(current, base, max time.Duration, healthy bool) time.Duration {
	if healthy {
		return base
	}
	next := current * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// Run blocks until ctx is done. The first step runs immediately.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Step(ctx, l.cfg.Interval)
	for {
		ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: l.cfg.Jitter})
		select {
		case <-ctx.Done():
			ticker.Stop()
			l.log.Info("scheduler loop stopped")
			return nil
		case <-ticker.C:
		}
		ticker.Stop()
		interval = l.Step(ctx, interval)
	}
}

// Step probes, reports stalled jobs and ticks once. It returns the
// interval to wait before the next step.
func (l *Loop) Step(ctx context.Context, current time.Duration) time.Duration {
	if l.cfg.Probe != nil {
		if err := l.cfg.Probe(ctx); err != nil {
			next := NextInterval(current, l.cfg.Interval, l.cfg.MaxInterval, false)
			l.log.Warnw("health probe failed, backing off", "error", err, "next", next)
			metrics.SetTickInterval(next.Seconds())
			return next
		}
	}
	next := NextInterval(current, l.cfg.Interval, l.cfg.MaxInterval, true)
	metrics.SetTickInterval(next.Seconds())

	if l.cfg.StallAfter > 0 {
		if _, err := l.sched.ReportStalled(ctx, l.cfg.StallAfter, &l.stalls); err != nil {
			l.log.Errorw("stall probe", "error", err)
		}
	}
	if _, err := l.sched.Tick(ctx); err != nil {
		l.log.Errorw("tick failed", "error", err)
	}
	return next
}

// HealthProbe pings the store and, if url is set, expects a non-5xx
// answer from it.
func HealthProbe(ping func() error, url string, timeout time.Duration) Prober {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) error {
		if err := ping(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if url == "" {
			return nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %s", url, resp.Status)
		}
		return nil
	}
}
