package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Signal file names inside the signals directory.
const (
	SignalPause  = "pause"
	SignalResume = "resume"
)

// Pauser flips the global pause flag.
type Pauser interface {
	SetPaused(paused bool) error
}

// SignalWatcher turns files dropped into a directory into pause and
// resume commands, so operators can halt the scheduler with a touch.
type SignalWatcher struct {
	dir     string
	store   Pauser
	emitter *Emitter
	log     *zap.SugaredLogger
}

// NewSignalWatcher creates the signals directory if needed.
func NewSignalWatcher(dir string, store Pauser, emitter *Emitter) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &SignalWatcher{dir: dir, store: store, emitter: emitter, log: zap.S().Named("signals")}, nil
}

// Dir returns the watched directory.
func (w *SignalWatcher) Dir() string { return w.dir }

// Sync applies any signal files already present. A resume file wins
// over a pause file.
func (w *SignalWatcher) Sync() error {
	if exists(filepath.Join(w.dir, SignalResume)) {
		return w.apply(SignalResume)
	}
	if exists(filepath.Join(w.dir, SignalPause)) {
		return w.apply(SignalPause)
	}
	return nil
}

// Run watches until ctx is done. Without fsnotify support it falls back
// to polling every interval.
func (w *SignalWatcher) Run(ctx context.Context, interval time.Duration) error {
	if err := w.Sync(); err != nil {
		w.log.Errorw("apply existing signals", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(w.dir)
		if err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		w.log.Warnw("file watcher unavailable, polling", "dir", w.dir, "error", err)
		return w.poll(ctx, interval)
	}
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(ev.Name)
			if base != SignalPause && base != SignalResume {
				continue
			}
			if err := w.apply(base); err != nil {
				w.log.Errorw("apply signal", "signal", base, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("watch error", "error", err)
		}
	}
}

func (w *SignalWatcher) poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := w.Sync(); err != nil {
				w.log.Errorw("apply signals", "error", err)
			}
		}
	}
}

// apply sets the pause flag and consumes the signal files.
func (w *SignalWatcher) apply(signal string) error {
	paused := signal == SignalPause
	if err := w.store.SetPaused(paused); err != nil {
		return err
	}
	w.clear(SignalResume)
	if !paused {
		w.clear(SignalPause)
	}
	w.log.Infow("signal applied", "signal", signal, "paused", paused)
	if w.emitter != nil {
		w.emitter.Publish(Event{Type: EventSettingsChanged, Message: signal})
	}
	return nil
}

func (w *SignalWatcher) clear(name string) {
	if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warnw("remove signal file", "file", name, "error", err)
	}
}

// Send drops a signal file.
func Send(dir, signal string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, signal), []byte(time.Now().Format(time.RFC3339)), 0644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
