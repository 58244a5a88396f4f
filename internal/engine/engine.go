// Package engine runs a composed prompt through a configured engine and
// maps the outcome onto a job status.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// ExitHumanRequired is the exit code an engine uses to ask for a human.
const ExitHumanRequired = 3

// maxOutputLen bounds raw output kept on a job for diagnosis.
const maxOutputLen = 4000

// ErrUnknownEngine is returned when a job names an unconfigured engine.
var ErrUnknownEngine = errors.New("unknown engine")

// Request is one execution.
type Request struct {
	JobID   string
	Prompt  string
	Command string
	Model   string
	Tools   []string
}

// Outcome is the structured result of an execution. Status is one of
// done, failed or paused_human.
type Outcome struct {
	Status       models.JobStatus `json:"status"`
	Engine       string           `json:"engine"`
	Result       string           `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	ExitCode     int              `json:"exit_code"`
	Output       string           `json:"output,omitempty"`
	EvidenceHash string           `json:"evidence_hash,omitempty"`
	Duration     time.Duration    `json:"duration_ns"`
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool { return o.Status == models.JobStatusDone }

// Engine executes requests.
type Engine interface {
	Name() string
	Run(ctx context.Context, req Request) Outcome
}

// Set maps engine names to engines.
type Set struct {
	engines map[string]Engine
}

// NewSet builds engines from configuration. The api engine talks to the
// Anthropic Messages API; every other entry runs a subprocess.
func NewSet(cfg *config.Config) *Set {
	s := &Set{engines: make(map[string]Engine)}
	for _, name := range cfg.EngineNames() {
		ec, _ := cfg.Engine(name)
		if name == models.EngineAPI {
			s.engines[name] = NewAPIEngine(name, cfg.Anthropic, ec.Timeout)
			continue
		}
		s.engines[name] = NewProcessEngine(name, ec)
	}
	return s
}

// NewSetOf builds a Set from explicit engines.
func NewSetOf(engines ...Engine) *Set {
	s := &Set{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		s.engines[strings.ToLower(e.Name())] = e
	}
	return s
}

// Get returns the named engine.
func (s *Set) Get(name string) (Engine, error) {
	e, ok := s.engines[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Names lists configured engines in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.engines))
	for n := range s.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run dispatches to the named engine. An unknown engine yields a failed
// outcome rather than an error so the job records why it did not run.
func (s *Set) Run(ctx context.Context, name string, req Request) Outcome {
	e, err := s.Get(name)
	if err != nil {
		return Outcome{Status: models.JobStatusFailed, Engine: name, Error: err.Error(), ExitCode: -1}
	}
	return e.Run(ctx, req)
}

// EvidenceHash is the hex sha256 of an execution log.
func EvidenceHash(log string) string {
	sum := sha256.Sum256([]byte(log))
	return hex.EncodeToString(sum[:])
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "... (truncated)"
}
