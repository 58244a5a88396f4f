package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// waitDelay bounds how long Wait blocks on pipes held open by
// grandchildren after the engine itself has been killed.
const waitDelay = 2 * time.Second

// ProcessEngine runs a subprocess with the prompt on stdin.
type ProcessEngine struct {
	name string
	cfg  config.EngineConfig
	log  *zap.SugaredLogger
}

// NewProcessEngine creates a subprocess engine.
func NewProcessEngine(name string, cfg config.EngineConfig) *ProcessEngine {
	return &ProcessEngine{name: name, cfg: cfg, log: zap.S().Named("engine").With("engine", name)}
}

// Name returns the engine name.
func (e *ProcessEngine) Name() string { return e.name }

// BuildArgs expands {model} and {command} placeholders and appends the
// tool flag. An argument whose placeholder expands to nothing is dropped
// together with a flag directly before it.
func BuildArgs(cfg config.EngineConfig, req Request) []string {
	values := map[string]string{"{model}": req.Model, "{command}": req.Command}

	args := make([]string, 0, len(cfg.Args)+2)
	for _, a := range cfg.Args {
		expanded := a
		empty := false
		for ph, v := range values {
			if strings.Contains(expanded, ph) {
				if v == "" {
					empty = true
				}
				expanded = strings.ReplaceAll(expanded, ph, v)
			}
		}
		if empty && strings.TrimSpace(expanded) == "" {
			if n := len(args); n > 0 && strings.HasPrefix(args[n-1], "-") {
				args = args[:n-1]
			}
			continue
		}
		args = append(args, expanded)
	}
	if cfg.ToolFlag != "" && len(req.Tools) > 0 {
		args = append(args, cfg.ToolFlag, strings.Join(req.Tools, ","))
	}
	return args
}

// Run executes the engine. The process is killed when ctx is done or the
// configured timeout elapses; it is never asked to stop cooperatively.
func (e *ProcessEngine) Run(ctx context.Context, req Request) Outcome {
	out := Outcome{Engine: e.name}
	if e.cfg.Command == "" {
		out.Status = models.JobStatusFailed
		out.Error = fmt.Sprintf("engine %s has no command configured", e.name)
		out.ExitCode = -1
		return out
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := BuildArgs(e.cfg, req)
	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debugw("starting engine", "job", req.JobID, "command", e.cfg.Command, "args", args)
	start := time.Now()
	err := cmd.Run()
	out.Duration = time.Since(start)

	log := stdout.String()
	if stderr.Len() > 0 {
		log += "\n--- stderr ---\n" + stderr.String()
	}
	out.Output = truncate(log, maxOutputLen)

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.Status = models.JobStatusFailed
		out.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			out.Error = fmt.Sprintf("timed out after %s", e.cfg.Timeout)
		} else {
			out.Error = ctxErr.Error()
		}
		return out
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			out.Status = models.JobStatusFailed
			out.ExitCode = -1
			out.Error = fmt.Sprintf("start %s: %v", e.cfg.Command, err)
			return out
		}
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode == ExitHumanRequired {
			out.Status = models.JobStatusPausedHuman
			out.Error = "engine requested human intervention"
			if p, perr := ParseResultLine(stdout.String()); perr == nil {
				out.Result = p.Result
				if p.Error != "" {
					out.Error = p.Error
				}
			}
			return out
		}
		out.Status = models.JobStatusFailed
		out.Error = fmt.Sprintf("exit status %d", out.ExitCode)
		if p, perr := ParseResultLine(stdout.String()); perr == nil && p.Error != "" {
			out.Error = p.Error
		} else if tail := lastLine(stderr.String()); tail != "" {
			out.Error += ": " + tail
		}
		return out
	}

	p, err := ParseResultLine(stdout.String())
	if err != nil {
		out.Status = models.JobStatusFailed
		out.Error = "unparseable engine output: " + err.Error()
		return out
	}
	if !p.OK {
		out.Status = models.JobStatusFailed
		out.Result = p.Result
		out.Error = p.Error
		if out.Error == "" {
			out.Error = "engine reported failure"
		}
		return out
	}

	out.Status = models.JobStatusDone
	out.Result = p.Result
	out.EvidenceHash = EvidenceHash(log)
	return out
}
