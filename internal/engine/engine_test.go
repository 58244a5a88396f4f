package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func shellEngine(script string, timeout time.Duration) *ProcessEngine {
	return NewProcessEngine("test", config.EngineConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Timeout: timeout,
	})
}

func TestProcessEngine_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantStatus models.JobStatus
		wantResult string
		wantErr    string
	}{
		{
			name:       "success",
			script:     `cat >/dev/null; echo "working..."; echo '{"ok":true,"result":"shipped"}'`,
			wantStatus: models.JobStatusDone,
			wantResult: "shipped",
		},
		{
			name:       "engine reports failure",
			script:     `echo '{"ok":false,"error":"quota"}'`,
			wantStatus: models.JobStatusFailed,
			wantErr:    "quota",
		},
		{
			name:       "claude cli format",
			script:     `echo '{"type":"result","subtype":"success","is_error":false,"result":"hello"}'`,
			wantStatus: models.JobStatusDone,
			wantResult: "hello",
		},
		{
			name:       "unparseable",
			script:     `echo "just prose"`,
			wantStatus: models.JobStatusFailed,
			wantErr:    "unparseable",
		},
		{
			name:       "human required",
			script:     `echo '{"ok":false,"error":"need approval"}'; exit 3`,
			wantStatus: models.JobStatusPausedHuman,
			wantErr:    "need approval",
		},
		{
			name:       "nonzero exit",
			script:     `echo "boom" >&2; exit 2`,
			wantStatus: models.JobStatusFailed,
			wantErr:    "exit status 2: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := shellEngine(tt.script, 10*time.Second).Run(context.Background(), Request{Prompt: "hi"})
			if out.Status != tt.wantStatus {
				t.Fatalf("Status = %s, want %s (error %q)", out.Status, tt.wantStatus, out.Error)
			}
			if out.Result != tt.wantResult {
				t.Errorf("Result = %q, want %q", out.Result, tt.wantResult)
			}
			if tt.wantErr != "" && !strings.Contains(out.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", out.Error, tt.wantErr)
			}
			if out.OK() != (out.EvidenceHash != "") {
				t.Errorf("evidence hash %q inconsistent with status %s", out.EvidenceHash, out.Status)
			}
		})
	}
}

func TestProcessEngine_PromptOnStdin(t *testing.T) {
	script := `read line; printf '{"ok":true,"result":"%s"}\n' "$line"`
	out := shellEngine(script, 10*time.Second).Run(context.Background(), Request{Prompt: "echo me\n"})
	if out.Result != "echo me" {
		t.Errorf("Result = %q, want prompt echoed back", out.Result)
	}
}

func TestProcessEngine_Timeout(t *testing.T) {
	start := time.Now()
	out := shellEngine("sleep 10", 200*time.Millisecond).Run(context.Background(), Request{})
	if out.Status != models.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Error, "timed out") {
		t.Errorf("Error = %q, want timeout", out.Error)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s, process was not killed", elapsed)
	}
}

func TestProcessEngine_TruncatesOutput(t *testing.T) {
	out := shellEngine(`head -c 20000 /dev/zero | tr '\0' 'x'`, 10*time.Second).Run(context.Background(), Request{})
	if out.Status != models.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if len(out.Output) > maxOutputLen+len("... (truncated)") {
		t.Errorf("Output length = %d, not truncated", len(out.Output))
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "héllo", 10, "héllo"},
		{"ascii", "abcdef", 3, "abc... (truncated)"},
		{"inside two-byte rune", "aé", 2, "a... (truncated)"},
		{"inside four-byte rune", "ab🚀cd", 4, "ab... (truncated)"},
		{"on boundary", "ab🚀cd", 6, "ab🚀... (truncated)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) is not valid UTF-8", tt.in, tt.n)
			}
		})
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := config.EngineConfig{
		Args:     []string{"-p", "--model", "{model}", "--run", "{command}"},
		ToolFlag: "--allowedTools",
	}
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"all set", Request{Model: "opus", Command: "ls", Tools: []string{"Read", "Bash"}}, "-p --model opus --run ls --allowedTools Read,Bash"},
		{"no model drops flag", Request{Command: "ls"}, "-p --run ls"},
		{"nothing set", Request{}, "-p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(BuildArgs(cfg, tt.req), " "); got != tt.want {
				t.Errorf("BuildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseResultLine(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		wantOK  bool
		wantErr bool
	}{
		{"native ok", "log\n{\"ok\":true,\"result\":\"r\"}\n\n", true, false},
		{"claude error", `{"type":"result","subtype":"error_max_turns","is_error":true}`, false, false},
		{"no marker", `{"result":"r"}`, false, true},
		{"empty", "\n\n", false, true},
		{"json not last", "{\"ok\":true}\ntrailing", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseResultLine(tt.stdout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResultLine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", p.OK, tt.wantOK)
			}
		})
	}
}

func TestSet_Unknown(t *testing.T) {
	s := NewSetOf(shellEngine("true", time.Second))
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownEngine", err)
	}
	out := s.Run(context.Background(), "nope", Request{})
	if out.Status != models.JobStatusFailed {
		t.Errorf("Run(nope) status = %s, want failed", out.Status)
	}
}

func TestNewSet_FromConfig(t *testing.T) {
	s := NewSet(config.Default())
	for _, name := range []string{models.EngineClaude, models.EngineShell, models.EngineAPI} {
		if _, err := s.Get(name); err != nil {
			t.Errorf("default config missing engine %q: %v", name, err)
		}
	}
}

func TestAPIEngine_RejectsBadKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"missing", "", config.ErrNoAPIKey.Error()},
		{"wrong prefix", "not-a-real-key-0123456789", "sk-ant-"},
		{"too short", "sk-ant-abc", "too short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", tt.key)
			e := NewAPIEngine(models.EngineAPI, config.AnthropicConfig{}, time.Second)
			out := e.Run(context.Background(), Request{Prompt: "hi"})
			if out.Status != models.JobStatusFailed || out.ExitCode != -1 {
				t.Fatalf("Run() = %s/%d, want failed/-1", out.Status, out.ExitCode)
			}
			if !strings.Contains(out.Error, tt.want) {
				t.Errorf("Error = %q, want it to contain %q", out.Error, tt.want)
			}
		})
	}
}

func TestEvidenceHash(t *testing.T) {
	if EvidenceHash("a") == EvidenceHash("b") {
		t.Error("distinct logs share a hash")
	}
	if len(EvidenceHash("")) != 64 {
		t.Error("hash should be hex sha256")
	}
}
