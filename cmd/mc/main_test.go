package main

import (
	"testing"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/internal/engine"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestParseChallengers(t *testing.T) {
	tests := []struct {
		name     string
		specs    []string
		expected []board.Challenger
	}{
		{
			name:     "agent only",
			specs:    []string{"Scribe"},
			expected: []board.Challenger{{Agent: "Scribe"}},
		},
		{
			name:     "agent with perspective",
			specs:    []string{"Atlas: risk"},
			expected: []board.Challenger{{Agent: "Atlas", Perspective: "risk"}},
		},
		{
			name:     "several",
			specs:    []string{"Scribe:customer", "Atlas"},
			expected: []board.Challenger{{Agent: "Scribe", Perspective: "customer"}, {Agent: "Atlas"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseChallengers(tt.specs)
			if len(got) != len(tt.expected) {
				t.Fatalf("parseChallengers(%v) = %v, want %v", tt.specs, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("parseChallengers(%v)[%d] = %+v, want %+v", tt.specs, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestChatEngine(t *testing.T) {
	withoutAPI := config.Default()
	delete(withoutAPI.Engines, models.EngineAPI)

	tests := []struct {
		name     string
		cfg      *config.Config
		expected string
	}{
		{name: "prefers api when configured", cfg: config.Default(), expected: models.EngineAPI},
		{name: "falls back to claude", cfg: withoutAPI, expected: models.EngineClaude},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatEngine(engine.NewSet(tt.cfg)); got != tt.expected {
				t.Errorf("chatEngine() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMask(t *testing.T) {
	if got := mask(""); got != "(not set)" {
		t.Errorf("mask(\"\") = %q, want (not set)", got)
	}
	if got := mask("s3cret"); got != "****" {
		t.Errorf("mask(s3cret) = %q, want ****", got)
	}
}
