package review

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParse_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantTotal  int
		wantPassed bool
	}{
		{
			name:       "all nines",
			input:      `{"completeness":9,"accuracy":9,"actionability":9,"revenue_relevance":9,"evidence":9}`,
			wantTotal:  45,
			wantPassed: true,
		},
		{
			name:       "all fives",
			input:      `{"completeness":5,"accuracy":5,"actionability":5,"revenue_relevance":5,"evidence":5}`,
			wantTotal:  25,
			wantPassed: false,
		},
		{
			name:       "boundary sevens",
			input:      `{"completeness":7,"accuracy":7,"actionability":7,"revenue_relevance":7,"evidence":7}`,
			wantTotal:  35,
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.input)
			if r.Malformed {
				t.Fatalf("Parse(%q) reported malformed", tt.input)
			}
			if r.Total() != tt.wantTotal {
				t.Errorf("Total() = %d, want %d", r.Total(), tt.wantTotal)
			}
			if r.Passed() != tt.wantPassed {
				t.Errorf("Passed() = %v, want %v", r.Passed(), tt.wantPassed)
			}
		})
	}
}

func TestParse_Clamping(t *testing.T) {
	r := Parse(`{"completeness":15,"accuracy":0,"actionability":"8","revenue_relevance":"high"}`)
	if r.Malformed {
		t.Fatal("unexpected malformed result")
	}
	if r.Scores.Completeness != 10 {
		t.Errorf("Completeness = %d, want 10", r.Scores.Completeness)
	}
	if r.Scores.Accuracy != 1 {
		t.Errorf("Accuracy = %d, want 1", r.Scores.Accuracy)
	}
	if r.Scores.Actionability != 8 {
		t.Errorf("Actionability = %d, want 8", r.Scores.Actionability)
	}
	if r.Scores.RevenueRelevance != 1 {
		t.Errorf("RevenueRelevance = %d, want 1 for non-numeric", r.Scores.RevenueRelevance)
	}
	if r.Scores.Evidence != 1 {
		t.Errorf("Evidence = %d, want 1 for missing", r.Scores.Evidence)
	}
}

func TestParse_EmbeddedInProse(t *testing.T) {
	input := "Here is my review of the work.\n```json\n" +
		`{"meta": {"round": 2}, "feedback": "Cite the {source} data.", "completeness": 8, "accuracy": 7, "actionability": 9, "revenue_relevance": 6, "evidence": 7}` +
		"\n```\nLet me know if you need more."

	r := Parse(input)
	if r.Malformed {
		t.Fatalf("Parse reported malformed for embedded JSON")
	}
	if r.Total() != 37 {
		t.Errorf("Total() = %d, want 37", r.Total())
	}
	if r.Feedback != "Cite the {source} data." {
		t.Errorf("Feedback = %q", r.Feedback)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{
		"",
		"Looks great to me!",
		`{"score": 9}`,
		`{"completeness": 9, "accuracy": `,
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			r := Parse(input)
			if !r.Malformed {
				t.Fatalf("Parse(%q) should be malformed", input)
			}
			if r.Total() != 5 {
				t.Errorf("Total() = %d, want minimum 5", r.Total())
			}
			if r.Passed() {
				t.Error("malformed review must not pass")
			}
			if !strings.Contains(r.Notes(), "could not be parsed") {
				t.Errorf("Notes() = %q", r.Notes())
			}
		})
	}
}

func TestParse_TruncatesRaw(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ascii", strings.Repeat("x", maxRawLen*2)},
		{"multi-byte", "x" + strings.Repeat("é", maxRawLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.input)
			if len(r.Raw) > maxRawLen+3 {
				t.Errorf("Raw length = %d, want <= %d", len(r.Raw), maxRawLen+3)
			}
			if !utf8.ValidString(r.Raw) {
				t.Errorf("Raw is not valid UTF-8: %q", r.Raw[len(r.Raw)-8:])
			}
		})
	}
}
