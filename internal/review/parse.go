// Package review scores reviewer output and writes the verdict back to
// the reviewed job.
package review

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Score field names in the reviewer payload. Any of them anchors the
// search for the enclosing JSON object.
const (
	FieldCompleteness     = "completeness"
	FieldAccuracy         = "accuracy"
	FieldActionability    = "actionability"
	FieldRevenueRelevance = "revenue_relevance"
	FieldEvidence         = "evidence"
	FieldFeedback         = "feedback"
)

var anchorFields = []string{
	FieldCompleteness, FieldAccuracy, FieldActionability, FieldRevenueRelevance, FieldEvidence,
}

// maxRawLen bounds how much malformed output is kept in review notes.
const maxRawLen = 2000

// Result is the outcome of parsing reviewer output. When Malformed is
// set, Scores hold the minimum for every dimension and Raw carries the
// (truncated) text that could not be parsed.
type Result struct {
	Scores    models.ReviewScores
	Feedback  string
	Malformed bool
	Raw       string
}

// Total returns the summed score.
func (r Result) Total() int { return r.Scores.Total() }

// Passed reports whether the review met the pass threshold.
func (r Result) Passed() bool { return r.Scores.Passed() }

// Notes is the text written to the parent's review_notes.
func (r Result) Notes() string {
	if r.Malformed {
		return "Reviewer output could not be parsed; scored at minimum.\n\n" + r.Raw
	}
	return r.Feedback
}

func malformed(text string) Result {
	raw := strings.TrimSpace(text)
	if len(raw) > maxRawLen {
		n := maxRawLen
		for n > 0 && !utf8.RuneStart(raw[n]) {
			n--
		}
		raw = raw[:n] + "..."
	}
	return Result{
		Scores: models.ReviewScores{
			Completeness:     models.ScoreMin,
			Accuracy:         models.ScoreMin,
			Actionability:    models.ScoreMin,
			RevenueRelevance: models.ScoreMin,
			Evidence:         models.ScoreMin,
		},
		Malformed: true,
		Raw:       raw,
	}
}

// Parse extracts scores from free text. It never fails: output with no
// recognizable score object is returned as a Malformed result.
func Parse(text string) Result {
	obj, ok := extractObject(text)
	if !ok {
		return malformed(text)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return malformed(text)
	}
	// Lower-case keys so "Completeness" and "completeness" both count.
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}

	res := Result{
		Scores: models.ReviewScores{
			Completeness:     scoreOf(norm[FieldCompleteness]),
			Accuracy:         scoreOf(norm[FieldAccuracy]),
			Actionability:    scoreOf(norm[FieldActionability]),
			RevenueRelevance: scoreOf(norm[FieldRevenueRelevance]),
			Evidence:         scoreOf(norm[FieldEvidence]),
		},
	}
	if fb, ok := norm[FieldFeedback].(string); ok {
		res.Feedback = strings.TrimSpace(fb)
	}
	return res
}

// scoreOf coerces a JSON value into [ScoreMin, ScoreMax]. Missing or
// non-numeric values score the minimum.
func scoreOf(v any) int {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return models.ScoreMin
		}
		f = parsed
	default:
		return models.ScoreMin
	}
	if math.IsNaN(f) {
		return models.ScoreMin
	}
	s := int(math.Round(f))
	if s < models.ScoreMin {
		return models.ScoreMin
	}
	if s > models.ScoreMax {
		return models.ScoreMax
	}
	return s
}

// extractObject finds the JSON object enclosing the first quoted anchor
// field. Reviewers routinely wrap the object in prose or code fences.
func extractObject(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, field := range anchorFields {
		from := 0
		for {
			idx := strings.Index(lower[from:], `"`+field+`"`)
			if idx < 0 {
				break
			}
			idx += from
			if obj, ok := enclosingObject(text, idx); ok {
				return obj, true
			}
			from = idx + 1
		}
	}
	return "", false
}

// enclosingObject walks back from pos to the nearest unbalanced '{' and
// forward to its matching '}'.
func enclosingObject(text string, pos int) (string, bool) {
	depth := 0
	start := -1
	for i := pos; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				start = i
			} else {
				depth--
			}
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth = 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
