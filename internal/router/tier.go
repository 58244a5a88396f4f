// Package router decides which model tier answers a message and which
// agent owns a job.
package router

import (
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Default thresholds, in characters.
const (
	DefaultQuickPathMaxChars = 80
	DefaultDeepMinChars      = 400
)

// Message is an inbound chat message.
type Message struct {
	Text     string
	HasImage bool
}

// TierDecision is the outcome of Classify.
type TierDecision struct {
	Tier models.Tier `json:"tier"`
	// Rule names the rule that fired.
	Rule string `json:"rule"`
	// Matched is the text fragment that triggered the rule, if any.
	Matched string `json:"matched,omitempty"`
}

// Rule is one (predicate, tier) pair. Rules are evaluated in order and
// the first match wins.
type Rule struct {
	Name  string
	Tier  models.Tier
	Match func(in input) (bool, string)
}

// input is the normalised view every predicate sees.
type input struct {
	msg   Message
	norm  string
	chars int
}

// TierRouter classifies messages into tiers. It holds no state beyond
// its thresholds.
type TierRouter struct {
	quickPathMaxChars int
	deepMinChars      int
	rules             []Rule
}

// NewTierRouter creates a router. Non-positive thresholds use defaults.
func NewTierRouter(quickPathMaxChars, deepMinChars int) *TierRouter {
	if quickPathMaxChars <= 0 {
		quickPathMaxChars = DefaultQuickPathMaxChars
	}
	if deepMinChars <= 0 {
		deepMinChars = DefaultDeepMinChars
	}
	r := &TierRouter{quickPathMaxChars: quickPathMaxChars, deepMinChars: deepMinChars}
	r.rules = r.buildRules()
	return r
}

// buildRules returns the ordered rule list. Action verbs are checked
// before analysis and length so that action intent always lands on the
// only tier allowed to emit directives.
func (r *TierRouter) buildRules() []Rule {
	return []Rule{
		{
			Name: "image_attachment",
			Tier: models.TierDeep,
			Match: func(in input) (bool, string) {
				return in.msg.HasImage, ""
			},
		},
		{
			Name: "status_query",
			Tier: models.TierQuickPath,
			Match: func(in input) (bool, string) {
				if in.chars >= r.quickPathMaxChars {
					return false, ""
				}
				return matchAny(statusQueryPatterns, in.norm)
			},
		},
		{
			Name: "short_confirmation",
			Tier: models.TierFast,
			Match: func(in input) (bool, string) {
				return matchAny(confirmationPatterns, in.norm)
			},
		},
		{
			Name: "action_verb",
			Tier: models.TierDeep,
			Match: func(in input) (bool, string) {
				return matchAny(actionVerbPatterns, in.norm)
			},
		},
		{
			Name: "analysis_or_url",
			Tier: models.TierDeep,
			Match: func(in input) (bool, string) {
				return matchAny(analysisPatterns, in.norm)
			},
		},
		{
			Name: "long_input",
			Tier: models.TierDeep,
			Match: func(in input) (bool, string) {
				return in.chars > r.deepMinChars, ""
			},
		},
		{
			Name: "default",
			Tier: models.TierFast,
			Match: func(input) (bool, string) {
				return true, ""
			},
		},
	}
}

// Rules returns the rule names in evaluation order.
func (r *TierRouter) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Classify returns the tier for msg. It is a pure function of the
// message and the router's thresholds.
func (r *TierRouter) Classify(msg Message) TierDecision {
	trimmed := strings.TrimSpace(msg.Text)
	in := input{
		msg:   msg,
		norm:  strings.ToLower(trimmed),
		chars: utf8.RuneCountInString(trimmed),
	}
	for _, rule := range r.rules {
		if ok, matched := rule.Match(in); ok {
			return TierDecision{Tier: rule.Tier, Rule: rule.Name, Matched: matched}
		}
	}
	// Unreachable: the last rule always matches.
	return TierDecision{Tier: models.TierFast, Rule: "default"}
}
