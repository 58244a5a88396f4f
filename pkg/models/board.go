package models

import "time"

// BoardStatus is the lifecycle state of a challenge board.
type BoardStatus string

const (
	// BoardDeliberating means challenger jobs are still outstanding.
	BoardDeliberating BoardStatus = "deliberating"
	// BoardOpen means responses are synthesised and await a human decision.
	BoardOpen BoardStatus = "open"
	// BoardDecided is terminal.
	BoardDecided BoardStatus = "decided"
)

// Valid returns true if the status is a known value.
func (s BoardStatus) Valid() bool {
	switch s {
	case BoardDeliberating, BoardOpen, BoardDecided:
		return true
	default:
		return false
	}
}

// SeverityHigh is the risk severity that becomes a con during synthesis.
const SeverityHigh = "high"

// BoardOption is one labelled choice on a board.
type BoardOption struct {
	Label         string   `json:"label"`
	Summary       string   `json:"summary"`
	RecommendedBy []string `json:"recommended_by"`
	Pros          []string `json:"pros"`
	Cons          []string `json:"cons"`
}

// RiskFlag is a risk a challenger raises against its own position.
type RiskFlag struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// ChallengeResponse is one challenger agent's structured answer.
type ChallengeResponse struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id"`
	AgentName   string     `json:"agent_name"`
	Perspective string     `json:"perspective,omitempty"`
	Position    string     `json:"position"`
	Argument    string     `json:"argument"`
	RiskFlags   []RiskFlag `json:"risk_flags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ChallengeBoard is a decision record debated by challenger agents.
type ChallengeBoard struct {
	ID              string              `json:"id"`
	DecisionTitle   string              `json:"decision_title"`
	DecisionContext string              `json:"decision_context"`
	Options         []BoardOption       `json:"options"`
	Status          BoardStatus         `json:"status"`
	FinalDecision   string              `json:"final_decision,omitempty"`
	Rationale       string              `json:"rationale,omitempty"`
	Responses       []ChallengeResponse `json:"responses,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	DecidedAt       *time.Time          `json:"decided_at,omitempty"`
}

// Option returns the option with the given label, or nil.
func (b *ChallengeBoard) Option(label string) *BoardOption {
	for i := range b.Options {
		if b.Options[i].Label == label {
			return &b.Options[i]
		}
	}
	return nil
}
