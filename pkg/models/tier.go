package models

// Tier is the model-capability class selected for an inbound message.
type Tier string

const (
	// TierQuickPath is answered from stored state without an LLM call.
	TierQuickPath Tier = "quick-path"
	// TierFast is for short confirmations and low-stakes replies.
	TierFast Tier = "fast"
	// TierDeep is for analysis and anything that may emit actions.
	TierDeep Tier = "deep"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierQuickPath, TierFast, TierDeep:
		return true
	default:
		return false
	}
}

// MayEmitActions reports whether replies produced at this tier are
// allowed to carry action directives.
func (t Tier) MayEmitActions() bool {
	return t == TierDeep
}
