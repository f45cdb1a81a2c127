package models

// RosterEntry is a candidate existing student for a free-text name.
type RosterEntry struct {
	StudentID string `json:"student_id"`
	FullName  string `json:"full_name"`
}

// MatchDecision is the caller's answer to an ambiguous name match.
type MatchDecision string

const (
	DecisionUseExisting MatchDecision = "use_existing"
	DecisionCreateNew   MatchDecision = "create_new"
	DecisionSkip        MatchDecision = "skip"
)

// Valid reports whether d is one of the known decisions.
func (d MatchDecision) Valid() bool {
	switch d {
	case DecisionUseExisting, DecisionCreateNew, DecisionSkip:
		return true
	default:
		return false
	}
}

// MatchCandidate is the best roster match for one input name.
type MatchCandidate struct {
	Input         string       `json:"input"`
	Normalized    string       `json:"normalized"`
	Match         *RosterEntry `json:"match,omitempty"`
	Score         float64      `json:"score"`
	NeedsDecision bool         `json:"needs_decision"`
}

// MatchOutcome is the effect of applying a decision to a candidate.
type MatchOutcome struct {
	Input     string `json:"input"`
	StudentID string `json:"student_id,omitempty"`
	Create    bool   `json:"create"`
	Skip      bool   `json:"skip"`
}
