package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// NameMatcher scores free-text names against the roster. It holds no state
// besides the threshold and is safe for concurrent use.
type NameMatcher struct {
	threshold float64
}

// NewNameMatcher constructs a matcher; threshold <= 0 falls back to 0.8.
func NewNameMatcher(threshold float64) *NameMatcher {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &NameMatcher{threshold: threshold}
}

// Threshold returns the score at which a caller decision becomes mandatory.
func (m *NameMatcher) Threshold() float64 {
	return m.threshold
}

// Normalize trims, collapses whitespace, uppercases and strips diacritics.
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return strings.ToUpper(strings.Join(strings.Fields(stripped), " "))
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein([]rune(a), []rune(b)))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// ResolveCandidate returns the best roster match for name. Ties keep the first entry.
func (m *NameMatcher) ResolveCandidate(name string, roster []models.RosterEntry) models.MatchCandidate {
	normalized := Normalize(name)
	candidate := models.MatchCandidate{Input: name, Normalized: normalized}
	for i := range roster {
		score := Similarity(normalized, Normalize(roster[i].FullName))
		if candidate.Match == nil || score > candidate.Score {
			entry := roster[i]
			candidate.Match = &entry
			candidate.Score = score
		}
	}
	candidate.NeedsDecision = candidate.Match != nil && candidate.Score >= m.threshold
	return candidate
}

// ApplyDecision turns a candidate plus an externally supplied decision into an outcome.
// Candidates below the threshold resolve to a new student and ignore the decision.
func (m *NameMatcher) ApplyDecision(candidate models.MatchCandidate, decision models.MatchDecision) (models.MatchOutcome, error) {
	outcome := models.MatchOutcome{Input: candidate.Input}
	if !candidate.NeedsDecision {
		outcome.Create = true
		return outcome, nil
	}
	switch decision {
	case models.DecisionUseExisting:
		outcome.StudentID = candidate.Match.StudentID
	case models.DecisionCreateNew:
		outcome.Create = true
	case models.DecisionSkip:
		outcome.Skip = true
	case "":
		return outcome, appErrors.WithDetails(appErrors.ErrValidation, "a decision is required for "+candidate.Input, candidate)
	default:
		return outcome, appErrors.Clone(appErrors.ErrValidation, "unknown decision "+string(decision))
	}
	return outcome, nil
}
