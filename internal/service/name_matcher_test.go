package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

func TestNormalizeStripsDiacriticsAndSpacing(t *testing.T) {
	assert.Equal(t, "JOAO CONCEICAO", Normalize("  João   Conceição "))
	assert.Equal(t, "ANDRE", Normalize("andré"))
	assert.Equal(t, "", Normalize("   "))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("MARIA", "MARIA"))
	assert.InDelta(t, 0.8, Similarity("MARIA", "MARIO"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("ABC", "XYZ"), 1e-9)
	assert.InDelta(t, 1-3.0/7.0, Similarity("KITTEN", "SITTING"), 1e-9)
}

func TestResolveCandidateThreshold(t *testing.T) {
	matcher := NewNameMatcher(0)
	roster := []models.RosterEntry{
		{StudentID: "stu-1", FullName: "Ana Souza"},
		{StudentID: "stu-2", FullName: "Mariana Lima"},
	}

	hit := matcher.ResolveCandidate("ána souza", roster)
	require.NotNil(t, hit.Match)
	assert.Equal(t, "stu-1", hit.Match.StudentID)
	assert.Equal(t, 1.0, hit.Score)
	assert.True(t, hit.NeedsDecision)

	miss := matcher.ResolveCandidate("Roberto Carlos", roster)
	assert.False(t, miss.NeedsDecision)

	empty := matcher.ResolveCandidate("Ana", nil)
	assert.Nil(t, empty.Match)
	assert.False(t, empty.NeedsDecision)
}

func TestApplyDecision(t *testing.T) {
	matcher := NewNameMatcher(0.8)
	roster := []models.RosterEntry{{StudentID: "stu-1", FullName: "Ana Souza"}}
	candidate := matcher.ResolveCandidate("Ana Sousa", roster)
	require.True(t, candidate.NeedsDecision)

	out, err := matcher.ApplyDecision(candidate, models.DecisionUseExisting)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", out.StudentID)

	out, err = matcher.ApplyDecision(candidate, models.DecisionCreateNew)
	require.NoError(t, err)
	assert.True(t, out.Create)

	out, err = matcher.ApplyDecision(candidate, models.DecisionSkip)
	require.NoError(t, err)
	assert.True(t, out.Skip)

	_, err = matcher.ApplyDecision(candidate, "")
	assert.Equal(t, appErrors.KindValidation, appErrors.KindOf(err))

	below := matcher.ResolveCandidate("Completely Different", roster)
	out, err = matcher.ApplyDecision(below, "")
	require.NoError(t, err)
	assert.True(t, out.Create)
}
