package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapInheritsKindFromCode(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), ErrSlotFull.Code, ErrSlotFull.Status, "slot full")
	assert.Equal(t, KindCapacity, err.Kind)
	assert.True(t, errors.Is(err, ErrSlotFull))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrCreditExpired, "credit expired on 2025-03-01")
	require.Equal(t, "credit expired on 2025-03-01", err.Message)
	require.True(t, errors.Is(fmt.Errorf("redeem: %w", err), ErrCreditExpired))
	require.Equal(t, "credit expired", ErrCreditExpired.Message)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(fmt.Errorf("db down"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.False(t, IsExpected(err))
}

func TestIsExpected(t *testing.T) {
	assert.True(t, IsExpected(ErrSlotFull))
	assert.True(t, IsExpected(Clone(ErrWindowExceeded, "")))
	assert.True(t, IsExpected(ErrCreditExhausted))
	assert.False(t, IsExpected(ErrPartialUndo))
	assert.False(t, IsExpected(nil))
}

func TestWithDetails(t *testing.T) {
	err := WithDetails(ErrPartialUndo, "", []string{"credit-1"})
	assert.Equal(t, []string{"credit-1"}, err.Details)
	assert.Nil(t, ErrPartialUndo.Details)
}
