package errkind_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgebound/jobcore/pkg/errkind"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("connection reset")
	err := errkind.Wrap(errkind.Retryable, "store.ClaimOne", "lost connection mid-claim", cause)

	assert.True(t, errkind.Is(err, errkind.Retryable))
	assert.False(t, errkind.Is(err, errkind.Fatal))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsToUnexpected(t *testing.T) {
	assert.Equal(t, errkind.Unexpected, errkind.KindOf(errors.New("plain error")))
	assert.Equal(t, errkind.Unexpected, errkind.KindOf(nil))
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	err := errkind.New(errkind.NotFound, "store.GetJob", "job does not exist")
	wrapped := errors.Join(err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(wrapped))
}

func TestTerminal(t *testing.T) {
	terminal := []errkind.Kind{errkind.BudgetExhausted, errkind.Cancelled, errkind.Escalated, errkind.ToolFatal, errkind.Fatal}
	for _, k := range terminal {
		assert.True(t, errkind.Terminal(k), "expected %s to be terminal", k)
	}

	nonTerminal := []errkind.Kind{errkind.Validation, errkind.Conflict, errkind.NotFound, errkind.Retryable, errkind.ToolRecoverable}
	for _, k := range nonTerminal {
		assert.False(t, errkind.Terminal(k), "expected %s to not be terminal", k)
	}
}
