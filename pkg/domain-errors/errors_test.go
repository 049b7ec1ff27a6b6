package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("disk full")

	t.Run("matches wrapped code", func(t *testing.T) {
		err := Wrap(base, CodeInternal, "append entry")
		assert.True(t, HasCode(err, CodeInternal))
		assert.False(t, HasCode(err, CodeNotFound))
		assert.ErrorIs(t, err, base)
	})

	t.Run("matches nested code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeNotFound, "request not found")
		err := fmt.Errorf("complete: %w", Wrap(inner, CodeInternal, "tx failed"))
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(base))
		assert.Equal(t, "internal error", MessageOf(base))
	})

	t.Run("wrap nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "noop"))
	})
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("boom"), CodeValidation, "invalid window")
	assert.Equal(t, "invalid window: boom", err.Error())
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Equal(t, "invalid window", MessageOf(err))
}
