package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSignKnownVectors(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)

	t.Run("flat map", func(t *testing.T) {
		sig, err := signer.Sign(map[string]any{"b": 2, "a": "x"})
		require.NoError(t, err)
		assert.Equal(t, "4d0d8b0abf44235b225773b6dc5428b570f6781c2732457200433ce05844f8cc", sig)
	})

	t.Run("nested values, html characters and zoned time", func(t *testing.T) {
		sig, err := signer.Sign(map[string]any{
			"when":   time.Date(2026, 1, 2, 4, 4, 5, 123456000, time.FixedZone("CET", 3600)),
			"nested": map[string]any{"k": []any{1, "<b>", nil}},
		})
		require.NoError(t, err)
		assert.Equal(t, "ed17d2f29688744e99d4328e6a639a8f312a3cb86b6be350221adbe75306fa79", sig)
	})
}

func TestSignIsInvariantToRepresentation(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)

	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	base, err := signer.Sign(map[string]any{
		"count": 3,
		"at":    at,
		"tags":  []string{"x", "y"},
		"kind":  ModulePlanning,
	})
	require.NoError(t, err)

	variants := map[string]map[string]any{
		"int64 and float64 for the same number": {
			"count": 3.0, "at": at, "tags": []string{"x", "y"}, "kind": ModulePlanning,
		},
		"json number and pre-rendered values": {
			"count": json.Number("3"), "at": "2026-04-01T09:30:00Z", "tags": []any{"x", "y"}, "kind": "planning",
		},
		"same instant in another zone": {
			"count": int64(3), "at": at.In(time.FixedZone("X", -5*3600)), "tags": [2]string{"x", "y"}, "kind": ModulePlanning,
		},
	}
	for name, fields := range variants {
		t.Run(name, func(t *testing.T) {
			sig, err := signer.Sign(fields)
			require.NoError(t, err)
			assert.Equal(t, base, sig)
		})
	}
}

func TestSignDiffersPerSecretAndContent(t *testing.T) {
	a, _ := NewSigner("secret-a")
	b, _ := NewSigner("secret-b")
	fields := map[string]any{"k": "v"}

	sigA, err := a.Sign(fields)
	require.NoError(t, err)
	sigB, err := b.Sign(fields)
	require.NoError(t, err)
	assert.NotEqual(t, sigA, sigB)

	changed, err := a.Sign(map[string]any{"k": "w"})
	require.NoError(t, err)
	assert.NotEqual(t, sigA, changed)

	assert.Len(t, sigA, 64)
	assert.Regexp(t, "^[0-9a-f]+$", sigA)
}

func TestVerify(t *testing.T) {
	signer, _ := NewSigner("test-secret")
	fields := map[string]any{"k": "v"}
	sig, err := signer.Sign(fields)
	require.NoError(t, err)

	ok, err := signer.Verify(fields, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = signer.Verify(map[string]any{"k": "tampered"}, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignRejectsUnsupportedValues(t *testing.T) {
	signer, _ := NewSigner("test-secret")
	_, err := signer.Sign(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
