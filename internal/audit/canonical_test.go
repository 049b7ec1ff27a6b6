package audit

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEnum string

type sampleStruct struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
	Skip  string    `json:"-"`
}

type textOnly struct{ v string }

func (t *textOnly) MarshalText() ([]byte, error) { return []byte("text:" + t.v), nil }

func TestCanonicalize(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	id := uuid.MustParse("8b9c2f3e-6a3c-4f0e-9d7a-0c1e2f3a4b5c")

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"nil pointer", (*string)(nil), nil},
		{"nil map", map[string]any(nil), nil},
		{"string", "hello", "hello"},
		{"bool", true, true},
		{"int", 42, json.Number("42")},
		{"negative int64", int64(-7), json.Number("-7")},
		{"uint8", uint8(200), json.Number("200")},
		{"integral float", 3.0, json.Number("3")},
		{"fractional float", 1.25, json.Number("1.25")},
		{"large float keeps plain notation", 1e21, json.Number("1000000000000000000000")},
		{"float32", float32(0.1), json.Number("0.1")},
		{"json number", json.Number("17"), json.Number("17")},
		{"json number with exponent", json.Number("1.5e2"), json.Number("150")},
		{"time in another zone", time.Date(2026, 1, 2, 4, 4, 5, 123456000, paris), "2026-01-02T03:04:05.123456Z"},
		{"date", DateOf(time.Date(2026, 5, 17, 23, 0, 0, 0, time.UTC)), "2026-05-17"},
		{"uuid", id, id.String()},
		{"uuid pointer", &id, id.String()},
		{"pointer-receiver text marshaler", &textOnly{v: "x"}, "text:x"},
		{"enum", sampleEnum("planning"), "planning"},
		{"bytes", []byte("hi"), "aGk="},
		{"raw json", json.RawMessage(`{"b":1,"a":[true]}`), map[string]any{"a": []any{true}, "b": json.Number("1")}},
		{"slice", []int{1, 2}, []any{json.Number("1"), json.Number("2")}},
		{"array", [2]string{"a", "b"}, []any{"a", "b"}},
		{
			"nested map",
			map[string]any{"k": map[sampleEnum]any{"v": []any{1, nil}}},
			map[string]any{"k": map[string]any{"v": []any{json.Number("1"), nil}}},
		},
		{
			"struct uses json form",
			sampleStruct{Name: "n", Count: 2, At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Skip: "x"},
			map[string]any{"name": "n", "count": json.Number("2"), "at": "2026-01-01T00:00:00Z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejectsUnsupportedValues(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"channel", make(chan int)},
		{"function", func() {}},
		{"complex", complex(1, 2)},
		{"non-string map key", map[int]string{1: "a"}},
		{"nested NaN", map[string]any{"x": []any{math.NaN()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.in)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	in := map[string]any{
		"when":  time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC),
		"count": 12,
		"ratio": 0.125,
		"big":   json.Number("123456789012345678901234567890"),
		"tags":  []string{"a", "b"},
		"id":    uuid.New(),
	}
	once, err := Canonicalize(in)
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCanonicalizeSurvivesJSONRoundTrip(t *testing.T) {
	once, err := Canonicalize(map[string]any{
		"ratio": 2.5,
		"count": int64(9007199254740993),
		"nested": map[string]any{
			"at": time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(once)
	require.NoError(t, err)
	back, err := Canonicalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, once, back)
}

func TestEncodeCanonical(t *testing.T) {
	encoded, err := EncodeCanonical(map[string]any{
		"z": "<tag>&",
		"a": map[string]any{"y": 1, "b": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":2,"y":1},"z":"<tag>&"}`, string(encoded))
}
