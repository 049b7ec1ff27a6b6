package gdpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusInProgress, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusInProgress, false},
		{Status("archived"), StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParse(t *testing.T) {
	_, err := ParseRequestType("erasure")
	assert.NoError(t, err)
	_, err = ParseRequestType("ERASURE")
	assert.Error(t, err)
	_, err = ParseStatus("in_progress")
	assert.NoError(t, err)
	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &Request{Status: StatusPending, DueAt: due}
	assert.False(t, r.IsOverdue(due))
	assert.True(t, r.IsOverdue(due.Add(time.Second)))

	early := due.Add(-time.Hour)
	r.ApplyCompletion(early, "ops", nil)
	assert.False(t, r.IsOverdue(due.AddDate(1, 0, 0)))
}
