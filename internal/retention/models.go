// Package retention manages per-organization retention windows for the
// audit ledger and runs the archive and purge passes they imply.
package retention

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "chronicle/pkg/domain-errors"
)

// Policy is the retention configuration of one organization.
type Policy struct {
	OrganizationID   string    `json:"organization_id"`
	RetentionDays    int       `json:"retention_days"`
	ArchiveAfterDays int       `json:"archive_after_days"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewPolicy enforces 1 <= archiveAfterDays <= retentionDays.
func NewPolicy(org string, retentionDays, archiveAfterDays int, updatedAt time.Time) (*Policy, error) {
	if strings.TrimSpace(org) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization is required")
	}
	if retentionDays < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "retention_days must be at least 1")
	}
	if archiveAfterDays < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "archive_after_days must be at least 1")
	}
	if archiveAfterDays > retentionDays {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "archive_after_days must not exceed retention_days")
	}
	return &Policy{
		OrganizationID:   org,
		RetentionDays:    retentionDays,
		ArchiveAfterDays: archiveAfterDays,
		UpdatedAt:        updatedAt,
	}, nil
}

// ArchiveCutoff is the newest creation time that gets archived at reference.
func (p *Policy) ArchiveCutoff(reference time.Time) time.Time {
	return reference.Add(-days(p.ArchiveAfterDays))
}

// PurgeCutoff is the creation time before which entries are deleted.
func (p *Policy) PurgeCutoff(reference time.Time) time.Time {
	return reference.Add(-days(p.RetentionDays))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Defaults are the windows applied to organizations without a policy.
type Defaults struct {
	Organization     string
	RetentionDays    int
	ArchiveAfterDays int
}

func (d Defaults) Validate() error {
	if strings.TrimSpace(d.Organization) == "" {
		return fmt.Errorf("default organization is required")
	}
	if _, err := NewPolicy(d.Organization, d.RetentionDays, d.ArchiveAfterDays, time.Time{}); err != nil {
		return fmt.Errorf("invalid default retention windows: %w", err)
	}
	return nil
}

// Execution records one retention run. AnonymizedCount is reserved and always
// zero.
type Execution struct {
	ID              uuid.UUID         `json:"id"`
	OrganizationID  string            `json:"organization_id"`
	ExecutedAt      time.Time         `json:"executed_at"`
	PurgedCount     int               `json:"purged_count"`
	ArchivedCount   int               `json:"archived_count"`
	AnonymizedCount int               `json:"anonymized_count"`
	Details         map[string]string `json:"details"`
}

const (
	DetailArchiveBefore = "archive_before"
	DetailPurgeBefore   = "purge_before"
)

// summary is the payload of the audit entry emitted after a run.
func (e *Execution) summary() map[string]any {
	details := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return map[string]any{
		"organization_id":  e.OrganizationID,
		"executed_at":      e.ExecutedAt,
		"purged_count":     e.PurgedCount,
		"archived_count":   e.ArchivedCount,
		"anonymized_count": e.AnonymizedCount,
		"details":          details,
	}
}

// ArchiveReference is the deterministic label stamped on entries archived by
// a run at reference. It keeps microseconds so runs within the same second get
// distinct archive objects.
func ArchiveReference(reference time.Time) string {
	return "archive-" + reference.UTC().Format("20060102150405.000000")
}
