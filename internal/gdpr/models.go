// Package gdpr tracks data-subject requests from registration to completion
// against an SLA due date. Every status change is recorded in a per-request
// history and in the audit ledger.
package gdpr

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "chronicle/pkg/domain-errors"
)

type RequestType string

const (
	RequestTypeAccess        RequestType = "access"
	RequestTypeRectification RequestType = "rectification"
	RequestTypeErasure       RequestType = "erasure"
)

func (t RequestType) IsValid() bool {
	switch t {
	case RequestTypeAccess, RequestTypeRectification, RequestTypeErasure:
		return true
	}
	return false
}

func ParseRequestType(s string) (RequestType, error) {
	t := RequestType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown request type: "+s)
	}
	return t, nil
}

type Status string

const (
	StatusPending Status = "pending"
	// StatusInProgress is part of the lifecycle but no operation moves a
	// request into it yet.
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown request status: "+s)
	}
	return st, nil
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Pending requests go straight to completed, and a completed request may be
// completed again.
func (s Status) CanTransitionTo(next Status) bool {
	return s.IsValid() && next == StatusCompleted
}

// Request is a data-subject request.
//
// Invariants:
//   - DueAt is SubmittedAt plus the SLA, fixed at registration
//   - ProcessedAt and CompletedAt are set together, on completion
//   - Status only moves forward; completed is terminal
type Request struct {
	ID               uuid.UUID   `json:"id"`
	OrganizationID   string      `json:"organization_id"`
	RequestType      RequestType `json:"request_type"`
	Status           Status      `json:"status"`
	Requester        string      `json:"requester"`
	SubjectReference string      `json:"subject_reference"`
	SubmittedAt      time.Time   `json:"submitted_at"`
	DueAt            time.Time   `json:"due_at"`
	ProcessedAt      *time.Time  `json:"processed_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
	Processor        *string     `json:"processor"`
	ResolutionNotes  *string     `json:"resolution_notes"`
}

// IsOverdue reports whether the request was still open at now, or was
// completed, after its due date.
func (r *Request) IsOverdue(now time.Time) bool {
	if r.CompletedAt != nil {
		return r.CompletedAt.After(r.DueAt)
	}
	return now.After(r.DueAt)
}

// ApplyCompletion stamps processed and completed at the same instant. On an
// already completed request it overwrites the previous stamps.
func (r *Request) ApplyCompletion(now time.Time, processor string, notes *string) {
	r.Status = StatusCompleted
	r.ProcessedAt = &now
	r.CompletedAt = &now
	r.Processor = &processor
	r.ResolutionNotes = notes
}

// HistoryEntry is one status change of a request.
type HistoryEntry struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	Notes     *string   `json:"notes"`
}

func newHistoryEntry(r *Request, at time.Time, notes *string) *HistoryEntry {
	return &HistoryEntry{
		ID:        uuid.New(),
		RequestID: r.ID,
		Status:    r.Status,
		ChangedAt: at,
		Notes:     notes,
	}
}

type RegisterInput struct {
	OrganizationID   string `json:"organization_id"`
	RequestType      string `json:"request_type"`
	Requester        string `json:"requester"`
	SubjectReference string `json:"subject_reference"`
	Notes            string `json:"notes"`
}

// Validate trims the input and checks the required fields.
func (in *RegisterInput) Validate() (RequestType, error) {
	in.Requester = strings.TrimSpace(in.Requester)
	in.SubjectReference = strings.TrimSpace(in.SubjectReference)
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)
	requestType, err := ParseRequestType(strings.TrimSpace(in.RequestType))
	if err != nil {
		return "", err
	}
	if in.Requester == "" {
		return "", dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	if in.SubjectReference == "" {
		return "", dErrors.New(dErrors.CodeValidation, "subject_reference is required")
	}
	return requestType, nil
}

type CompleteInput struct {
	Processor       string `json:"processor"`
	ResolutionNotes string `json:"resolution_notes"`
}

func (in *CompleteInput) Validate() error {
	in.Processor = strings.TrimSpace(in.Processor)
	if in.Processor == "" {
		return dErrors.New(dErrors.CodeValidation, "processor is required")
	}
	return nil
}

// resource is the ledger payload describing r.
func (r *Request) resource() map[string]any {
	return map[string]any{
		"id":                r.ID,
		"organization_id":   r.OrganizationID,
		"request_type":      r.RequestType,
		"status":            r.Status,
		"requester":         r.Requester,
		"subject_reference": r.SubjectReference,
		"submitted_at":      r.SubmittedAt,
		"due_at":            r.DueAt,
		"processed_at":      r.ProcessedAt,
		"completed_at":      r.CompletedAt,
		"processor":         r.Processor,
		"resolution_notes":  r.ResolutionNotes,
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
