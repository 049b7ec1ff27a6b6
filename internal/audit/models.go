// Package audit implements the tamper-evident audit ledger: canonical
// signing of entries, append-only persistence, filtered listing and signed
// exports.
package audit

import (
	"time"

	"github.com/google/uuid"

	dErrors "chronicle/pkg/domain-errors"
)

// Module names the functional area that produced an entry.
type Module string

const (
	ModulePlanning      Module = "planning"
	ModuleArtists       Module = "artists"
	ModulePayroll       Module = "payroll"
	ModuleMaterial      Module = "material"
	ModuleNotifications Module = "notifications"
	ModuleIntegrations  Module = "integrations"
	ModuleRGPD          Module = "rgpd"
	ModuleRetention     Module = "retention"
)

var modules = map[Module]struct{}{
	ModulePlanning:      {},
	ModuleArtists:       {},
	ModulePayroll:       {},
	ModuleMaterial:      {},
	ModuleNotifications: {},
	ModuleIntegrations:  {},
	ModuleRGPD:          {},
	ModuleRetention:     {},
}

func (m Module) IsValid() bool {
	_, ok := modules[m]
	return ok
}

// ParseModule rejects anything outside the closed module set.
func ParseModule(s string) (Module, error) {
	m := Module(s)
	if !m.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown audit module: "+s)
	}
	return m, nil
}

// EventType is the closed catalog of auditable events.
type EventType string

const (
	EventArtistCreated          EventType = "artist.created"
	EventArtistUpdated          EventType = "artist.updated"
	EventArtistDeleted          EventType = "artist.deleted"
	EventPlanningCreated        EventType = "planning.created"
	EventPlanningNotified       EventType = "planning.notified"
	EventStoragePublished       EventType = "storage.published"
	EventRGPDRequestRegistered  EventType = "rgpd.request.registered"
	EventRGPDRequestCompleted   EventType = "rgpd.request.completed"
	EventRetentionPolicyUpdated EventType = "audit.retention.policy_updated"
	EventRetentionExecuted      EventType = "audit.retention.executed"
)

var eventTypes = map[EventType]struct{}{
	EventArtistCreated:          {},
	EventArtistUpdated:          {},
	EventArtistDeleted:          {},
	EventPlanningCreated:        {},
	EventPlanningNotified:       {},
	EventStoragePublished:       {},
	EventRGPDRequestRegistered:  {},
	EventRGPDRequestCompleted:   {},
	EventRetentionPolicyUpdated: {},
	EventRetentionExecuted:      {},
}

func (e EventType) IsValid() bool {
	_, ok := eventTypes[e]
	return ok
}

// ParseEventType rejects anything outside the event catalog.
func ParseEventType(s string) (EventType, error) {
	e := EventType(s)
	if !e.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown audit event type: "+s)
	}
	return e, nil
}

// ExportFormat selects the serialization of an export.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportFormatJSON, ExportFormatCSV:
		return f, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unsupported export format: "+s)
	}
}

// Payload is the normalized body of an entry. Values are the output of
// Canonicalize: strings, booleans, numbers, nil, and nested maps and slices of
// those.
type Payload map[string]any

// Entry is one signed ledger record. Every field except ArchivedAt and
// ArchiveReference is covered by Signature and never changes after Append.
type Entry struct {
	ID               uuid.UUID  `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	Module           Module     `json:"module"`
	EventType        EventType  `json:"event_type"`
	Action           string     `json:"action"`
	ActorType        *string    `json:"actor_type"`
	ActorID          *string    `json:"actor_id"`
	TargetType       *string    `json:"target_type"`
	TargetID         *string    `json:"target_id"`
	PayloadVersion   int        `json:"payload_version"`
	Payload          Payload    `json:"payload"`
	Signature        string     `json:"signature"`
	CreatedAt        time.Time  `json:"created_at"`
	ArchivedAt       *time.Time `json:"archived_at"`
	ArchiveReference *string    `json:"archive_reference"`
}

// IsArchived reports whether the retention scheduler has stamped the entry.
func (e *Entry) IsArchived() bool {
	return e.ArchivedAt != nil
}

// signedFields returns the exact field set covered by the entry signature.
func (e *Entry) signedFields() map[string]any {
	return map[string]any{
		"organization_id": e.OrganizationID,
		"module":          string(e.Module),
		"event_type":      string(e.EventType),
		"action":          e.Action,
		"actor_type":      e.ActorType,
		"actor_id":        e.ActorID,
		"target_type":     e.TargetType,
		"target_id":       e.TargetID,
		"payload_version": e.PayloadVersion,
		"payload":         map[string]any(e.Payload),
		"created_at":      FormatTimestamp(e.CreatedAt),
	}
}

// AppendInput describes an event a caller wants recorded.
type AppendInput struct {
	OrganizationID string
	Module         Module
	EventType      EventType
	Action         string
	ActorType      string
	ActorID        string
	TargetType     string
	TargetID       string
	// Payload may hold arbitrary Go values; they are canonicalized before
	// signing and storage.
	Payload        map[string]any
	PayloadVersion int
}

// Filter narrows List and Export. Zero fields are ignored; set fields are
// combined with AND.
type Filter struct {
	OrganizationID string     `json:"organization_id,omitempty"`
	Module         Module     `json:"module,omitempty"`
	ActorID        string     `json:"actor_id,omitempty"`
	EventType      EventType  `json:"event_type,omitempty"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
}

// Validate rejects filters naming values outside the closed enums.
func (f Filter) Validate() error {
	if f.Module != "" && !f.Module.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown audit module: "+string(f.Module))
	}
	if f.EventType != "" && !f.EventType.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown audit event type: "+string(f.EventType))
	}
	return nil
}

// Matches applies the filter to a single entry. StartAt and EndAt are inclusive.
func (f Filter) Matches(e *Entry) bool {
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.ActorID != "" && (e.ActorID == nil || *e.ActorID != f.ActorID) {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.StartAt != nil && e.CreatedAt.Before(*f.StartAt) {
		return false
	}
	if f.EndAt != nil && e.CreatedAt.After(*f.EndAt) {
		return false
	}
	return true
}

// Export is a signed, base64-encoded snapshot of a filtered listing.
type Export struct {
	Format      ExportFormat `json:"format"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	GeneratedAt time.Time    `json:"generated_at"`
	DataBase64  string       `json:"data_base64"`
	Signature   string       `json:"signature"`
	Filters     Filter       `json:"filters"`
}

// Verification is the outcome of re-signing a stored entry.
type Verification struct {
	ID    uuid.UUID `json:"id"`
	Valid bool      `json:"valid"`
}

// FormatTimestamp is the single textual form of timestamps inside signed
// material.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
