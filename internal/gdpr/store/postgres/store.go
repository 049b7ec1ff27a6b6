package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/gdpr"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
)

// Store persists data-subject requests and their history in PostgreSQL.
// Create and Update write two rows and expect to run inside a transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

const requestColumns = `id, organization_id, request_type, status, requester,
	subject_reference, submitted_at, due_at, processed_at, completed_at,
	processor, resolution_notes`

func (s *Store) Create(ctx context.Context, r *gdpr.Request, history *gdpr.HistoryEntry) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO rgpd_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		r.ID, r.OrganizationID, string(r.RequestType), string(r.Status), r.Requester,
		r.SubjectReference, r.SubmittedAt, r.DueAt, r.ProcessedAt, r.CompletedAt,
		r.Processor, r.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("insert rgpd request: %w", err)
	}
	return s.appendHistory(ctx, history)
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*gdpr.Request, error) {
	return s.find(ctx, `SELECT `+requestColumns+` FROM rgpd_requests WHERE id = $1`, id)
}

func (s *Store) FindForUpdate(ctx context.Context, id uuid.UUID) (*gdpr.Request, error) {
	return s.find(ctx, `SELECT `+requestColumns+` FROM rgpd_requests WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) find(ctx context.Context, query string, id uuid.UUID) (*gdpr.Request, error) {
	r, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find rgpd request: %w", err)
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, r *gdpr.Request, history *gdpr.HistoryEntry) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE rgpd_requests
		SET status = $2, processed_at = $3, completed_at = $4, processor = $5, resolution_notes = $6
		WHERE id = $1
	`, r.ID, string(r.Status), r.ProcessedAt, r.CompletedAt, r.Processor, r.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("update rgpd request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rgpd request: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return s.appendHistory(ctx, history)
}

func (s *Store) appendHistory(ctx context.Context, h *gdpr.HistoryEntry) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO rgpd_request_history (id, request_id, status, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, h.ID, h.RequestID, string(h.Status), h.ChangedAt, h.Notes)
	if err != nil {
		return fmt.Errorf("insert rgpd request history: %w", err)
	}
	return nil
}

func (s *Store) ListByOrganization(ctx context.Context, org string) ([]*gdpr.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM rgpd_requests
		WHERE organization_id = $1
		ORDER BY submitted_at DESC, id DESC
	`, org)
	if err != nil {
		return nil, fmt.Errorf("query rgpd requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*gdpr.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rgpd request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rgpd requests: %w", err)
	}
	return requests, nil
}

func (s *Store) History(ctx context.Context, id uuid.UUID) ([]*gdpr.HistoryEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, request_id, status, changed_at, notes
		FROM rgpd_request_history
		WHERE request_id = $1
		ORDER BY changed_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query rgpd request history: %w", err)
	}
	defer rows.Close()

	history := make([]*gdpr.HistoryEntry, 0)
	for rows.Next() {
		var (
			h      gdpr.HistoryEntry
			status string
		)
		if err := rows.Scan(&h.ID, &h.RequestID, &status, &h.ChangedAt, &h.Notes); err != nil {
			return nil, fmt.Errorf("scan rgpd request history: %w", err)
		}
		h.Status = gdpr.Status(status)
		h.ChangedAt = h.ChangedAt.UTC()
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rgpd request history: %w", err)
	}
	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*gdpr.Request, error) {
	var (
		r           gdpr.Request
		requestType string
		status      string
	)
	err := row.Scan(
		&r.ID, &r.OrganizationID, &requestType, &status, &r.Requester,
		&r.SubjectReference, &r.SubmittedAt, &r.DueAt, &r.ProcessedAt, &r.CompletedAt,
		&r.Processor, &r.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}
	r.RequestType = gdpr.RequestType(requestType)
	r.Status = gdpr.Status(status)
	r.SubmittedAt = r.SubmittedAt.UTC()
	r.DueAt = r.DueAt.UTC()
	r.ProcessedAt = utcPtr(r.ProcessedAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	return &r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
