package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronicle/internal/audit"
	"chronicle/internal/audit/outbox"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
)

// Store implements the ledger store on PostgreSQL. When the outbox is
// enabled every appended entry is also written to audit_outbox in the same
// transaction, for the relay to publish.
type Store struct {
	db     *sql.DB
	outbox bool
}

type Option func(*Store)

// WithOutbox enables outbox rows on Append.
func WithOutbox() Option {
	return func(s *Store) {
		s.outbox = true
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

const entryColumns = `id, organization_id, module, event_type, action,
	actor_type, actor_id, target_type, target_id,
	payload_version, payload, signature, created_at,
	archived_at, archive_reference`

// Append inserts the entry and, if enabled, its outbox row. Callers that need
// both rows to commit together run Append inside a transaction.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_logs (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.OrganizationID,
		string(entry.Module),
		string(entry.EventType),
		entry.Action,
		entry.ActorType,
		entry.ActorID,
		entry.TargetType,
		entry.TargetID,
		entry.PayloadVersion,
		string(payload),
		entry.Signature,
		entry.CreatedAt,
		entry.ArchivedAt,
		entry.ArchiveReference,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if !s.outbox {
		return nil
	}
	message, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		"organization",
		entry.OrganizationID,
		string(entry.EventType),
		string(message),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_logs WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find audit entry: %w", err)
	}
	return entry, nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Module != "" {
		add("module = $%d", string(filter.Module))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if filter.StartAt != nil {
		add("created_at >= $%d", *filter.StartAt)
	}
	if filter.EndAt != nil {
		add("created_at <= $%d", *filter.EndAt)
	}

	query := `SELECT ` + entryColumns + ` FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ArchiveBefore stamps every unarchived entry of org created at or before
// cutoff and returns the stamped rows.
func (s *Store) ArchiveBefore(ctx context.Context, org string, cutoff, archivedAt time.Time, reference string) ([]*audit.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		UPDATE audit_logs
		SET archived_at = $3, archive_reference = $4
		WHERE organization_id = $1 AND created_at <= $2 AND archived_at IS NULL
		RETURNING `+entryColumns,
		org, cutoff, archivedAt, reference,
	)
	if err != nil {
		return nil, fmt.Errorf("archive audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// PurgeBefore deletes every entry of org created strictly before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, org string, cutoff time.Time) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM audit_logs WHERE organization_id = $1 AND created_at < $2`,
		org, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return int(n), nil
}

// FetchPending locks up to limit unpublished outbox rows, oldest first.
// Rows locked by a concurrent relay are skipped. Must run inside a
// transaction.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var messages []outbox.Message
	for rows.Next() {
		var m outbox.Message
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return messages, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = id.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
		at, pq.Array(values),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntries(rows *sql.Rows) ([]*audit.Entry, error) {
	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		entry     audit.Entry
		module    string
		eventType string
		payload   []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.OrganizationID,
		&module,
		&eventType,
		&entry.Action,
		&entry.ActorType,
		&entry.ActorID,
		&entry.TargetType,
		&entry.TargetID,
		&entry.PayloadVersion,
		&payload,
		&entry.Signature,
		&entry.CreatedAt,
		&entry.ArchivedAt,
		&entry.ArchiveReference,
	)
	if err != nil {
		return nil, err
	}
	entry.Module = audit.Module(module)
	entry.EventType = audit.EventType(eventType)
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.ArchivedAt != nil {
		at := entry.ArchivedAt.UTC()
		entry.ArchivedAt = &at
	}
	entry.Payload, err = decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func decodePayload(raw []byte) (audit.Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode audit payload: %w", err)
	}
	canonical, err := audit.Canonicalize(decoded)
	if err != nil {
		return nil, fmt.Errorf("normalize audit payload: %w", err)
	}
	if canonical == nil {
		return audit.Payload{}, nil
	}
	return audit.Payload(canonical.(map[string]any)), nil
}
