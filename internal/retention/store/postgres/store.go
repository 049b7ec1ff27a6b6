package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chronicle/internal/retention"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
)

// Store persists retention policies and execution records in PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

func (s *Store) FindPolicy(ctx context.Context, org string) (*retention.Policy, error) {
	var p retention.Policy
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT organization_id, retention_days, archive_after_days, updated_at
		FROM audit_retention_policies
		WHERE organization_id = $1
	`, org).Scan(&p.OrganizationID, &p.RetentionDays, &p.ArchiveAfterDays, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find retention policy: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) UpsertPolicy(ctx context.Context, policy *retention.Policy) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_retention_policies (organization_id, retention_days, archive_after_days, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id) DO UPDATE SET
			retention_days = EXCLUDED.retention_days,
			archive_after_days = EXCLUDED.archive_after_days,
			updated_at = EXCLUDED.updated_at
	`, policy.OrganizationID, policy.RetentionDays, policy.ArchiveAfterDays, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT organization_id FROM audit_retention_policies ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("list retention organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("scan retention organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retention organizations: %w", err)
	}
	return orgs, nil
}

func (s *Store) SaveExecution(ctx context.Context, execution *retention.Execution) error {
	details, err := json.Marshal(execution.Details)
	if err != nil {
		return fmt.Errorf("marshal retention details: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_retention_events (
			id, organization_id, executed_at, purged_count, archived_count, anonymized_count, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		execution.ID,
		execution.OrganizationID,
		execution.ExecutedAt,
		execution.PurgedCount,
		execution.ArchivedCount,
		execution.AnonymizedCount,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("insert retention execution: %w", err)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, org string) ([]*retention.Execution, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, organization_id, executed_at, purged_count, archived_count, anonymized_count, details
		FROM audit_retention_events
		WHERE organization_id = $1
		ORDER BY executed_at DESC, id DESC
	`, org)
	if err != nil {
		return nil, fmt.Errorf("query retention executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*retention.Execution, 0)
	for rows.Next() {
		var (
			e       retention.Execution
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ExecutedAt, &e.PurgedCount, &e.ArchivedCount, &e.AnonymizedCount, &details); err != nil {
			return nil, fmt.Errorf("scan retention execution: %w", err)
		}
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode retention details: %w", err)
		}
		e.ExecutedAt = e.ExecutedAt.UTC()
		executions = append(executions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retention executions: %w", err)
	}
	return executions, nil
}
