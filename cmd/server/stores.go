package main

import (
	"context"
	"database/sql"
	"log/slog"

	"chronicle/internal/audit"
	"chronicle/internal/audit/outbox"
	auditmemory "chronicle/internal/audit/store/memory"
	auditpostgres "chronicle/internal/audit/store/postgres"
	"chronicle/internal/gdpr"
	gdprmemory "chronicle/internal/gdpr/store/memory"
	gdprpostgres "chronicle/internal/gdpr/store/postgres"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/postgres"
	"chronicle/internal/retention"
	retentionmemory "chronicle/internal/retention/store/memory"
	retentionpostgres "chronicle/internal/retention/store/postgres"
	"chronicle/pkg/platform/tx"
)

// auditStore is what both the ledger and the retention job need from the
// entry store.
type auditStore interface {
	audit.Store
	retention.EntryStore
}

// stores groups the persistence backends selected at startup. outbox is nil
// unless entries are also relayed to Kafka.
type stores struct {
	db         *sql.DB
	audit      auditStore
	policies   retention.PolicyStore
	executions retention.ExecutionStore
	rgpd       gdpr.Store
	outbox     outbox.Store
	tx         tx.Runner
}

// openStores uses PostgreSQL when a database URL is configured and falls back
// to process-local memory stores otherwise. Memory stores are not
// transactional and lose everything on restart.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
		retentionStore := retentionmemory.New()
		return &stores{
			audit:      auditmemory.New(),
			policies:   retentionStore,
			executions: retentionStore,
			rgpd:       gdprmemory.New(),
			tx:         tx.Passthrough{},
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	var opts []auditpostgres.Option
	relayed := len(cfg.Kafka.Brokers) > 0
	if relayed {
		opts = append(opts, auditpostgres.WithOutbox())
	}
	entries := auditpostgres.New(db, opts...)
	retentionStore := retentionpostgres.New(db)
	s := &stores{
		db:         db,
		audit:      entries,
		policies:   retentionStore,
		executions: retentionStore,
		rgpd:       gdprpostgres.New(db),
		tx:         tx.NewSQLRunner(db),
	}
	if relayed {
		s.outbox = entries
	}
	logger.InfoContext(ctx, "connected to postgres", "outbox", relayed)
	return s, nil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
