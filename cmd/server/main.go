package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit"
	audithandler "chronicle/internal/audit/handler"
	auditmetrics "chronicle/internal/audit/metrics"
	"chronicle/internal/audit/outbox"
	"chronicle/internal/gdpr"
	gdprhandler "chronicle/internal/gdpr/handler"
	gdprmetrics "chronicle/internal/gdpr/metrics"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/httpserver"
	"chronicle/internal/platform/kafka"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/metrics"
	"chronicle/internal/platform/redis"
	"chronicle/internal/retention"
	"chronicle/internal/retention/archive"
	retentionhandler "chronicle/internal/retention/handler"
	"chronicle/internal/retention/lock"
	retentionmetrics "chronicle/internal/retention/metrics"
	"chronicle/internal/retention/schedule"
	httptransport "chronicle/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal domain
// packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("chronicle stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("chronicle stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New()
	checks := map[string]httptransport.HealthCheck{}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if st.db != nil {
		checks["database"] = st.db.PingContext
	}

	signer, err := audit.NewSigner(cfg.Audit.SigningSecret)
	if err != nil {
		return err
	}
	auditMetrics := auditmetrics.New(m.Registry)
	ledger, err := audit.NewLedger(st.audit, signer, audit.Config{DefaultOrganization: cfg.Audit.DefaultOrganization},
		audit.WithLogger(log),
		audit.WithMetrics(auditMetrics),
		audit.WithTxRunner(st.tx),
	)
	if err != nil {
		return err
	}

	retentionOpts := []retention.Option{
		retention.WithLogger(log),
		retention.WithMetrics(retentionmetrics.New(m.Registry)),
		retention.WithTxRunner(st.tx),
		retention.WithLockTTL(cfg.Retention.LockTTL),
	}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient.Health
		retentionOpts = append(retentionOpts, retention.WithLocker(lock.NewRedis(redisClient.Client)))
	} else {
		retentionOpts = append(retentionOpts, retention.WithLocker(lock.NewMemory()))
	}
	if cfg.Archive.Enabled() {
		client, err := archive.NewS3Client(archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		retentionOpts = append(retentionOpts,
			retention.WithArchiveSink(archive.NewS3Sink(client, cfg.Archive.Bucket, cfg.Archive.Prefix)))
	}
	retentionService, err := retention.New(st.policies, st.executions, st.audit, ledger, retention.Defaults{
		Organization:     cfg.Audit.DefaultOrganization,
		RetentionDays:    cfg.Retention.DefaultRetentionDays,
		ArchiveAfterDays: cfg.Retention.DefaultArchiveDays,
	}, retentionOpts...)
	if err != nil {
		return err
	}

	registry, err := gdpr.New(st.rgpd, ledger, gdpr.Config{
		SLADays:             cfg.RGPD.SLADays,
		DefaultOrganization: cfg.Audit.DefaultOrganization,
	},
		gdpr.WithLogger(log),
		gdpr.WithMetrics(gdprmetrics.New(m.Registry)),
		gdpr.WithTxRunner(st.tx),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if st.outbox != nil {
		producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers}, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.OutboxTopic, 3, 1); err != nil {
			log.WarnContext(ctx, "could not ensure outbox topic", "topic", cfg.Kafka.OutboxTopic, "error", err)
		}
		checks["kafka"] = producer.Health
		relay, err := outbox.NewRelay(st.outbox, producer, st.tx, cfg.Kafka.OutboxTopic,
			outbox.WithLogger(log),
			outbox.WithMetrics(auditMetrics),
			outbox.WithBatchSize(cfg.Audit.OutboxBatchSize),
			outbox.WithInterval(cfg.Audit.OutboxInterval),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	if cfg.Retention.Schedule != "" {
		scheduler, err := schedule.New(retentionService, cfg.Retention.Schedule, schedule.WithLogger(log))
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	router := httptransport.NewRouter(httptransport.Config{
		AdminToken:   cfg.Server.AdminToken,
		HealthChecks: checks,
	}, log, m,
		audithandler.New(ledger, log),
		retentionhandler.New(retentionService, log),
		gdprhandler.New(registry, log),
	)
	srv := httpserver.New(cfg.Server.Addr, router)
	g.Go(func() error {
		log.InfoContext(ctx, "starting chronicle", "addr", cfg.Server.Addr)
		return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
