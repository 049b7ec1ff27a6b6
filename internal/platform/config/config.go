package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration of the server. Values come from an
// optional YAML file; environment variables override the file.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Audit     AuditConfig
	Retention RetentionConfig
	RGPD      RGPDConfig
	Archive   ArchiveConfig
	LogLevel  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig is empty-URL safe: no URL means no Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	OutboxTopic string
}

type AuditConfig struct {
	SigningSecret       string
	DefaultOrganization string
	OutboxBatchSize     int
	OutboxInterval      time.Duration
}

type RetentionConfig struct {
	DefaultRetentionDays int
	DefaultArchiveDays   int
	// Schedule is a cron expression; empty disables the scheduler.
	Schedule string
	LockTTL  time.Duration
}

type RGPDConfig struct {
	SLADays int
}

type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether an archive bucket was configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

const (
	DefaultAddr                 = ":8080"
	DefaultOrganization         = "default"
	DefaultRetentionDays        = 365
	DefaultArchiveDays          = 180
	DefaultRGPDSLADays          = 30
	DefaultOutboxTopic          = "chronicle.audit.entries"
	DefaultRetentionSchedule    = "0 3 * * *"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultRetentionLockTTL     = 5 * time.Minute
	DefaultOutboxBatchSize      = 100
	DefaultOutboxInterval       = time.Second
	DefaultRedisPoolSize        = 10
	DefaultRedisTimeout         = 3 * time.Second
	DefaultDatabaseMaxOpenConns = 10
)

var (
	ErrMissingSigningSecret = errors.New("AUDIT_SIGNING_SECRET is required")
	ErrMissingAdminToken    = errors.New("ADMIN_TOKEN is required")
	ErrInvalidWindows       = errors.New("DEFAULT_ARCHIVE_DAYS must be between 1 and DEFAULT_RETENTION_DAYS")
	ErrInvalidSLA           = errors.New("RGPD_SLA_DAYS must be at least 1")
	ErrIncompleteArchive    = errors.New("ARCHIVE_BUCKET requires ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY")
)

// FromEnv loads the file named by CHRONICLE_CONFIG, if any, and the
// environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("CHRONICLE_CONFIG"))
}

// Load reads configFilePath (optional) and applies environment overrides.
// Every problem found is returned joined in one error.
func Load(configFilePath string) (*Config, error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
	}

	l := loader{k: k}
	cfg := &Config{
		Server: Server{
			Addr:            l.str("CHRONICLE_ADDR", "server.addr", DefaultAddr),
			AdminToken:      l.str("ADMIN_TOKEN", "server.admin_token", ""),
			ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", "server.shutdown_timeout", DefaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			URL:          l.str("DATABASE_URL", "database.url", ""),
			MaxOpenConns: l.int("DATABASE_MAX_OPEN_CONNS", "database.max_open_conns", DefaultDatabaseMaxOpenConns),
			MaxIdleConns: l.int("DATABASE_MAX_IDLE_CONNS", "database.max_idle_conns", DefaultDatabaseMaxOpenConns/2),
		},
		Redis: RedisConfig{
			URL:          l.str("REDIS_URL", "redis.url", ""),
			PoolSize:     l.int("REDIS_POOL_SIZE", "redis.pool_size", DefaultRedisPoolSize),
			MinIdleConns: l.int("REDIS_MIN_IDLE_CONNS", "redis.min_idle_conns", 1),
			DialTimeout:  l.duration("REDIS_DIAL_TIMEOUT", "redis.dial_timeout", DefaultRedisTimeout),
			ReadTimeout:  l.duration("REDIS_READ_TIMEOUT", "redis.read_timeout", DefaultRedisTimeout),
			WriteTimeout: l.duration("REDIS_WRITE_TIMEOUT", "redis.write_timeout", DefaultRedisTimeout),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(l.str("KAFKA_BROKERS", "kafka.brokers", "")),
			OutboxTopic: l.str("AUDIT_OUTBOX_TOPIC", "kafka.outbox_topic", DefaultOutboxTopic),
		},
		Audit: AuditConfig{
			SigningSecret:       l.str("AUDIT_SIGNING_SECRET", "audit.signing_secret", ""),
			DefaultOrganization: l.str("DEFAULT_ORGANIZATION", "audit.default_organization", DefaultOrganization),
			OutboxBatchSize:     l.int("AUDIT_OUTBOX_BATCH_SIZE", "audit.outbox_batch_size", DefaultOutboxBatchSize),
			OutboxInterval:      l.duration("AUDIT_OUTBOX_INTERVAL", "audit.outbox_interval", DefaultOutboxInterval),
		},
		Retention: RetentionConfig{
			DefaultRetentionDays: l.int("DEFAULT_RETENTION_DAYS", "retention.default_retention_days", DefaultRetentionDays),
			DefaultArchiveDays:   l.int("DEFAULT_ARCHIVE_DAYS", "retention.default_archive_days", DefaultArchiveDays),
			Schedule:             l.str("RETENTION_SCHEDULE", "retention.schedule", DefaultRetentionSchedule),
			LockTTL:              l.duration("RETENTION_LOCK_TTL", "retention.lock_ttl", DefaultRetentionLockTTL),
		},
		RGPD: RGPDConfig{
			SLADays: l.int("RGPD_SLA_DAYS", "rgpd.sla_days", DefaultRGPDSLADays),
		},
		Archive: ArchiveConfig{
			Bucket:          l.str("ARCHIVE_BUCKET", "archive.bucket", ""),
			Endpoint:        l.str("ARCHIVE_ENDPOINT", "archive.endpoint", ""),
			Region:          l.str("ARCHIVE_REGION", "archive.region", ""),
			Prefix:          l.str("ARCHIVE_PREFIX", "archive.prefix", ""),
			AccessKeyID:     l.str("ARCHIVE_ACCESS_KEY_ID", "archive.access_key_id", ""),
			SecretAccessKey: l.str("ARCHIVE_SECRET_ACCESS_KEY", "archive.secret_access_key", ""),
		},
		LogLevel: l.str("LOG_LEVEL", "log_level", "info"),
	}

	errs := append(l.errs, cfg.Validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every invalid setting. Inconsistent values are rejected,
// never clamped.
func (c *Config) Validate() []error {
	var errs []error
	if c.Audit.SigningSecret == "" {
		errs = append(errs, ErrMissingSigningSecret)
	}
	if c.Server.AdminToken == "" {
		errs = append(errs, ErrMissingAdminToken)
	}
	if strings.TrimSpace(c.Audit.DefaultOrganization) == "" {
		errs = append(errs, errors.New("DEFAULT_ORGANIZATION must not be blank"))
	}
	r := c.Retention
	if r.DefaultArchiveDays < 1 || r.DefaultRetentionDays < 1 || r.DefaultArchiveDays > r.DefaultRetentionDays {
		errs = append(errs, ErrInvalidWindows)
	}
	if c.RGPD.SLADays < 1 {
		errs = append(errs, ErrInvalidSLA)
	}
	if c.Archive.Enabled() && (c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "") {
		errs = append(errs, ErrIncompleteArchive)
	}
	return errs
}

// loader resolves one setting from the environment, then the file, then the
// default, and collects parse errors.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

func (l *loader) str(envKey, key, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if v := l.k.String(key); v != "" {
		return v
	}
	return def
}

func (l *loader) int(envKey, key string, def int) int {
	if v := os.Getenv(envKey); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s must be a valid integer: %w", envKey, err))
			return def
		}
		return i
	}
	if l.k.Exists(key) {
		return l.k.Int(key)
	}
	return def
}

func (l *loader) duration(envKey, key string, def time.Duration) time.Duration {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = l.k.String(key)
	}
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be a valid duration: %w", envKey, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
