package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("AUDIT_SIGNING_SECRET", "secret")
	t.Setenv("ADMIN_TOKEN", "token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultOrganization, cfg.Audit.DefaultOrganization)
	assert.Equal(t, 365, cfg.Retention.DefaultRetentionDays)
	assert.Equal(t, 180, cfg.Retention.DefaultArchiveDays)
	assert.Equal(t, 30, cfg.RGPD.SLADays)
	assert.Equal(t, DefaultOutboxTopic, cfg.Kafka.OutboxTopic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Database.URL)
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "chronicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
retention:
  default_retention_days: 90
  default_archive_days: 30
  schedule: "@hourly"
kafka:
  brokers: "k1:9092, k2:9092"
archive:
  bucket: audit
  access_key_id: a
  secret_access_key: b
redis:
  dial_timeout: 2s
`), 0o600))
	t.Setenv("DEFAULT_ARCHIVE_DAYS", "45")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 90, cfg.Retention.DefaultRetentionDays)
	assert.Equal(t, 45, cfg.Retention.DefaultArchiveDays)
	assert.Equal(t, "@hourly", cfg.Retention.Schedule)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Redis.DialTimeout)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Run("missing secrets", func(t *testing.T) {
		t.Setenv("AUDIT_SIGNING_SECRET", "")
		t.Setenv("ADMIN_TOKEN", "")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrMissingSigningSecret)
		assert.ErrorIs(t, err, ErrMissingAdminToken)
	})

	t.Run("archive window beyond retention is not clamped", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DEFAULT_RETENTION_DAYS", "30")
		t.Setenv("DEFAULT_ARCHIVE_DAYS", "60")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidWindows)
	})

	t.Run("malformed numbers", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RGPD_SLA_DAYS", "thirty")
		_, err := Load("")
		assert.ErrorContains(t, err, "RGPD_SLA_DAYS must be a valid integer")
	})

	t.Run("archive bucket without credentials", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ARCHIVE_BUCKET", "audit")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrIncompleteArchive)
	})

	t.Run("missing file", func(t *testing.T) {
		setRequired(t)
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
