//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("should read yaml and apply defaults", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, `
database:
  url: postgres://localhost/billing
redis:
  url: localhost:6379
server:
  jwt_secret: secret
lifecycle:
  grace_period_days: 3
`)

		// Act
		cfg, err := Load(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/billing", cfg.Database.URL)
		assert.Equal(t, 3*24*time.Hour, cfg.Lifecycle.GracePeriod())
		assert.Equal(t, 24*time.Hour, cfg.Lifecycle.RenewalWindow)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, int32(10), cfg.Database.MaxConns)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "https://api.razorpay.com", cfg.Payment.Razorpay.BaseURL)
		assert.Equal(t, time.Hour, cfg.Redis.TTL)
	})

	t.Run("should let prefixed environment variables override yaml", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, `
database:
  url: postgres://localhost/billing
redis:
  url: localhost:6379
server:
  jwt_secret: secret
`)
		t.Setenv("BILLING_DATABASE_URL", "postgres://db/override")
		t.Setenv("BILLING_GRACE_PERIOD_DAYS", "10")
		t.Setenv("BILLING_TELEGRAM_ADMIN_CHAT_IDS", "11,22")

		// Act
		cfg, err := Load(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "postgres://db/override", cfg.Database.URL)
		assert.Equal(t, 10, cfg.Lifecycle.GracePeriodDays)
		assert.Equal(t, []int64{11, 22}, cfg.Telegram.AdminChatIDs)
	})

	t.Run("should load from environment alone when the file is missing", func(t *testing.T) {
		// Arrange
		t.Setenv("BILLING_DATABASE_URL", "postgres://db/env")
		t.Setenv("BILLING_REDIS_URL", "redis:6379")
		t.Setenv("BILLING_ADMIN_API_KEY", "k")

		// Act
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "redis:6379", cfg.Redis.URL)
	})

	t.Run("should reject a config without database and credentials", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, `
payment:
  razorpay:
    key_id: rzp_test
`)

		// Act
		_, err := Load(path)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url is required")
		assert.Contains(t, err.Error(), "server.jwt_secret or server.admin_api_key is required")
		assert.Contains(t, err.Error(), "payment.razorpay needs both key_id and key_secret")
	})
}
