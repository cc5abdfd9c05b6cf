package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APP_DATABASE_USER", "stock")
	t.Setenv("APP_DATABASE_NAME", "stockalert")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.ClaimLease)
	assert.Equal(t, 5, cfg.RateLimit.TestSendsPerHour)
	assert.Equal(t, "stock", cfg.Database.User)
	assert.Equal(t, "s3cret", cfg.Secrets.CronSecret)
	assert.NoError(t, cfg.Secrets.RequireCron())
}

func TestLoad_FileAndEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	yml := `
server:
  port: 9090
database:
  user: app
  name: stocks
dispatch:
  concurrency: 2
  claim_lease: 2m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("TWILIO_AUTH_TOKEN=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TWILIO_AUTH_TOKEN") })

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Dispatch.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.ClaimLease)
	assert.Equal(t, "from-dotenv", cfg.Secrets.TwilioAuthToken)
}

func TestLoad_Invalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APP_DATABASE_USER", "stock")
	t.Setenv("APP_DATABASE_NAME", "stockalert")
	t.Setenv("APP_DISPATCH_CONCURRENCY", "0")

	_, err := Load(viper.New())
	assert.ErrorContains(t, err, "invalid config")
}

func TestSecrets_RequireProviders(t *testing.T) {
	s := Secrets{TwilioAccountSID: "AC1"}
	err := s.RequireProviders()
	assert.ErrorIs(t, err, ErrMissingSecret)
	assert.ErrorContains(t, err, "TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER")

	s.TwilioAuthToken, s.TwilioPhoneNumber = "tok", "+15550000000"
	assert.NoError(t, s.RequireProviders())
	assert.ErrorIs(t, Secrets{}.RequireCron(), ErrMissingSecret)
}
