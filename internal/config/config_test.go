package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/labsync")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.Equal(t, "/login.php", cfg.NacppLoginPath)
	assert.Equal(t, "login", cfg.NacppLoginField)
	assert.Equal(t, 3, cfg.NacppRetries)
	assert.Equal(t, 25*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, "RUB", cfg.DefaultCurrency)
	assert.Equal(t, "data/reports", cfg.ReportsDir)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_TrimsBaseURLSlash(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/labsync")
	t.Setenv("NACPP_BASE_URL", "https://lab.example.org/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://lab.example.org", cfg.NacppBaseURL)
}

func TestValidate(t *testing.T) {
	base := Config{
		NacppBaseURL:  "https://lab.example.org",
		NacppLogin:    "user",
		NacppPassword: "secret",
	}

	cfg := base
	assert.NoError(t, cfg.Validate())

	cfg = base
	cfg.NacppBaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "NACPP_BASE_URL is required")

	cfg = base
	cfg.NacppBaseURL = "lab.example.org"
	assert.ErrorContains(t, cfg.Validate(), "absolute http(s) URL")

	cfg = base
	cfg.NacppPassword = ""
	assert.ErrorContains(t, cfg.Validate(), "NACPP_LOGIN and NACPP_PASSWORD")

	cfg = base
	cfg.NacppRetries = -1
	assert.ErrorContains(t, cfg.Validate(), "NACPP_RETRIES")

	cfg = base
	cfg.NacppRetryBackoff = -0.5
	assert.ErrorContains(t, cfg.Validate(), "NACPP_RETRY_BACKOFF")
}
