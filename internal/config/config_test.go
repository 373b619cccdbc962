package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HISTCLEAN_DRIVER", "HISTCLEAN_DSN", "HISTCLEAN_LEDGER_PATH", "HISTCLEAN_ARCHIVE",
		"HISTCLEAN_LISTEN_ADDR", "HISTCLEAN_SCHEDULE", "HISTCLEAN_JWT_SECRET",
		"LOG_LEVEL", "ENV", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
		"KEY_ID", "SECRET", "ENDPOINT", "REGION", "GCS_KEY_FILE",
		"AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY",
		"HISTCLEAN_OIDC_ISSUER_URL", "HISTCLEAN_OIDC_JWKS_URL", "HISTCLEAN_OIDC_AUDIENCE",
		"HISTCLEAN_OIDC_ALLOWED_ISSUERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTCLEAN_DRIVER", "postgres")
	t.Setenv("HISTCLEAN_DSN", "postgres://app@db/app")
	t.Setenv("HISTCLEAN_LEDGER_PATH", "/var/lib/histclean/ledger.sqlite")
	t.Setenv("HISTCLEAN_ARCHIVE", "s3://backups/history")
	t.Setenv("HISTCLEAN_SCHEDULE", "0 3 * * *")
	t.Setenv("HISTCLEAN_JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("KEY_ID", "testkey")
	t.Setenv("SECRET", "testsecret")
	t.Setenv("REGION", "eu-central-1")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "postgres://app@db/app", cfg.DSN)
	assert.Equal(t, "/var/lib/histclean/ledger.sqlite", cfg.LedgerPath)
	assert.Equal(t, "s3://backups/history", cfg.ArchiveURI)
	assert.Equal(t, "0 3 * * *", cfg.Schedule)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.HasS3Config())
	require.NotNil(t, cfg.S3Region)
	assert.Equal(t, "eu-central-1", *cfg.S3Region)
	assert.Nil(t, cfg.S3Endpoint)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "histclean.sqlite", cfg.LedgerPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "@daily", cfg.Schedule)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 10.0, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.HasS3Config())
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "HISTCLEAN_JWT_SECRET")
}

func TestLoadFromEnv_PartialS3Warns(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTCLEAN_JWT_SECRET", "s3cret")
	t.Setenv("KEY_ID", "testkey")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.HasS3Config(), "partial S3 config should return false")
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "SECRET")
}

func TestLoadFromEnv_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPS", "fast")
	_, err := LoadFromEnv()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("RATE_LIMIT_BURST", "-1")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnv_Production(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTCLEAN_JWT_SECRET")

	t.Setenv("HISTCLEAN_JWT_SECRET", "s3cret")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadFromEnv_OIDC(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTCLEAN_OIDC_ISSUER_URL", "https://login.example.com")
	t.Setenv("HISTCLEAN_OIDC_AUDIENCE", "histclean")
	t.Setenv("HISTCLEAN_OIDC_ALLOWED_ISSUERS", "https://login.example.com, https://sts.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.OIDCEnabled())
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, []string{"https://login.example.com", "https://sts.example.com"}, cfg.OIDCAllowedIssuers)
	assert.Empty(t, cfg.Warnings, "OIDC alone protects the API")

	t.Setenv("HISTCLEAN_OIDC_AUDIENCE", "")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTCLEAN_OIDC_AUDIENCE")

	clearEnv(t)
	t.Setenv("HISTCLEAN_OIDC_JWKS_URL", "https://login.example.com/keys")
	t.Setenv("HISTCLEAN_OIDC_AUDIENCE", "histclean")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTCLEAN_OIDC_ISSUER_URL")
}

func TestLoadFromEnv_ProductionAcceptsOIDC(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example")
	t.Setenv("HISTCLEAN_OIDC_ISSUER_URL", "https://login.example.com")
	t.Setenv("HISTCLEAN_OIDC_AUDIENCE", "histclean")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.JWTSecret)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
