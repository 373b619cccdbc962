// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the environment-derived configuration of the cleaner and its
// HTTP service.
type Config struct {
	Driver     string // target database driver: sqlite3, postgres or duckdb (inferred from DSN when empty)
	DSN        string // target database DSN
	LedgerPath string // path to the SQLite run ledger (default "histclean.sqlite")
	ArchiveURI string // where deleted snapshots are archived (optional)
	ListenAddr string // HTTP listen address for serve (default ":8080")
	Schedule   string // cron expression for serve (default "@daily")
	JWTSecret  string // HS256 secret for the HTTP API; empty disables auth
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// OIDC bearer tokens for the HTTP API (optional, alongside JWTSecret)
	OIDCIssuerURL      string   // issuer URL; discovery is used unless OIDCJWKSURL is set
	OIDCJWKSURL        string   // JWKS URL override (no .well-known discovery)
	OIDCAudience       string   // required audience claim
	OIDCAllowedIssuers []string // accepted issuers (defaults to [OIDCIssuerURL])

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 10)
	RateLimitBurst int     // burst capacity (default 20)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Archive credentials are optional; nil when not configured.
	S3KeyID          *string
	S3Secret         *string
	S3Endpoint       *string
	S3Region         *string
	GCSKeyFile       string
	AzureAccountName string
	AzureAccountKey  string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// OIDCEnabled returns true when an external identity provider is configured.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != "" || c.OIDCJWKSURL != ""
}

// AuthEnabled returns true when the HTTP API requires bearer tokens.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.OIDCEnabled()
}

// HasS3Config returns true if the S3 key pair is set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Driver:           os.Getenv("HISTCLEAN_DRIVER"),
		DSN:              os.Getenv("HISTCLEAN_DSN"),
		LedgerPath:       os.Getenv("HISTCLEAN_LEDGER_PATH"),
		ArchiveURI:       os.Getenv("HISTCLEAN_ARCHIVE"),
		ListenAddr:       os.Getenv("HISTCLEAN_LISTEN_ADDR"),
		Schedule:         os.Getenv("HISTCLEAN_SCHEDULE"),
		JWTSecret:        os.Getenv("HISTCLEAN_JWT_SECRET"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
		AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
		OIDCIssuerURL:    os.Getenv("HISTCLEAN_OIDC_ISSUER_URL"),
		OIDCJWKSURL:      os.Getenv("HISTCLEAN_OIDC_JWKS_URL"),
		OIDCAudience:     os.Getenv("HISTCLEAN_OIDC_AUDIENCE"),
	}

	// OIDC
	if v := os.Getenv("HISTCLEAN_OIDC_ALLOWED_ISSUERS"); v != "" {
		issuers := strings.Split(v, ",")
		for i := range issuers {
			issuers[i] = strings.TrimSpace(issuers[i])
		}
		cfg.OIDCAllowedIssuers = compactNonEmpty(issuers)
	}
	if cfg.OIDCEnabled() && cfg.OIDCAudience == "" {
		return nil, fmt.Errorf("HISTCLEAN_OIDC_AUDIENCE is required when OIDC is configured")
	}
	if cfg.OIDCJWKSURL != "" && cfg.OIDCIssuerURL == "" && len(cfg.OIDCAllowedIssuers) == 0 {
		return nil, fmt.Errorf("HISTCLEAN_OIDC_JWKS_URL needs HISTCLEAN_OIDC_ISSUER_URL or HISTCLEAN_OIDC_ALLOWED_ISSUERS")
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q", v)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST %q", v)
		}
		cfg.RateLimitBurst = n
	}

	// S3 fields are optional; only set if present
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.S3Region = &v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "histclean.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if !cfg.AuthEnabled() {
		cfg.Warnings = append(cfg.Warnings, "neither HISTCLEAN_JWT_SECRET nor HISTCLEAN_OIDC_ISSUER_URL set: the HTTP API accepts unauthenticated requests")
	}
	if cfg.S3KeyID != nil && cfg.S3Secret == nil {
		cfg.Warnings = append(cfg.Warnings, "KEY_ID is set without SECRET: S3 archiving will fail")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.AuthEnabled() {
			return nil, fmt.Errorf("HISTCLEAN_JWT_SECRET or OIDC must be configured in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
