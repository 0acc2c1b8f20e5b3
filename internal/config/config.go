package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	AuthMode        string   `mapstructure:"AUTH_MODE"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string   `mapstructure:"REDIS_URL"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey   string   `mapstructure:"JWT_SIGNING_KEY"`
	DefaultTenant   string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int      `mapstructure:"RATE_LIMIT_BURST"`
	CacheTTLSeconds int      `mapstructure:"CACHE_TTL_SECONDS"`
	RetentionDays   int      `mapstructure:"RETENTION_DAYS"`
	ExportBucket    string   `mapstructure:"EXPORT_BUCKET"`
	AWSRegion       string   `mapstructure:"AWS_REGION"`
	TLSEnabled      bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string   `mapstructure:"TLS_KEY_FILE"`
}

// settings drives env binding and defaults. Every key must be bound
// explicitly or Unmarshal never sees variables that were not also set in
// the .env file; a nil default leaves the key unset.
var settings = []struct {
	key string
	def any
}{
	{"PORT", "8000"},
	{"ENV", "development"},
	{"AUTH_MODE", ""}, // empty means infer from ENV and AUTH_ISSUER
	{"DATABASE_URL", nil},
	{"DB_MAX_CONNS", 20},
	{"DB_MIN_CONNS", 5},
	{"REDIS_URL", nil},
	{"AUTH_ISSUER", nil},
	{"AUTH_JWKS_URL", nil},
	{"AUTH_AUDIENCE", nil},
	{"JWT_SIGNING_KEY", nil},
	{"DEFAULT_TENANT", "default"},
	{"CORS_ORIGINS", "http://localhost:3000"},
	{"RATE_LIMIT_RPS", 100},
	{"RATE_LIMIT_BURST", 200},
	{"CACHE_TTL_SECONDS", 300},
	{"RETENTION_DAYS", 30},
	{"EXPORT_BUCKET", nil},
	{"AWS_REGION", "us-east-1"},
	{"TLS_ENABLED", nil},
	{"TLS_CERT_FILE", nil},
	{"TLS_KEY_FILE", nil},
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for _, s := range settings {
		v.BindEnv(s.key)
		if s.def != nil {
			v.SetDefault(s.key, s.def)
		}
	}

	// A missing .env file is fine; the environment is the source of truth.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper hands CORS_ORIGINS through as one string; split it here.
	if cfg.CORSOrigins == nil {
		if raw := v.GetString("CORS_ORIGINS"); raw != "" {
			cfg.CORSOrigins = strings.Split(raw, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		for _, line := range []string{
			"============================================================",
			"Server is running in DEVELOPMENT mode (ENV=development).",
			"DevAuthMiddleware is active — all requests get admin access.",
			"Do NOT use this configuration in production.",
			"Set ENV=production and configure AUTH_ISSUER for production.",
			"============================================================",
		} {
			log.Println("WARNING: " + line)
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development  → "development" (no auth, all requests get admin)
//   - AUTH_ISSUER set  → "external" (Keycloak, Auth0, etc.)
//   - Otherwise        → "hmac" (shared-secret JWTs, staging and self-hosted)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "hmac"
}

// Validate checks that the configuration is safe to run. Outside development
// the server refuses to start without a working authentication setup, and
// the retention and cache windows must be positive since the purge sweeper
// and resolver cache both divide work by them.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" {
			return fmt.Errorf(
				"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q); "+
					"refusing to start without authentication configuration", c.Env)
		}
	case "hmac":
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY must be set when AUTH_MODE is \"hmac\"")
		}
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.JWTSigningKey))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"hmac\", or \"external\", got %q", mode)
	}

	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
