package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cql2omop/cql2omop/internal/platform/dialect"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	MaxBodySize    string        `mapstructure:"MAX_BODY_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	OMOPDatabaseSchema string `mapstructure:"OMOP_DATABASE_SCHEMA"`
	VocabBackend       string `mapstructure:"VOCAB_BACKEND"`
	VocabSQLitePath    string `mapstructure:"VOCAB_SQLITE_PATH"`

	VSACBaseURL     string        `mapstructure:"VSAC_BASE_URL"`
	VSACUsername    string        `mapstructure:"VSAC_USERNAME"`
	VSACPassword    string        `mapstructure:"VSAC_PASSWORD"`
	VSACConcurrency int           `mapstructure:"VSAC_CONCURRENCY"`
	VSACTimeout     time.Duration `mapstructure:"VSAC_TIMEOUT"`
	CodeLookupURL   string        `mapstructure:"CODE_LOOKUP_URL"`
	RedisURL        string        `mapstructure:"REDIS_URL"`

	LLMBaseURL string        `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey  string        `mapstructure:"LLM_API_KEY"`
	LLMModel   string        `mapstructure:"LLM_MODEL"`
	LLMTimeout time.Duration `mapstructure:"LLM_TIMEOUT"`

	DefaultDialect string `mapstructure:"DEFAULT_DIALECT"`
	LibraryDir     string `mapstructure:"LIBRARY_DIR"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var envKeys = []string{
	"PORT", "ENV", "CORS_ORIGINS",
	"MAX_BODY_SIZE", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "OMOP_DATABASE_SCHEMA",
	"VOCAB_BACKEND", "VOCAB_SQLITE_PATH",
	"VSAC_BASE_URL", "VSAC_USERNAME", "VSAC_PASSWORD", "VSAC_CONCURRENCY", "VSAC_TIMEOUT",
	"CODE_LOOKUP_URL", "REDIS_URL",
	"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT",
	"DEFAULT_DIALECT", "LIBRARY_DIR",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MAX_BODY_SIZE", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "5m")
	v.SetDefault("RATE_LIMIT_RPS", 0.5)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("OMOP_DATABASE_SCHEMA", "dbo")
	v.SetDefault("VOCAB_BACKEND", BackendPostgres)
	v.SetDefault("VSAC_BASE_URL", "https://vsac.nlm.nih.gov/vsac/svs/")
	v.SetDefault("VSAC_CONCURRENCY", 3)
	v.SetDefault("VSAC_TIMEOUT", "30s")
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4-turbo")
	v.SetDefault("LLM_TIMEOUT", "120s")
	v.SetDefault("DEFAULT_DIALECT", string(dialect.PostgreSQL))

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); the HTTP API is unauthenticated.")
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

// Dialect returns the configured default SQL dialect.
func (c *Config) Dialect() dialect.Dialect {
	d, err := dialect.Parse(c.DefaultDialect)
	if err != nil {
		return dialect.PostgreSQL
	}
	return d
}

// Validate checks settings that make the process unusable when wrong.
// Credentials are not required here: they may be supplied per request.
func (c *Config) Validate() error {
	if _, err := dialect.Parse(c.DefaultDialect); err != nil {
		return fmt.Errorf("DEFAULT_DIALECT: %w", err)
	}
	switch c.VocabBackend {
	case BackendPostgres:
	case BackendSQLite:
		if c.VocabSQLitePath == "" {
			return fmt.Errorf("VOCAB_SQLITE_PATH is required when VOCAB_BACKEND is %q", BackendSQLite)
		}
	default:
		return fmt.Errorf("VOCAB_BACKEND must be %q or %q, got %q", BackendPostgres, BackendSQLite, c.VocabBackend)
	}
	if c.VSACConcurrency < 1 {
		return fmt.Errorf("VSAC_CONCURRENCY must be at least 1, got %d", c.VSACConcurrency)
	}
	if c.IsProduction() && c.AuthSigningKey == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_ISSUER is required in production")
	}
	return nil
}

// HasVocabularyDatabase reports whether a vocabulary store can be opened.
func (c *Config) HasVocabularyDatabase() bool {
	if c.VocabBackend == BackendSQLite {
		return c.VocabSQLitePath != ""
	}
	return c.DatabaseURL != ""
}

// Status reports which credentials are configured without revealing them.
func (c *Config) Status() map[string]string {
	set := func(s string) string {
		if s == "" {
			return "NOT SET"
		}
		return "SET"
	}
	return map[string]string{
		"VSAC_USERNAME":        set(c.VSACUsername),
		"VSAC_PASSWORD":        set(c.VSACPassword),
		"DATABASE_URL":         set(c.DatabaseURL),
		"VOCAB_SQLITE_PATH":    set(c.VocabSQLitePath),
		"LLM_API_KEY":          set(c.LLMAPIKey),
		"REDIS_URL":            set(c.RedisURL),
		"OMOP_DATABASE_SCHEMA": c.OMOPDatabaseSchema,
		"VOCAB_BACKEND":        c.VocabBackend,
	}
}
