package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curio-sh/curio/pkg/observability"
)

// Config holds all application configuration, loaded from CURIO_*
// environment variables
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Blob          BlobConfig
	Cache         CacheConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig selects and configures the metadata store
type StoreConfig struct {
	// Type is "memory" or "postgres"
	Type string

	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// BlobConfig selects and configures the content backend
type BlobConfig struct {
	// Backend is "filesystem" or "s3"
	Backend string

	FilesystemRoot string

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// MaxRetries bounds retries of transient backend failures
	MaxRetries int

	// ReclaimSchedule is a cron expression for the orphaned-content sweep;
	// empty disables it
	ReclaimSchedule string
}

// CacheConfig configures the content cache tiers
type CacheConfig struct {
	Enabled       bool
	Entries       int
	MaxObjectSize int
	TTL           time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// AuthConfig configures token issuance and external verification
type AuthConfig struct {
	// TokenIssuer and TokenAudience name this service in issued tokens
	TokenIssuer   string
	TokenAudience string
	// SigningSecret signs service tokens, minimum 32 bytes
	SigningSecret string
	TokenTTL      time.Duration
	RotationGrace time.Duration

	// VerifierMode is "oidc" or "static"
	VerifierMode string

	OIDCIssuerURL     string
	OIDCClientID      string
	OIDCProviderName  string
	OIDCFetchUserInfo bool

	// StaticSecret verifies external tokens in static mode, for
	// development and tests
	StaticSecret   string
	StaticIssuer   string
	StaticProvider string

	// AdminSubjects lists provider subjects granted the admin scope
	AdminSubjects []string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CURIO_HOST", "0.0.0.0"),
			Port:            getEnv("CURIO_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CURIO_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CURIO_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("CURIO_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CURIO_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CURIO_HEALTH_PORT", "9090"),
		},
		Store: StoreConfig{
			Type:            getEnv("CURIO_STORE_TYPE", "memory"),
			PostgresURL:     getEnv("CURIO_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("CURIO_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("CURIO_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("CURIO_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Blob: BlobConfig{
			Backend:         getEnv("CURIO_BLOB_BACKEND", "filesystem"),
			FilesystemRoot:  getEnv("CURIO_FILESYSTEM_ROOT", "/var/lib/curio/blobs"),
			S3Bucket:        getEnv("CURIO_S3_BUCKET", ""),
			S3Region:        getEnv("CURIO_S3_REGION", "us-east-1"),
			S3Endpoint:      getEnv("CURIO_S3_ENDPOINT", ""),
			S3AccessKey:     getEnv("CURIO_S3_ACCESS_KEY", ""),
			S3SecretKey:     getEnv("CURIO_S3_SECRET_KEY", ""),
			S3UsePathStyle:  getEnvBool("CURIO_S3_USE_PATH_STYLE", false),
			MaxRetries:      getEnvInt("CURIO_BLOB_MAX_RETRIES", 3),
			ReclaimSchedule: getEnv("CURIO_RECLAIM_SCHEDULE", "@hourly"),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CURIO_CACHE_ENABLED", true),
			Entries:       getEnvInt("CURIO_CACHE_ENTRIES", 256),
			MaxObjectSize: getEnvInt("CURIO_CACHE_MAX_OBJECT_SIZE", 4<<20),
			TTL:           getEnvDuration("CURIO_CACHE_TTL", time.Hour),
			RedisAddr:     getEnv("CURIO_REDIS_ADDR", ""),
			RedisPassword: getEnv("CURIO_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("CURIO_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			TokenIssuer:       getEnv("CURIO_TOKEN_ISSUER", "curio"),
			TokenAudience:     getEnv("CURIO_TOKEN_AUDIENCE", "curio"),
			SigningSecret:     getEnv("CURIO_SIGNING_SECRET", ""),
			TokenTTL:          getEnvDuration("CURIO_TOKEN_TTL", 15*time.Minute),
			RotationGrace:     getEnvDuration("CURIO_ROTATION_GRACE", 30*time.Minute),
			VerifierMode:      getEnv("CURIO_VERIFIER_MODE", "static"),
			OIDCIssuerURL:     getEnv("CURIO_OIDC_ISSUER_URL", ""),
			OIDCClientID:      getEnv("CURIO_OIDC_CLIENT_ID", ""),
			OIDCProviderName:  getEnv("CURIO_OIDC_PROVIDER_NAME", "oidc"),
			OIDCFetchUserInfo: getEnvBool("CURIO_OIDC_FETCH_USERINFO", false),
			StaticSecret:      getEnv("CURIO_STATIC_SECRET", ""),
			StaticIssuer:      getEnv("CURIO_STATIC_ISSUER", "curio-dev"),
			StaticProvider:    getEnv("CURIO_STATIC_PROVIDER", "dev"),
			AdminSubjects:     getEnvList("CURIO_ADMIN_SUBJECTS"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("CURIO_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("CURIO_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Store.Type {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory or postgres)", c.Store.Type)
	}

	switch c.Blob.Backend {
	case "filesystem":
		if c.Blob.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem backend")
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Blob.Backend)
	}

	if len(c.Auth.SigningSecret) < 32 {
		return fmt.Errorf("signing secret must be at least 32 bytes")
	}

	switch c.Auth.VerifierMode {
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required for oidc verifier")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required for oidc verifier")
		}
	case "static":
		if len(c.Auth.StaticSecret) < 32 {
			return fmt.Errorf("static secret must be at least 32 bytes for static verifier")
		}
	default:
		return fmt.Errorf("invalid verifier mode: %s (must be oidc or static)", c.Auth.VerifierMode)
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
