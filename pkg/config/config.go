package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Quota         QuotaConfig
	RateLimit     RateLimitConfig
	Teams         TeamConfig
	Audit         AuditConfig
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
	// TrustedProxies are IPs or CIDR ranges whose X-Forwarded-For and
	// X-Real-IP headers are honored
	TrustedProxies []string
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StorageConfig selects the backing stores. Empty URLs select the
// in-memory implementations.
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	RunMigrations    bool
	RedisURL         string
	RedisKeyPrefix   string
}

// AuthConfig holds token issuing and verification settings
type AuthConfig struct {
	Issuer   string
	Audience string
	// SigningKeyPath is a PEM RSA private key. Empty generates an
	// ephemeral key at startup, so tokens do not survive restarts.
	SigningKeyPath string
	TokenTTL       time.Duration
}

// QuotaConfig holds plan table settings
type QuotaConfig struct {
	// PlansFile is a YAML plan table. Empty uses the built-in plans.
	PlansFile  string
	WatchPlans bool
}

// RateLimitConfig holds the response submission window
type RateLimitConfig struct {
	Window        time.Duration
	Max           int
	PruneSchedule string
}

// TeamConfig holds team membership cache settings
type TeamConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// AuditConfig selects audit sinks
type AuditConfig struct {
	Enabled bool
	// Sink is "stdout", "postgres" or "both"
	Sink string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from WARDEN_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Quota:         loadQuotaConfig(),
		RateLimit:     loadRateLimitConfig(),
		Teams:         loadTeamConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		TrustedProxies:  getEnvList("WARDEN_TRUSTED_PROXIES"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("WARDEN_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 20),
		RunMigrations:    getEnvBool("WARDEN_RUN_MIGRATIONS", true),
		RedisURL:         getEnv("WARDEN_REDIS_URL", ""),
		RedisKeyPrefix:   getEnv("WARDEN_REDIS_PREFIX", "warden"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer:         getEnv("WARDEN_TOKEN_ISSUER", "warden"),
		Audience:       getEnv("WARDEN_TOKEN_AUDIENCE", "warden-api"),
		SigningKeyPath: getEnv("WARDEN_SIGNING_KEY_PATH", ""),
		TokenTTL:       getEnvDuration("WARDEN_TOKEN_TTL", 7*24*time.Hour),
	}
}

func loadQuotaConfig() QuotaConfig {
	return QuotaConfig{
		PlansFile:  getEnv("WARDEN_PLANS_FILE", ""),
		WatchPlans: getEnvBool("WARDEN_WATCH_PLANS", true),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:        getEnvDuration("WARDEN_RATE_WINDOW", 24*time.Hour),
		Max:           getEnvInt("WARDEN_RATE_MAX", 1),
		PruneSchedule: getEnv("WARDEN_RATE_PRUNE_SCHEDULE", "@every 10m"),
	}
}

func loadTeamConfig() TeamConfig {
	return TeamConfig{
		CacheSize: getEnvInt("WARDEN_TEAM_CACHE_SIZE", 10000),
		CacheTTL:  getEnvDuration("WARDEN_TEAM_CACHE_TTL", time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: getEnvBool("WARDEN_AUDIT_ENABLED", true),
		Sink:    strings.ToLower(getEnv("WARDEN_AUDIT_SINK", "stdout")),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: must be an IP or CIDR", proxy)
		}
	}

	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		return fmt.Errorf("token issuer and audience are required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", c.Auth.TokenTTL)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("rate limit max must be at least 1, got %d", c.RateLimit.Max)
	}

	if c.Teams.CacheSize < 0 {
		return fmt.Errorf("team cache size must not be negative")
	}

	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case "stdout", "both":
		case "postgres":
			if c.Storage.PostgresURL == "" {
				return fmt.Errorf("postgres audit sink requires WARDEN_POSTGRES_URL")
			}
		default:
			return fmt.Errorf("invalid audit sink: %s (must be stdout, postgres, or both)", c.Audit.Sink)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1], got %v", r)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping
// empty entries
func getEnvList(key string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(key), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
