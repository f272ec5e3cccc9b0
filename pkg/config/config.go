package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Storage       StorageConfig
	Mail          MailConfig
	Webhook       WebhookConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
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
	MaxBodyBytes    int64
	AllowedOrigins  []string
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding headers are believed
	TrustedProxies  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration

	// ListenURL is the DSN used for LISTEN/NOTIFY; empty disables cross-instance relay
	ListenURL string
}

// RedisConfig holds Redis settings. Redis is optional.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds session and identity provider settings
type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration
	CookieName string
	PolicyFile string
	// CookieSecure marks the session cookie Secure; disable only for plain-HTTP development
	CookieSecure bool

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// OIDCEnabled reports whether an identity provider is configured
func (a AuthConfig) OIDCEnabled() bool {
	return a.OIDCIssuer != "" && a.OIDCClientID != ""
}

// StorageConfig holds attachment object storage settings
type StorageConfig struct {
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool
	MaxUploadBytes   int64
}

// Enabled reports whether attachment uploads are available
func (s StorageConfig) Enabled() bool {
	return s.S3Bucket != ""
}

// MailConfig holds SMTP and inbox provider settings
type MailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPUseTLS   bool
	FromAddress  string

	ProviderURL   string
	ProviderToken string
	Mailboxes     []string
	PollSchedule  string
	PollInProcess bool
}

// SMTPEnabled reports whether outbound mail is configured
func (m MailConfig) SMTPEnabled() bool {
	return m.SMTPHost != ""
}

// InboxEnabled reports whether inbox polling is configured
func (m MailConfig) InboxEnabled() bool {
	return m.ProviderURL != "" && len(m.Mailboxes) > 0
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret       string
	MaxBodyBytes int64
}

// RateLimitConfig holds per-caller rate limiting settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	PublicPerMinute   int
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadEnvFiles loads variables from the given .env files when they exist.
// Variables already present in the environment win.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Storage:       loadStorageConfig(),
		Mail:          loadMailConfig(),
		Webhook:       loadWebhookConfig(),
		RateLimit:     loadRateLimitConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("OPSDESK_HOST", "0.0.0.0"),
		Port:            getEnv("OPSDESK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("OPSDESK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("OPSDESK_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("OPSDESK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("OPSDESK_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("OPSDESK_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("OPSDESK_ALLOWED_ORIGINS", nil),
		TrustedProxies:  getEnvList("OPSDESK_TRUSTED_PROXIES", nil),
		HealthPort:      getEnv("OPSDESK_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("OPSDESK_DATABASE_URL", "")
	return DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvInt("OPSDESK_DATABASE_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("OPSDESK_DATABASE_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("OPSDESK_DATABASE_CONN_LIFETIME", 30*time.Minute),
		Timeout:         getEnvDuration("OPSDESK_DATABASE_TIMEOUT", 10*time.Second),
		ListenURL:       getEnv("OPSDESK_DATABASE_LISTEN_URL", url),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("OPSDESK_REDIS_URL", ""),
		Password:   getEnv("OPSDESK_REDIS_PASSWORD", ""),
		DB:         getEnvInt("OPSDESK_REDIS_DB", 0),
		MaxRetries: getEnvInt("OPSDESK_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("OPSDESK_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("OPSDESK_JWT_SECRET", ""),
		JWTIssuer:        getEnv("OPSDESK_JWT_ISSUER", "opsdesk"),
		SessionTTL:       getEnvDuration("OPSDESK_SESSION_TTL", 12*time.Hour),
		CookieName:       getEnv("OPSDESK_SESSION_COOKIE", "opsdesk_session"),
		CookieSecure:     getEnvBool("OPSDESK_COOKIE_SECURE", true),
		PolicyFile:       getEnv("OPSDESK_POLICY_FILE", ""),
		OIDCIssuer:       getEnv("OPSDESK_OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OPSDESK_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OPSDESK_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("OPSDESK_OIDC_REDIRECT_URL", ""),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		S3Endpoint:       getEnv("OPSDESK_S3_ENDPOINT", ""),
		S3Region:         getEnv("OPSDESK_S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("OPSDESK_S3_BUCKET", ""),
		S3AccessKey:      getEnv("OPSDESK_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("OPSDESK_S3_SECRET_KEY", ""),
		S3ForcePathStyle: getEnvBool("OPSDESK_S3_FORCE_PATH_STYLE", false),
		MaxUploadBytes:   getEnvInt64("OPSDESK_MAX_UPLOAD_BYTES", 25<<20),
	}
}

func loadMailConfig() MailConfig {
	return MailConfig{
		SMTPHost:      getEnv("OPSDESK_SMTP_HOST", ""),
		SMTPPort:      getEnvInt("OPSDESK_SMTP_PORT", 587),
		SMTPUsername:  getEnv("OPSDESK_SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("OPSDESK_SMTP_PASSWORD", ""),
		SMTPUseTLS:    getEnvBool("OPSDESK_SMTP_TLS", true),
		FromAddress:   getEnv("OPSDESK_MAIL_FROM", ""),
		ProviderURL:   getEnv("OPSDESK_MAIL_PROVIDER_URL", ""),
		ProviderToken: getEnv("OPSDESK_MAIL_PROVIDER_TOKEN", ""),
		Mailboxes:     getEnvList("OPSDESK_MAILBOXES", nil),
		PollSchedule:  getEnv("OPSDESK_INBOX_POLL_SCHEDULE", "*/5 * * * *"),
		PollInProcess: getEnvBool("OPSDESK_INBOX_POLL_IN_PROCESS", false),
	}
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Secret:       getEnv("OPSDESK_WEBHOOK_SECRET", ""),
		MaxBodyBytes: getEnvInt64("OPSDESK_WEBHOOK_MAX_BODY_BYTES", 7900),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("OPSDESK_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("OPSDESK_RATE_LIMIT_PER_MINUTE", 300),
		Burst:             getEnvInt("OPSDESK_RATE_LIMIT_BURST", 50),
		PublicPerMinute:   getEnvInt("OPSDESK_RATE_LIMIT_PUBLIC_PER_MINUTE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    getEnvBool("OPSDESK_CACHE_ENABLED", true),
		MaxEntries: getEnvInt("OPSDESK_CACHE_MAX_ENTRIES", 1000),
		TTL:        getEnvDuration("OPSDESK_CACHE_TTL", 30*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("OPSDESK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("OPSDESK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OPSDESK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OPSDESK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OPSDESK_OTEL_SERVICE_NAME", "opsdesk"),
		OTelServiceVersion: getEnv("OPSDESK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OPSDESK_OTEL_INSECURE", true),
	}
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

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.OIDCIssuer != "" && (c.Auth.OIDCClientID == "" || c.Auth.OIDCRedirectURL == "") {
		return fmt.Errorf("OIDC client ID and redirect URL are required when an OIDC issuer is set")
	}

	if c.Mail.SMTPEnabled() && c.Mail.FromAddress == "" {
		return fmt.Errorf("mail from address is required when SMTP is configured")
	}

	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook max body bytes must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requests per minute and burst must be positive")
	}

	if c.Cache.Enabled && (c.Cache.MaxEntries <= 0 || c.Cache.TTL <= 0) {
		return fmt.Errorf("cache max entries and TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
