// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from OPSDESK_* environment
// variables with defaults for everything except the database URL and the
// session signing secret. Local development can keep them in a .env file:
//
//	_ = config.LoadEnvFiles(".env.local", ".env")
//	cfg, err := config.LoadConfig()
//
// # Configuration Structure
//
// Server settings:
//
//	OPSDESK_HOST="0.0.0.0"
//	OPSDESK_PORT="8080"
//	OPSDESK_HEALTH_PORT="9090"
//	OPSDESK_ALLOWED_ORIGINS="https://app.example.com"
//
// Database and Redis:
//
//	OPSDESK_DATABASE_URL="postgres://localhost/opsdesk?sslmode=disable"
//	OPSDESK_DATABASE_LISTEN_URL=""   # defaults to OPSDESK_DATABASE_URL
//	OPSDESK_REDIS_URL="localhost:6379"
//
// Sessions and identity:
//
//	OPSDESK_JWT_SECRET="..."          # at least 32 bytes
//	OPSDESK_SESSION_TTL="12h"
//	OPSDESK_POLICY_FILE="/etc/opsdesk/policy.yaml"
//	OPSDESK_OIDC_ISSUER="https://id.example.com"
//	OPSDESK_OIDC_CLIENT_ID="opsdesk"
//
// Attachments, mail and webhooks:
//
//	OPSDESK_S3_BUCKET="opsdesk-attachments"
//	OPSDESK_SMTP_HOST="smtp.example.com"
//	OPSDESK_MAIL_PROVIDER_URL="https://mail.example.com/api"
//	OPSDESK_MAILBOXES="info@example.com,jobs@example.com"
//	OPSDESK_WEBHOOK_SECRET="..."
//
// Observability settings:
//
//	OPSDESK_LOG_LEVEL="info"  # debug, info, warn, error
//	OPSDESK_METRICS_ENABLED="true"
//	OPSDESK_OTEL_ENABLED="true"
//	OPSDESK_OTEL_ENDPOINT="otel-collector:4317"
package config
