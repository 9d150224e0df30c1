// Package config defines the configuration structure for cookalert processes.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"cookalert/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Queue backend identifiers.
const (
	QueueBackendRedis    = "redis"
	QueueBackendPostgres = "postgres"
	QueueBackendMemory   = "memory"
)

// Database type identifiers.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
	DBTypeDynamoDB = "dynamodb"
)

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"cookalert"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Reminder      ReminderConfig
	Queue         QueueConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Push          PushConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"3000"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ReminderConfig controls when reminders fire and how they are retried.
type ReminderConfig struct {
	LeadMinutes    int           `envconfig:"REMINDER_LEAD_MINUTES" default:"15" validate:"gte=0"`
	MaxAttempts    int           `envconfig:"REMINDER_MAX_ATTEMPTS" default:"3" validate:"gte=1"`
	BackoffType    string        `envconfig:"REMINDER_BACKOFF_TYPE" default:"exponential" validate:"oneof=exponential fixed"`
	BackoffDelay   time.Duration `envconfig:"REMINDER_BACKOFF_DELAY" default:"5s" validate:"gte=0"`
	BackoffMax     time.Duration `envconfig:"REMINDER_BACKOFF_MAX" default:"10m" validate:"gte=0"`
	CancelOnDelete bool          `envconfig:"REMINDER_CANCEL_ON_DELETE" default:"false"`
	Timezone       string        `envconfig:"REMINDER_TIMEZONE" default:"UTC" validate:"timezone"`
	DeepLinkBase   string        `envconfig:"REMINDER_DEEP_LINK_BASE" default:"cookalert://events/"`
}

// LeadTime returns the configured lead as a duration.
func (c ReminderConfig) LeadTime() time.Duration {
	return time.Duration(c.LeadMinutes) * time.Minute
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c ReminderConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// QueueConfig selects and tunes the delay queue backend.
type QueueConfig struct {
	Backend      string        `envconfig:"QUEUE_BACKEND" default:"redis" validate:"oneof=redis postgres memory"`
	URL          SecretString  `envconfig:"QUEUE_URL" validate:"required_unless=Backend memory"`
	KeyPrefix    string        `envconfig:"QUEUE_KEY_PREFIX" default:"{event-reminders}:"`
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s" validate:"gt=0"`
	LeaseTimeout time.Duration `envconfig:"QUEUE_LEASE_TIMEOUT" default:"5m" validate:"gt=0"`
	DLQURL       string        `envconfig:"QUEUE_DLQ_URL" validate:"omitempty,url"`
	Concurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"gte=1,lte=64"`
}

// DatabaseConfig holds repository backend selection, connection and pool
// tuning parameters.
type DatabaseConfig struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite" validate:"oneof=sqlite postgres dynamodb"`

	// Resolved from SSM or Env
	URL         SecretString `envconfig:"DATABASE_URL" validate:"required_if=Type postgres"`
	SQLitePath  string       `envconfig:"SQLITE_PATH" default:"cookalert.db"`
	AutoMigrate bool         `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover

	DynamoEndpoint string `envconfig:"DYNAMODB_ENDPOINT"`
	EventsTable    string `envconfig:"EVENTS_TABLE" default:"Events"`
	DevicesTable   string `envconfig:"DEVICES_TABLE" default:"Devices"`
}

// AWSConfig holds regional configuration shared by the SDK clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PushConfig holds Expo push gateway settings.
type PushConfig struct {
	AccessToken SecretString  `envconfig:"EXPO_ACCESS_TOKEN"`
	APIURL      string        `envconfig:"EXPO_API_URL" default:"https://exp.host" validate:"required,url"`
	Timeout     time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CookAlert"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
