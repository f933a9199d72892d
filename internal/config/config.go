// Package config defines the global configuration structure for the alarm
// event backup pipeline. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter. It follows
// 12-Factor principles by strictly separating code from configuration.
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast). Sub-components receive only the
// specific config subsets they require.
package config

import (
	"time"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the pipeline. It is
// populated once during process initialization and never modified.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"protect-event-backup"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	AWS     AWSConfig
	Storage StorageConfig
	Queue   QueueConfig
	Video   VideoConfig
	Notify  NotifyConfig
	Metrics MetricsConfig
	Server  ServerConfig

	// Devices maps camera hardware addresses to display names. Populated by
	// the loader from DEVICE_NAME_<MAC> environment variables, not by
	// envconfig tags.
	Devices DeviceNameMap `ignored:"true"`
}

// AWSConfig holds regional configuration and LocalStack support.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EndpointURL is used by local development against LocalStack.
	// Empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// StorageConfig holds the artifact store destination and the secret
// reference for controller credentials.
type StorageConfig struct {
	Bucket               string `envconfig:"STORAGE_BUCKET" validate:"required"`
	CredentialsSecretARN string `envconfig:"CREDENTIALS_SECRET_ARN" validate:"required"`
}

// QueueConfig holds the asynchronous processing queue destinations.
// DlqURL is optional; when absent, dead-lettering features are disabled.
type QueueConfig struct {
	AlarmQueueURL          string `envconfig:"SQS_ALARM_QUEUE" validate:"required,url"`
	DlqURL                 string `envconfig:"SQS_DLQ" validate:"omitempty,url"`
	ProcessingDelaySeconds int32  `ignored:"true"`
}

// DefaultProcessingDelaySeconds is applied when PROCESSING_DELAY_SECONDS is
// unset or unparseable.
const DefaultProcessingDelaySeconds int32 = 120

// VideoConfig holds video retrieval settings.
type VideoConfig struct {
	ScratchDir   string        `envconfig:"SCRATCH_DIR" default:"/tmp"`
	FetchTimeout time.Duration `envconfig:"VIDEO_FETCH_TIMEOUT" default:"5m"`
}

// NotifyConfig holds failure notification settings. SupportEmail is required
// for notifications to succeed; an empty value disables them.
type NotifyConfig struct {
	SupportEmail string `envconfig:"SUPPORT_EMAIL" validate:"omitempty,email"`
	FromAddress  string `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@protect-backup.local"`
	FromName     string `envconfig:"EMAIL_FROM_NAME" default:"Protect Event Backup"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"ProtectBackup"`
}

// ServerConfig holds the local development HTTP server settings.
// Unused in the Lambda entrypoint.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DeviceNameMap resolves an opaque device identifier (hardware address) to a
// human-readable display name.
type DeviceNameMap map[string]string

// Resolve returns the display name for a device id, or the id itself when no
// mapping is configured.
func (m DeviceNameMap) Resolve(device string) string {
	if name, ok := m[device]; ok && name != "" {
		return name
	}
	return device
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
