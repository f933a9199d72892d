// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in date-partitioned keys.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Parse the processing delay with fallback to the default on bad input.
//  5. Scan the environment for DEVICE_NAME_<MAC> display-name mappings.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// deviceNamePrefix is the environment variable prefix for device display-name
// mappings. DEVICE_NAME_28704E113F64=Front Door maps the hardware address
// 28704E113F64 to "Front Door".
const deviceNamePrefix = "DEVICE_NAME_"

// processingDelayVar overrides the enqueue delay in seconds. Unparseable
// values fall back to DefaultProcessingDelaySeconds rather than failing the
// load; an operator typo must not take alarm ingestion down.
const processingDelayVar = "PROCESSING_DELAY_SECONDS"

// environ matches the signature of os.Environ and allows injection for testing.
type environ func() []string

// Load builds the Config from the process environment. A .env file in the
// working directory is merged in first (lowest priority) when present.
func Load() (*Config, error) {
	return load(os.Environ)
}

func load(env environ) (*Config, error) {
	// All derived dates and keys are UTC. Forcing the process TZ keeps
	// time.Format results stable regardless of host configuration.
	time.Local = time.UTC
	os.Setenv("TZ", "UTC")

	// Best-effort dotenv load. Absence is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Queue.ProcessingDelaySeconds = parseProcessingDelay(os.Getenv(processingDelayVar))
	cfg.Devices = scanDeviceNames(env)

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration failed validation",
			Err:     err,
		}
	}

	return &cfg, nil
}

// parseProcessingDelay parses the delay override, falling back to the default
// for empty, unparseable, or out-of-range values. SQS accepts 0..900 seconds.
func parseProcessingDelay(raw string) int32 {
	if raw == "" {
		return DefaultProcessingDelaySeconds
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 || v > 900 {
		return DefaultProcessingDelaySeconds
	}
	return int32(v)
}

// scanDeviceNames collects DEVICE_NAME_<MAC> mappings from the environment.
func scanDeviceNames(env environ) DeviceNameMap {
	m := DeviceNameMap{}
	for _, kv := range env() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, deviceNamePrefix) {
			continue
		}
		device := strings.TrimPrefix(key, deviceNamePrefix)
		if device == "" || value == "" {
			continue
		}
		m[device] = value
	}
	return m
}
