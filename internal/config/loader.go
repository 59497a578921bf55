// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Loading stages reported in ConfigError.
const (
	StageEnv      = "env"
	StageValidate = "validate"
)

// LoadConfig loads and validates the process configuration from the
// environment. A missing .env file is not an error; every other failure is
// fatal to startup.
func LoadConfig() (*Config, error) {
	// All timestamps in the system are UTC. Pinning the process timezone
	// keeps time.Time zero values and formatting consistent with that.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: StageEnv, Message: "failed to process environment", Err: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct tag validation plus cross-field checks envconfig
// tags cannot express.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{Stage: StageValidate, Message: "invalid configuration", Err: err}
	}

	if _, err := time.LoadLocation(cfg.Reminder.FallbackTimezone); err != nil {
		return &ConfigError{
			Stage:   StageValidate,
			Message: fmt.Sprintf("REMINDER_FALLBACK_TZ %q is not a valid IANA zone", cfg.Reminder.FallbackTimezone),
			Err:     err,
		}
	}

	if cfg.Reminder.WindowMinutes < 0 || cfg.Reminder.WindowMinutes >= 720 {
		return &ConfigError{
			Stage:   StageValidate,
			Message: fmt.Sprintf("REMINDER_WINDOW_MINUTES %d out of range [0, 720)", cfg.Reminder.WindowMinutes),
		}
	}

	return nil
}
