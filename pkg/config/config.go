// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the report run configuration. The file
// schema (keys, nesting, casing) is fixed by the setup tooling that writes
// config.json; changing it breaks deployed installations.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/telekom/change-report/pkg/outcome"
)

// AuthType selects how the database session authenticates.
type AuthType string

const (
	// AuthIntegrated uses the executing identity (OS login / pgpass).
	AuthIntegrated AuthType = "Windows"
	// AuthCredentialed uses an explicit username plus a stored credential.
	AuthCredentialed AuthType = "SQL"
)

// DatabaseConfig describes the record-store connection.
type DatabaseConfig struct {
	Server            string   `json:"Server"`
	Database          string   `json:"Database"`
	AuthType          AuthType `json:"AuthType"`
	Username          string   `json:"Username"`
	EncryptedPassword string   `json:"EncryptedPassword"`
}

// Credentialed reports whether an explicit credential is required.
func (d DatabaseConfig) Credentialed() bool { return d.AuthType == AuthCredentialed }

// EmailConfig describes the mail transport.
type EmailConfig struct {
	SMTPServer        string   `json:"SMTPServer"`
	Port              int      `json:"Port"`
	EnableSSL         bool     `json:"EnableSSL"`
	From              string   `json:"From"`
	To                []string `json:"To"`
	Username          string   `json:"Username"`
	EncryptedPassword string   `json:"EncryptedPassword"`
}

// Recipients returns the configured recipient list with blank entries
// removed.
func (e EmailConfig) Recipients() []string {
	return recipients(e.To)
}

// LoggingConfig describes the log sink.
type LoggingConfig struct {
	LogPath  string `json:"LogPath"`
	LogLevel string `json:"LogLevel"`
}

// Level maps the configured level name onto a zap level. Validate guarantees
// the name is one of the four contract values.
func (l LoggingConfig) Level() zapcore.Level {
	switch l.LogLevel {
	case "Debug":
		return zapcore.DebugLevel
	case "Warning":
		return zapcore.WarnLevel
	case "Error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ScheduleConfig is written by the scheduler-registration tooling. The run
// itself only validates it; cadence is owned by the external scheduler.
type ScheduleConfig struct {
	ExecutionTime string `json:"ExecutionTime"`
}

// Config is the resolved, validated configuration for one report cycle.
// It is constructed once by Load and never mutated afterwards.
type Config struct {
	Database DatabaseConfig `json:"Database"`
	Email    EmailConfig    `json:"Email"`
	Logging  LoggingConfig  `json:"Logging"`
	Schedule ScheduleConfig `json:"Schedule"`
}

var executionTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Load reads, defaults and validates the configuration at path. Any failure
// is terminal for the run and classified Configuration.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, outcome.Wrap(outcome.Configuration, fmt.Errorf("reading config %s: %w", path, err))
	}
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, outcome.Wrap(outcome.Configuration, fmt.Errorf("parsing config %s: %w", path, err))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, outcome.Wrap(outcome.Configuration, fmt.Errorf("invalid config %s: %w", path, err))
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Email.Port == 0 {
		c.Email.Port = 25
	}
	if c.Logging.LogPath == "" {
		c.Logging.LogPath = "./logs"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "Info"
	}
	if c.Database.AuthType == "" {
		c.Database.AuthType = AuthIntegrated
	}
}

// Validate checks every field the run depends on and reports all violations
// at once so the operator fixes the file in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Server == "" {
		errs = append(errs, errors.New("Database.Server is required"))
	}
	if c.Database.Database == "" {
		errs = append(errs, errors.New("Database.Database is required"))
	}
	switch c.Database.AuthType {
	case AuthIntegrated:
	case AuthCredentialed:
		if c.Database.Username == "" {
			errs = append(errs, errors.New("Database.Username is required for SQL auth"))
		}
		if c.Database.EncryptedPassword == "" {
			errs = append(errs, errors.New("Database.EncryptedPassword is required for SQL auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("Database.AuthType must be %q or %q, got %q", AuthIntegrated, AuthCredentialed, c.Database.AuthType))
	}

	if c.Email.SMTPServer == "" {
		errs = append(errs, errors.New("Email.SMTPServer is required"))
	}
	if c.Email.Port < 1 || c.Email.Port > 65535 {
		errs = append(errs, fmt.Errorf("Email.Port must be in 1..65535, got %d", c.Email.Port))
	}
	if c.Email.From == "" {
		errs = append(errs, errors.New("Email.From is required"))
	} else if _, err := mail.ParseAddress(c.Email.From); err != nil {
		errs = append(errs, fmt.Errorf("Email.From %q is not a valid address: %w", c.Email.From, err))
	}
	if len(c.Email.Recipients()) == 0 {
		errs = append(errs, errors.New("Email.To must contain at least one recipient"))
	}
	for _, to := range c.Email.Recipients() {
		if _, err := mail.ParseAddress(to); err != nil {
			errs = append(errs, fmt.Errorf("Email.To entry %q is not a valid address: %w", to, err))
		}
	}

	switch c.Logging.LogLevel {
	case "Debug", "Info", "Warning", "Error":
	default:
		errs = append(errs, fmt.Errorf("Logging.LogLevel must be Debug, Info, Warning or Error, got %q", c.Logging.LogLevel))
	}

	if c.Schedule.ExecutionTime != "" && !executionTimeRe.MatchString(c.Schedule.ExecutionTime) {
		errs = append(errs, fmt.Errorf("Schedule.ExecutionTime must be HH:MM, got %q", c.Schedule.ExecutionTime))
	}

	return errors.Join(errs...)
}

// recipients filters blank entries from a recipient list.
func recipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		if strings.TrimSpace(addr) != "" {
			out = append(out, strings.TrimSpace(addr))
		}
	}
	return out
}
