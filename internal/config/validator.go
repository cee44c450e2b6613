package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRcon(&cfg.Rcon, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateRcon(data *RconConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Password) == "" {
		result.AddError("rcon.password", "rcon password is required")
	}

	if data.Port < 1 || data.Port > 65535 {
		result.AddError("rcon.port", fmt.Sprintf("invalid port %d", data.Port))
	}

	if data.Host != "" && net.ParseIP(data.Host) == nil {
		result.AddWarning("rcon.host", fmt.Sprintf("%q is not an IP literal, binding may fail", data.Host))
	}

	if data.HandshakeTimeoutSec <= 0 {
		result.AddError("rcon.handshake_timeout_sec", "handshake timeout must be positive")
	}

	if data.WriteTimeoutSec <= 0 {
		result.AddError("rcon.write_timeout_sec", "write timeout must be positive")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.Sweeper.IntervalSec <= 0 {
		result.AddError("application_data.sweeper.interval_sec", "sweep interval must be positive")
	}

	switch data.ShutdownPolicy {
	case ShutdownDrain, ShutdownForce:
	default:
		result.AddError("application_data.shutdown_policy",
			fmt.Sprintf("must be %q or %q, got %q", ShutdownDrain, ShutdownForce, data.ShutdownPolicy))
	}

	if data.API.Enabled {
		if data.API.Port < 1 || data.API.Port > 65535 {
			result.AddError("application_data.api.port", fmt.Sprintf("invalid port %d", data.API.Port))
		}
		if !data.API.AuthDisabled && strings.TrimSpace(data.API.Token) == "" {
			result.AddError("application_data.api.token", "api token is required when auth is enabled")
		}
		if data.API.AuthDisabled && data.API.Host != "127.0.0.1" && data.API.Host != "localhost" {
			result.AddWarning("application_data.api.host", "api auth is disabled on a non-loopback bind")
		}
	}

	if data.MQTT.Enabled && strings.TrimSpace(data.MQTT.BrokerURL) == "" {
		result.AddError("application_data.mqtt.broker_url", "broker url is required when mqtt is enabled")
	}

	if data.Audit.Enabled {
		if strings.TrimSpace(data.Audit.DBPath) == "" {
			result.AddError("application_data.audit.db_path", "audit db path is required when audit is enabled")
		}
		if data.Audit.RetentionDays < 1 {
			result.AddWarning("application_data.audit.retention_days", "retention below one day, audit rows will be pruned aggressively")
		}
	}
}
