// Package config provides configuration types and loading for actiongate.
package config

import "github.com/spf13/viper"

// Config is the top-level configuration for the actiongate server.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Policy configures the persisted rule document.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Evaluation configures the decision history kept for status polling.
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8225").
	// Defaults to "127.0.0.1:8225" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// PolicyConfig configures the persisted rule document.
type PolicyConfig struct {
	// Path is where the policy document lives.
	// Defaults to "./policies.json".
	Path string `yaml:"path" mapstructure:"path"`

	// Watch reloads the document when it changes outside the admin API.
	// Defaults to true.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// SeedChannels are the channels seeded with an allow-all ANY rule when
	// no document exists yet. Defaults to ["default", "whatsapp"].
	SeedChannels []string `yaml:"seed_channels" mapstructure:"seed_channels" validate:"omitempty,dive,scope_name"`
}

// EvaluationConfig configures the in-memory evaluation history.
type EvaluationConfig struct {
	// HistorySize bounds the evaluation record ring used for status
	// lookups and the recent-decisions listing. Defaults to 1000.
	HistorySize int `yaml:"history_size" mapstructure:"history_size" validate:"omitempty,min=1"`
}

// TelemetryConfig configures tracing output.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig configures the OpenTelemetry trace provider.
type TracingConfig struct {
	// Enabled turns span export on. Spans are still created when off,
	// they just go nowhere.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Exporter selects where spans go: "stdout" or "none".
	// Defaults to "none".
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=stdout none"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	// Defaults to 1.0 when tracing is enabled.
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate" validate:"omitempty,min=0,max=1"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure is an explicit choice.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8225"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Policy.Path == "" {
		c.Policy.Path = "./policies.json"
	}
	// Watching defaults to on. viper.IsSet distinguishes "not set"
	// (zero value) from "explicitly false".
	if !viper.IsSet("policy.watch") {
		c.Policy.Watch = true
	}
	if len(c.Policy.SeedChannels) == 0 {
		c.Policy.SeedChannels = []string{"default", "whatsapp"}
	}

	if c.Evaluation.HistorySize == 0 {
		c.Evaluation.HistorySize = 1000
	}

	if c.Telemetry.Tracing.Exporter == "" {
		c.Telemetry.Tracing.Exporter = "none"
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.SamplingRate == 0 {
		c.Telemetry.Tracing.SamplingRate = 1.0
	}
}
