// Package config provides the configuration schema, loader, and file
// watcher for the chartflow scribe service.
package config

// LogLevel controls log verbosity for the chartflow service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ChartSource selects where the clinical context provider reads from.
type ChartSource string

const (
	// ChartMemory serves an in-process chart snapshot; used for tests and
	// demos.
	ChartMemory ChartSource = "memory"

	// ChartPostgres reads the host chart from PostgreSQL.
	ChartPostgres ChartSource = "postgres"
)

// IsValid reports whether s is a recognised chart source.
func (s ChartSource) IsValid() bool {
	return s == ChartMemory || s == ChartPostgres
}

// Config is the root configuration structure for chartflow.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Clinical ClinicalConfig `yaml:"clinical"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds observability and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the /metrics and /healthz endpoints
	// listen on (e.g. ":9090"). Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig selects and configures the model backend adapter.
type BackendConfig struct {
	// Name selects the adapter: "openai", "gemini", or "anyllm".
	Name string `yaml:"name"`

	// Model is the model identifier passed to the vendor (e.g. "gpt-4o",
	// "gemini-2.5-flash").
	Model string `yaml:"model"`

	// Provider is the any-llm sub-provider name ("anthropic", "ollama",
	// ...). Only used when Name is "anyllm".
	Provider string `yaml:"provider"`

	// APIKey is the vendor API key. When empty, the adapter falls back to
	// the vendor's conventional environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the vendor API endpoint, for proxies and
	// self-hosted gateways.
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds is the per-request timeout. Zero means the adapter
	// default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ClinicalConfig configures the chart context provider.
type ClinicalConfig struct {
	// Source selects the provider implementation.
	Source ChartSource `yaml:"source"`

	// DSN is the PostgreSQL connection string. Required when Source is
	// "postgres".
	DSN string `yaml:"dsn"`

	// PatientID scopes postgres snapshots to one patient.
	PatientID string `yaml:"patient_id"`
}

// PipelineConfig tunes stage behaviour.
type PipelineConfig struct {
	// SynthesisWorkers bounds concurrent parameter synthesis calls.
	// Zero means the default of 4.
	SynthesisWorkers int `yaml:"synthesis_workers"`

	// Temperature is the sampling temperature for extraction and
	// reconciliation requests. Zero means each stage's default.
	Temperature float64 `yaml:"temperature"`
}
