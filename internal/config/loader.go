package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the recognised model backend adapter names.
var ValidBackendNames = []string{"openai", "gemini", "anyllm"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Backend.Name == "" {
		errs = append(errs, errors.New("backend.name is required"))
	} else if !slices.Contains(ValidBackendNames, cfg.Backend.Name) {
		errs = append(errs, fmt.Errorf("backend.name %q is unknown; valid values: %v", cfg.Backend.Name, ValidBackendNames))
	}
	if cfg.Backend.Model == "" {
		errs = append(errs, errors.New("backend.model is required"))
	}
	if cfg.Backend.Name == "anyllm" && cfg.Backend.Provider == "" {
		errs = append(errs, errors.New("backend.provider is required when backend.name is \"anyllm\""))
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.timeout_seconds must not be negative"))
	}

	if cfg.Clinical.Source != "" && !cfg.Clinical.Source.IsValid() {
		errs = append(errs, fmt.Errorf("clinical.source %q is invalid; valid values: memory, postgres", cfg.Clinical.Source))
	}
	if cfg.Clinical.Source == ChartPostgres {
		if cfg.Clinical.DSN == "" {
			errs = append(errs, errors.New("clinical.dsn is required when clinical.source is \"postgres\""))
		}
		if cfg.Clinical.PatientID == "" {
			errs = append(errs, errors.New("clinical.patient_id is required when clinical.source is \"postgres\""))
		}
	}

	if cfg.Pipeline.SynthesisWorkers < 0 {
		errs = append(errs, errors.New("pipeline.synthesis_workers must not be negative"))
	}
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		errs = append(errs, errors.New("pipeline.temperature must be in [0, 2]"))
	}

	return errors.Join(errs...)
}
