package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged    bool
	NewLogLevel        LogLevel
	WorkersChanged     bool
	NewWorkers         int
	TemperatureChanged bool
	NewTemperature     float64
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WorkersChanged || d.TemperatureChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; backend,
// chart source, and listen addresses require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.SynthesisWorkers != new.Pipeline.SynthesisWorkers {
		d.WorkersChanged = true
		d.NewWorkers = new.Pipeline.SynthesisWorkers
	}

	if old.Pipeline.Temperature != new.Pipeline.Temperature {
		d.TemperatureChanged = true
		d.NewTemperature = new.Pipeline.Temperature
	}

	return d
}
