package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DispatchChanged is set when the dispatch policy or its tuning changed.
	// Applies to sessions started after the reload.
	DispatchChanged bool

	// GuardChanged is set when the guard's pattern lists or similarity
	// threshold changed. Applies to sessions started after the reload.
	GuardChanged bool

	// MaxToolRoundsChanged is set when the agent's tool loop bound changed.
	MaxToolRoundsChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DispatchChanged || d.GuardChanged || d.MaxToolRoundsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Copilot.Dispatch != new.Copilot.Dispatch {
		d.DispatchChanged = true
	}

	if !slices.Equal(old.Copilot.Guard.BadPrefixes, new.Copilot.Guard.BadPrefixes) ||
		!slices.Equal(old.Copilot.Guard.BadMarkers, new.Copilot.Guard.BadMarkers) ||
		old.Copilot.Guard.SimilarityThreshold != new.Copilot.Guard.SimilarityThreshold {
		d.GuardChanged = true
	}

	if old.Copilot.MaxToolRounds != new.Copilot.MaxToolRounds {
		d.MaxToolRoundsChanged = true
	}

	return d
}
