package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; provider and memory changes
// require a restart and are reported so the watcher can warn about them.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChimeChanged is true when the save-confirmation cue settings changed.
	ChimeChanged bool

	// RestartRequired is true when a section that cannot be hot-reloaded
	// (agent, provider, memory, metrics) changed.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Chime != new.Chime {
		d.ChimeChanged = true
	}

	if old.Agent != new.Agent ||
		!providerEntryEqual(old.Provider, new.Provider) ||
		old.Memory != new.Memory ||
		old.Metrics != new.Metrics {
		d.RestartRequired = true
	}

	return d
}

// providerEntryEqual compares entries including their fallback lists.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !providerEntryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
