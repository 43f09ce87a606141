package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known realtime backend names. [Validate]
// warns about unrecognised names rather than rejecting them, since custom
// backends can be registered at runtime.
var ValidProviderNames = []string{"elevenlabs", "openai"}

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

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		validateProviderName("provider", cfg.Provider.Name)
	}
	if cfg.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required"))
	}
	for i, fb := range cfg.Provider.Fallbacks {
		prefix := fmt.Sprintf("provider.fallbacks[%d]", i)
		name := fb.Name
		if name == "" {
			// Fallback entries inherit the primary's backend by default.
			name = cfg.Provider.Name
		}
		validateProviderName(prefix, name)
		if name != cfg.Provider.Name {
			errs = append(errs, fmt.Errorf("%s.name %q does not match the primary backend %q; credentials are not portable across backends", prefix, name, cfg.Provider.Name))
		}
		if fb.APIKey == "" && fb.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s must set api_key or base_url to differ from the primary", prefix))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", prefix))
		}
	}

	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; confirmed transcripts cannot be persisted")
	}

	if cfg.Chime.FrequencyHz < 0 {
		errs = append(errs, fmt.Errorf("chime.frequency_hz %.1f must not be negative", cfg.Chime.FrequencyHz))
	}
	if cfg.Chime.DurationMs < 0 {
		errs = append(errs, fmt.Errorf("chime.duration_ms %d must not be negative", cfg.Chime.DurationMs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// validateProviderName warns about unrecognised backend names. Unknown names
// are allowed so custom registrations keep working.
func validateProviderName(field, name string) {
	if !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unrecognised provider name; assuming a custom registration",
			"field", field, "name", name, "known", ValidProviderNames)
	}
}
