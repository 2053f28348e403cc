package config

import (
	"errors"
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"

	"github.com/eugenenazirov/confstack/pkg/confstack"
)

const (
	// EnvPrefix prefixes every environment variable the command reads for its own settings.
	EnvPrefix = "CONFSTACK_"

	// Supported output formats.
	FormatYAML = "yaml"
	FormatJSON = "json"

	defaultFormat   = FormatYAML
	defaultLogLevel = "info"
)

// Settings controls how the confstack command renders and checks a loaded
// configuration. Precedence: CLI flags > Environment variables > Defaults.
type Settings struct {
	Format      string
	LogLevel    string
	AllowedKeys []string
}

// envSettings mirrors Settings as read from CONFSTACK_* variables.
type envSettings struct {
	Format   string `env:"FORMAT"`
	LogLevel string `env:"LOG_LEVEL"`
	Allow    string `env:"ALLOW"`
}

// CLIOverrides holds command-line flag overrides. Nil fields are not set.
type CLIOverrides struct {
	Format      *string
	LogLevel    *string
	AllowedKeys *string
}

// Load resolves Settings from defaults, CONFSTACK_* environment variables and
// CLI overrides, later sources winning.
func Load(overrides *CLIOverrides) (Settings, error) {
	layers := []Settings{defaultSettings()}
	var errs error

	envLayer, err := settingsFromEnv()
	if err != nil {
		errs = errors.Join(errs, err)
	} else {
		layers = append(layers, envLayer)
	}

	if overrides != nil {
		flagLayer, err := settingsFromFlags(overrides)
		if err != nil {
			errs = errors.Join(errs, err)
		} else {
			layers = append(layers, flagLayer)
		}
	}

	if errs != nil {
		return Settings{}, fmt.Errorf("resolve settings: %w", errs)
	}

	var cfg Settings
	for _, layer := range layers {
		if err := mergo.Merge(&cfg, layer, mergo.WithOverride); err != nil {
			return Settings{}, fmt.Errorf("merge settings: %w", err)
		}
	}

	if err := validateSettings(cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// defaultSettings returns Settings with default values.
func defaultSettings() Settings {
	return Settings{
		Format:      defaultFormat,
		LogLevel:    defaultLogLevel,
		AllowedKeys: confstack.DefaultAllowedTopKeys(),
	}
}

func settingsFromEnv() (Settings, error) {
	var raw envSettings
	if err := env.ParseWithOptions(&raw, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}

	out := Settings{
		Format:   normalizeFormat(raw.Format),
		LogLevel: strings.TrimSpace(raw.LogLevel),
	}
	if strings.TrimSpace(raw.Allow) != "" {
		keys, err := parseKeyList(raw.Allow)
		if err != nil {
			return Settings{}, fmt.Errorf("parse %sALLOW: %w", EnvPrefix, err)
		}
		out.AllowedKeys = keys
	}
	return out, nil
}

func settingsFromFlags(overrides *CLIOverrides) (Settings, error) {
	var out Settings
	if overrides.Format != nil {
		out.Format = normalizeFormat(*overrides.Format)
	}
	if overrides.LogLevel != nil {
		out.LogLevel = strings.TrimSpace(*overrides.LogLevel)
	}
	if overrides.AllowedKeys != nil && strings.TrimSpace(*overrides.AllowedKeys) != "" {
		keys, err := parseKeyList(*overrides.AllowedKeys)
		if err != nil {
			return Settings{}, fmt.Errorf("parse allowed keys: %w", err)
		}
		out.AllowedKeys = keys
	}
	return out, nil
}

// validateSettings validates the final settings.
func validateSettings(cfg Settings) error {
	switch cfg.Format {
	case FormatYAML, FormatJSON:
	default:
		return fmt.Errorf("unsupported output format %q (want %s or %s)", cfg.Format, FormatYAML, FormatJSON)
	}
	if len(cfg.AllowedKeys) == 0 {
		return fmt.Errorf("allowed keys cannot be empty")
	}
	return nil
}

func normalizeFormat(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// parseKeyList parses a comma-separated list of top-level key names.
// Blank entries are skipped; the list must name at least one key.
func parseKeyList(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.ContainsAny(part, " \t") {
			return nil, fmt.Errorf("invalid key %q", part)
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		keys = append(keys, part)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys provided")
	}
	return keys, nil
}
