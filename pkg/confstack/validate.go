package confstack

import (
	"sort"
)

var defaultAllowedTopKeys = []string{"app", "db", "sftp", "api", "secrets", MetaKey}

// DefaultAllowedTopKeys returns a copy of the top-level keys Validate accepts by default.
func DefaultAllowedTopKeys() []string {
	out := make([]string, len(defaultAllowedTopKeys))
	copy(out, defaultAllowedTopKeys)
	return out
}

// ValidateOption configures Validate.
type ValidateOption func(*validateConfig)

// WithAllowedTopKeys replaces the allowed top-level key set. Passing no keys keeps the default set.
func WithAllowedTopKeys(keys ...string) ValidateOption {
	return func(cfg *validateConfig) {
		if len(keys) == 0 {
			return
		}
		cfg.allowed = make(map[string]struct{}, len(keys))
		for _, key := range keys {
			cfg.allowed[key] = struct{}{}
		}
	}
}

// WithDBConnections controls whether db.connections must be a mapping when db is present.
func WithDBConnections(required bool) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.requireDBConnections = required
	}
}

// WithSFTPProfiles controls whether sftp.profiles must be a mapping when sftp is present.
func WithSFTPProfiles(required bool) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.requireSFTPProfiles = required
	}
}

type validateConfig struct {
	allowed              map[string]struct{}
	requireDBConnections bool
	requireSFTPProfiles  bool
}

// nestedRule requires section.child to be a mapping whenever section is present.
type nestedRule struct {
	section string
	child   string
	enabled func(validateConfig) bool
}

var nestedRules = []nestedRule{
	{section: "db", child: "connections", enabled: func(c validateConfig) bool { return c.requireDBConnections }},
	{section: "sftp", child: "profiles", enabled: func(c validateConfig) bool { return c.requireSFTPProfiles }},
}

// Validate runs lightweight structural checks over a merged configuration:
// every top-level key must be allowed, and the db and sftp sections, when
// present, must carry a connections/profiles mapping. It returns a
// *ValidationError for the first failed check and never modifies cfg.
func Validate(cfg map[string]any, opts ...ValidateOption) error {
	vc := validateConfig{
		requireDBConnections: true,
		requireSFTPProfiles:  true,
	}
	WithAllowedTopKeys(defaultAllowedTopKeys...)(&vc)
	for _, opt := range opts {
		opt(&vc)
	}

	var unexpected []string
	for key := range cfg {
		if _, ok := vc.allowed[key]; !ok {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return &ValidationError{Kind: ErrUnexpectedKeys, Keys: unexpected}
	}

	for _, rule := range nestedRules {
		if !rule.enabled(vc) {
			continue
		}
		if _, present := cfg[rule.section]; !present {
			continue
		}
		if !isMapping(Lookup(cfg, rule.section+"."+rule.child)) {
			return &ValidationError{Kind: ErrInvalidShape, Path: rule.section + "." + rule.child}
		}
	}

	return nil
}
