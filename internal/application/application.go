package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/confstack/internal/config"
	"github.com/eugenenazirov/confstack/pkg/confstack"
)

// Options gathers everything one confstack run needs.
type Options struct {
	Load                 confstack.Options
	Validate             bool
	RequireDBConnections bool
	RequireSFTPProfiles  bool
	Settings             config.Settings
}

// App loads, checks and renders a layered configuration.
type App struct {
	opts   Options
	logger *zap.Logger
	out    io.Writer
}

// New initializes the application from the provided options.
func New(opts Options, logger *zap.Logger, out io.Writer) (*App, error) {
	if out == nil {
		return nil, errors.New("output writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		opts:   opts,
		logger: logger,
		out:    out,
	}, nil
}

// Run loads the configuration layers, validates the result when enabled and
// writes the merged mapping to the output writer.
func (a *App) Run() error {
	loadOpts := a.opts.Load
	loadOpts.Logger = a.logger

	cfg, err := confstack.Load(&loadOpts)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if a.opts.Validate {
		err := confstack.Validate(cfg,
			confstack.WithAllowedTopKeys(a.opts.Settings.AllowedKeys...),
			confstack.WithDBConnections(a.opts.RequireDBConnections),
			confstack.WithSFTPProfiles(a.opts.RequireSFTPProfiles),
		)
		if err != nil {
			return fmt.Errorf("validate configuration: %w", err)
		}
	}

	meta, _ := confstack.MetaOf(cfg)
	a.logger.Info("configuration loaded",
		zap.String("env", meta.Env),
		zap.String("dir", meta.LoadedFrom),
		zap.Int("sections", len(cfg)-1),
		zap.Bool("validated", a.opts.Validate),
	)

	return Render(a.out, cfg, a.opts.Settings.Format)
}

// Render writes cfg to w as YAML or JSON.
// JSON output fails before writing anything when cfg holds .inf or .nan.
func Render(w io.Writer, cfg map[string]any, format string) error {
	switch format {
	case config.FormatJSON:
		if path, value, ok := findNonFinite(cfg, ""); ok {
			return fmt.Errorf("encode JSON: value %v at %q has no JSON representation", value, path)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
		return nil
	case config.FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush YAML: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// findNonFinite returns the dotted path of the first infinite or NaN float in v,
// visiting mapping keys in sorted order.
func findNonFinite(v any, path string) (string, float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return path, x, true
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for key := range x {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := key
			if path != "" {
				child = path + "." + key
			}
			if p, f, ok := findNonFinite(x[key], child); ok {
				return p, f, true
			}
		}
	case []any:
		for i, item := range x {
			if p, f, ok := findNonFinite(item, path+"["+strconv.Itoa(i)+"]"); ok {
				return p, f, true
			}
		}
	}
	return "", 0, false
}
