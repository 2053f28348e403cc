package confstack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

const (
	// MetaKey is the reserved top-level key Load injects into every result.
	MetaKey = "_meta"
	// DefaultEnv is used when neither Options.Env nor APP_ENV is set.
	DefaultEnv = "dev"
	// DefaultLocalFilename names the optional local override layer.
	DefaultLocalFilename = "local.yaml"
	// DefaultExtension is appended to the base and environment layer names.
	DefaultExtension = ".yaml"
	// DefaultDirName is the directory, next to the running executable, used when Options.Dir is empty.
	DefaultDirName = "config"

	baseName = "base"
)

var executable = os.Executable

// Options controls how Load resolves and reads the configuration layers.
// Start from DefaultOptions; a nil *Options passed to Load means the same.
type Options struct {
	// Env selects the environment layer. Empty falls back to APP_ENV, then DefaultEnv.
	Env string
	// Dir is the configuration directory. Empty means DefaultDirName next to the executable.
	Dir string
	// SkipLocal leaves out the local override layer, which is applied by default.
	SkipLocal bool
	// LocalFilename is the local layer file name, relative to Dir unless absolute.
	LocalFilename string
	// Extension is appended to "base" and to the environment name.
	Extension string
	// Environment replaces the process environment when resolving APP_ENV. Nil reads os.Environ.
	Environment map[string]string
	// Logger receives per-layer debug output. Nil disables logging.
	Logger *zap.Logger
}

// DefaultOptions returns the options Load uses when called with nil.
func DefaultOptions() Options {
	return Options{
		LocalFilename: DefaultLocalFilename,
		Extension:     DefaultExtension,
	}
}

// Meta is the typed form of the MetaKey entry.
type Meta struct {
	Env        string
	LoadedFrom string
}

type envSettings struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
}

// Load reads base, environment and (optionally) local layers from the
// configuration directory and deep-merges them in that order, later layers
// winning. Missing files contribute nothing. The result always holds MetaKey
// with the resolved environment name and absolute directory.
func Load(opts *Options) (map[string]any, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.LocalFilename == "" {
		o.LocalFilename = DefaultLocalFilename
	}
	if o.Extension == "" {
		o.Extension = DefaultExtension
	} else if !strings.HasPrefix(o.Extension, ".") {
		o.Extension = "." + o.Extension
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	envName, err := resolveEnv(o.Env, o.Environment)
	if err != nil {
		return nil, err
	}

	dir, err := resolveDir(o.Dir)
	if err != nil {
		return nil, err
	}

	layers := []string{
		filepath.Join(dir, baseName+o.Extension),
		filepath.Join(dir, envName+o.Extension),
	}
	if !o.SkipLocal {
		layers = append(layers, localPath(dir, o.LocalFilename))
	}

	merged := map[string]any{}
	for _, path := range layers {
		doc, found, err := readLayer(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("config layer read",
			zap.String("path", path),
			zap.Bool("found", found),
			zap.Int("keys", len(doc)),
		)
		merged = Merge(merged, doc)
	}

	merged[MetaKey] = map[string]any{
		"env":         envName,
		"loaded_from": dir,
	}

	logger.Debug("configuration loaded",
		zap.String("env", envName),
		zap.String("dir", dir),
		zap.Int("layers", len(layers)),
	)

	return merged, nil
}

// MetaOf extracts the metadata Load attached to cfg.
func MetaOf(cfg map[string]any) (Meta, bool) {
	raw, ok := cfg[MetaKey].(map[string]any)
	if !ok {
		return Meta{}, false
	}
	envName, envOK := raw["env"].(string)
	dir, dirOK := raw["loaded_from"].(string)
	if !envOK || !dirOK {
		return Meta{}, false
	}
	return Meta{Env: envName, LoadedFrom: dir}, true
}

// resolveEnv applies the precedence explicit name > APP_ENV > DefaultEnv.
func resolveEnv(explicit string, environment map[string]string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	var settings envSettings
	if err := env.ParseWithOptions(&settings, env.Options{Environment: environment}); err != nil {
		return "", fmt.Errorf("resolve environment name: %w", err)
	}
	if settings.AppEnv == "" {
		return DefaultEnv, nil
	}
	return settings.AppEnv, nil
}

func resolveDir(dir string) (string, error) {
	if dir == "" {
		exe, err := executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		dir = filepath.Join(filepath.Dir(exe), DefaultDirName)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve config dir %s: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

func localPath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
