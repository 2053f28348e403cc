package confstack

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadMergesBaseAndEnvironment(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml": "app:\n  name: x\n  debug: false\n",
		"dev.yaml":  "app:\n  debug: true\n",
	})

	opts := testOptions(dir, "dev")
	opts.Logger = zaptest.NewLogger(t)

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := map[string]any{
		"app": map[string]any{"name": "x", "debug": true},
		MetaKey: map[string]any{
			"env":         "dev",
			"loaded_from": resolvedDir(t, dir),
		},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("unexpected config:\n got: %#v\nwant: %#v", cfg, want)
	}
}

func TestLoadLocalLayerWins(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml":  "db:\n  connections:\n    primary:\n      host: base\n      port: 5432\napp:\n  level: base\n",
		"prod.yaml":  "app:\n  level: prod\n",
		"local.yaml": "db:\n  connections:\n    primary:\n      host: other\napp:\n  level: local\n",
	})

	cfg, err := Load(testOptions(dir, "prod"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	primary := Lookup(cfg, "db.connections.primary")
	if want := map[string]any{"host": "other", "port": 5432}; !reflect.DeepEqual(primary, want) {
		t.Fatalf("expected primary %v, got %v", want, primary)
	}
	if got := Lookup(cfg, "app.level"); got != "local" {
		t.Fatalf("expected local to win over env, got %v", got)
	}
}

func TestLoadWithoutLocalLayer(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml":  "app:\n  level: base\n",
		"local.yaml": "app:\n  level: local\n",
	})

	opts := testOptions(dir, "dev")
	opts.SkipLocal = true

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.level"); got != "base" {
		t.Fatalf("expected local layer to be skipped, got %v", got)
	}
}

func TestLoadCustomLocalFilename(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml":     "app:\n  level: base\n",
		"override.yaml": "app:\n  level: override\n",
	})

	opts := testOptions(dir, "dev")
	opts.LocalFilename = "override.yaml"

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.level"); got != "override" {
		t.Fatalf("expected custom local file to apply, got %v", got)
	}

	abs := filepath.Join(writeLayers(t, map[string]string{"mine.yaml": "app:\n  level: absolute\n"}), "mine.yaml")
	opts.LocalFilename = abs
	cfg, err = Load(opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.level"); got != "absolute" {
		t.Fatalf("expected absolute local file to apply, got %v", got)
	}
}

func TestLoadEmptyDirectoryYieldsOnlyMeta(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(testOptions(dir, ""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg) != 1 {
		t.Fatalf("expected only %s, got %#v", MetaKey, cfg)
	}
	meta, ok := MetaOf(cfg)
	if !ok {
		t.Fatalf("expected metadata in %#v", cfg)
	}
	if meta.Env != DefaultEnv || meta.LoadedFrom != resolvedDir(t, dir) {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestLoadMissingDirectoryIsNotAnError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")

	cfg, err := Load(testOptions(dir, "dev"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	meta, ok := MetaOf(cfg)
	if !ok || meta.LoadedFrom != dir {
		t.Fatalf("expected metadata pointing at %s, got %+v", dir, meta)
	}
}

func TestLoadEnvironmentResolution(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name        string
		explicit    string
		environment map[string]string
		want        string
	}{
		{name: "explicit wins", explicit: "prod", environment: map[string]string{"APP_ENV": "staging"}, want: "prod"},
		{name: "APP_ENV fallback", environment: map[string]string{"APP_ENV": "staging"}, want: "staging"},
		{name: "default", environment: map[string]string{}, want: DefaultEnv},
		{name: "empty APP_ENV", environment: map[string]string{"APP_ENV": ""}, want: DefaultEnv},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions(dir, tc.explicit)
			opts.Environment = tc.environment

			cfg, err := Load(opts)
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			meta, _ := MetaOf(cfg)
			if meta.Env != tc.want {
				t.Fatalf("expected env %q, got %q", tc.want, meta.Env)
			}
		})
	}
}

func TestLoadZeroOptionsApplyLocalLayer(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml":  "app:\n  name: base\n",
		"local.yaml": "app:\n  name: local\n",
	})

	cfg, err := Load(&Options{Dir: dir, Env: "dev", Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.name"); got != "local" {
		t.Fatalf("expected local layer to apply by default, got %v", got)
	}
}

func TestLoadReadsAppEnvFromProcess(t *testing.T) {
	t.Setenv("APP_ENV", "qa")
	dir := writeLayers(t, map[string]string{"qa.yaml": "app:\n  name: qa\n"})

	cfg, err := Load(&Options{Dir: dir})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.name"); got != "qa" {
		t.Fatalf("expected qa layer to load, got %v", got)
	}
	if meta, _ := MetaOf(cfg); meta.Env != "qa" {
		t.Fatalf("expected env qa, got %q", meta.Env)
	}
}

func TestLoadDefaultDirectoryNextToExecutable(t *testing.T) {
	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	writeFile(t, filepath.Join(binDir, DefaultDirName, "base.yaml"), "app:\n  name: bundled\n")

	original := executable
	t.Cleanup(func() { executable = original })
	executable = func() (string, error) {
		return filepath.Join(binDir, "service"), nil
	}

	cfg, err := Load(&Options{Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.name"); got != "bundled" {
		t.Fatalf("expected bundled config, got %v", got)
	}
	meta, _ := MetaOf(cfg)
	if want := resolvedDir(t, filepath.Join(binDir, DefaultDirName)); meta.LoadedFrom != want {
		t.Fatalf("expected loaded_from %s, got %s", want, meta.LoadedFrom)
	}
}

func TestLoadExecutableLookupFailure(t *testing.T) {
	original := executable
	t.Cleanup(func() { executable = original })
	executable = func() (string, error) {
		return "", errors.New("no executable")
	}

	if cfg, err := Load(nil); err == nil || cfg != nil {
		t.Fatalf("expected error and nil config, got %v, %v", cfg, err)
	}
}

func TestLoadRelativeDirectoryIsMadeAbsolute(t *testing.T) {
	dir := writeLayers(t, map[string]string{"base.yaml": "app:\n  name: rel\n"})
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(filepath.Dir(dir)); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(testOptions(filepath.Base(dir), "dev"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	meta, _ := MetaOf(cfg)
	if !filepath.IsAbs(meta.LoadedFrom) {
		t.Fatalf("expected absolute loaded_from, got %s", meta.LoadedFrom)
	}
	if got := Lookup(cfg, "app.name"); got != "rel" {
		t.Fatalf("expected relative dir to load, got %v", got)
	}
}

func TestLoadCustomExtension(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yml": "app:\n  name: yml\n",
		"dev.yml":  "app:\n  debug: true\n",
	})

	opts := testOptions(dir, "dev")
	opts.Extension = "yml"

	cfg, err := Load(opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if Lookup(cfg, "app.name") != "yml" || Lookup(cfg, "app.debug") != true {
		t.Fatalf("expected .yml layers to load, got %#v", cfg)
	}
}

func TestLoadOverwritesMetaFromFiles(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml": "_meta:\n  env: forged\n  extra: 1\n",
	})

	cfg, err := Load(testOptions(dir, "dev"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := map[string]any{"env": "dev", "loaded_from": resolvedDir(t, dir)}
	if !reflect.DeepEqual(cfg[MetaKey], want) {
		t.Fatalf("expected injected metadata %v, got %v", want, cfg[MetaKey])
	}
}

func TestLoadFailsOnDuplicateKeyInAnyLayer(t *testing.T) {
	for _, layer := range []string{"base.yaml", "dev.yaml", "local.yaml"} {
		t.Run(layer, func(t *testing.T) {
			dir := writeLayers(t, map[string]string{
				"base.yaml": "app:\n  name: x\n",
				layer:       "app:\n  name: x\n  name: y\n",
			})

			cfg, err := Load(testOptions(dir, "dev"))
			if cfg != nil {
				t.Fatalf("expected no partial result, got %#v", cfg)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) || !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("expected duplicate key ParseError, got %v", err)
			}
			if filepath.Base(parseErr.Path) != layer {
				t.Fatalf("expected error for %s, got %s", layer, parseErr.Path)
			}
		})
	}
}

func TestLoadFailsOnSyntaxError(t *testing.T) {
	dir := writeLayers(t, map[string]string{"dev.yaml": "app: [\n"})

	if _, err := Load(testOptions(dir, "dev")); !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax, got %v", err)
	}
}

func TestLoadResultsAreIndependent(t *testing.T) {
	dir := writeLayers(t, map[string]string{
		"base.yaml": "app:\n  hosts: [a, b]\n",
	})

	first, err := Load(testOptions(dir, "dev"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	first["app"].(map[string]any)["hosts"].([]any)[0] = "mutated"

	second, err := Load(testOptions(dir, "dev"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(second, "app.hosts"); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Fatalf("second load observed mutation: %v", got)
	}
}

func TestLoadLogsEachLayer(t *testing.T) {
	dir := writeLayers(t, map[string]string{"base.yaml": "app:\n  name: x\n"})

	core, logs := observer.New(zapcore.DebugLevel)
	opts := testOptions(dir, "dev")
	opts.Logger = zap.New(core)

	if _, err := Load(opts); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	layers := logs.FilterMessage("config layer read").All()
	if len(layers) != 3 {
		t.Fatalf("expected 3 layer log entries, got %d", len(layers))
	}
	if found := layers[0].ContextMap()["found"]; found != true {
		t.Fatalf("expected base layer to be found, got %v", found)
	}
	if found := layers[1].ContextMap()["found"]; found != false {
		t.Fatalf("expected env layer to be missing, got %v", found)
	}
}

func TestLoadNilOptionsUsesDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, DefaultDirName, "local.yaml"), "app:\n  name: local\n")

	original := executable
	t.Cleanup(func() { executable = original })
	executable = func() (string, error) { return filepath.Join(root, "app"), nil }
	t.Setenv("APP_ENV", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := Lookup(cfg, "app.name"); got != "local" {
		t.Fatalf("expected local layer enabled by default, got %v", got)
	}
}

func TestMetaOfRejectsMalformedMeta(t *testing.T) {
	if _, ok := MetaOf(map[string]any{}); ok {
		t.Fatalf("expected no metadata for empty config")
	}
	if _, ok := MetaOf(map[string]any{MetaKey: map[string]any{"env": 1}}); ok {
		t.Fatalf("expected malformed metadata to be rejected")
	}
}

func testOptions(dir, envName string) *Options {
	opts := DefaultOptions()
	opts.Dir = dir
	opts.Env = envName
	opts.Environment = map[string]string{}
	return &opts
}

func writeLayers(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func resolvedDir(t *testing.T, dir string) string {
	t.Helper()

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("resolve %s: %v", dir, err)
	}
	return resolved
}
