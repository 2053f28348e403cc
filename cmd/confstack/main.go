package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/confstack/internal/application"
	"github.com/eugenenazirov/confstack/internal/config"
	"github.com/eugenenazirov/confstack/internal/logging"
	"github.com/eugenenazirov/confstack/pkg/confstack"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	kingpinApp := kingpin.New("confstack", "Layered YAML configuration loader - merges base, environment and local files and prints the result")
	kingpinApp.UsageWriter(stderr)
	kingpinApp.ErrorWriter(stderr)
	kingpinApp.Terminate(nil)

	envName := kingpinApp.Flag("env", "Environment layer to load (defaults to $APP_ENV, then dev)").String()
	dir := kingpinApp.Flag("dir", "Configuration directory (defaults to config/ next to the binary)").String()
	useLocal := kingpinApp.Flag("local", "Apply the local override layer").Default("true").Bool()
	localFile := kingpinApp.Flag("local-file", "Local override file name").Default(confstack.DefaultLocalFilename).String()
	extension := kingpinApp.Flag("ext", "Extension of the base and environment files").Default(confstack.DefaultExtension).String()
	validate := kingpinApp.Flag("validate", "Run structural validation on the merged result").Default("true").Bool()
	allowed := kingpinApp.Flag("allow", "Comma-separated allowed top-level keys").String()
	dbConnections := kingpinApp.Flag("db-connections", "Require db.connections to be a mapping").Default("true").Bool()
	sftpProfiles := kingpinApp.Flag("sftp-profiles", "Require sftp.profiles to be a mapping").Default("true").Bool()
	format := kingpinApp.Flag("format", "Output format: yaml or json (json cannot hold .inf or .nan values)").String()
	logLevel := kingpinApp.Flag("log-level", "Log level: debug, info, warn or error").String()

	if _, err := kingpinApp.Parse(args); err != nil {
		fmt.Fprintf(stderr, "confstack: %v\n", err)
		return 2
	}

	overrides := &config.CLIOverrides{}
	if *format != "" {
		overrides.Format = format
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if *allowed != "" {
		overrides.AllowedKeys = allowed
	}

	settings, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "confstack: failed to resolve settings: %v\n", err)
		return 2
	}

	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "confstack: failed to initialize logger: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	opts := application.Options{
		Load: confstack.Options{
			Env:           *envName,
			Dir:           *dir,
			SkipLocal:     !*useLocal,
			LocalFilename: *localFile,
			Extension:     *extension,
		},
		Validate:             *validate,
		RequireDBConnections: *dbConnections,
		RequireSFTPProfiles:  *sftpProfiles,
		Settings:             settings,
	}

	app, err := application.New(opts, logger, stdout)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return 1
	}

	if err := app.Run(); err != nil {
		logger.Error("configuration check failed", zap.Error(err))
		return 1
	}
	return 0
}
