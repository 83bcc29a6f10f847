// Package main is the entry point for the local REST service.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vyrodovalexey/localrest/internal/controller"
	"github.com/vyrodovalexey/localrest/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	settingsPath  string
	logLevel      string
	logFormat     string
	debounce      time.Duration
	watch         bool
	enableMetrics bool
	showVersion   bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting localrest",
		observability.String("version", version),
		observability.String("settings", flags.settingsPath),
	)

	app, err := initApplication(flags, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize", observability.Error(err))
		return
	}

	runService(app, logger)
}

// parseFlags parses command line flags with environment fallbacks.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("localrest", flag.ContinueOnError)

	settingsPath := fs.String("settings", getEnvOrDefault("LOCALREST_SETTINGS_PATH", "localrest.yaml"),
		"Path to the settings file (.yaml, or .db/.bolt for a bbolt store)")
	logLevel := fs.String("log-level", getEnvOrDefault("LOCALREST_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", getEnvOrDefault("LOCALREST_LOG_FORMAT", "json"),
		"Log format (json, console)")
	debounce := fs.Duration("debounce", getEnvDuration("LOCALREST_DEBOUNCE", controller.DefaultDebounce),
		"Quiet period before settings edits rebind the listeners")
	watch := fs.Bool("watch", getEnvBool("LOCALREST_WATCH", true),
		"Apply edits made to the settings file while running")
	enableMetrics := fs.Bool("metrics", getEnvBool("LOCALREST_METRICS", true),
		"Expose Prometheus metrics on /metrics")
	showVersion := fs.Bool("version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}

	return cliFlags{
		settingsPath:  *settingsPath,
		logLevel:      *logLevel,
		logFormat:     *logFormat,
		debounce:      *debounce,
		watch:         *watch,
		enableMetrics: *enableMetrics,
		showVersion:   *showVersion,
	}, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "localrest version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	cfg := observability.DefaultLogConfig()
	cfg.Level = flags.logLevel
	cfg.Format = flags.logFormat

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return logger
}

// fatalWithSync flushes the logger before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
