// Package cmd implements the filecast command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/config"
	"github.com/3leaps/filecast/internal/observability"
)

// AppName is the binary and logger name.
const AppName = "filecast"

// VersionInfo is set at build time.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "none", BuildDate: "unknown"}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Global flags.
var (
	rootKeyFile   string
	rootConfig    string
	rootEndpoint  string
	rootVerbose   bool
	rootLogFormat string
	rootReport    string
)

// Per-invocation state populated by PersistentPreRunE.
var (
	appConfig *config.Config
	runID     string
)

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Reconcile local files with a remote file store",
	Long: `filecast uploads local and S3 files to an eventually consistent remote
file store, waits for them to become usable, lists and deletes them against
a fresh snapshot, and runs generation queries over a stored file.

Payloads are written to stdout; diagnostics go to stderr.

Examples:
  filecast upload docs/**/*.pdf
  filecast list --format yaml
  filecast delete files/abc123 --yes
  filecast query files/abc123 --query-file prompt.txt`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRun,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootKeyFile, "key-file", "", "Read the API key from this file (overrides FILECAST_API_KEY)")
	pf.StringVar(&rootConfig, "config", "", "Config file (default $XDG_CONFIG_HOME/filecast/config.yaml)")
	pf.StringVar(&rootEndpoint, "endpoint", "", "Store endpoint base URL")
	pf.BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&rootLogFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&rootReport, "report", "", "Write a JSONL run report to this path")
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// initRun loads configuration and installs the logger for every command.
func initRun(cmd *cobra.Command, _ []string) error {
	runID = uuid.New().String()

	cfg, err := config.LoadWithOptions(cmd.Context(), config.Options{File: rootConfig}, flagOverrides(cmd))
	if err != nil {
		// Logger is not configured yet; keep the failure on stderr.
		observability.InitCLILogger(AppName, rootVerbose)
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	level := cfg.Logging.Level
	if rootVerbose {
		level = "debug"
	}
	observability.Configure(AppName, observability.Options{
		Level:  level,
		Format: observability.Format(cfg.Logging.Format),
		Output: cmd.ErrOrStderr(),
	})
	observability.CLILogger = observability.CLILogger.With(
		zap.String("run_id", runID),
		zap.String("command", cmd.Name()))

	observability.CLILogger.Debug("Loaded configuration",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("page_size", cfg.List.PageSize),
		zap.Durations("poll_delays", cfg.Activation.Delays))
	return nil
}

// flagOverrides returns the global flags that were set explicitly.
func flagOverrides(cmd *cobra.Command) map[string]any {
	o := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		o["endpoint"] = rootEndpoint
	}
	if flags.Changed("log-format") {
		o["logging"] = map[string]any{"format": rootLogFormat}
	}
	return o
}

// currentConfig returns the loaded config, loading defaults if a command
// ran without the root pre-run (tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.LoadWithOptions(ctx, config.Options{SkipDefaultFile: true})
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	return cfg, nil
}

// Main executes the command tree and returns the process exit status.
func Main(ctx context.Context) int {
	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
