package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/config"
	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/activation"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/preflight"
)

var (
	doctorS3         bool
	doctorWriteProbe bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration, credentials and store access.

The store check lists one page and fetches a random id without mutating
anything. With --write-probe it also uploads a tiny probe file, waits for
it to activate and deletes it again. The capability results are written
to --report as a preflight record.

Examples:
  filecast doctor
  filecast doctor --s3              # also check AWS credentials for s3:// inputs
  filecast doctor --write-probe --report doctor.jsonl`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Also check AWS credentials for s3:// inputs")
	doctorCmd.Flags().BoolVar(&doctorWriteProbe, "write-probe", false, "Upload, activate and delete a probe file")
}

// doctorCheck is one numbered diagnostic.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (detail string, err error)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	report, cleanup, err := openReport(rootReport, "doctor")
	if err != nil {
		return err
	}
	defer cleanup()

	checks := []doctorCheck{
		{"Go runtime", checkRuntime},
		{"config file", checkConfigFile},
		{"API key", checkAPIKey},
		{"store access", storeCheck(report)},
	}
	if doctorS3 {
		checks = append(checks, doctorCheck{"AWS credentials", checkAWSCredentials})
	}

	observability.CLILogger.Info("=== " + AppName + " doctor ===")
	failed := 0
	for i, c := range checks {
		label := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, err := c.run(ctx, cfg)
		if err != nil {
			failed++
			observability.CLILogger.Error(label+" ❌ "+detail, zap.Error(err))
			continue
		}
		observability.CLILogger.Info(label + " ✅ " + detail)
	}

	if failed > 0 {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	observability.CLILogger.Info("✅ All checks passed!")
	return nil
}

func checkRuntime(context.Context, *config.Config) (string, error) {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkConfigFile(context.Context, *config.Config) (string, error) {
	path := rootConfig
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path == "" {
		return "no config directory; using defaults", nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && rootConfig == "" {
			return path + " not present; using defaults", nil
		}
		return path, err
	}
	return path, nil
}

func checkAPIKey(_ context.Context, cfg *config.Config) (string, error) {
	key, err := resolveAPIKey(rootKeyFile, cfg.APIKey)
	if err != nil {
		return "not configured", err
	}
	source := APIKeyEnv
	if rootKeyFile != "" {
		source = rootKeyFile
	}
	return fmt.Sprintf("%s from %s", maskSecret(key), source), nil
}

// storeCheck runs preflight against the configured store and writes the
// capability record to w.
func storeCheck(w output.Writer) func(context.Context, *config.Config) (string, error) {
	return func(ctx context.Context, cfg *config.Config) (string, error) {
		client, err := newStoreClient(cfg)
		if err != nil {
			return cfg.Endpoint, err
		}
		defer func() { _ = client.Close() }()

		spec := preflight.Spec{Mode: preflight.ModeReadSafe}
		if doctorWriteProbe {
			spec.Mode = preflight.ModeWriteProbe
			spec.Waiter = activation.New(client, activation.Config{
				Schedule: pollSchedule(cfg),
				Workers:  cfg.Activation.Workers,
			})
		}

		rec, runErr := preflight.Run(ctx, client, spec)
		if err := w.WritePreflight(context.WithoutCancel(ctx), rec); err != nil {
			observability.CLILogger.Warn("Failed to write preflight record", zap.Error(err))
		}

		allowed := make([]string, 0, len(rec.Results))
		for _, r := range rec.Results {
			if !r.Allowed {
				observability.CLILogger.Debug("Capability denied",
					zap.String("capability", r.Capability),
					zap.String("method", r.Method),
					zap.String("error_code", r.ErrorCode))
				return fmt.Sprintf("%s %s denied (%s)", cfg.Endpoint, r.Capability, r.ErrorCode), runErr
			}
			allowed = append(allowed, r.Capability)
		}
		if runErr != nil {
			return cfg.Endpoint, runErr
		}
		return fmt.Sprintf("%s %s: %s", cfg.Endpoint, rec.Mode, strings.Join(allowed, ", ")), nil
	}
}

func checkAWSCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Source.S3.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Source.S3.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "cannot load AWS config", err
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "cannot retrieve credentials", err
	}
	src := creds.Source
	if src == "" {
		src = "unknown"
	}
	return fmt.Sprintf("%s from %s", maskSecret(creds.AccessKeyID), src), nil
}

// maskSecret masks all but the last 4 characters.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
