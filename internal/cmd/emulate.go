package cmd

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/internal/server"
	"github.com/3leaps/filecast/pkg/emulator"
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Serve an in-memory file store for offline use",
	Long: `Serve an in-memory emulator of the remote file store API.

Uploaded files stay PROCESSING for --activate-after metadata reads, then
become ACTIVE, or FAILED when their display name matches --fail-pattern.
State is lost on exit.

Examples:
  filecast emulate --port 8787 --api-key dev
  FILECAST_API_KEY=dev filecast --endpoint http://127.0.0.1:8787 upload a.pdf`,
	RunE: runEmulate,
}

var (
	emulateHost          string
	emulatePort          int
	emulateAPIKey        string
	emulateActivateAfter int
	emulateFailPattern   string
)

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateHost, "host", "127.0.0.1", "Listen host")
	emulateCmd.Flags().IntVar(&emulatePort, "port", 8787, "Listen port")
	emulateCmd.Flags().StringVar(&emulateAPIKey, "api-key", "", "Require this API key (empty accepts any)")
	emulateCmd.Flags().IntVar(&emulateActivateAfter, "activate-after", 1, "Metadata reads before a file becomes ACTIVE (negative: never)")
	emulateCmd.Flags().StringVar(&emulateFailPattern, "fail-pattern", "", "Doublestar pattern of display names that end FAILED")
}

func runEmulate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if emulatePort < 0 || emulatePort > 65535 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --port value", fmt.Errorf("port out of range: %d", emulatePort))
	}
	if emulateFailPattern != "" && !doublestar.ValidatePattern(emulateFailPattern) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --fail-pattern value", fmt.Errorf("invalid pattern: %s", emulateFailPattern))
	}

	emu := emulator.New(emulator.Options{
		APIKey:        emulateAPIKey,
		ActivateAfter: emulateActivateAfter,
		FailPattern:   emulateFailPattern,
	})

	srv := server.New(emulateHost, emulatePort, emu.Handler())
	srv.OnListen = func(addr string) {
		observability.CLILogger.Info("Emulator listening",
			zap.String("addr", "http://"+addr),
			zap.Bool("auth", emulateAPIKey != ""),
			zap.Int("activate_after", emulateActivateAfter))
	}

	if err := srv.Run(ctx); err != nil {
		observability.CLILogger.Error("Emulator failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Emulator failed", err)
	}
	observability.CLILogger.Info("Emulator stopped")
	return nil
}
