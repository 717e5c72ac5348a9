package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/config"
	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/activation"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/snapshot"
	"github.com/3leaps/filecast/pkg/store/httpstore"
)

// newStoreClient resolves the credential and builds the HTTP client.
// Validation failures map to an invalid-argument exit before any call.
func newStoreClient(cfg *config.Config) (*httpstore.Client, error) {
	key, err := resolveAPIKey(rootKeyFile, cfg.APIKey)
	if err != nil {
		observability.CLILogger.Error("Missing credentials", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Missing credentials", err)
	}

	client, err := httpstore.New(httpstore.Config{
		Endpoint:        cfg.Endpoint,
		APIKey:          key,
		ConnectTimeout:  cfg.Transport.ConnectTimeout,
		RequestTimeout:  cfg.Transport.RequestTimeout,
		UploadTimeout:   cfg.Transport.UploadTimeout,
		DefaultPageSize: cfg.List.PageSize,
		UserAgent:       userAgent(cfg),
	})
	if err != nil {
		observability.CLILogger.Error("Invalid store configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid store configuration", err)
	}
	return client, nil
}

func userAgent(cfg *config.Config) string {
	if cfg.Transport.UserAgent != "" {
		return cfg.Transport.UserAgent
	}
	return AppName + "/" + versionInfo.Version
}

func newAggregator(l snapshot.Lister, cfg *config.Config) *snapshot.Aggregator {
	return snapshot.New(l, snapshot.Config{
		PageSize:  cfg.List.PageSize,
		PagePause: cfg.List.PagePause,
	})
}

// pollSchedule builds the activation schedule selected by activation.backoff.
func pollSchedule(cfg *config.Config) activation.Schedule {
	a := cfg.Activation
	if a.Backoff == config.BackoffExponential {
		return activation.ExponentialDelays(a.BaseDelay, a.MaxDelay, uint64(a.Rounds))
	}
	return activation.FixedDelays(a.Delays...)
}

// openReport opens the --report destination. Without --report records
// are discarded. Returns the writer and a cleanup function.
func openReport(path, command string) (output.Writer, func(), error) {
	if path == "" {
		return output.Discard, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileWriteError, "Failed to create report",
			fmt.Errorf("create report file %s: %w", path, err))
	}

	w := output.NewJSONLWriter(f, runID, command)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// writeSummary emits the final report record and logs report failures.
func writeSummary(ctx context.Context, w output.Writer, start time.Time, counts map[string]int, ok bool) {
	d := time.Since(start)
	err := w.WriteSummary(context.WithoutCancel(ctx), &output.SummaryRecord{
		Counts:        counts,
		Duration:      d,
		DurationHuman: d.Round(time.Millisecond).String(),
		OK:            ok,
	})
	if err != nil {
		observability.CLILogger.Warn("Failed to write summary record", zap.Error(err))
	}
}

// cancelled maps a context failure to the interrupt exit.
func cancelled(ctx context.Context, what string) error {
	if ctx.Err() == nil {
		return nil
	}
	observability.CLILogger.Warn(what+" cancelled", zap.Error(ctx.Err()))
	return exitError(foundry.ExitSignalInt, what+" cancelled", ctx.Err())
}
