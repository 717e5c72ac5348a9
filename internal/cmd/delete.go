package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/reconcile"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id...]",
	Short: "Delete remote files",
	Long: `Delete the given remote files, or ALL remote files when no id is given.

The request is resolved against a fresh snapshot. Ids absent from the
snapshot are reported and skipped. Nothing is deleted until the prompt on
stdin is answered with "y", unless --yes is set. Deletions are throttled
by delete.pause.

Examples:
  filecast delete abc123 files/def456
  filecast delete --yes
  filecast delete abc123 --strict --report run.jsonl
  filecast delete --match 'tmp/**' --state FAILED`,
	RunE: runDelete,
}

var (
	deleteYes     bool
	deleteStrict  bool
	deleteFilters filterFlags
)

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")
	deleteCmd.Flags().BoolVar(&deleteStrict, "strict", false, "Treat unexpected delete response bodies as failures")
	deleteFilters.register(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	filter, err := deleteFilters.build()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	client, err := newStoreClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	report, cleanup, err := openReport(rootReport, "delete")
	if err != nil {
		return err
	}
	defer cleanup()

	var requested []string
	if len(args) > 0 {
		requested = args
	}

	rcfg := reconcile.Config{
		Confirm:      newConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr(), deleteYes),
		Pause:        cfg.Delete.Pause,
		Workers:      cfg.Delete.Workers,
		StrictDelete: deleteStrict || cfg.Delete.Strict,
		OnPlan:       logPlan,
		OnDeletion: func(d reconcile.Deletion) {
			logDeletion(d)
			rec := &output.DeletionRecord{
				ID:        d.ID,
				Deleted:   d.Err == nil,
				Warning:   d.Warning,
				ErrorCode: output.ErrorCode(d.Err),
			}
			if d.Err != nil {
				rec.Error = d.Err.Error()
			}
			if err := report.WriteDeletion(ctx, rec); err != nil {
				observability.CLILogger.Warn("Failed to write deletion record", zap.Error(err))
			}
		},
	}
	if filter != nil {
		rcfg.Select = filter
	}
	r := reconcile.New(newAggregator(client, cfg), client, rcfg)

	res, err := r.Run(ctx, requested)
	if err != nil {
		_ = report.WriteError(context.WithoutCancel(ctx), &output.ErrorRecord{Code: output.ErrorCode(err), Message: err.Error()})
		if cerr := cancelled(ctx, "Delete"); cerr != nil {
			return cerr
		}
		if errors.Is(err, reconcile.ErrNoConfirmer) || errors.Is(err, errNoAnswer) {
			observability.CLILogger.Error("Confirmation failed", zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Confirmation failed", err)
		}
		observability.CLILogger.Error("Delete failed", zap.Error(err))
		return exitError(storeExitCode(err), "Delete failed", err)
	}

	plan := res.Plan
	counts := map[string]int{
		"requested":  len(plan.Requested),
		"resolved":   len(plan.Resolved),
		"unresolved": len(plan.Unresolved),
		"filtered":   len(plan.Filtered),
		"deleted":    res.Deleted(),
		"errored":    res.Errored(),
		"warnings":   len(res.Warnings()),
	}
	writeSummary(ctx, report, start, counts, res.OK())

	switch {
	case plan.Empty():
		observability.CLILogger.Info("Nothing to delete",
			zap.Bool("all", plan.All()),
			zap.Int("snapshot_size", plan.SnapshotSize))
		return nil
	case res.Declined:
		observability.CLILogger.Info("Deletion declined", zap.Int("resolved", len(plan.Resolved)))
		return nil
	}

	observability.CLILogger.Info("Delete completed",
		zap.Int("deleted", res.Deleted()),
		zap.Int("errored", res.Errored()),
		zap.Int("warnings", len(res.Warnings())),
		zap.Duration("duration", time.Since(start)))

	if !res.OK() {
		return exitError(foundry.ExitExternalServiceUnavailable, "Delete completed with errors",
			fmt.Errorf("%d of %d deletions failed", res.Errored(), len(res.Deletions)))
	}
	return nil
}

// logPlan reports what the request resolved to before the prompt.
func logPlan(plan *reconcile.Plan) {
	for _, raw := range plan.Rejected {
		observability.CLILogger.Warn("Ignoring invalid file id", zap.String("id", raw))
	}
	for _, id := range plan.Unresolved {
		observability.CLILogger.Warn("File not found", zap.String("id", id))
	}
	if plan.Filter != "" {
		observability.CLILogger.Info("Applied filter",
			zap.String("filter", plan.Filter),
			zap.Int("kept", len(plan.Resolved)),
			zap.Int("dropped", len(plan.Filtered)))
	}
}

func logDeletion(d reconcile.Deletion) {
	switch {
	case d.Err != nil:
		observability.CLILogger.Error("Delete failed", zap.String("id", d.ID), zap.Error(d.Err))
	case d.Warning != "":
		observability.CLILogger.Warn("Deleted with warning", zap.String("id", d.ID), zap.String("warning", d.Warning))
	default:
		observability.CLILogger.Info("Deleted", zap.String("id", d.ID))
	}
}
