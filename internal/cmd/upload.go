package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/config"
	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/activation"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/source"
	"github.com/3leaps/filecast/pkg/source/file"
	"github.com/3leaps/filecast/pkg/source/s3"
	"github.com/3leaps/filecast/pkg/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path|glob|s3://bucket/key>...",
	Short: "Upload files and wait for them to become active",
	Long: `Upload local files or S3 objects, then poll until each is ACTIVE.

Inputs may be plain paths, doublestar globs (quote them to keep the shell
from expanding), s3:// URIs, or entries of a YAML/JSON batch manifest.
A missing input is reported and the rest continue. The ids of files that
became active are printed to stdout, one per line.

Examples:
  filecast upload report.pdf
  filecast upload 'docs/**/*.pdf'
  filecast upload s3://media/clips/intro.mp4
  filecast upload --manifest batch.yaml`,
	RunE: runUpload,
}

var uploadManifest string

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadManifest, "manifest", "m", "", "YAML or JSON batch manifest")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	inputs, err := collectInputs(args, uploadManifest)
	if err != nil {
		observability.CLILogger.Error("Invalid inputs", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid inputs", err)
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

	src, err := newSource(ctx, cfg, inputs)
	if err != nil {
		observability.CLILogger.Error("Failed to create source", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to create source", err)
	}
	defer func() { _ = src.Close() }()

	report, cleanup, err := openReport(rootReport, "upload")
	if err != nil {
		return err
	}
	defer cleanup()

	poller := activation.New(client, activation.Config{
		Schedule: pollSchedule(cfg),
		Workers:  cfg.Activation.Workers,
		OnRound: func(round, pending int) {
			observability.CLILogger.Debug("Polling activation",
				zap.Int("round", round),
				zap.Int("pending", pending))
		},
		OnTerminal: func(e activation.Entry) {
			logActivation(e)
			if err := report.WriteActivation(ctx, activationRecord(e)); err != nil {
				observability.CLILogger.Warn("Failed to write activation record", zap.Error(err))
			}
		},
	})

	coord := upload.New(src, client, poller, upload.Config{
		OnOutcome: func(o upload.Outcome) {
			logOutcome(o)
			if err := report.WriteUpload(ctx, uploadRecord(o)); err != nil {
				observability.CLILogger.Warn("Failed to write upload record", zap.Error(err))
			}
		},
	})

	observability.CLILogger.Info("Starting upload", zap.Int("inputs", len(inputs)))

	res, runErr := coord.Run(ctx, inputs)
	if err := printActive(cmd.OutOrStdout(), res.Activation.Active()); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write ids", err)
	}

	counts := map[string]int{
		"inputs":    len(inputs),
		"initiated": len(res.Initiated()),
		"failed":    len(res.Failed()),
	}
	for status, n := range res.Activation.Counts() {
		counts[string(status)] = n
	}
	writeSummary(ctx, report, start, counts, runErr == nil && res.OK())

	if runErr != nil {
		if cerr := cancelled(ctx, "Upload"); cerr != nil {
			return cerr
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Upload failed", runErr)
	}

	observability.CLILogger.Info("Upload completed",
		zap.Int("initiated", len(res.Initiated())),
		zap.Int("failed", len(res.Failed())),
		zap.Int("active", len(res.Activation.Active())),
		zap.Int("rounds", res.Activation.Rounds),
		zap.Duration("duration", time.Since(start)))

	if !res.OK() {
		return exitError(foundry.ExitExternalServiceUnavailable, "Upload completed with failures",
			fmt.Errorf("%d input(s) not initiated, %d file(s) not active",
				len(res.Failed()), len(res.Activation.NotActive())))
	}
	return nil
}

// collectInputs expands arguments and appends manifest entries.
func collectInputs(args []string, manifestPath string) ([]upload.Input, error) {
	if len(args) == 0 && manifestPath == "" {
		return nil, fmt.Errorf("at least one path or --manifest is required")
	}

	inputs, err := upload.ExpandInputs(args)
	if err != nil {
		return nil, err
	}
	if manifestPath != "" {
		entries, err := upload.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, entries...)
	}
	return inputs, nil
}

// newSource routes plain paths to the filesystem and registers the S3
// source only when an input needs it.
func newSource(ctx context.Context, cfg *config.Config, inputs []upload.Input) (*source.Mux, error) {
	mux := source.NewMux(file.New())
	for _, in := range inputs {
		if source.Scheme(in.Ref) != s3.Scheme {
			continue
		}
		s3src, err := s3.New(ctx, s3.Config{
			Region:         cfg.Source.S3.Region,
			Endpoint:       cfg.Source.S3.Endpoint,
			Profile:        cfg.Source.S3.Profile,
			ForcePathStyle: cfg.Source.S3.ForcePathStyle || cfg.Source.S3.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		mux.Handle(s3.Scheme, s3src)
		break
	}
	return mux, nil
}

func printActive(w io.Writer, ids []string) error {
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

func logOutcome(o upload.Outcome) {
	if o.OK() {
		observability.CLILogger.Info("Upload initiated",
			zap.String("input", o.Input.Ref),
			zap.String("id", o.ID),
			zap.String("mime_type", o.MIMEType))
		return
	}
	if source.IsNotFound(o.Err) {
		observability.CLILogger.Error("Input not found", zap.String("input", o.Input.Ref))
		return
	}
	observability.CLILogger.Error("Upload failed", zap.String("input", o.Input.Ref), zap.Error(o.Err))
}

func logActivation(e activation.Entry) {
	fields := []zap.Field{
		zap.String("id", e.ID),
		zap.String("status", string(e.Status)),
		zap.String("state", string(e.LastObservedState)),
		zap.Int("attempts", e.Attempts),
	}
	if e.Status == activation.StatusActive {
		observability.CLILogger.Info("File active", fields...)
		return
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	observability.CLILogger.Error("File not active", fields...)
}

func uploadRecord(o upload.Outcome) *output.UploadRecord {
	rec := &output.UploadRecord{
		Input:       o.Input.Ref,
		ID:          o.ID,
		DisplayName: o.DisplayName,
		MIMEType:    o.MIMEType,
		ErrorCode:   output.ErrorCode(o.Err),
	}
	if o.Size > 0 {
		rec.Size = o.Size
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

func activationRecord(e activation.Entry) *output.ActivationRecord {
	rec := &output.ActivationRecord{
		ID:                e.ID,
		Status:            string(e.Status),
		LastObservedState: string(e.LastObservedState),
		Attempts:          e.Attempts,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	return rec
}
