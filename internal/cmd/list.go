package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/match"
	"github.com/3leaps/filecast/pkg/snapshot"
	"github.com/3leaps/filecast/pkg/store"
)

var listCmd = &cobra.Command{
	Use:   "list [id...]",
	Short: "List remote files",
	Long: `List every remote file, or only the given ids, from a fresh snapshot.

Ids may be bare tokens (abc123) or prefixed (files/abc123). Ids absent from
the snapshot are reported as warnings and do not fail the command.

Examples:
  filecast list
  filecast list abc123 files/def456
  filecast list --format yaml
  filecast list --match 'reports/**/*.pdf' --state ACTIVE
  filecast list --mime-type 'video/*' --min-size 10MiB`,
	RunE: runList,
}

var (
	listFormat  string
	listFilters filterFlags
)

// Listing formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", formatJSON, "Output format: json|yaml")
	listFilters.register(listCmd)
}

// listing is the stdout payload.
type listing struct {
	Files []store.RemoteObject `json:"files" yaml:"files"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if listFormat != formatJSON && listFormat != formatYAML {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("unsupported format: %s", listFormat))
	}

	filter, err := listFilters.build()
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

	snap, err := newAggregator(client, cfg).Fetch(ctx)
	if err != nil {
		if cerr := cancelled(ctx, "List"); cerr != nil {
			return cerr
		}
		observability.CLILogger.Error("Failed to list files", zap.Error(err))
		return exitError(storeExitCode(err), "Failed to list files", err)
	}

	observability.CLILogger.Debug("Fetched snapshot",
		zap.Int("files", snap.Len()),
		zap.Int("pages", snap.Pages))

	objects := snap.Objects
	if len(args) > 0 {
		sel := snapshot.Select(snap, args)
		for _, raw := range sel.Rejected {
			observability.CLILogger.Warn("Ignoring invalid file id", zap.String("id", raw))
		}
		for _, id := range sel.Missing {
			observability.CLILogger.Warn("File not found", zap.String("id", id))
		}
		objects = sel.Objects
	}
	if filter != nil {
		before := len(objects)
		objects = match.Apply(filter, objects)
		observability.CLILogger.Debug("Applied filter",
			zap.String("filter", filter.String()),
			zap.Int("kept", len(objects)),
			zap.Int("dropped", before-len(objects)))
	}

	if err := writeListing(cmd.OutOrStdout(), listFormat, objects); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write listing", err)
	}
	return nil
}

// writeListing renders {"files": [...]} in the requested format.
func writeListing(w io.Writer, format string, objects []store.RemoteObject) error {
	if objects == nil {
		objects = []store.RemoteObject{}
	}
	payload := listing{Files: objects}

	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
}
