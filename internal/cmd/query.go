package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/filecast/internal/config"
	"github.com/3leaps/filecast/internal/observability"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/query"
)

var queryCmd = &cobra.Command{
	Use:   "query <id>",
	Short: "Run a generation query over a stored file",
	Long: `Send the prompt in --query-file together with a reference to a stored
file and print the generated text to stdout.

The request is submitted once. Blocked prompts, safety stops and other
unexpected finish reasons fail the command. --json-output prints the raw
response body instead and skips those checks.

Examples:
  filecast query abc123 --query-file prompt.txt
  filecast query files/abc123 --query-file - < prompt.txt
  filecast query abc123 --query-file prompt.txt --model gemini-1.5-pro --json-output`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var (
	queryFile       string
	queryModel      string
	queryMaxTokens  int
	queryJSONOutput bool
)

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryFile, "query-file", "q", "", "File holding the prompt (- for stdin, required)")
	queryCmd.Flags().StringVar(&queryModel, "model", "", "Model name (default query.model)")
	queryCmd.Flags().IntVar(&queryMaxTokens, "max-tokens", 0, "Maximum output tokens (default query.max_output_tokens)")
	queryCmd.Flags().BoolVar(&queryJSONOutput, "json-output", false, "Print the raw JSON response")

	_ = queryCmd.MarkFlagRequired("query-file")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	prompt, err := readPrompt(queryFile, cmd.InOrStdin())
	if err != nil {
		observability.CLILogger.Error("Failed to read prompt", zap.String("path", queryFile), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to read prompt", err)
	}

	req := query.Request{
		TargetID:        args[0],
		Prompt:          prompt,
		Model:           queryModel,
		MaxOutputTokens: queryMaxTokens,
		Mode:            query.ModeText,
	}
	if queryJSONOutput {
		req.Mode = query.ModeRaw
	}
	if _, err := query.Validate(req); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid query", err)
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

	report, cleanup, err := openReport(rootReport, "query")
	if err != nil {
		return err
	}
	defer cleanup()

	exec := query.New(client, queryConfig(cfg))
	model := req.Model
	if model == "" {
		model = cfg.Query.Model
	}

	observability.CLILogger.Debug("Submitting query",
		zap.String("id", req.TargetID),
		zap.String("model", model),
		zap.String("mode", string(req.Mode)))

	resp, err := exec.Run(ctx, req)
	rec := &output.QueryRecord{ID: req.TargetID, Model: model}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorCode = output.ErrorCode(err)
		if werr := report.WriteQuery(context.WithoutCancel(ctx), rec); werr != nil {
			observability.CLILogger.Warn("Failed to write query record", zap.Error(werr))
		}
		writeSummary(ctx, report, start, map[string]int{"failed": 1}, false)
		if cerr := cancelled(ctx, "Query"); cerr != nil {
			return cerr
		}
		observability.CLILogger.Error("Query failed", zap.String("id", req.TargetID), zap.Error(err))
		return exitError(queryExitCode(err), "Query failed", err)
	}

	for _, w := range resp.Warnings {
		observability.CLILogger.Warn("Query warning", zap.String("id", req.TargetID), zap.String("warning", w))
	}

	rec.FinishReason = resp.FinishReason
	rec.TextBytes = len(resp.Text)
	rec.Warnings = resp.Warnings
	if werr := report.WriteQuery(ctx, rec); werr != nil {
		observability.CLILogger.Warn("Failed to write query record", zap.Error(werr))
	}
	writeSummary(ctx, report, start, map[string]int{"succeeded": 1}, true)

	if err := writeAnswer(cmd.OutOrStdout(), resp, req.Mode); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write answer", err)
	}
	return nil
}

func queryConfig(cfg *config.Config) query.Config {
	return query.Config{
		Model:           cfg.Query.Model,
		MaxOutputTokens: cfg.Query.MaxOutputTokens,
		Sampling: &query.Sampling{
			Temperature: cfg.Query.Temperature,
			TopP:        cfg.Query.TopP,
			TopK:        cfg.Query.TopK,
		},
	}
}

// readPrompt reads the prompt from path, or from stdin for "-".
func readPrompt(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeAnswer(w io.Writer, resp *query.Response, mode query.Mode) error {
	if mode == query.ModeRaw {
		body := resp.Raw
		if _, err := w.Write(body); err != nil {
			return err
		}
		if !strings.HasSuffix(string(body), "\n") {
			_, err := io.WriteString(w, "\n")
			return err
		}
		return nil
	}
	_, err := fmt.Fprintln(w, resp.Text)
	return err
}

func queryExitCode(err error) int {
	switch {
	case errors.Is(err, query.ErrMissingLocator), errors.Is(err, query.ErrMissingMIMEType):
		return foundry.ExitInvalidArgument
	default:
		return storeExitCode(err)
	}
}
