package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/pkg/selector"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models the backend has loaded",
	Long: `Authenticate and list the models the backend reports as loaded.

With --model-filter only matching models are shown, which previews what
"jobprobe run" would choose from.

Examples:
  jobprobe models
  jobprobe models --model-filter 'sdxl*' --json`,
	RunE: runModels,
}

var (
	modelsFilters []string
	modelsJSON    bool
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringArrayVar(&modelsFilters, "model-filter", nil, "Only show models matching this glob (repeatable)")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output one JSON object per model")
}

func runModels(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	sel, err := selector.New(modelsFilters)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --model-filter", err)
	}
	tokens, err := newTokenProvider(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid backend configuration", err)
	}

	token, err := tokens.Token(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to authenticate", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Authentication failed", err)
	}
	body, err := client.ListModels(ctx, token)
	if err != nil {
		observability.CLILogger.Error("Failed to list models", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list models", err)
	}
	ids, err := selector.ParseModelList(body)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "No models available", err)
	}
	ids = sel.Filter(ids)

	out := cmd.OutOrStdout()
	if modelsJSON {
		enc := json.NewEncoder(out)
		for _, id := range ids {
			if err := enc.Encode(map[string]string{"id": id}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(out, id)
	}
	if len(ids) == 0 {
		observability.CLILogger.Warn("No models match the filter", zap.Strings("filters", modelsFilters))
	}
	return nil
}
