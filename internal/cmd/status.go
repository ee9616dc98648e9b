package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/pkg/monitor"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch a job's current status once",
	Long: `Fetch the status of a job and print the raw response.

Example:
  jobprobe status 3f0c9a52-8d0e-4d8f-9a53-2b0e5b7f5d10`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := args[0]

	tokens, err := newTokenProvider(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
	}
	client, err := newBackendClient(appConfig)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid backend configuration", err)
	}

	token, err := tokens.Token(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Authentication failed", err)
	}
	st, err := client.GetJobStatus(ctx, token, jobID)
	if err != nil {
		observability.CLILogger.Error("Failed to fetch job status", zap.String("job_id", jobID), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to fetch job status", err)
	}

	phase, known := monitor.ParsePhase(st.Status)
	fields := []zap.Field{
		zap.String("job_id", jobID),
		zap.String("status", st.Status),
		zap.Bool("recognized", known),
	}
	if known {
		fields = append(fields, zap.String("phase", phase.String()))
	}
	if st.Duration != nil {
		fields = append(fields, zap.Float64("backend_duration", *st.Duration))
	}
	observability.CLILogger.Info("job status", fields...)

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(st.Raw))
	return nil
}
