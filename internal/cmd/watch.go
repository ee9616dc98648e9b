package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Monitor an already-submitted job",
	Long: `Poll an existing job to a terminal outcome under the configured budget
policy. Elapsed time is measured from when watching starts, not from the
original submission.

Examples:
  jobprobe watch 3f0c9a52-8d0e-4d8f-9a53-2b0e5b7f5d10
  jobprobe watch 3f0c9a52 --model sdxl --queued-max 10m --queued-warning 1m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchPolicy policyFlags
	watchModel  string
	watchOutput string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchPolicy.register(watchCmd)
	watchCmd.Flags().StringVar(&watchModel, "model", "", "Model the job was submitted with (recorded only)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output destination (stdout or file:<path>)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := *appConfig
	if err := watchPolicy.apply(cmd, &cfg.Policy); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid policy flags", err)
	}
	if watchOutput != "" {
		cfg.Output.Destination = watchOutput
	}

	// Watch never lists models; the selector only satisfies the runner.
	sel, err := newSelector(nil, 0)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid selector", err)
	}
	runner, cleanup, err := newRunner(ctx, &cfg, watchModel, sel)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := runner.Watch(ctx, args[0], watchModel)
	return sessionResult(res, err)
}
