package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/config"
	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/pkg/metrics"
	"github.com/3leaps/jobprobe/pkg/selector"
	"github.com/3leaps/jobprobe/pkg/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one probe session",
	Long: `Authenticate, pick a loaded model, submit one job and poll it to a
terminal outcome.

The budget policy comes from configuration; flags override it. Setting
--queued-timeout/--total-timeout selects the split budget, setting
--queued-warning/--queued-max selects the warning budget.

Examples:
  jobprobe run
  jobprobe run --queued-timeout 1m --total-timeout 5m
  jobprobe run --queued-warning 30s --queued-max 10m --poll-interval 2s
  jobprobe run --model-filter 'stable-diffusion-*' --seed 7
  jobprobe run --prompt-file prompt.yaml --output file:probe.jsonl`,
	RunE: runRun,
}

var (
	runPolicy       policyFlags
	runModel        string
	runModelFilters []string
	runPromptFile   string
	runOutput       string
	runSeed         uint64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runPolicy.register(runCmd)
	runCmd.Flags().StringVar(&runModel, "model", "", "Use this model instead of picking one at random")
	runCmd.Flags().StringArrayVar(&runModelFilters, "model-filter", nil, "Only pick models matching this glob (repeatable)")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "YAML file with prompt parameters")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output destination (stdout or file:<path>)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for model selection (0 = random)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg := *appConfig
	if err := runPolicy.apply(cmd, &cfg.Policy); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid policy flags", err)
	}
	if runPromptFile != "" {
		cfg.Prompt.File = runPromptFile
	}
	if runOutput != "" {
		cfg.Output.Destination = runOutput
	}

	var sel *selector.Selector
	if runModel == "" {
		s, err := newSelector(runModelFilters, runSeed)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --model-filter", err)
		}
		sel = s
	}

	runner, cleanup, err := newRunner(ctx, &cfg, runModel, sel)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := runner.Run(ctx)
	return sessionResult(res, err)
}

// newRunner validates cfg and wires a session runner with all of its
// collaborators. The cleanup func closes the output destination.
func newRunner(ctx context.Context, cfg *config.Config, model string, sel *selector.Selector) (*session.Runner, func(), error) {
	if err := cfg.Validate(); err != nil {
		observability.CLILogger.Error("Invalid configuration", zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	policy, err := cfg.MonitorPolicy()
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid policy", err)
	}
	params, err := cfg.PromptParams()
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid prompt", err)
	}

	tokens, err := newTokenProvider(ctx, cfg)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
	}
	client, err := newBackendClient(cfg)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid backend configuration", err)
	}
	archive, err := newSessionSink(ctx, cfg)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid sink configuration", err)
	}

	out, closeOut, err := openOutput(cfg.Output.Destination)
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileWriteError, "Failed to open output", err)
	}

	runner, err := session.New(session.Config{
		Policy:         policy,
		Prompt:         params,
		Model:          model,
		BackendURL:     client.BaseURL(),
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJob:     cfg.Metrics.JobName,
	}, session.Deps{
		Auth:     tokens,
		Backend:  client,
		Selector: sel,
		Output:   out,
		Logger:   observability.CLILogger,
		Sink:     archive,
		Metrics:  metrics.NewRecorder(),
	})
	if err != nil {
		closeOut()
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid session configuration", err)
	}

	observability.CLILogger.Debug("Session configured",
		zap.String("backend", client.BaseURL()),
		zap.String("policy", policy.Shape()),
		zap.Duration("poll_interval", policy.PollInterval),
		zap.Duration("max_duration", policy.MaxDuration()),
		zap.String("auth_provider", string(tokens.Type())))

	return runner, closeOut, nil
}

// sessionResult turns a finished session into the command's error, which
// determines the exit code.
func sessionResult(res *session.Result, err error) error {
	if res == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Session failed", err)
	}

	o := res.Outcome
	if !o.Succeeded() {
		return exitError(outcomeExitCode(o.Kind), "Probe "+string(o.Kind), errors.Join(o.AsError(), err))
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to record session", err)
	}
	return nil
}
