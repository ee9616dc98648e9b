package cmd

import (
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/internal/server"
	"github.com/3leaps/jobprobe/internal/server/jobs"
)

var fakeBackendCmd = &cobra.Command{
	Use:   "fakebackend",
	Short: "Serve a simulated job API for local smoke tests",
	Long: `Start a local HTTP server that implements the job API the probe talks
to: GET /models, POST /job and GET /job/{id}. Jobs report queued, then
running, then completed (or failed) on a fixed schedule.

Examples:
  jobprobe fakebackend --port 8080
  jobprobe fakebackend --queued 20s --running 10s --failure-rate 0.1
  jobprobe fakebackend --force-status PENDING_REVIEW

Point a probe at it with the static auth provider:
  JOBPROBE_AUTH_PROVIDER=static JOBPROBE_AUTH_TOKEN=dev \
  JOBPROBE_BACKEND_BASE_URL=http://localhost:8080 jobprobe run`,
	RunE: runFakeBackend,
}

var (
	fakeHost        string
	fakePort        int
	fakeToken       string
	fakeModels      []string
	fakeQueued      time.Duration
	fakeRunning     time.Duration
	fakeFailureRate float64
	fakeForceStatus string
	fakeSeed        uint64
)

func init() {
	rootCmd.AddCommand(fakeBackendCmd)

	fs := fakeBackendCmd.Flags()
	fs.StringVar(&fakeHost, "host", "", "Listen host (default server.host)")
	fs.IntVar(&fakePort, "port", 0, "Listen port (default server.port)")
	fs.StringVar(&fakeToken, "token", "", "Require this bearer token (default: any)")
	fs.StringSliceVar(&fakeModels, "models", nil, "Loaded models (default: built-in list)")
	fs.DurationVar(&fakeQueued, "queued", 5*time.Second, "How long jobs stay queued")
	fs.DurationVar(&fakeRunning, "running", 10*time.Second, "How long jobs run")
	fs.Float64Var(&fakeFailureRate, "failure-rate", 0, "Probability in [0,1] that a job fails")
	fs.StringVar(&fakeForceStatus, "force-status", "", "Report this status for every job")
	fs.Uint64Var(&fakeSeed, "seed", 0, "Seed for failure draws (0 = random)")
}

func runFakeBackend(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	sc := appConfig.Server

	host := sc.Host
	if cmd.Flags().Changed("host") {
		host = fakeHost
	}
	port := sc.Port
	if cmd.Flags().Changed("port") {
		port = fakePort
	}

	sim, err := jobs.New(jobs.Config{
		Models: fakeModels,
		Schedule: jobs.Schedule{
			QueuedFor:   fakeQueued,
			RunningFor:  fakeRunning,
			FailureRate: fakeFailureRate,
			ForceStatus: fakeForceStatus,
		},
		Seed: fakeSeed,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid simulator settings", err)
	}

	srv := server.New(host, port, sim,
		server.WithToken(fakeToken),
		server.WithVersion(versionInfo.Version),
		server.WithLogger(observability.CLILogger),
		server.WithTimeouts(sc.ReadTimeout, sc.WriteTimeout, sc.IdleTimeout, sc.ShutdownTimeout),
	)

	err = srv.Serve(ctx, func(addr string) {
		observability.CLILogger.Info("Fake backend listening",
			zap.String("addr", addr),
			zap.Strings("models", sim.Models()),
			zap.Duration("queued", fakeQueued),
			zap.Duration("running", fakeRunning),
			zap.Float64("failure_rate", fakeFailureRate))
	})
	if err != nil {
		observability.CLILogger.Error("Fake backend failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Fake backend failed", err)
	}
	observability.CLILogger.Info("Fake backend stopped", zap.Int("jobs", sim.Len()))
	return nil
}
