package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/config"
	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/pkg/auth"
	"github.com/3leaps/jobprobe/pkg/selector"
)

var (
	doctorSink bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check configuration, credentials and backend reachability without
submitting a job.

Examples:
  jobprobe doctor              # Config, credentials, backend
  jobprobe doctor --sink       # Also check session archives`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorSink, "sink", false, "Also check configured session archives")
}

// doctorChecks numbers and logs check results.
type doctorChecks struct {
	num    int
	total  int
	failed []string
}

func (d *doctorChecks) next() int {
	d.num++
	return d.num
}

func (d *doctorChecks) pass(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", d.next(), d.total, name, detail), fields...)
}

func (d *doctorChecks) warn(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", d.next(), d.total, name, detail), fields...)
}

func (d *doctorChecks) fail(name, detail string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", d.next(), d.total, name, detail), fields...)
	d.failed = append(d.failed, name)
}

func (d *doctorChecks) skip(name string) {
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⏭️  skipped", d.next(), d.total, name))
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	observability.CLILogger.Info("=== jobprobe doctor ===")
	observability.CLILogger.Info("Running diagnostic checks...")

	checks := &doctorChecks{total: 6}
	if doctorSink {
		checks.total += 2
	}

	configOK := checkConfig(checks, cfg)
	token := ""
	if configOK {
		token = checkCredentials(ctx, checks, cfg)
	} else {
		checks.skip("credentials")
	}

	switch {
	case token != "":
		checkTokenExpiry(checks, cfg, token, time.Now())
		checkBackend(ctx, checks, cfg, token)
	default:
		checks.skip("token expiry")
		checks.skip("backend reachability")
	}

	if doctorSink {
		runSinkChecks(ctx, checks, cfg)
	}

	observability.CLILogger.Info(fmt.Sprintf("Environment: %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))
	if len(checks.failed) == 0 {
		observability.CLILogger.Info("✅ All checks passed! The probe is ready to run.")
		observability.CLILogger.Info("=== End Diagnostics ===")
		return nil
	}
	observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.",
		zap.Strings("failed", checks.failed))
	observability.CLILogger.Info("=== End Diagnostics ===")

	code := foundry.ExitExternalServiceUnavailable
	if !configOK {
		code = foundry.ExitInvalidArgument
	}
	return exitError(code, "Diagnostics failed", fmt.Errorf("%d check(s) failed", len(checks.failed)))
}

// checkConfig covers checks 1 to 3: configuration, budget policy and the
// backend URL.
func checkConfig(d *doctorChecks, cfg *config.Config) bool {
	if err := cfg.Validate(); err != nil {
		d.fail("configuration", "invalid", err)
		d.skip("budget policy")
		d.skip("backend url")
		return false
	}
	d.pass("configuration", "valid", zap.String("auth_provider", cfg.Auth.Provider))

	policy, _ := cfg.MonitorPolicy()
	d.pass("budget policy", fmt.Sprintf("%s, poll every %s, ends after %s", policy.Shape(), policy.PollInterval, policy.MaxDuration()),
		zap.String("shape", policy.Shape()),
		zap.Duration("max_duration", policy.MaxDuration()))

	if _, err := newBackendClient(cfg); err != nil {
		d.fail("backend url", "not usable", err)
		return false
	}
	d.pass("backend url", cfg.Backend.BaseURL)
	return true
}

// checkCredentials is check 4. It returns the token, or "" on failure.
func checkCredentials(ctx context.Context, d *doctorChecks, cfg *config.Config) string {
	provider, err := newTokenProvider(ctx, cfg)
	if err != nil {
		d.fail("credentials", "provider misconfigured", err)
		printAuthHelp(cfg.Auth.Provider)
		return ""
	}
	token, err := provider.Token(ctx)
	if err != nil {
		detail := "cannot acquire token"
		if auth.IsInvalidCredentials(err) {
			detail = "credentials rejected"
		}
		d.fail("credentials", detail, err, zap.String("provider", string(provider.Type())))
		printAuthHelp(cfg.Auth.Provider)
		return ""
	}
	d.pass("credentials", "token acquired",
		zap.String("provider", string(provider.Type())),
		zap.String("token", maskSecret(token)))
	return token
}

// checkTokenExpiry is check 5. Tokens are never refreshed during a session,
// so one that lapses before the budget ends would fail late polls.
func checkTokenExpiry(d *doctorChecks, cfg *config.Config, token string, now time.Time) {
	policy, err := cfg.MonitorPolicy()
	if err != nil {
		d.skip("token expiry")
		return
	}
	budget := policy.MaxDuration() + policy.PollInterval

	info, err := auth.Inspect(token)
	switch {
	case errors.Is(err, auth.ErrNotJWT):
		d.warn("token expiry", "opaque token, expiry unknown")
	case err != nil:
		d.warn("token expiry", "cannot inspect token", zap.Error(err))
	case info.ExpiresAt == nil:
		d.pass("token expiry", "token has no expiry", zap.String("subject", info.Subject))
	case info.ExpiresWithin(now, budget):
		d.warn("token expiry", fmt.Sprintf("expires in %s, before the %s session budget", info.ExpiresAt.Sub(now).Round(time.Second), budget),
			zap.Time("expires_at", *info.ExpiresAt))
	default:
		d.pass("token expiry", fmt.Sprintf("valid for %s", info.ExpiresAt.Sub(now).Round(time.Second)),
			zap.Time("expires_at", *info.ExpiresAt),
			zap.String("subject", info.Subject))
	}
}

// checkBackend is check 6.
func checkBackend(ctx context.Context, d *doctorChecks, cfg *config.Config, token string) {
	client, err := newBackendClient(cfg)
	if err != nil {
		d.fail("backend reachability", "client misconfigured", err)
		return
	}
	body, err := client.ListModels(ctx, token)
	if err != nil {
		d.fail("backend reachability", "cannot list models", err, zap.String("backend", client.BaseURL()))
		return
	}
	ids, err := selector.ParseModelList(body)
	if err != nil {
		d.fail("backend reachability", "no models loaded", err, zap.String("backend", client.BaseURL()))
		return
	}
	d.pass("backend reachability", fmt.Sprintf("%d model(s) loaded", len(ids)),
		zap.String("backend", client.BaseURL()),
		zap.Strings("models", ids))
}

// runSinkChecks covers the archive checks.
func runSinkChecks(ctx context.Context, d *doctorChecks, cfg *config.Config) {
	observability.CLILogger.Info("Archive Checks:")

	if dir := cfg.Sink.Dir; dir == "" {
		d.pass("archive directory", "not configured")
	} else if err := checkWritableDir(dir); err != nil {
		d.fail("archive directory", "not writable", err, zap.String("dir", dir))
	} else {
		d.pass("archive directory", dir)
	}

	s3cfg := cfg.Sink.S3
	if s3cfg.Bucket == "" {
		d.pass("S3 archive", "not configured")
		return
	}
	s, err := newSessionSink(ctx, &config.Config{Sink: config.SinkConfig{S3: s3cfg}})
	if err != nil {
		d.fail("S3 archive", "invalid configuration", err)
		return
	}
	fields := []zap.Field{zap.String("bucket", s3cfg.Bucket), zap.String("sink", s.Name())}
	if s3cfg.AccessKeyID != "" {
		fields = append(fields, zap.String("access_key", maskSecret(s3cfg.AccessKeyID)))
	}
	d.pass("S3 archive", "s3://"+s3cfg.Bucket+"/"+s3cfg.Prefix, fields...)
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// maskSecret masks all but the last 4 characters of a secret.
func maskSecret(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAuthHelp prints help for configuring credentials.
func printAuthHelp(provider string) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure credentials:")
	switch provider {
	case string(auth.ProviderOIDC):
		observability.CLILogger.Info("  Set JOBPROBE_AUTH_ISSUER_URL, JOBPROBE_AUTH_CLIENT_ID,")
		observability.CLILogger.Info("  JOBPROBE_AUTH_USERNAME and JOBPROBE_AUTH_PASSWORD")
	case string(auth.ProviderStatic):
		observability.CLILogger.Info("  Set JOBPROBE_AUTH_TOKEN to a bearer token")
	default:
		observability.CLILogger.Info("  1. Set AWS_REGION and COGNITO_CLIENT_ID (or JOBPROBE_AUTH_REGION/JOBPROBE_AUTH_CLIENT_ID)")
		observability.CLILogger.Info("  2. Set TEST_USER_EMAIL and TEST_USER_PW (or JOBPROBE_AUTH_USERNAME/JOBPROBE_AUTH_PASSWORD)")
		observability.CLILogger.Info("  3. Enable USER_PASSWORD_AUTH on the app client")
	}
	observability.CLILogger.Info("")
}
