// Package config loads jobprobe configuration from defaults, an optional
// YAML file, a dotenv file, environment variables and runtime overrides.
//
// Precedence, highest first: runtime overrides, JOBPROBE_* environment,
// legacy unprefixed environment (API_ENDPOINT, TIMEOUT_SECONDS, ...), config
// file, defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/prompt"
)

// EnvPrefix prefixes every jobprobe environment variable.
const EnvPrefix = "JOBPROBE"

// DefaultEnvFile is loaded when present and no env file is named.
const DefaultEnvFile = ".env"

// Policy shapes accepted in policy.shape.
const (
	ShapeSplit   = "split"
	ShapeWarning = "warning"
)

// Config is the full jobprobe configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Prompt  PromptConfig  `mapstructure:"prompt"`
	Output  OutputConfig  `mapstructure:"output"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// BackendConfig configures the job API client.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Retries        uint          `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

// AuthConfig selects and configures the credential provider.
type AuthConfig struct {
	Provider  string   `mapstructure:"provider" validate:"oneof=cognito oidc static"`
	Region    string   `mapstructure:"region"`
	ClientID  string   `mapstructure:"client_id"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Endpoint  string   `mapstructure:"endpoint" validate:"omitempty,url"`
	IssuerURL string   `mapstructure:"issuer_url" validate:"omitempty,url"`
	Scopes    []string `mapstructure:"scopes"`
	Token     string   `mapstructure:"token"`
}

// PolicyConfig holds the raw budget settings. Use Config.MonitorPolicy to
// turn it into a monitor.Policy.
type PolicyConfig struct {
	// Shape is "split" or "warning". Empty infers warning when either
	// warning field is set, split otherwise.
	Shape         string        `mapstructure:"shape" validate:"omitempty,oneof=split warning"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QueuedTimeout time.Duration `mapstructure:"queued_timeout"`
	TotalTimeout  time.Duration `mapstructure:"total_timeout"`
	QueuedWarning time.Duration `mapstructure:"queued_warning"`
	QueuedMax     time.Duration `mapstructure:"queued_max"`
}

// PromptConfig holds the prompt parameters or a file to read them from.
type PromptConfig struct {
	File              string  `mapstructure:"file"`
	Text              string  `mapstructure:"text"`
	Width             int     `mapstructure:"width" validate:"gte=0"`
	Height            int     `mapstructure:"height" validate:"gte=0"`
	GuidanceScale     float64 `mapstructure:"guidance_scale" validate:"gte=0"`
	NumInferenceSteps int     `mapstructure:"num_inference_steps" validate:"gte=0"`
}

// OutputConfig configures where JSONL records go.
type OutputConfig struct {
	// Destination is "stdout" or "file:<path>".
	Destination string `mapstructure:"destination"`
}

// SinkConfig configures session archives. Both sinks may be enabled.
type SinkConfig struct {
	Dir string       `mapstructure:"dir"`
	S3  S3SinkConfig `mapstructure:"s3"`
}

// S3SinkConfig configures the S3 archive. Empty Bucket disables it.
type S3SinkConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// MetricsConfig configures Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	JobName        string `mapstructure:"job_name"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Profile string `mapstructure:"profile" validate:"oneof=structured console"`
}

// ServerConfig configures the fake backend.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Options control where Load reads from.
type Options struct {
	// ConfigFile is an explicit YAML config path. Empty skips the file.
	ConfigFile string

	// EnvFile is a dotenv file. Empty loads DefaultEnvFile when it exists.
	EnvFile string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.request_timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 0.0)
	v.SetDefault("backend.retries", 2)
	v.SetDefault("backend.retry_delay", 500*time.Millisecond)

	v.SetDefault("auth.provider", "cognito")
	v.SetDefault("auth.region", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.endpoint", "")
	v.SetDefault("auth.issuer_url", "")
	v.SetDefault("auth.scopes", []string{})
	v.SetDefault("auth.token", "")

	v.SetDefault("policy.shape", "")
	v.SetDefault("policy.poll_interval", 5*time.Second)
	v.SetDefault("policy.queued_timeout", 5*time.Minute)
	v.SetDefault("policy.total_timeout", 15*time.Minute)
	v.SetDefault("policy.queued_warning", time.Duration(0))
	v.SetDefault("policy.queued_max", time.Duration(0))

	v.SetDefault("prompt.file", "")
	v.SetDefault("prompt.text", prompt.DefaultText)
	v.SetDefault("prompt.width", prompt.DefaultWidth)
	v.SetDefault("prompt.height", prompt.DefaultHeight)
	v.SetDefault("prompt.guidance_scale", prompt.DefaultGuidanceScale)
	v.SetDefault("prompt.num_inference_steps", prompt.DefaultNumInferenceSteps)

	v.SetDefault("output.destination", "stdout")

	v.SetDefault("sink.dir", "")
	v.SetDefault("sink.s3.bucket", "")
	v.SetDefault("sink.s3.prefix", "")
	v.SetDefault("sink.s3.region", "")
	v.SetDefault("sink.s3.endpoint", "")
	v.SetDefault("sink.s3.profile", "")
	v.SetDefault("sink.s3.access_key_id", "")
	v.SetDefault("sink.s3.secret_access_key", "")
	v.SetDefault("sink.s3.force_path_style", false)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "jobprobe")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Load builds a Config using default Options.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadWithOptions(ctx, Options{}, overrides...)
}

// LoadWithOptions builds a Config. Each call uses a fresh viper instance;
// the result is also cached for GetConfig.
func LoadWithOptions(ctx context.Context, opts Options, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	legacy, err := legacyEnvValues()
	if err != nil {
		return nil, err
	}
	if len(legacy) > 0 {
		if err := v.MergeConfigMap(legacy); err != nil {
			return nil, fmt.Errorf("failed to apply legacy environment: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	// godotenv.Load never overrides variables already set in the process.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Auth.Provider = strings.ToLower(strings.TrimSpace(c.Auth.Provider))
	c.Policy.Shape = strings.ToLower(strings.TrimSpace(c.Policy.Shape))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Profile = strings.ToLower(strings.TrimSpace(c.Logging.Profile))
	c.Backend.BaseURL = strings.TrimSpace(c.Backend.BaseURL)
}

// envSpec maps one environment variable onto a config path.
type envSpec struct {
	Name string
	Path string

	// Seconds marks legacy variables holding integer seconds.
	Seconds bool
}

// envPaths are the config keys exposed as JOBPROBE_* variables.
var envPaths = []string{
	"backend.base_url",
	"backend.request_timeout",
	"backend.rate_limit",
	"backend.retries",
	"backend.retry_delay",
	"auth.provider",
	"auth.region",
	"auth.client_id",
	"auth.username",
	"auth.password",
	"auth.endpoint",
	"auth.issuer_url",
	"auth.scopes",
	"auth.token",
	"policy.shape",
	"policy.poll_interval",
	"policy.queued_timeout",
	"policy.total_timeout",
	"policy.queued_warning",
	"policy.queued_max",
	"prompt.file",
	"prompt.text",
	"output.destination",
	"sink.dir",
	"sink.s3.bucket",
	"sink.s3.prefix",
	"sink.s3.region",
	"sink.s3.endpoint",
	"sink.s3.profile",
	"sink.s3.access_key_id",
	"sink.s3.secret_access_key",
	"metrics.pushgateway_url",
	"metrics.job_name",
	"logging.level",
	"logging.profile",
	"server.host",
	"server.port",
}

// getEnvSpecs returns the JOBPROBE_* bindings, e.g. JOBPROBE_POLICY_QUEUED_MAX.
func getEnvSpecs() []envSpec {
	specs := make([]envSpec, 0, len(envPaths))
	for _, p := range envPaths {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(p, ".", "_"))
		specs = append(specs, envSpec{Name: name, Path: p})
	}
	return specs
}

// legacyEnvSpecs are the unprefixed variables understood for compatibility
// with existing probe deployments.
var legacyEnvSpecs = []envSpec{
	{Name: "API_ENDPOINT", Path: "backend.base_url"},
	{Name: "LOG_LEVEL", Path: "logging.level"},
	{Name: "TIMEOUT_SECONDS", Path: "policy.total_timeout", Seconds: true},
	{Name: "QUEUED_TIMEOUT_SECONDS", Path: "policy.queued_timeout", Seconds: true},
	{Name: "WAIT_SECONDS", Path: "policy.poll_interval", Seconds: true},
	{Name: "TEST_USER_EMAIL", Path: "auth.username"},
	{Name: "TEST_USER_PW", Path: "auth.password"},
	{Name: "COGNITO_CLIENT_ID", Path: "auth.client_id"},
	{Name: "AWS_REGION", Path: "auth.region"},
}

// legacyEnvValues reads set legacy variables into a nested map suitable for
// viper.MergeConfigMap.
func legacyEnvValues() (map[string]any, error) {
	out := map[string]any{}
	for _, spec := range legacyEnvSpecs {
		raw, ok := os.LookupEnv(spec.Name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var val any = raw
		if spec.Seconds {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 {
				return nil, &ConfigError{Field: spec.Name, Message: fmt.Sprintf("must be a non-negative integer number of seconds (got %q)", raw)}
			}
			val = time.Duration(n) * time.Second
		}
		setNested(out, strings.Split(spec.Path, "."), val)
	}

	// A lone TIMEOUT_SECONDS is a single overall budget: the queued limit
	// follows it so only the total timeout can fire.
	if policy, ok := out["policy"].(map[string]any); ok {
		if total, ok := policy["total_timeout"]; ok {
			if _, set := policy["queued_timeout"]; !set {
				policy["queued_timeout"] = total
			}
		}
	}
	return out, nil
}

func setNested(m map[string]any, keys []string, val any) {
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = val
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the policy is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed %q validation (value %v)", fe.ActualTag(), redact(fe)),
			}
		}
		return err
	}
	if _, err := c.MonitorPolicy(); err != nil {
		return err
	}
	if _, err := c.PromptParams(); err != nil {
		return err
	}
	return nil
}

// redact hides secret values in validation messages.
func redact(fe validator.FieldError) any {
	switch fe.Field() {
	case "Password", "Token", "SecretAccessKey":
		return "[redacted]"
	}
	return fe.Value()
}

// MonitorPolicy builds the monitor policy for the configured shape.
func (c *Config) MonitorPolicy() (monitor.Policy, error) {
	p := c.Policy
	shape := p.Shape
	if shape == "" {
		shape = ShapeSplit
		if p.QueuedWarning > 0 || p.QueuedMax > 0 {
			shape = ShapeWarning
		}
	}

	var policy monitor.Policy
	switch shape {
	case ShapeSplit:
		policy = monitor.NewSplitPolicy(p.PollInterval, p.QueuedTimeout, p.TotalTimeout)
	case ShapeWarning:
		policy = monitor.NewWarningPolicy(p.PollInterval, p.QueuedWarning, p.QueuedMax)
	default:
		return monitor.Policy{}, &ConfigError{Field: "policy.shape", Message: fmt.Sprintf("unknown shape %q", shape)}
	}
	if err := policy.Validate(); err != nil {
		return monitor.Policy{}, err
	}
	return policy, nil
}

// PromptParams returns the prompt parameters, reading prompt.file when set.
// Fields the file leaves out take the built-in defaults.
func (c *Config) PromptParams() (prompt.Params, error) {
	if c.Prompt.File != "" {
		return prompt.Load(c.Prompt.File)
	}
	p := prompt.Params{
		Text:              c.Prompt.Text,
		Width:             c.Prompt.Width,
		Height:            c.Prompt.Height,
		GuidanceScale:     c.Prompt.GuidanceScale,
		NumInferenceSteps: c.Prompt.NumInferenceSteps,
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return prompt.Params{}, err
	}
	return p, nil
}
