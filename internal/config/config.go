package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// Config represents the publisher configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source" envPrefix:"SOURCE_"`
	Generator   GeneratorConfig   `yaml:"generator" envPrefix:"GENERATOR_"`
	Redirect    RedirectConfig    `yaml:"redirect" envPrefix:"REDIRECT_"`
	Publish     PublishConfig     `yaml:"publish" envPrefix:"PUBLISH_"`
	Trigger     TriggerConfig     `yaml:"trigger" envPrefix:"TRIGGER_"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" envPrefix:"CONCURRENCY_"`
	Retry       RetryConfig       `yaml:"retry" envPrefix:"RETRY_"`
	Daemon      DaemonConfig      `yaml:"daemon" envPrefix:"DAEMON_"`
	Watch       WatchConfig       `yaml:"watch"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" envPrefix:"MONITORING_"`
	Events      EventsConfig      `yaml:"events" envPrefix:"EVENTS_"`
}

// SourceConfig describes the repository whose documentation is generated.
type SourceConfig struct {
	URL    string      `yaml:"url" env:"URL"`
	Branch string      `yaml:"branch,omitempty" env:"BRANCH"` // primary branch, defaults to master
	Depth  int         `yaml:"depth,omitempty" env:"DEPTH"`   // 0 = full history
	Auth   *AuthConfig `yaml:"auth,omitempty"`
}

// GeneratorConfig describes the external documentation generator invocation.
type GeneratorConfig struct {
	Command     []string          `yaml:"command,omitempty" env:"COMMAND" envSeparator:" "`
	OutputDir   string            `yaml:"output_dir,omitempty" env:"OUTPUT_DIR"` // relative to the checkout
	VerboseFlag string            `yaml:"verbose_flag,omitempty" env:"VERBOSE_FLAG"`
	Timeout     string            `yaml:"timeout,omitempty" env:"TIMEOUT"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// RedirectConfig controls the landing page written at the site root.
type RedirectConfig struct {
	Target string `yaml:"target,omitempty" env:"TARGET"` // subdirectory holding the library docs
}

// PublishConfig describes the hosting branch update.
type PublishConfig struct {
	Remote        string   `yaml:"remote,omitempty" env:"REMOTE"` // defaults to source.url
	Branch        string   `yaml:"branch,omitempty" env:"BRANCH"`
	TokenEnv      string   `yaml:"token_env,omitempty" env:"TOKEN_ENV"`
	Username      string   `yaml:"username,omitempty" env:"USERNAME"`
	AuthorName    string   `yaml:"author_name,omitempty" env:"AUTHOR_NAME"`
	AuthorEmail   string   `yaml:"author_email,omitempty" env:"AUTHOR_EMAIL"`
	CommitMessage string   `yaml:"commit_message,omitempty" env:"COMMIT_MESSAGE"`
	Exclude       []string `yaml:"exclude,omitempty" env:"EXCLUDE" envSeparator:","`
}

// TriggerConfig describes which events start a run.
type TriggerConfig struct {
	Branch        string `yaml:"branch,omitempty" env:"BRANCH"`
	WebhookPath   string `yaml:"webhook_path,omitempty" env:"WEBHOOK_PATH"`
	WebhookSecret string `yaml:"webhook_secret,omitempty" env:"WEBHOOK_SECRET"`
	PollInterval  string `yaml:"poll_interval,omitempty" env:"POLL_INTERVAL"`
	PollCron      string `yaml:"poll_cron,omitempty" env:"POLL_CRON"`
}

// ConcurrencyConfig controls how overlapping runs for a branch are handled.
type ConcurrencyConfig struct {
	CancelSuperseded *bool `yaml:"cancel_superseded,omitempty" env:"CANCEL_SUPERSEDED"`
	QueueSize        int   `yaml:"queue_size,omitempty" env:"QUEUE_SIZE"`
}

// RetryConfig applies to the network stages (checkout, publish) only.
type RetryConfig struct {
	MaxRetries   int              `yaml:"max_retries,omitempty" env:"MAX_RETRIES"`
	Backoff      RetryBackoffMode `yaml:"backoff,omitempty" env:"BACKOFF"`
	InitialDelay string           `yaml:"initial_delay,omitempty" env:"INITIAL_DELAY"`
	MaxDelay     string           `yaml:"max_delay,omitempty" env:"MAX_DELAY"`
}

// DaemonConfig configures the long-running webhook/poll mode.
type DaemonConfig struct {
	ListenAddr   string `yaml:"listen_addr,omitempty" env:"LISTEN_ADDR"`
	DataDir      string `yaml:"data_dir,omitempty" env:"DATA_DIR"`
	WorkspaceDir string `yaml:"workspace_dir,omitempty" env:"WORKSPACE_DIR"`
	HistorySize  int    `yaml:"history_size,omitempty" env:"HISTORY_SIZE"`
}

// WatchConfig configures local watch mode.
type WatchConfig struct {
	Ignore   []string `yaml:"ignore,omitempty"`
	Debounce string   `yaml:"debounce,omitempty"`
}

// MonitoringConfig configures logging, metrics and tracing.
type MonitoringConfig struct {
	LogLevel        LogLevel  `yaml:"log_level,omitempty" env:"LOG_LEVEL"`
	LogFormat       LogFormat `yaml:"log_format,omitempty" env:"LOG_FORMAT"`
	Metrics         *bool     `yaml:"metrics,omitempty" env:"METRICS"`
	TracingEndpoint string    `yaml:"tracing_endpoint,omitempty" env:"TRACING_ENDPOINT"`
}

// EventsConfig configures optional run lifecycle fan-out over NATS.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty" env:"NATS_URL"`
	Subject string `yaml:"subject,omitempty" env:"SUBJECT"`
}

// CancelsSuperseded reports whether a new run cancels older runs for the same branch.
func (c ConcurrencyConfig) CancelsSuperseded() bool {
	return c.CancelSuperseded == nil || *c.CancelSuperseded
}

// MetricsEnabled reports whether Prometheus metrics are exposed.
func (m MonitoringConfig) MetricsEnabled() bool {
	return m.Metrics == nil || *m.Metrics
}

// PublishRemote returns the remote the hosting branch is pushed to.
func (c *Config) PublishRemote() string {
	if c.Publish.Remote != "" {
		return c.Publish.Remote
	}
	return c.Source.URL
}

// PublishToken returns the publish token from the configured environment variable.
func (c *Config) PublishToken() string {
	return os.Getenv(c.Publish.TokenEnv)
}

// Load reads, expands, defaults, overlays and validates the configuration file.
func Load(configPath string) (*Config, error) {
	LoadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Fatal().
			Build()
	}
	return Parse(data)
}

// Parse decodes configuration bytes and applies the full load pipeline minus file IO.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse configuration").Fatal().Build()
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to apply defaults").Fatal().Build()
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles loads .env and .env.local when present. Existing variables win.
func LoadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", name)
	}
}
