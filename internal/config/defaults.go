package config

import (
	"fmt"
	"path/filepath"
	"slices"
)

// Default values for the publishing contract.
const (
	DefaultSourceBranch   = "master"
	DefaultPublishBranch  = "gh-pages"
	DefaultTokenEnv       = "ACCESS_TOKEN"
	DefaultRedirectTarget = "nominae"
	DefaultOutputDir      = "target/doc"
	DefaultVerboseFlag    = "--verbose"
	DefaultWebhookPath    = "/webhooks/push"
	DefaultListenAddr     = ":8080"
	DefaultEventsSubject  = "docpublisher.runs"
)

// DefaultGeneratorCommand is the documentation generator invocation.
var DefaultGeneratorCommand = []string{"cargo", "doc", "--verbose"}

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&SourceDefaultApplier{},
			&GeneratorDefaultApplier{},
			&PublishDefaultApplier{},
			&TriggerDefaultApplier{},
			&RetryDefaultApplier{},
			&DaemonDefaultApplier{},
			&WatchDefaultApplier{},
			&MonitoringDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// GetApplierByDomain returns a specific domain applier (useful for testing).
func (c *CompositeDefaultApplier) GetApplierByDomain(domain string) DefaultApplier {
	for _, applier := range c.appliers {
		if applier.Domain() == domain {
			return applier
		}
	}
	return nil
}

// SourceDefaultApplier handles source and redirect defaults.
type SourceDefaultApplier struct{}

func (s *SourceDefaultApplier) Domain() string { return "source" }

func (s *SourceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Source.Branch == "" {
		cfg.Source.Branch = DefaultSourceBranch
	}
	if cfg.Source.Depth < 0 {
		cfg.Source.Depth = 0
	}
	if cfg.Source.Auth != nil && cfg.Source.Auth.Type == "" {
		cfg.Source.Auth.Type = AuthTypeNone
	}
	if cfg.Redirect.Target == "" {
		cfg.Redirect.Target = DefaultRedirectTarget
	}
	return nil
}

// GeneratorDefaultApplier handles generator defaults.
type GeneratorDefaultApplier struct{}

func (g *GeneratorDefaultApplier) Domain() string { return "generator" }

func (g *GeneratorDefaultApplier) ApplyDefaults(cfg *Config) error {
	if len(cfg.Generator.Command) == 0 {
		cfg.Generator.Command = slices.Clone(DefaultGeneratorCommand)
	}
	if cfg.Generator.VerboseFlag == "" {
		cfg.Generator.VerboseFlag = DefaultVerboseFlag
	}
	if !slices.Contains(cfg.Generator.Command[1:], cfg.Generator.VerboseFlag) {
		cfg.Generator.Command = append(cfg.Generator.Command, cfg.Generator.VerboseFlag)
	}
	if cfg.Generator.OutputDir == "" {
		cfg.Generator.OutputDir = DefaultOutputDir
	}
	cfg.Generator.OutputDir = filepath.Clean(cfg.Generator.OutputDir)
	return nil
}

// PublishDefaultApplier handles hosting branch defaults.
type PublishDefaultApplier struct{}

func (p *PublishDefaultApplier) Domain() string { return "publish" }

func (p *PublishDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Publish.Branch == "" {
		cfg.Publish.Branch = DefaultPublishBranch
	}
	if cfg.Publish.TokenEnv == "" {
		cfg.Publish.TokenEnv = DefaultTokenEnv
	}
	if cfg.Publish.Username == "" {
		cfg.Publish.Username = "x-access-token"
	}
	if cfg.Publish.AuthorName == "" {
		cfg.Publish.AuthorName = "docpublisher"
	}
	if cfg.Publish.AuthorEmail == "" {
		cfg.Publish.AuthorEmail = "docpublisher@localhost"
	}
	if cfg.Publish.CommitMessage == "" {
		cfg.Publish.CommitMessage = "Deploy documentation from {{commit}}"
	}
	return nil
}

// TriggerDefaultApplier handles trigger defaults.
type TriggerDefaultApplier struct{}

func (t *TriggerDefaultApplier) Domain() string { return "trigger" }

func (t *TriggerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Trigger.Branch == "" {
		cfg.Trigger.Branch = cfg.Source.Branch
	}
	if cfg.Trigger.WebhookPath == "" {
		cfg.Trigger.WebhookPath = DefaultWebhookPath
	}
	if cfg.Concurrency.CancelSuperseded == nil {
		v := true
		cfg.Concurrency.CancelSuperseded = &v
	}
	if cfg.Concurrency.QueueSize <= 0 {
		cfg.Concurrency.QueueSize = 16
	}
	return nil
}

// RetryDefaultApplier handles retry defaults. Retries are off unless configured.
type RetryDefaultApplier struct{}

func (r *RetryDefaultApplier) Domain() string { return "retry" }

func (r *RetryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = RetryBackoffExponential
	} else if mode := NormalizeRetryBackoff(string(cfg.Retry.Backoff)); mode != "" {
		cfg.Retry.Backoff = mode
	}
	if cfg.Retry.InitialDelay == "" {
		cfg.Retry.InitialDelay = "1s"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "30s"
	}
	return nil
}

// DaemonDefaultApplier handles daemon defaults.
type DaemonDefaultApplier struct{}

func (d *DaemonDefaultApplier) Domain() string { return "daemon" }

func (d *DaemonDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Daemon.ListenAddr == "" {
		cfg.Daemon.ListenAddr = DefaultListenAddr
	}
	if cfg.Daemon.DataDir == "" {
		cfg.Daemon.DataDir = "./data"
	}
	if cfg.Daemon.HistorySize <= 0 {
		cfg.Daemon.HistorySize = 50
	}
	return nil
}

// WatchDefaultApplier handles watch mode defaults.
type WatchDefaultApplier struct{}

func (w *WatchDefaultApplier) Domain() string { return "watch" }

func (w *WatchDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "1s"
	}
	for _, pattern := range []string{"target/**", ".git/**"} {
		if !slices.Contains(cfg.Watch.Ignore, pattern) {
			cfg.Watch.Ignore = append(cfg.Watch.Ignore, pattern)
		}
	}
	return nil
}

// MonitoringDefaultApplier handles logging, metrics and event defaults.
type MonitoringDefaultApplier struct{}

func (m *MonitoringDefaultApplier) Domain() string { return "monitoring" }

func (m *MonitoringDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Monitoring.LogLevel = NormalizeLogLevel(string(cfg.Monitoring.LogLevel))
	cfg.Monitoring.LogFormat = NormalizeLogFormat(string(cfg.Monitoring.LogFormat))
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
	return nil
}
