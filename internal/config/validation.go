package config

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/site"
)

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	for _, check := range []func() error{
		cv.validateSource,
		cv.validateGenerator,
		cv.validateRedirect,
		cv.validatePublish,
		cv.validateDurations,
		cv.validateGlobs,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateSource() error {
	src := cv.config.Source
	if strings.TrimSpace(src.URL) == "" {
		return invalid("source.url", "source repository url is required")
	}
	if src.Auth == nil {
		return nil
	}
	switch src.Auth.Type {
	case AuthTypeNone:
	case AuthTypeToken:
		if src.Auth.Token == "" && src.Auth.TokenEnv == "" {
			return invalid("source.auth.token", "token auth requires token or token_env")
		}
	case AuthTypeBasic:
		if src.Auth.Username == "" || src.Auth.Password == "" {
			return invalid("source.auth", "basic auth requires username and password")
		}
	case AuthTypeSSH:
		if src.Auth.KeyPath == "" {
			return invalid("source.auth.key_path", "ssh auth requires key_path")
		}
	default:
		return invalid("source.auth.type", "unsupported auth type: "+string(src.Auth.Type))
	}
	return nil
}

func (cv *configurationValidator) validateGenerator() error {
	gen := cv.config.Generator
	if len(gen.Command) == 0 || strings.TrimSpace(gen.Command[0]) == "" {
		return invalid("generator.command", "generator command is required")
	}
	if filepath.IsAbs(gen.OutputDir) || !filepath.IsLocal(gen.OutputDir) {
		return invalid("generator.output_dir", "output directory must be relative to the checkout")
	}
	return nil
}

func (cv *configurationValidator) validateRedirect() error {
	return ValidateRedirectTarget(cv.config.Redirect.Target)
}

// ValidateRedirectTarget rejects targets that would break out of the meta
// refresh attribute or point outside the site.
func ValidateRedirectTarget(target string) error {
	if strings.ContainsAny(target, "\"<>\n\r ") || !filepath.IsLocal(target) {
		return invalid("redirect.target", "redirect target must be a plain relative path")
	}
	return nil
}

func (cv *configurationValidator) validatePublish() error {
	pub := cv.config.Publish
	if pub.Branch == cv.config.Source.Branch && cv.config.PublishRemote() == cv.config.Source.URL {
		return invalid("publish.branch", "publish branch must differ from the source branch")
	}
	if strings.HasPrefix(pub.Branch, "refs/") || strings.ContainsAny(pub.Branch, " ~^:?*[\\") {
		return invalid("publish.branch", "invalid branch name: "+pub.Branch)
	}
	if cv.config.Retry.Backoff != "" && NormalizeRetryBackoff(string(cv.config.Retry.Backoff)) == "" {
		return invalid("retry.backoff", "unsupported backoff: "+string(cv.config.Retry.Backoff))
	}
	return nil
}

func (cv *configurationValidator) validateDurations() error {
	durations := map[string]string{
		"generator.timeout":     cv.config.Generator.Timeout,
		"retry.initial_delay":   cv.config.Retry.InitialDelay,
		"retry.max_delay":       cv.config.Retry.MaxDelay,
		"trigger.poll_interval": cv.config.Trigger.PollInterval,
		"watch.debounce":        cv.config.Watch.Debounce,
	}
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid duration").
				WithContext("field", field).
				WithContext("value", raw).
				Fatal().
				Build()
		}
		if d < 0 {
			return invalid(field, "duration must not be negative")
		}
	}
	if cv.config.Trigger.PollInterval != "" && cv.config.Trigger.PollCron != "" {
		return invalid("trigger.poll_cron", "poll_interval and poll_cron are mutually exclusive")
	}
	return nil
}

func (cv *configurationValidator) validateGlobs() error {
	for _, pattern := range slices.Concat(cv.config.Publish.Exclude, cv.config.Watch.Ignore) {
		if !doublestar.ValidatePattern(pattern) {
			return invalid("glob", "invalid glob pattern: "+pattern)
		}
	}
	for _, pattern := range cv.config.Publish.Exclude {
		if site.ExcludesRootIndex(pattern) {
			return invalid("publish.exclude", "exclude pattern would drop the root "+site.IndexFile+": "+pattern)
		}
	}
	return nil
}

func invalid(field, message string) error {
	return ferrors.ConfigError(message).WithContext("field", field).Build()
}

func parseDuration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// GeneratorTimeout returns the generator deadline; zero means none.
func (c *Config) GeneratorTimeout() time.Duration { return parseDuration(c.Generator.Timeout) }

// PollInterval returns the remote polling interval; zero disables interval polling.
func (c *Config) PollInterval() time.Duration { return parseDuration(c.Trigger.PollInterval) }

// DebounceInterval returns the watch mode quiet period.
func (c *Config) DebounceInterval() time.Duration { return parseDuration(c.Watch.Debounce) }

// RetryDelays returns the initial and maximum retry delays.
func (c *Config) RetryDelays() (initial, maxDelay time.Duration) {
	return parseDuration(c.Retry.InitialDelay), parseDuration(c.Retry.MaxDelay)
}
