package git

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/retry"
)

// Client performs git operations against the source and hosting remotes.
type Client struct {
	sourceAuth  transport.AuthMethod
	publishAuth transport.AuthMethod
	policy      retry.Policy
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSourceAuth sets the credentials used for checkout and ls-remote.
func WithSourceAuth(auth transport.AuthMethod) Option {
	return func(c *Client) { c.sourceAuth = auth }
}

// WithPublishAuth sets the credentials used to push the hosting branch.
func WithPublishAuth(auth transport.AuthMethod) Option {
	return func(c *Client) { c.publishAuth = auth }
}

// WithRetryPolicy enables retries of transient network failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Git client.
func NewClient(opts ...Option) *Client {
	c := &Client{policy: retry.DefaultPolicy(), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig creates a client with the source credentials, the
// publish token and the retry policy described by cfg.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	sourceAuth, err := AuthMethod(cfg.Source.Auth)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	initial, maxDelay := cfg.RetryDelays()
	return NewClient(
		WithSourceAuth(sourceAuth),
		WithPublishAuth(TokenAuth(cfg.Publish.Username, cfg.PublishToken())),
		WithRetryPolicy(retry.FromConfig(cfg.Retry, initial, maxDelay)),
		WithLogger(logger),
	), nil
}

// withRetry runs fn under the client's retry policy, retrying only transient errors.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return c.policy.Do(ctx, fn, ferrors.IsTransient, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Retrying git operation",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			logfields.Duration(delay),
			logfields.Error(err))
	})
}
