package git

import (
	"context"
	"errors"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// classify translates go-git errors into ClassifiedErrors. fallback is the
// category used when nothing more specific applies (checkout or publish).
func classify(err error, fallback ferrors.ErrorCategory, op, url string) error {
	if err == nil {
		return nil
	}
	if _, ok := ferrors.AsClassified(err); ok {
		return err
	}

	builder := ferrors.WrapError(err, fallback, "git "+op+" failed").
		WithContext("op", op).
		WithContext("url", redactURL(url))

	l := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		strings.Contains(l, "authentication failed"),
		strings.Contains(l, "invalid credentials"),
		strings.Contains(l, "permission denied"):
		builder.WithCategory(ferrors.CategoryAuth).UserAction()
	case errors.Is(err, transport.ErrRepositoryNotFound):
		builder.WithCategory(ferrors.CategoryNotFound)
	case errors.Is(err, context.Canceled):
		builder.WithCategory(ferrors.CategoryCanceled)
	case strings.Contains(l, "rate limit") || strings.Contains(l, "too many requests"):
		builder.WithCategory(ferrors.CategoryNetwork).RateLimit()
	case strings.Contains(l, "remote hung up"),
		strings.Contains(l, "connection reset"),
		strings.Contains(l, "connection refused"),
		strings.Contains(l, "timeout"),
		strings.Contains(l, "no route to host"),
		strings.Contains(l, "eof"):
		builder.WithCategory(ferrors.CategoryNetwork).Retryable()
	}
	return builder.Build()
}

// redactURL strips userinfo so tokens embedded in remotes never reach logs.
func redactURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}
	rest := raw[schemeEnd+3:]
	at := strings.Index(rest, "@")
	slash := strings.Index(rest, "/")
	if at < 0 || (slash >= 0 && at > slash) {
		return raw
	}
	return raw[:schemeEnd+3] + "***@" + rest[at+1:]
}
