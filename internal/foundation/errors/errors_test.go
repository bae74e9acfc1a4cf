package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			Fatal().
			WithContext("file", "config.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "config.yaml" {
			t.Errorf("expected context file=config.yaml, got %v", file)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := NewError(CategoryPublish, "push rejected").Retryable().Build()
		wrapped := fmt.Errorf("stage publish: %w", inner)

		if got, ok := AsClassified(wrapped); !ok || got != inner {
			t.Fatal("expected wrapped error to be classified")
		}
		if !HasCategory(wrapped, CategoryPublish) {
			t.Error("expected publish category")
		}
		if !IsTransient(wrapped) {
			t.Error("expected transient error")
		}
		if HasCategory(errors.New("plain"), CategoryPublish) {
			t.Error("plain errors carry no category")
		}
	})

	t.Run("Is compares category and message", func(t *testing.T) {
		sentinel := GenerateError("generator exited non-zero").Build()
		err := GenerateError("generator exited non-zero").WithCause(errors.New("exit 101")).Build()
		if !errors.Is(err, sentinel) {
			t.Error("expected errors.Is to match on category and message")
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, CategoryNetwork, "network failure").
		Retryable().
		WithContext("host", "example.com").
		Build()

	if !errors.Is(err, originalErr) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if !err.CanRetry() || !err.IsTransient() {
		t.Error("expected retryable transient error")
	}
	if err.Severity() != SeverityError {
		t.Errorf("expected default severity, got %s", err.Severity())
	}

	relabeled := NewError(CategoryCheckout, "clone failed").WithCategory(CategoryAuth).UserAction().Build()
	if relabeled.Category() != CategoryAuth || relabeled.CanRetry() {
		t.Errorf("unexpected relabeled error %v", relabeled)
	}

	ctxCopy := relabeled.WithContext("url", "https://example.com/repo.git")
	if _, ok := relabeled.Context().Get("url"); ok {
		t.Error("WithContext must not mutate the original error")
	}
	if v, _ := ctxCopy.Context().GetString("url"); v == "" {
		t.Error("expected url context on copy")
	}
}

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("bad flag").Build(), 2},
		{"auth", AuthError("token rejected").Build(), 5},
		{"config", ConfigError("bad config").Build(), 7},
		{"checkout", NewError(CategoryCheckout, "clone failed").Build(), 8},
		{"publish", NewError(CategoryPublish, "push failed").Build(), 8},
		{"generate", GenerateError("cargo failed").Build(), 11},
		{"canceled", CanceledError("superseded").Build(), 12},
		{"internal", InternalError("bug").Build(), 10},
		{"unclassified", errors.New("unknown error"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var out bytes.Buffer
	var code int
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	adapter.out = &out
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(GenerateError("documentation generator failed").Build())

	if code != 11 {
		t.Errorf("expected exit code 11, got %d", code)
	}
	if got := out.String(); got != "Error (generate): documentation generator failed\n" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestHTTPErrorAdapter(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if got := adapter.StatusCodeFor(AuthError("bad signature").Build()); got != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", got)
	}
	if got := adapter.StatusCodeFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/push", nil)
	adapter.WriteErrorResponse(rec, req, NewError(CategoryNetwork, "remote hung up").Retryable().WithContext("op", "push").Build())

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var resp HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "network" || !resp.Retryable || resp.Details["op"] != "push" {
		t.Errorf("unexpected payload %+v", resp)
	}
}
