// Package server exposes the daemon's HTTP surface: the push webhook, the
// runs API, a status page, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/metrics"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
	"git.home.luguber.info/inful/docpublisher/internal/queue"
	"git.home.luguber.info/inful/docpublisher/internal/trigger"
	"git.home.luguber.info/inful/docpublisher/internal/version"
)

const maxWebhookBody = 5 << 20

// Submitter enqueues runs.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*queue.Ticket, error)
	Len() int
	Active() (pipeline.Request, bool)
}

// History answers run queries.
type History interface {
	GetHistory() []*eventstore.RunSummary
	GetRun(runID string) (*eventstore.RunSummary, bool)
	Pending() []*eventstore.RunSummary
}

// Options wires the server to the rest of the daemon.
type Options struct {
	Submitter Submitter
	History   History
	Gatherer  prometheus.Gatherer // nil disables /metrics
	Recorder  metrics.Recorder
	Logger    *slog.Logger
	// OnPush is called with the pushed commit when a webhook enqueues a run.
	OnPush func(commit string)
}

// Server serves the daemon HTTP endpoints.
type Server struct {
	cfg          *config.Config
	opts         Options
	webhook      *trigger.Webhook
	errorAdapter *ferrors.HTTPErrorAdapter
	started      time.Time
	httpServer   *http.Server
}

// New creates a server for cfg.
func New(cfg *config.Config, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return &Server{
		cfg:          cfg,
		opts:         opts,
		webhook:      &trigger.Webhook{Secret: cfg.Trigger.WebhookSecret, Branch: cfg.Trigger.Branch},
		errorAdapter: ferrors.NewHTTPErrorAdapter(opts.Logger),
		started:      time.Now(),
	}
}

// Handler returns the routed handler wrapped in logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.cfg.Trigger.WebhookPath, s.handleWebhook)
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(s.opts.Gatherer))
	}
	return chain(s.opts.Logger, s.errorAdapter)(mux)
}

// ListenAndServe binds addr and serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to bind listen address").
			WithContext("addr", addr).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.opts.Logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryValidation, "failed to read webhook body").Build())
		return
	}

	decision, err := s.webhook.Evaluate(r.Header, body)
	forge := string(decision.Forge)
	if err != nil {
		s.opts.Recorder.IncWebhook(forge, "rejected")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if !decision.Accept {
		s.opts.Recorder.IncWebhook(forge, "ignored")
		s.opts.Logger.DebugContext(r.Context(), "Webhook ignored",
			logfields.ForgeType(forge),
			logfields.Event(decision.Event),
			slog.String("reason", decision.Reason))
		_ = writeJSON(w, r, http.StatusAccepted, RunAccepted{Status: "ignored", Reason: decision.Reason})
		return
	}

	ticket, err := s.opts.Submitter.Submit(r.Context(), pipeline.Request{
		Trigger:  "webhook",
		Branch:   decision.Push.Branch,
		Revision: decision.Push.After,
	})
	if err != nil {
		s.opts.Recorder.IncWebhook(forge, "error")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	s.opts.Recorder.IncWebhook(forge, "accepted")
	if s.opts.OnPush != nil {
		s.opts.OnPush(decision.Push.After)
	}
	s.opts.Logger.InfoContext(r.Context(), "Webhook accepted",
		logfields.ForgeType(forge),
		logfields.RunID(ticket.ID()),
		logfields.Commit(decision.Push.After))
	_ = writeJSON(w, r, http.StatusAccepted, RunAccepted{Status: "queued", RunID: ticket.ID()})
}

// CreateRunRequest is the optional body of POST /api/runs.
type CreateRunRequest struct {
	Revision string `json:"revision,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	ticket, err := s.opts.Submitter.Submit(r.Context(), pipeline.Request{
		Trigger:  "manual",
		Branch:   s.cfg.Source.Branch,
		Revision: req.Revision,
		DryRun:   req.DryRun,
	})
	if err != nil {
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, r, http.StatusAccepted, RunAccepted{Status: "queued", RunID: ticket.ID()})
}

// RunList is the body of GET /api/runs.
type RunList struct {
	Pending []*eventstore.RunSummary `json:"pending"`
	History []*eventstore.RunSummary `json:"history"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list := RunList{
		Pending: nonNil(s.opts.History.Pending()),
		History: nonNil(s.opts.History.GetHistory()),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a non-negative integer").
				WithContext("limit", raw).
				Build())
			return
		}
		if n < len(list.History) {
			list.History = list.History[:n]
		}
	}
	_ = writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.opts.History.GetRun(id)
	if !ok {
		s.errorAdapter.WriteErrorResponse(w, r, ferrors.NewError(ferrors.CategoryNotFound, "run not found").
			WithContext("run_id", id).
			Build())
		return
	}
	_ = writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Uptime:  time.Since(s.started).Seconds(),
		Queued:  s.opts.Submitter.Len(),
	}
	if active, ok := s.opts.Submitter.Active(); ok {
		resp.Active = active.RunID
	}
	_ = writeJSON(w, r, http.StatusOK, resp)
}

func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := jsonDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid JSON body").Build()
	}
	return nil
}

func nonNil(runs []*eventstore.RunSummary) []*eventstore.RunSummary {
	if runs == nil {
		return []*eventstore.RunSummary{}
	}
	return runs
}
