package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	"git.home.luguber.info/inful/docpublisher/internal/metrics"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
	"git.home.luguber.info/inful/docpublisher/internal/queue"
	"git.home.luguber.info/inful/docpublisher/internal/trigger"
)

const headCommit = "0123456789abcdef0123456789abcdef01234567"

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	<-ctx.Done()
	return &pipeline.Report{RunID: req.RunID}, ctx.Err()
}

type fixture struct {
	server     *Server
	coord      *queue.Coordinator
	projection *eventstore.RunHistoryProjection
	emitter    *eventstore.Emitter
	pushes     []string
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte("source:\n  url: https://github.com/example/nominae.git\n" + yaml))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projection := eventstore.NewRunHistoryProjection(nil, 10)
	emitter := eventstore.NewEmitter(nil, projection, logger)
	// The worker is never started so submitted runs stay pending.
	coord := queue.New(idleRunner{}, emitter, queue.Options{Logger: logger, CancelSuperseded: false})

	reg := prometheus.NewRegistry()
	f := &fixture{coord: coord, projection: projection, emitter: emitter}
	f.server = New(cfg, Options{
		Submitter: coord,
		History:   projection,
		Gatherer:  reg,
		Recorder:  metrics.NewPrometheusRecorder(reg),
		Logger:    logger,
		OnPush:    func(commit string) { f.pushes = append(f.pushes, commit) },
	})
	return f
}

func (f *fixture) do(method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func githubPush(ref string) string {
	return `{"ref":"` + ref + `","after":"` + headCommit + `","repository":{"full_name":"example/nominae"}}`
}

func TestWebhookQueuesRun(t *testing.T) {
	f := newFixture(t, "trigger:\n  webhook_secret: s3cret\n")
	body := githubPush("refs/heads/master")

	rec := f.do(http.MethodPost, "/webhooks/push", body, http.Header{
		"X-GitHub-Event":      {"push"},
		"X-Hub-Signature-256": {trigger.Sign([]byte(body), "s3cret")},
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 1, f.coord.Len())
	assert.Equal(t, []string{headCommit}, f.pushes)

	run, ok := f.projection.GetRun(resp.RunID)
	require.True(t, ok)
	assert.Equal(t, "webhook", run.Trigger)
	assert.Equal(t, headCommit, run.Revision)
	assert.Equal(t, eventstore.StatusQueued, run.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, "trigger:\n  webhook_secret: s3cret\n")
	rec := f.do(http.MethodPost, "/webhooks/push", githubPush("refs/heads/master"), http.Header{
		"X-GitHub-Event":      {"push"},
		"X-Hub-Signature-256": {"sha256=deadbeef"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.coord.Len())
}

func TestWebhookIgnoresOtherBranch(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/webhooks/push", githubPush("refs/heads/feature"), http.Header{
		"X-GitHub-Event": {"push"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp.Status)
	assert.Contains(t, resp.Reason, "feature")
	assert.Equal(t, 0, f.coord.Len())
	assert.Empty(t, f.pushes)
}

func TestWebhookUnknownSender(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/webhooks/push", "{}", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/runs", `{"revision":"abc","dry_run":true}`, http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	run, ok := f.projection.GetRun(resp.RunID)
	require.True(t, ok)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, "master", run.Branch)
	assert.True(t, run.DryRun)
}

func TestCreateRunWithoutBody(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/runs", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateRunRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/runs", `{"bogus":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndGetRuns(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.emitter.EmitRunQueued(ctx, "done-1", eventstore.RunQueuedData{Trigger: "poll", Branch: "master"}))
	require.NoError(t, f.emitter.EmitRunFailed(ctx, "done-1", eventstore.RunFailedData{Stage: "generate", Error: "boom"}))
	require.NoError(t, f.emitter.EmitRunQueued(ctx, "done-2", eventstore.RunQueuedData{Trigger: "poll", Branch: "master"}))
	require.NoError(t, f.emitter.EmitRunSucceeded(ctx, "done-2", eventstore.RunSucceededData{PublishedCommit: headCommit}))
	f.do(http.MethodPost, "/api/runs", "", nil)

	rec := f.do(http.MethodGet, "/api/runs?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list RunList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Pending, 1)
	require.Len(t, list.History, 1)
	assert.Equal(t, "done-2", list.History[0].RunID)

	rec = f.do(http.MethodGet, "/api/runs/done-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run eventstore.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, eventstore.StatusFailed, run.Status)
	assert.Equal(t, "generate", run.FailedStage)

	rec = f.do(http.MethodGet, "/api/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/runs?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/api/runs", "", nil)

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Queued)
	assert.Empty(t, health.Active)
}

func TestStatusPage(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.emitter.EmitRunQueued(ctx, "run-1", eventstore.RunQueuedData{Trigger: "webhook", Branch: "master"}))
	require.NoError(t, f.emitter.EmitRunFailed(ctx, "run-1", eventstore.RunFailedData{Stage: "generate", Error: "a|b"}))

	rec := f.do(http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "Failed")
	assert.Contains(t, body, "generate: a|b")
	assert.Contains(t, body, "No queued or running runs.")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/webhooks/push", githubPush("refs/heads/master"), http.Header{"X-GitHub-Event": {"push"}})

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webhook")
}

func TestRenderStatusMarkdownEscapesPipes(t *testing.T) {
	md := renderStatusMarkdown(nil, []*eventstore.RunSummary{{
		RunID:  "r",
		Status: eventstore.StatusSuperseded,
		Error:  "x|y",
	}}, 0)
	assert.Contains(t, md, `x\|y`)
	assert.Contains(t, md, "| Superseded |")
	assert.Contains(t, md, "No queued or running runs.")
}
