package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
)

type countingRegenerator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRegenerator) Regenerate(_ context.Context, _ string) (*pipeline.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &pipeline.Report{Outcome: pipeline.OutcomeSuccess}, nil
}

func (c *countingRegenerator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestIgnored(t *testing.T) {
	w, err := New(t.TempDir(), []string{"target/**", ".git/**", "docpublisher.yaml"}, 0, &countingRegenerator{}, quietLogger())
	require.NoError(t, err)

	assert.True(t, w.Ignored("target"))
	assert.True(t, w.Ignored("target/doc/index.html"))
	assert.True(t, w.Ignored(".git/HEAD"))
	assert.True(t, w.Ignored("docpublisher.yaml"))
	assert.False(t, w.Ignored("src/lib.rs"))
	assert.False(t, w.Ignored("Cargo.toml"))
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(t.TempDir(), []string{"[unclosed"}, 0, &countingRegenerator{}, quietLogger())
	require.Error(t, err)
}

func TestRunRegeneratesOnChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "target"), 0o755))

	regen := &countingRegenerator{}
	w, err := New(root, []string{"target/**"}, 50*time.Millisecond, regen, quietLogger())
	require.NoError(t, err)

	builds := make(chan struct{}, 8)
	w.OnBuild(func(*pipeline.Report, error) { builds <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-builds:
	case <-time.After(5 * time.Second):
		t.Fatal("initial build did not run")
	}

	// Output written by the generator must not retrigger a build.
	require.NoError(t, os.WriteFile(filepath.Join(root, "target", "out.html"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, regen.Calls())

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("// docs"), 0o600))
	select {
	case <-builds:
	case <-time.After(5 * time.Second):
		t.Fatal("change did not trigger a rebuild")
	}
	assert.Equal(t, 2, regen.Calls())

	cancel()
	require.NoError(t, <-done)
}
