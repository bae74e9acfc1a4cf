// Package generator runs the external documentation generator against a
// checkout. The generator's output is opaque; only the existence of the
// configured output directory is checked afterwards.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// outputTailSize bounds how much generator output is kept for error reports.
const outputTailSize = 4096

// Generator produces the site for a source tree.
type Generator interface {
	// Generate runs in srcDir and returns the absolute site directory.
	Generate(ctx context.Context, srcDir string) (string, error)
}

// CommandGenerator invokes an external command such as `cargo doc --verbose`.
type CommandGenerator struct {
	Command     []string
	OutputDir   string // relative to srcDir
	VerboseFlag string
	Env         map[string]string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// FromConfig builds a CommandGenerator from the generator section.
func FromConfig(gc config.GeneratorConfig, timeout time.Duration) *CommandGenerator {
	return &CommandGenerator{
		Command:     slices.Clone(gc.Command),
		OutputDir:   gc.OutputDir,
		VerboseFlag: gc.VerboseFlag,
		Env:         gc.Env,
		Timeout:     timeout,
	}
}

// Args returns the command line actually executed. Verbose mode is mandatory.
func (g *CommandGenerator) Args() []string {
	args := slices.Clone(g.Command)
	if g.VerboseFlag != "" && len(args) > 0 && !slices.Contains(args[1:], g.VerboseFlag) {
		args = append(args, g.VerboseFlag)
	}
	return args
}

func (g *CommandGenerator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Generate runs the command and checks the output directory exists.
func (g *CommandGenerator) Generate(ctx context.Context, srcDir string) (string, error) {
	args := g.Args()
	if len(args) == 0 {
		return "", ferrors.GenerateError("generator command is empty").Build()
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryGenerate, "generator binary not found").
			WithContext("command", args[0]).
			Fatal().
			Build()
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = srcDir
	cmd.Env = mergeEnv(os.Environ(), g.Env)
	cmd.WaitDelay = 5 * time.Second
	log := g.logger()
	stdout := newLineLogger(ctx, log, "stdout")
	stderr := newLineLogger(ctx, log, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info("Running documentation generator", logfields.Command(strings.Join(args, " ")), logfields.Path(srcDir))
	start := time.Now()
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	log.Debug("Documentation generator finished", logfields.Duration(time.Since(start)))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			category := ferrors.CategoryCanceled
			msg := "documentation generator canceled"
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				category = ferrors.CategoryGenerate
				msg = "documentation generator timed out"
			}
			return "", ferrors.WrapError(err, category, msg).
				WithContext("timeout", g.Timeout.String()).
				Build()
		}
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		builder := ferrors.WrapError(err, ferrors.CategoryGenerate, "documentation generator failed").
			WithContext("command", strings.Join(args, " ")).
			Fatal()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			builder.WithContext("exit_code", exitErr.ExitCode())
		}
		if output != "" {
			builder.WithContext("output", output)
		}
		return "", builder.Build()
	}

	siteDir := filepath.Join(srcDir, g.OutputDir)
	info, statErr := os.Stat(siteDir)
	if statErr != nil || !info.IsDir() {
		return "", ferrors.GenerateError("generator did not produce the output directory").
			WithContext("output_dir", g.OutputDir).
			Build()
	}
	return siteDir, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := slices.Clone(base)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return out
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }

// lineLogger logs every complete line written to it as the generator runs
// and keeps the output tail for error reports.
type lineLogger struct {
	ctx     context.Context
	log     *slog.Logger
	stream  string
	partial []byte
	tail    tailBuffer
}

func newLineLogger(ctx context.Context, log *slog.Logger, stream string) *lineLogger {
	return &lineLogger{ctx: ctx, log: log, stream: stream, tail: tailBuffer{limit: outputTailSize}}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	_, _ = l.tail.Write(p)
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	if len(l.partial) >= outputTailSize {
		l.Flush()
	}
	return len(p), nil
}

// Flush logs a trailing line that had no newline.
func (l *lineLogger) Flush() {
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	l.log.DebugContext(l.ctx, text, logfields.Stream(l.stream))
}

func (l *lineLogger) String() string { return l.tail.String() }

// NoopGenerator returns a pre-existing directory; useful in tests.
type NoopGenerator struct {
	OutputDir string
}

func (n *NoopGenerator) Generate(_ context.Context, srcDir string) (string, error) {
	slog.Debug("NoopGenerator skipping generation", logfields.Path(srcDir))
	siteDir := filepath.Join(srcDir, n.OutputDir)
	if err := os.MkdirAll(siteDir, 0o750); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create output directory").Build()
	}
	return siteDir, nil
}
