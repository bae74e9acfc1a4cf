package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// Manager creates run workspaces beneath a base directory.
type Manager struct {
	baseDir string
}

// NewManager creates a new workspace manager. An empty baseDir uses the system temp dir.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// BaseDir returns the directory under which workspaces are created.
func (m *Manager) BaseDir() string { return m.baseDir }

// Workspace is a single run's scratch directory.
type Workspace struct {
	root string
}

// Create creates a fresh, uniquely named workspace for the given run.
func (m *Manager) Create(runID string) (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace base directory: %w", err)
	}
	prefix := "docpublisher-"
	if id := shortID(runID); id != "" {
		prefix += id + "-"
	}
	root, err := os.MkdirTemp(m.baseDir, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	slog.Debug("Created workspace", logfields.Path(root), logfields.RunID(runID))
	return &Workspace{root: root}, nil
}

// Path returns the workspace root.
func (w *Workspace) Path() string { return w.root }

// SourceDir is where the repository is checked out.
func (w *Workspace) SourceDir() string { return filepath.Join(w.root, "source") }

// PublishDir is where the hosting branch commit is assembled.
func (w *Workspace) PublishDir() string { return filepath.Join(w.root, "publish") }

// Subdir creates and returns a named subdirectory within the workspace.
func (w *Workspace) Subdir(name string) (string, error) {
	if w.root == "" {
		return "", fmt.Errorf("workspace already cleaned up")
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid workspace subdirectory %q", name)
	}
	dir := filepath.Join(w.root, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the workspace. It is safe to call more than once.
func (w *Workspace) Cleanup() error {
	if w.root == "" {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	slog.Debug("Cleaned up workspace", logfields.Path(w.root))
	w.root = ""
	return nil
}

func shortID(runID string) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, id)
}
