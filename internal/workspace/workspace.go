package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-project build directories under a common root. A project's
// workspace is shared across successive build attempts, never across
// projects, so Prepare always starts from an empty directory.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Path returns the workspace directory for a project id without touching the
// filesystem.
func (m *Manager) Path(projectID string) string {
	return filepath.Join(m.root, projectID)
}

// Prepare wipes and recreates the directory for the given project id. A
// failed or superseded build must never contaminate the next attempt.
func (m *Manager) Prepare(projectID string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project id cannot be empty")
	}
	dir := m.Path(projectID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes the directory for the given project id. Paths outside the
// configured root are refused.
func (m *Manager) Cleanup(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	dir := m.Path(projectID)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(dir)
}
