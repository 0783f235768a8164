// Package workspace implements the Workspace Manager (§4.5): it creates
// and closes isolated VCS workspaces at filesystem paths following the
// "<tmp>/workflow-wt-{id}" convention, and binds cwd for agent
// invocations. Grounded on the worktree-path-convention and
// create/remove shape of a git worktree manager in the example pack,
// adapted from git worktrees to jj workspaces.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/enitrat/super-ralph/pkg/taskerr"
	"github.com/enitrat/super-ralph/pkg/vcs"
)

// Manager creates, reuses, and tears down VCS workspaces, enforcing that
// every stage of a given ticket runs against the same on-disk path.
type Manager struct {
	repo    *vcs.Repo
	tmpDir  string
	mu      sync.Mutex
	byID    map[string]string // workspace id -> path, memoized for reuse
}

// New builds a Manager rooted at repo, materializing workspaces under
// tmpDir.
func New(repo *vcs.Repo, tmpDir string) *Manager {
	return &Manager{repo: repo, tmpDir: tmpDir, byID: make(map[string]string)}
}

// Path returns the convention-bound path for a workspace id without
// creating anything.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.tmpDir, "workflow-wt-"+id)
}

// Create materializes a workspace at its conventional path. If the
// workspace id was already created by this Manager, Create is a no-op and
// returns the existing path — this is the mechanism behind the "all
// stages of a given ticket use the same workspace" invariant, since the
// workspace id for per-ticket stages is always the ticket id.
func (m *Manager) Create(ctx context.Context, id string, atRevset string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path, ok := m.byID[id]; ok {
		return path, nil
	}

	path := m.Path(id)
	if _, err := os.Stat(path); err == nil {
		m.byID[id] = path
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("%w: preparing workspace dir: %v", taskerr.ErrWorkspaceError, err)
	}
	if err := m.repo.WorkspaceAdd(ctx, id, path, atRevset); err != nil {
		return "", fmt.Errorf("%w: %v", taskerr.ErrWorkspaceError, err)
	}

	m.byID[id] = path
	return path, nil
}

// Close dismisses the working copy for id, leaving its on-disk files in
// place until Remove is called. Closing an id this Manager never created
// is a no-op; closing the same id again re-runs the VCS forget command.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	_, known := m.byID[id]
	m.mu.Unlock()
	if !known {
		return nil
	}
	if err := m.repo.WorkspaceClose(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrWorkspaceError, err)
	}
	return nil
}

// Remove deletes the workspace directory at path and forgets the id
// that maps to it.
func (m *Manager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.byID {
		if p == path {
			delete(m.byID, id)
		}
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: removing workspace dir: %v", taskerr.ErrWorkspaceError, err)
	}
	return nil
}
