// Package vcs wraps the jj (Jujutsu) command-line tool: a functional
// version-control system with named bookmarks and disjoint on-disk
// workspaces, which the Workspace Manager and Merge Queue Coordinator
// drive as subprocesses. Grounded on the subprocess-wrapper shape of a
// git worktree manager in the example pack, generalized from git's
// branch/worktree vocabulary to jj's bookmark/workspace one.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo binds jj subprocess calls to one repository checkout.
type Repo struct {
	root string
}

// Open returns a Repo rooted at root. It does not validate that root
// actually contains a jj repo; the first command run against it will fail
// if not.
func Open(root string) *Repo {
	return &Repo{root: root}
}

func (r *Repo) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("jj %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Fetch updates remote-tracking refs.
func (r *Repo) Fetch(ctx context.Context) error {
	_, err := r.run(ctx, r.root, "git", "fetch")
	return err
}

// WorkspaceAdd materializes a new working copy named name at path,
// optionally at a specific revset (empty for the working copy's current
// operation).
func (r *Repo) WorkspaceAdd(ctx context.Context, name, path, atRevset string) error {
	args := []string{"workspace", "add", "--name", name, path}
	if atRevset != "" {
		args = append(args, "--at-operation", atRevset)
	}
	_, err := r.run(ctx, r.root, args...)
	return err
}

// WorkspaceClose dismisses the working copy named name.
func (r *Repo) WorkspaceClose(ctx context.Context, name string) error {
	_, err := r.run(ctx, r.root, "workspace", "forget", name)
	return err
}

// Rebase replays the bookmark onto destination, returning a non-nil error
// on conflict (the caller maps this to taskerr.ErrRebaseConflict).
func (r *Repo) Rebase(ctx context.Context, dir, bookmark, destination string) error {
	_, err := r.run(ctx, dir, "rebase", "-b", bookmark, "-d", destination)
	return err
}

// BookmarkSet points bookmark at revset, used for fast-forwarding main
// after a speculative entry's CI passes.
func (r *Repo) BookmarkSet(ctx context.Context, dir, bookmark, revset string) error {
	_, err := r.run(ctx, dir, "bookmark", "set", bookmark, "-r", revset)
	return err
}

// BookmarkDelete removes bookmark.
func (r *Repo) BookmarkDelete(ctx context.Context, dir, bookmark string) error {
	_, err := r.run(ctx, dir, "bookmark", "delete", bookmark)
	return err
}

// GitPush pushes bookmark to the remote git peer.
func (r *Repo) GitPush(ctx context.Context, dir, bookmark string) error {
	_, err := r.run(ctx, dir, "git", "push", "--bookmark", bookmark)
	return err
}

// Log lists commits in revset, most-recent-last.
func (r *Repo) Log(ctx context.Context, dir, revset string) ([]string, error) {
	out, err := r.run(ctx, dir, "log", "-r", revset, "--reversed", "--no-graph", "-T", "commit_id ++ \"\\n\"")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// DiffSummary lists files changed in revset.
func (r *Repo) DiffSummary(ctx context.Context, dir, revset string) ([]string, error) {
	out, err := r.run(ctx, dir, "diff", "-r", revset, "--summary")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func splitNonEmptyLines(raw []byte) []string {
	lines := strings.Split(string(raw), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// BookmarkRevset returns the revset identifying a ticket's branch bookmark.
func BookmarkRevset(ticketID string) string {
	return fmt.Sprintf("bookmark(%q)", "ticket/"+ticketID)
}
