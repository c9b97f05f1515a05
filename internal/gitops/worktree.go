package gitops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sparkle-tasks/sparkle/internal/config"
)

// branchNamePattern follows git-check-ref-format for the names we accept.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*[a-zA-Z0-9]$`)

// ValidateBranchName rejects names git itself would refuse.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("branch name too long (max 255 characters)")
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("invalid branch name %q: must start and end with alphanumeric, middle may contain .-_/", name)
	}
	if name == "HEAD" || strings.Contains(name, "..") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// EnsureWorktree makes the sparse-checkout worktree exist and be healthy,
// creating the sparkle branch when it exists nowhere yet. Idempotent; a
// broken worktree is removed and recreated.
func (g *Git) EnsureWorktree(ctx context.Context) error {
	if err := ValidateBranchName(g.branch); err != nil {
		return err
	}

	// Stale registrations from deleted directories confuse worktree add.
	_, _ = g.run(ctx, g.repoRoot, "worktree", "prune")

	if _, err := os.Stat(g.worktreePath); err == nil {
		if g.worktreeHealthy(ctx) {
			return g.ensureDataDir()
		}
		g.log.Printf("worktree at %s unhealthy, recreating", g.worktreePath)
		g.removeWorktree(ctx)
	}

	if err := os.MkdirAll(filepath.Dir(g.worktreePath), 0o750); err != nil {
		return fmt.Errorf("creating worktree parent: %w", err)
	}

	// A remote branch may exist that we have never fetched.
	if g.HasRemote(ctx) {
		if _, err := g.run(ctx, g.repoRoot, "fetch", "origin"); err != nil {
			g.log.Printf("initial fetch failed, continuing with local refs: %v", err)
		}
	}

	newBranch := !g.branchExists(ctx)
	var err error
	if newBranch {
		_, err = g.run(ctx, g.repoRoot, "worktree", "add", "-f", "--no-checkout", "-b", g.branch, g.worktreePath)
	} else {
		_, err = g.run(ctx, g.repoRoot, "worktree", "add", "-f", "--no-checkout", g.worktreePath, g.branch)
	}
	if err != nil {
		return fmt.Errorf("creating worktree: %w", err)
	}

	if err := g.configureSparseCheckout(ctx); err != nil {
		g.removeWorktree(ctx)
		return err
	}
	if _, err := g.run(ctx, g.worktreePath, "checkout", g.branch); err != nil {
		g.removeWorktree(ctx)
		return fmt.Errorf("checking out %s in worktree: %w", g.branch, err)
	}

	// Recent git versions flip core.sparseCheckout on the main repo as a
	// side effect of worktree creation; undo that.
	_, _ = g.run(ctx, g.repoRoot, "config", "core.sparseCheckout", "false")

	if newBranch && g.HasRemote(ctx) {
		if _, err := g.run(ctx, g.worktreePath, "push", "--set-upstream", "origin", g.branch); err != nil {
			g.notifyAvailability(false, ReasonPushFailed, err.Error())
			g.log.Printf("initial branch push failed, will retry on first commit: %v", err)
		}
	}

	if err := config.EnsureGitignore(g.repoRoot, strings.TrimSuffix(g.worktreeRel, "/")+"/"); err != nil {
		return err
	}
	return g.ensureDataDir()
}

// ensureDataDir creates the event-store directory and its .gitignore for
// the derived local files git must never carry.
func (g *Git) ensureDataDir() error {
	dataDir := g.DataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	gitignore := filepath.Join(dataDir, ".gitignore")
	if _, err := os.Stat(gitignore); errors.Is(err, fs.ErrNotExist) {
		content := ".aggregates/\nlast_port.data\n*.log\n*.lock\n"
		if err := os.WriteFile(gitignore, []byte(content), 0o644); err != nil { // #nosec G306
			return fmt.Errorf("writing data .gitignore: %w", err)
		}
	}
	return nil
}

func (g *Git) worktreeHealthy(ctx context.Context) bool {
	if !g.isRegisteredWorktree(ctx) {
		return false
	}
	if _, err := os.Stat(filepath.Join(g.worktreePath, ".git")); err != nil {
		return false
	}
	out, err := g.run(ctx, g.worktreePath, "sparse-checkout", "list")
	if err != nil || !strings.Contains(out, g.directory) {
		// Try to repair before declaring the worktree dead.
		if err := g.configureSparseCheckout(ctx); err != nil {
			return false
		}
	}
	return true
}

func (g *Git) isRegisteredWorktree(ctx context.Context) bool {
	out, err := g.run(ctx, g.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	want, err := filepath.EvalSymlinks(g.worktreePath)
	if err != nil {
		want = g.worktreePath
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, "worktree "))
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			resolved = path
		}
		if resolved == want {
			return true
		}
	}
	return false
}

func (g *Git) removeWorktree(ctx context.Context) {
	if _, err := g.run(ctx, g.repoRoot, "worktree", "remove", g.worktreePath, "--force"); err != nil {
		_ = os.RemoveAll(g.worktreePath)
		_, _ = g.run(ctx, g.repoRoot, "worktree", "prune")
	}
}

// configureSparseCheckout limits the worktree's working set to the data
// directory. Non-cone mode keeps the pattern scoped to exactly one path.
func (g *Git) configureSparseCheckout(ctx context.Context) error {
	if _, err := g.run(ctx, g.worktreePath, "sparse-checkout", "init", "--no-cone"); err != nil {
		return fmt.Errorf("initializing sparse checkout: %w", err)
	}
	if _, err := g.run(ctx, g.worktreePath, "sparse-checkout", "set", "/"+g.directory+"/"); err != nil {
		return fmt.Errorf("setting sparse checkout pattern: %w", err)
	}
	return nil
}

func (g *Git) branchExists(ctx context.Context) bool {
	if _, ok := g.refExists(ctx, "refs/heads/"+g.branch); ok {
		return true
	}
	_, ok := g.refExists(ctx, "refs/remotes/origin/"+g.branch)
	return ok
}

func (g *Git) refExists(ctx context.Context, ref string) (string, bool) {
	cmd := g.repoRoot
	out, err := g.run(ctx, cmd, "show-ref", "--verify", "--quiet", ref)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(out), true
}
