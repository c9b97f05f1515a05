// Package gitops is the sole owner of git subprocess invocations: the
// sparse-checkout worktree, the commit-and-push path with rebase-retry,
// the periodic fetch+merge, changed-file discovery, and the availability
// observer the daemon surfaces to clients.
package gitops

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Git runs subprocess git against the host repo and the sparkle worktree.
type Git struct {
	repoRoot     string
	branch       string
	directory    string
	worktreePath string // absolute
	worktreeRel  string // as configured, for the host .gitignore
	log          *log.Logger

	// syncLock excludes concurrent commit/push across processes sharing
	// the worktree (daemon vs. a one-shot CLI flush).
	syncLock *flock.Flock

	availMu   sync.Mutex
	availSubs []AvailabilityFunc
	available bool
	reason    Reason
	details   string
}

// New returns a Git over repoRoot configured by project.
func New(repoRoot string, project *config.Project, logger *log.Logger) *Git {
	worktree := filepath.Join(repoRoot, project.WorktreePath)
	return &Git{
		repoRoot:     repoRoot,
		branch:       project.GitBranch,
		directory:    project.Directory,
		worktreePath: worktree,
		worktreeRel:  project.WorktreePath,
		log:          logger,
		syncLock:     flock.New(filepath.Join(worktree, ".sparkle-sync.lock")),
		available:    true,
		reason:       ReasonUnknown,
	}
}

// WorktreePath returns the absolute worktree path.
func (g *Git) WorktreePath() string { return g.worktreePath }

// DataDir returns the absolute event-store directory.
func (g *Git) DataDir() string { return filepath.Join(g.worktreePath, g.directory) }

// Branch returns the sparkle branch name.
func (g *Git) Branch() string { return g.branch }

// run executes git with dir as working directory, returning combined
// output for error reporting.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 - fixed binary, args from config
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, output)
	}
	return string(output), nil
}

// Identity reads the local git user configuration for event authorship.
func (g *Git) Identity(ctx context.Context) (types.Person, error) {
	name, err := g.run(ctx, g.repoRoot, "config", "user.name")
	if err != nil {
		return types.Person{}, fmt.Errorf("git user.name not configured: %w", err)
	}
	email, err := g.run(ctx, g.repoRoot, "config", "user.email")
	if err != nil {
		return types.Person{}, fmt.Errorf("git user.email not configured: %w", err)
	}
	return types.Person{
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
	}, nil
}

// RepoRoot resolves the top-level directory of the repository containing
// dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasRemote reports whether the host repo has any remote configured.
func (g *Git) HasRemote(ctx context.Context) bool {
	out, err := g.run(ctx, g.repoRoot, "remote")
	return err == nil && strings.TrimSpace(out) != ""
}

func (g *Git) revParse(ctx context.Context, ref string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", ref) // #nosec G204
	cmd.Dir = g.worktreePath
	output, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(output)), true
}
