package gitops

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pushRetries bounds the push attempt loop in CommitAndPush.
const pushRetries = 5

// PushResult reports whether CommitAndPush found anything to commit.
type PushResult struct {
	Changed bool   `json:"changed"`
	SHA     string `json:"sha,omitempty"`
}

// FetchResult reports whether FetchUpdates advanced the worktree, and
// which event files the merge touched.
type FetchResult struct {
	Changed bool   `json:"changed"`
	SHA     string `json:"sha,omitempty"`

	// ChangedFiles are event-file basenames under the data directory.
	ChangedFiles []string `json:"-"`
}

// ErrMergeConflict marks an inbound merge that could not complete
// automatically. The worktree is left clean (merge aborted); the user
// resolves on the branch directly.
var ErrMergeConflict = errors.New("merge conflict on sparkle branch")

// CommitAndPush stages everything in the worktree, commits, and pushes
// with bounded retries. On each failed push it fetches and merges the
// remote branch before trying again. filenames is informational, used
// only for the commit message.
func (g *Git) CommitAndPush(ctx context.Context, filenames []string) (PushResult, error) {
	if err := g.syncLock.Lock(); err != nil {
		return PushResult{}, fmt.Errorf("acquiring sync lock: %w", err)
	}
	defer func() {
		if err := g.syncLock.Unlock(); err != nil {
			g.log.Printf("releasing sync lock: %v", err)
		}
	}()

	if _, err := g.run(ctx, g.worktreePath, "add", "-A"); err != nil {
		return PushResult{}, err
	}
	status, err := g.run(ctx, g.worktreePath, "status", "--porcelain")
	if err != nil {
		return PushResult{}, err
	}
	if strings.TrimSpace(status) == "" {
		return PushResult{Changed: false}, nil
	}

	if _, err := g.run(ctx, g.worktreePath, "commit", "-m", commitMessage(filenames)); err != nil {
		return PushResult{}, err
	}

	if !g.HasRemote(ctx) {
		sha, _ := g.revParse(ctx, "HEAD")
		return PushResult{Changed: true, SHA: sha}, nil
	}

	var lastOut string
	push := func() error {
		out, err := g.run(ctx, g.worktreePath, "push", "origin", g.branch)
		if err == nil {
			return nil
		}
		lastOut = out
		g.log.Printf("push to %s failed, reconciling with remote: %s", g.branch, firstLine(out))

		// Pull the remote forward before the next attempt; a push
		// rejection usually means another clone pushed first.
		if _, ferr := g.run(ctx, g.worktreePath, "fetch", "origin"); ferr != nil {
			return err
		}
		if mout, merr := g.run(ctx, g.worktreePath, "merge", "origin/"+g.branch, "--no-edit"); merr != nil {
			g.abortMerge(ctx)
			g.notifyAvailability(false, ReasonMergeConflict, mout)
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrMergeConflict, firstLine(mout)))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxInterval:         time.Duration(1<<pushRetries) * time.Second,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}, pushRetries-1), ctx)

	if err := backoff.Retry(push, policy); err != nil {
		if !errors.Is(err, ErrMergeConflict) {
			g.notifyAvailability(false, classifyGitError(lastOut, ReasonPushFailed), lastOut)
		}
		return PushResult{}, fmt.Errorf("pushing %s: %w", g.branch, err)
	}

	g.notifyAvailability(true, ReasonPushSuccess, "")
	sha, _ := g.revParse(ctx, "HEAD")
	return PushResult{Changed: true, SHA: sha}, nil
}

// FetchUpdates pulls the remote branch into the worktree and reports
// which event files changed. Merges only happen when the remote ref
// advanced or the local HEAD is behind it.
func (g *Git) FetchUpdates(ctx context.Context) (FetchResult, error) {
	if !g.HasRemote(ctx) {
		return FetchResult{Changed: false}, nil
	}

	oldHead, _ := g.revParse(ctx, "HEAD")
	oldRemote, _ := g.revParse(ctx, "origin/"+g.branch)

	if out, err := g.run(ctx, g.worktreePath, "fetch", "origin"); err != nil {
		g.notifyAvailability(false, classifyGitError(out, ReasonFetchFailed), out)
		return FetchResult{}, err
	}

	newRemote, haveRemote := g.revParse(ctx, "origin/"+g.branch)
	if !haveRemote {
		// Branch not on origin yet; nothing to merge.
		g.notifyAvailability(true, ReasonFetchSuccess, "")
		return FetchResult{Changed: false, SHA: oldHead}, nil
	}

	needMerge := newRemote != oldRemote || g.isBehind(ctx, oldHead, newRemote)
	if !needMerge {
		g.notifyAvailability(true, ReasonFetchSuccess, "")
		return FetchResult{Changed: false, SHA: oldHead}, nil
	}

	if out, err := g.run(ctx, g.worktreePath, "merge", "origin/"+g.branch, "--no-edit"); err != nil {
		g.abortMerge(ctx)
		g.notifyAvailability(false, ReasonMergeConflict, out)
		return FetchResult{}, fmt.Errorf("%w: %s", ErrMergeConflict, firstLine(out))
	}

	newHead, _ := g.revParse(ctx, "HEAD")
	changed, err := g.changedEventFiles(ctx, oldHead, newHead)
	if err != nil {
		g.log.Printf("listing changed files %s..%s: %v", oldHead, newHead, err)
	}

	g.notifyAvailability(true, ReasonFetchSuccess, "")
	return FetchResult{
		Changed:      newHead != oldHead,
		SHA:          newHead,
		ChangedFiles: changed,
	}, nil
}

// changedEventFiles diffs two commits and returns the basenames of
// touched files inside the data directory.
func (g *Git) changedEventFiles(ctx context.Context, oldSHA, newSHA string) ([]string, error) {
	if oldSHA == "" || newSHA == "" || oldSHA == newSHA {
		return nil, nil
	}
	out, err := g.run(ctx, g.worktreePath, "diff", "--name-only", oldSHA+".."+newSHA)
	if err != nil {
		return nil, err
	}
	prefix := strings.Trim(g.directory, "/") + "/"
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, prefix) {
			continue
		}
		base := path.Base(line)
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		files = append(files, base)
	}
	return files, nil
}

// isBehind reports whether head is an ancestor of, and not equal to, ref.
func (g *Git) isBehind(ctx context.Context, head, ref string) bool {
	if head == "" || ref == "" || head == ref {
		return false
	}
	_, err := g.run(ctx, g.worktreePath, "merge-base", "--is-ancestor", head, ref)
	return err == nil
}

func (g *Git) abortMerge(ctx context.Context) {
	if _, err := g.run(ctx, g.worktreePath, "merge", "--abort"); err != nil {
		g.log.Printf("merge --abort: %v", err)
	}
}

func commitMessage(filenames []string) string {
	n := len(filenames)
	if n == 0 {
		return "sparkle: sync event files"
	}
	noun := "event files"
	if n == 1 {
		noun = "event file"
	}
	return fmt.Sprintf("sparkle: sync %d %s", n, noun)
}
