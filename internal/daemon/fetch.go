package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
)

// tickInterval drives both the heartbeat and the countdown events.
const tickInterval = time.Second

// handleFetch triggers an immediate fetch. Concurrent requests coalesce
// onto the in-flight one and are told so.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	s.fetchMu.Lock()
	already := s.fetchActive
	s.fetchMu.Unlock()
	if already {
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "alreadyInProgress": true})
		return
	}

	changed, err := s.runFetch(r.Context())
	if err != nil {
		// Fetch failures surface via gitStatus, not as API errors.
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "changed": changed})
}

// runFetch is the single entry point for inbound sync. All callers
// share one in-flight fetch via singleflight.
func (s *Server) runFetch(ctx context.Context) (bool, error) {
	type result struct{ changed bool }
	v, err, _ := s.fetchGroup.Do("fetch", func() (any, error) {
		changed, err := s.doFetch(ctx)
		return result{changed: changed}, err
	})
	if err != nil {
		return false, err
	}
	return v.(result).changed, nil
}

func (s *Server) doFetch(ctx context.Context) (bool, error) {
	s.setFetchActive(true)
	defer s.setFetchActive(false)

	// Keep the directory watcher quiet while the merge materializes
	// files; the Invalidate below reports them with the pull cause.
	s.aggs.BeginPull()
	defer s.aggs.EndPull()

	res, err := s.git.FetchUpdates(ctx)

	s.fetchMu.Lock()
	s.lastFetchAt = time.Now()
	if err != nil {
		s.lastFetchErr = err.Error()
	} else {
		s.lastFetchErr = ""
	}
	s.fetchMu.Unlock()

	if err != nil {
		s.log.Printf("fetch: %v", err)
		s.broadcastFetchCompleted(err)
		return false, err
	}

	if res.Changed && len(res.ChangedFiles) > 0 {
		updated := s.aggs.Invalidate(res.ChangedFiles, aggregates.CauseGitPull)
		if len(updated) > 0 {
			s.lastChange.Store(nowMillis())
		}
	}
	s.broadcastFetchCompleted(nil)
	return res.Changed, nil
}

func (s *Server) setFetchActive(active bool) {
	s.fetchMu.Lock()
	s.fetchActive = active
	s.fetchMu.Unlock()
	s.bcast.Broadcast("fetchStatus", map[string]any{"inProgress": active})
}

func (s *Server) broadcastFetchCompleted(err error) {
	payload := map[string]any{"timestamp": nowMillis()}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.bcast.Broadcast("fetchCompleted", payload)
}

// fetchLoop runs the periodic inbound sync. A tick that lands while a
// commit is pending is skipped; the push's own fetch covers it.
func (s *Server) fetchLoop(ctx context.Context) {
	interval := s.local.FetchInterval()
	s.scheduleNextFetch(interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.shuttingDown.Load() {
				return
			}
			if s.sched.IsScheduled() {
				s.scheduleNextFetch(interval)
				continue
			}
			_, _ = s.runFetch(ctx)
			s.scheduleNextFetch(interval)
		}
	}
}

func (s *Server) scheduleNextFetch(interval time.Duration) {
	s.fetchMu.Lock()
	s.nextFetchAt = time.Now().Add(interval)
	s.fetchMu.Unlock()
}

// commitFunc is handed to the scheduler; push outcomes become SSE
// events, never write-path errors.
func (s *Server) commitFunc(ctx context.Context, filenames []string) error {
	res, err := s.git.CommitAndPush(ctx, filenames)
	if err != nil {
		s.broadcastFetchCompleted(err)
		return err
	}
	if res.Changed {
		s.lastChange.Store(nowMillis())
		s.bcast.Broadcast("dataUpdated", map[string]any{
			"timestamp": nowMillis(),
			"source":    "auto-commit",
		})
	}
	s.broadcastFetchCompleted(nil)
	return nil
}

// tickLoop emits heartbeat and countdown once a second.
func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.shuttingDown.Load() {
				return
			}
			s.bcast.Broadcast("heartbeat", map[string]any{"timestamp": nowMillis()})
			s.bcast.Broadcast("countdown", map[string]any{"countdown": s.countdown()})
		}
	}
}

// countdown renders the next-fetch clock, overridden by the current
// sync flags.
func (s *Server) countdown() string {
	s.fetchMu.Lock()
	active := s.fetchActive
	next := s.nextFetchAt
	s.fetchMu.Unlock()

	if active {
		return "Syncing..."
	}
	if s.sched.IsScheduled() {
		return "Updating..."
	}
	remaining := time.Until(next)
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
