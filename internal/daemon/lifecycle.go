package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
	"github.com/sparkle-tasks/sparkle/internal/commit"
	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
	"github.com/sparkle-tasks/sparkle/internal/logging"
	"github.com/sparkle-tasks/sparkle/internal/sparkle"
)

// portChangeGrace is how long clients get to hear portChanging before
// the daemon exits.
const portChangeGrace = 500 * time.Millisecond

// flushTimeout bounds the final commit attempt during shutdown.
const flushTimeout = 30 * time.Second

// Options configures one daemon run.
type Options struct {
	RepoRoot    string
	Port        int // overrides the configured port; 0 defers to config
	Timeout     TimeoutMode
	Version     string
	StaticDir   string
	OpenBrowser bool
}

// Run starts the daemon and blocks until shutdown. A nil return means a
// clean exit, including the handed-off-to-existing-daemon case.
func Run(ctx context.Context, opts Options) error {
	project, err := config.LoadProject(opts.RepoRoot)
	if err != nil {
		// Unconfigured: serve the setup page only.
		s := &Server{
			repoRoot: opts.RepoRoot,
			version:  opts.Version,
			timeout:  opts.Timeout,
			log:      log.New(os.Stderr, "", log.LstdFlags),
			staticDir: opts.StaticDir,
			started:  time.Now(),
			pid:      os.Getpid(),
			exitCh:   make(chan struct{}),
		}
		s.idle = newIdleTimer(opts.Timeout.Duration(), func() { s.requestShutdown("no clients") })
		s.bcast = NewBroadcaster(s.log, s.onSubscriberCount)
		return s.serve(ctx, opts.Port, nil)
	}

	dataDir := project.DataDir(opts.RepoRoot)
	_, _, udpOK := config.LogEndpoint()
	logOpts := logging.Options{Dir: dataDir, Stderr: config.Verbose()}
	if udpOK {
		host, port, _ := config.LogEndpoint()
		logOpts.UDPAddr = net.JoinHostPort(host, port)
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logCloser.Close()

	git := gitops.New(opts.RepoRoot, project, logger)
	if err := git.EnsureWorktree(ctx); err != nil {
		logger.Printf("fatal: worktree setup failed: %v", err)
		return fmt.Errorf("worktree setup: %w", err)
	}

	store := events.NewStore(git.DataDir(), events.NewClock())
	aggs, err := aggregates.NewManager(store, logger)
	if err != nil {
		return fmt.Errorf("aggregate manager: %w", err)
	}
	store.SetWriteHook(aggs.MarkAuthored)

	local, err := config.LoadLocal(aggs.Dir())
	if err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	port := opts.Port
	if port == 0 {
		port = local.Port
	}

	// Another daemon already on the port? Hand off instead of binding.
	probe := port
	if probe == 0 {
		probe = config.ReadPortFile(git.DataDir())
	}
	if probe != 0 {
		if ProbeDaemon(probe) {
			logger.Printf("daemon already running on port %d, handing off", probe)
			if opts.OpenBrowser {
				OpenBrowser(fmt.Sprintf("http://localhost:%d/", probe))
			}
			return nil
		}
		// Stale record from a dead daemon.
		config.RemovePortFile(git.DataDir())
	}

	s := &Server{
		repoRoot:  opts.RepoRoot,
		project:   project,
		local:     local,
		version:   opts.Version,
		timeout:   opts.Timeout,
		store:     store,
		aggs:      aggs,
		git:       git,
		log:       logger,
		staticDir: opts.StaticDir,
		started:   time.Now(),
		pid:       os.Getpid(),
		exitCh:    make(chan struct{}),
	}
	s.idle = newIdleTimer(opts.Timeout.Duration(), func() { s.requestShutdown("no clients") })
	s.bcast = NewBroadcaster(logger, s.onSubscriberCount)

	debounce := commit.DefaultDebounce
	if project.CommitDebounceSeconds > 0 {
		debounce = time.Duration(project.CommitDebounceSeconds) * time.Second
	}
	s.sched = commit.NewScheduler(debounce, s.commitFunc, logger)
	s.svc = sparkle.New(store, aggs, s.sched, git.Identity, logger)

	aggs.OnChange(func(itemID string, cause aggregates.Cause) {
		if s.shuttingDown.Load() {
			return
		}
		s.lastChange.Store(nowMillis())
		s.bcast.Broadcast("aggregatesUpdated", map[string]any{
			"itemIds": []string{itemID},
			"reason":  string(cause),
		})
	})
	git.OnAvailabilityChange(func(available bool, reason gitops.Reason, details string) {
		if s.shuttingDown.Load() {
			return
		}
		s.bcast.Broadcast("gitStatus", gitStatusPayload(available, reason, details))
	})

	watcher, err := aggregates.NewWatcher(aggs, logger)
	if err != nil {
		logger.Printf("external-write watcher unavailable: %v", err)
	} else {
		s.watcher = watcher
	}

	// A cache that fails validation gets rebuilt in the background
	// while the daemon serves.
	if result, err := aggs.ValidateAll(); err != nil {
		logger.Printf("aggregate validation: %v", err)
	} else if len(result.Invalid) > 0 {
		logger.Printf("%d invalid aggregate cache(s), rebuilding", len(result.Invalid))
		go s.rebuild(aggregates.CauseExternalWrite)
	}

	return s.serve(ctx, port, git)
}

// serve binds the listener, runs the loops, and blocks until shutdown.
func (s *Server) serve(ctx context.Context, port int, git *gitops.Git) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		s.log.Printf("fatal: cannot bind port %d: %v", port, err)
		return fmt.Errorf("binding port %d: %w", port, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.log.Printf("listening on http://localhost:%d (pid %d)", s.port, s.pid)

	if git != nil {
		if err := config.WritePortFile(git.DataDir(), s.port); err != nil {
			s.log.Printf("writing port file: %v", err)
		}
	}

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	if s.configured() {
		go s.tickLoop(loopCtx)
		go s.fetchLoop(loopCtx)
		if s.watcher != nil {
			go s.watcher.Run(loopCtx)
		}
	}

	// The no-client clock starts at boot; the first subscriber stops it.
	s.idle.arm()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpSrv.Serve(listener) }()

	select {
	case <-ctx.Done():
		s.requestShutdown("signal received")
	case <-s.exitCh:
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	s.teardown(git)
	return nil
}

// teardown is the single shutdown path: flush outbound work, close
// streams, stop the listener, drop the port file.
func (s *Server) teardown(git *gitops.Git) {
	s.shuttingDown.Store(true)
	s.idle.cancel()

	if s.sched != nil && s.sched.IsScheduled() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := s.sched.ForcePushNow(flushCtx); err != nil {
			s.log.Printf("final push: %v", err)
		}
		cancel()
	}

	s.bcast.Close()
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.log.Printf("closing watcher: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.Printf("http shutdown: %v", err)
	}

	if git != nil {
		config.RemovePortFile(git.DataDir())
	}
	s.log.Printf("daemon stopped")
}

// requestShutdown flips the process into shutdown mode exactly once.
func (s *Server) requestShutdown(reason string) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	s.log.Printf("shutting down: %s", reason)
	s.exit.Do(func() { close(s.exitCh) })
}

// onSubscriberCount drives the no-client timer from SSE connects.
func (s *Server) onSubscriberCount(n int) {
	if n == 0 {
		s.idle.arm()
	} else {
		s.idle.cancel()
	}
}

// rebuild refolds every aggregate from events, streaming progress.
func (s *Server) rebuild(cause aggregates.Cause) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return
	}
	defer s.rebuilding.Store(false)

	ids, err := s.store.AllItemIDs()
	if err != nil {
		s.bcast.Broadcast("rebuildFailed", map[string]any{"error": err.Error()})
		return
	}
	s.bcast.Broadcast("rebuildStarted", map[string]any{"total": len(ids)})

	err = s.aggs.RebuildAll(func(current, total int) {
		s.bcast.Broadcast("rebuildProgress", map[string]any{"current": current, "total": total})
	}, cause)
	if err != nil {
		s.log.Printf("rebuild failed: %v", err)
		s.bcast.Broadcast("rebuildFailed", map[string]any{"error": err.Error()})
		return
	}
	s.lastChange.Store(nowMillis())
	s.bcast.Broadcast("rebuildCompleted", map[string]any{"total": len(ids)})
}

// idleTimer shuts the daemon down after a quiet period. A zero duration
// (keep-alive mode) disables it entirely.
type idleTimer struct {
	mu     sync.Mutex
	d      time.Duration
	timer  *time.Timer
	expire func()
}

func newIdleTimer(d time.Duration, expire func()) *idleTimer {
	return &idleTimer{d: d, expire: expire}
}

func (t *idleTimer) arm() {
	if t.d == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.d, t.expire)
}

// reset re-arms only a running timer; an armed window keeps sliding as
// long as API calls arrive.
func (t *idleTimer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil || t.d == 0 {
		return
	}
	t.timer.Stop()
	t.timer = time.AfterFunc(t.d, t.expire)
}

func (t *idleTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
