// Package commit debounces bursts of event writes into single git
// commits. One scheduler exists per daemon; it owns the decision of when
// the git layer runs, never how.
package commit

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultDebounce is the write-coalescing window.
const DefaultDebounce = 5 * time.Second

// CommitFunc performs the actual commit-and-push for a batch of event
// filenames. Errors are the git layer's to report through availability;
// the scheduler only logs them.
type CommitFunc func(ctx context.Context, filenames []string) error

// Scheduler is a single-slot debouncer. Writes arriving while the timer
// runs join the batch; writes arriving while a push is in flight start
// the next batch. At most one commit runs at a time.
type Scheduler struct {
	delay  time.Duration
	commit CommitFunc
	log    *log.Logger

	mu       sync.Mutex
	pending  []string
	timer    *time.Timer
	inFlight int

	// flightMu serializes commits; a flush that loses the race waits for
	// the running push rather than cancelling it.
	flightMu sync.Mutex
}

// NewScheduler returns a scheduler invoking commit after delay of quiet.
func NewScheduler(delay time.Duration, commit CommitFunc, logger *log.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{delay: delay, commit: commit, log: logger}
}

// NotifyFileCreated records a freshly written event filename and arms the
// debounce timer. A timer already running is left alone so bursts
// coalesce into one commit.
func (s *Scheduler) NotifyFileCreated(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, filename)
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, func() {
			_ = s.flush(context.Background())
		})
	}
}

// ForcePushNow cancels any pending timer and commits the batch
// immediately. CLI entry points call it before exiting.
func (s *Scheduler) ForcePushNow(ctx context.Context) error {
	return s.flush(ctx)
}

// IsScheduled reports whether outbound work is pending or in flight. The
// fetch path defers inbound merges while this is true.
func (s *Scheduler) IsScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.timer != nil || s.inFlight > 0
}

// flush takes the pending batch and runs one commit. The pending set is
// cleared before the push begins so writes during the push accumulate
// into the next batch.
func (s *Scheduler) flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.pending
	s.pending = nil
	if len(batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.inFlight++
	s.mu.Unlock()

	s.flightMu.Lock()
	err := s.commit(ctx, batch)
	s.flightMu.Unlock()

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if err != nil {
		// Availability reporting already happened inside the git layer;
		// the files stay safely on disk for the next scheduled commit.
		s.log.Printf("scheduled commit of %d file(s) failed: %v", len(batch), err)
	}
	return err
}
