package commit

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) commit(_ context.Context, filenames []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, filenames)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestSchedulerCoalesces(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(50*time.Millisecond, rec.commit, log.New(io.Discard, "", 0))

	s.NotifyFileCreated("a.json")
	s.NotifyFileCreated("b.json")
	s.NotifyFileCreated("c.json")

	if !s.IsScheduled() {
		t.Error("IsScheduled should be true while the timer runs")
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	if got := rec.count(); got != 1 {
		t.Fatalf("got %d commits, want 1", got)
	}
	rec.mu.Lock()
	batch := rec.batches[0]
	rec.mu.Unlock()
	if len(batch) != 3 {
		t.Errorf("batch = %v, want all three files", batch)
	}
}

func TestForcePushNow(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(time.Hour, rec.commit, log.New(io.Discard, "", 0))

	s.NotifyFileCreated("a.json")
	if err := s.ForcePushNow(context.Background()); err != nil {
		t.Fatalf("ForcePushNow: %v", err)
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("got %d commits, want 1", got)
	}
	if s.IsScheduled() {
		t.Error("nothing should remain scheduled after a forced push")
	}

	// Forcing with an empty batch is a no-op.
	if err := s.ForcePushNow(context.Background()); err != nil {
		t.Fatalf("empty ForcePushNow: %v", err)
	}
	if got := rec.count(); got != 1 {
		t.Errorf("empty flush committed anyway: %d", got)
	}
}

func TestWritesDuringPushJoinNextBatch(t *testing.T) {
	var s *Scheduler
	rec := newRecorder()
	started := make(chan struct{})
	release := make(chan struct{})

	var startedOnce sync.Once
	blocking := func(ctx context.Context, filenames []string) error {
		startedOnce.Do(func() { close(started) })
		<-release
		return rec.commit(ctx, filenames)
	}
	s = NewScheduler(10*time.Millisecond, blocking, log.New(io.Discard, "", 0))

	s.NotifyFileCreated("first.json")
	<-started
	// Push in flight: this write must land in a second batch.
	s.NotifyFileCreated("second.json")
	close(release)

	<-rec.done
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("second batch never committed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 2 {
		t.Fatalf("batches = %v, want 2", rec.batches)
	}
	if len(rec.batches[0]) != 1 || rec.batches[0][0] != "first.json" {
		t.Errorf("first batch = %v", rec.batches[0])
	}
	if len(rec.batches[1]) != 1 || rec.batches[1][0] != "second.json" {
		t.Errorf("second batch = %v", rec.batches[1])
	}
}
