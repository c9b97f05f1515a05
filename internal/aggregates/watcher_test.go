package aggregates

import (
	"io"
	"log"
	"testing"

	"github.com/sparkle-tasks/sparkle/internal/events"
)

func testWatcher(t *testing.T) (*Watcher, *Manager, *events.Store) {
	t.Helper()
	m, store := testManager(t)
	w, err := NewWatcher(m, log.New(io.Discard, "", 0))
	if err != nil {
		t.Skipf("filesystem watcher unavailable: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, m, store
}

func TestWatcherSkipsAuthoredAndNonEvents(t *testing.T) {
	w, m, _ := testWatcher(t)

	if w.shouldReport(".tmp-half-written") {
		t.Error("temp file reported")
	}
	if w.shouldReport("daemon.log") {
		t.Error("non-json file reported")
	}

	m.MarkAuthored("11111111.json")
	if w.shouldReport("11111111.json") {
		t.Error("authored file reported")
	}
	// The mark is consumed: a later event for the same name is external.
	if !w.shouldReport("11111111.json") {
		t.Error("second sighting not reported")
	}
}

func TestWatcherSilentDuringPullWindow(t *testing.T) {
	w, m, _ := testWatcher(t)

	m.BeginPull()
	if w.shouldReport("22222222.json") {
		t.Error("file reported while merge window open")
	}
	m.EndPull()
	if !w.shouldReport("22222222.json") {
		t.Error("external write not reported after window closed")
	}
}

func TestWatcherConsumesPulledMarks(t *testing.T) {
	w, m, store := testWatcher(t)
	createItem(t, m, store, "33333333", "pulled in")

	var causes []Cause
	m.OnChange(func(itemID string, cause Cause) {
		causes = append(causes, cause)
	})

	// Fetch-path invalidation: files land via merge, get reported with
	// the pull cause, and leave a mark for the late watcher event.
	files, err := store.ListForItem("33333333")
	if err != nil {
		t.Fatal(err)
	}
	base := files[0].Name.String()
	m.BeginPull()
	updated := m.Invalidate([]string{base}, CauseGitPull)
	m.EndPull()
	if len(updated) != 1 {
		t.Fatalf("updated = %v", updated)
	}

	// The filesystem event for the same file arrives after the window
	// closed; the pulled mark keeps it quiet, exactly once.
	if w.shouldReport(base) {
		t.Error("pulled file reported as external write")
	}
	if !w.shouldReport(base) {
		t.Error("pulled mark not consumed")
	}

	for _, cause := range causes {
		if cause != CauseGitPull {
			t.Errorf("cause = %s, want %s", cause, CauseGitPull)
		}
	}
}
