package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
	"github.com/sparkle-tasks/sparkle/internal/commit"
	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
	"github.com/sparkle-tasks/sparkle/internal/sparkle"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// newTestServer wires a full Server over a temp store, skipping the git
// and listener plumbing.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "wt", "data")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard, "", 0)

	project := &config.Project{GitBranch: "sparkle-data", Directory: "data", WorktreePath: "wt"}
	store := events.NewStore(dataDir, events.NewClock())
	aggs, err := aggregates.NewManager(store, logger)
	if err != nil {
		t.Fatal(err)
	}
	store.SetWriteHook(aggs.MarkAuthored)

	s := &Server{
		repoRoot: dir,
		project:  project,
		local:    &config.Local{},
		version:  "test",
		store:    store,
		aggs:     aggs,
		git:      gitops.New(dir, project, logger),
		log:      logger,
		started:  time.Now(),
		pid:      os.Getpid(),
		exitCh:   make(chan struct{}),
	}
	s.idle = newIdleTimer(0, nil)
	s.bcast = NewBroadcaster(logger, s.onSubscriberCount)
	s.sched = commit.NewScheduler(time.Hour, func(ctx context.Context, filenames []string) error {
		return nil
	}, logger)
	s.svc = sparkle.New(store, aggs, s.sched, func(ctx context.Context) (types.Person, error) {
		return types.Person{Name: "Ada", Email: "ada@example.com"}, nil
	}, logger)
	aggs.OnChange(func(itemID string, cause aggregates.Cause) {
		s.bcast.Broadcast("aggregatesUpdated", map[string]any{
			"itemIds": []string{itemID},
			"reason":  string(cause),
		})
	})

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp.StatusCode, out
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp.StatusCode, out
}

func TestPingAndVersion(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := getJSON(t, ts, "/api/ping")
	if code != http.StatusOK || body["service"] != "sparkle" {
		t.Errorf("ping = %d %v", code, body)
	}
	code, body = getJSON(t, ts, "/api/version")
	if code != http.StatusOK || body["version"] != "test" {
		t.Errorf("version = %d %v", code, body)
	}
}

func TestCreateAndReadOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := postJSON(t, ts, "/api/createItem", map[string]any{"tagline": "Fix login bug"})
	if code != http.StatusOK {
		t.Fatalf("createItem = %d %v", code, body)
	}
	itemID, _ := body["itemId"].(string)
	if itemID == "" {
		t.Fatalf("no itemId in %v", body)
	}

	code, details := postJSON(t, ts, "/api/getItemDetails", map[string]any{"itemId": itemID})
	if code != http.StatusOK {
		t.Fatalf("getItemDetails = %d %v", code, details)
	}
	if details["tagline"] != "Fix login bug" || details["status"] != "incomplete" {
		t.Errorf("details = %v", details)
	}
	viewer, _ := details["viewer"].(map[string]any)
	if viewer["name"] != "Ada" {
		t.Errorf("viewer = %v", viewer)
	}

	code, all := getJSON(t, ts, "/api/allItems?search=login")
	if code != http.StatusOK {
		t.Fatalf("allItems = %d", code)
	}
	items, _ := all["items"].([]any)
	if len(items) != 1 {
		t.Errorf("search hit %d items, want 1", len(items))
	}
}

func TestErrorMapping(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := postJSON(t, ts, "/api/createItem", map[string]any{"tagline": ""})
	if code != http.StatusBadRequest || body["reason"] != "validation" {
		t.Errorf("empty tagline = %d %v", code, body)
	}

	code, body = postJSON(t, ts, "/api/getItemDetails", map[string]any{"itemId": "00009999"})
	if code != http.StatusNotFound || body["reason"] != "not_found" {
		t.Errorf("missing item = %d %v", code, body)
	}

	// Build A->B->C, then C->A must 409.
	var ids []string
	for _, tagline := range []string{"a", "b", "c"} {
		_, resp := postJSON(t, ts, "/api/createItem", map[string]any{"tagline": tagline})
		ids = append(ids, resp["itemId"].(string))
	}
	postJSON(t, ts, "/api/addDependency", map[string]any{"needing": ids[0], "needed": ids[1]})
	postJSON(t, ts, "/api/addDependency", map[string]any{"needing": ids[1], "needed": ids[2]})
	code, body = postJSON(t, ts, "/api/addDependency", map[string]any{"needing": ids[2], "needed": ids[0]})
	if code != http.StatusConflict || body["reason"] != "cycle" {
		t.Errorf("cycle = %d %v", code, body)
	}

	resp, err := http.Get(ts.URL + "/api/nosuchroute")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route = %d", resp.StatusCode)
	}
}

func TestUnconfiguredServerGates(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	s := &Server{
		repoRoot: t.TempDir(),
		version:  "test",
		log:      logger,
		started:  time.Now(),
		exitCh:   make(chan struct{}),
	}
	s.idle = newIdleTimer(0, nil)
	s.bcast = NewBroadcaster(logger, nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	code, _ := getJSON(t, ts, "/api/ping")
	if code != http.StatusOK {
		t.Errorf("ping on unconfigured daemon = %d", code)
	}
	code, body := getJSON(t, ts, "/api/allItems")
	if code != http.StatusServiceUnavailable || body["reason"] != "config_missing" {
		t.Errorf("allItems unconfigured = %d %v", code, body)
	}

	// The setup page is served instead of the UI.
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "sparkle setup") {
		t.Errorf("setup page missing hint: %s", page)
	}
}

func TestShutdownRefusesRequests(t *testing.T) {
	s, ts := newTestServer(t)

	code, body := postJSON(t, ts, "/api/shutdown", nil)
	if code != http.StatusOK || body["shuttingDown"] != true {
		t.Fatalf("shutdown = %d %v", code, body)
	}

	select {
	case <-s.exitCh:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not trigger")
	}

	code, body = getJSON(t, ts, "/api/allItems")
	if code != http.StatusServiceUnavailable || body["reason"] != "shutting_down" {
		t.Errorf("post-shutdown request = %d %v", code, body)
	}
}

func TestSSEStreamDeliversChanges(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	eventCh := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				eventCh <- name
			}
		}
	}()

	expect := func(name string) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case got := <-eventCh:
				if got == name {
					return
				}
			case <-deadline:
				t.Fatalf("no %s event", name)
			}
		}
	}

	expect("connected")
	expect("gitStatus")

	if _, err := http.Post(ts.URL+"/api/createItem", "application/json",
		strings.NewReader(`{"tagline":"streamed"}`)); err != nil {
		t.Fatal(err)
	}
	expect("aggregatesUpdated")
}

func TestStaticTraversalBlocked(t *testing.T) {
	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>ui</html>"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()
	serveStatic(w, r, staticDir, true)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ui") {
		t.Errorf("index = %d %q", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "http://localhost/x", nil)
	r.URL.Path = "/../../etc/passwd"
	w = httptest.NewRecorder()
	serveStatic(w, r, staticDir, true)
	if w.Code != http.StatusForbidden && w.Code != http.StatusNotFound {
		t.Errorf("traversal = %d", w.Code)
	}
}

func TestCountdownRendering(t *testing.T) {
	s, _ := newTestServer(t)

	s.fetchMu.Lock()
	s.nextFetchAt = time.Now().Add(90 * time.Second)
	s.fetchMu.Unlock()
	got := s.countdown()
	if got != "1:30" && got != "1:29" {
		t.Errorf("countdown = %q", got)
	}

	s.fetchMu.Lock()
	s.fetchActive = true
	s.fetchMu.Unlock()
	if got := s.countdown(); got != "Syncing..." {
		t.Errorf("countdown while fetching = %q", got)
	}
}

func TestAggregateStatusCountsInvalidCaches(t *testing.T) {
	s, ts := newTestServer(t)

	code, created := postJSON(t, ts, "/api/createItem", map[string]any{"tagline": "healthy"})
	if code != http.StatusOK {
		t.Fatalf("createItem = %d %v", code, created)
	}
	code, corrupted := postJSON(t, ts, "/api/createItem", map[string]any{"tagline": "doomed"})
	if code != http.StatusOK {
		t.Fatalf("createItem = %d %v", code, corrupted)
	}
	badID := corrupted["itemId"].(string)

	if err := os.WriteFile(filepath.Join(s.aggs.Dir(), badID+".json"), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, body := getJSON(t, ts, "/api/aggregateStatus")
	if code != http.StatusOK {
		t.Fatalf("aggregateStatus = %d %v", code, body)
	}
	if body["total"].(float64) != 2 {
		t.Errorf("total = %v, want 2", body["total"])
	}
	if body["valid"] != false {
		t.Errorf("valid = %v, want false", body["valid"])
	}
	invalid, ok := body["invalid"].([]any)
	if !ok || len(invalid) != 1 || invalid[0] != badID {
		t.Errorf("invalid = %v, want [%s]", body["invalid"], badID)
	}
}
