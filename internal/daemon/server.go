// Package daemon is the long-lived HTTP+SSE process owning one sparkle
// store: it serves the API, fans out change events, schedules commits,
// runs the periodic fetch, and shuts itself down when no client is left.
package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
	"github.com/sparkle-tasks/sparkle/internal/commit"
	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
	"github.com/sparkle-tasks/sparkle/internal/sparkle"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// TimeoutMode selects the no-client shutdown policy.
type TimeoutMode string

const (
	TimeoutDefault   TimeoutMode = "default"    // 60 s
	TimeoutAPI       TimeoutMode = "api"        // 300 s
	TimeoutKeepAlive TimeoutMode = "keep-alive" // never
)

// Duration returns the idle window; zero means never shut down.
func (m TimeoutMode) Duration() time.Duration {
	switch m {
	case TimeoutAPI:
		return 300 * time.Second
	case TimeoutKeepAlive:
		return 0
	default:
		return 60 * time.Second
	}
}

// Server is the daemon state: every handler hangs off this value, and
// shutdown is a field here rather than a package global.
type Server struct {
	repoRoot string
	project  *config.Project
	local    *config.Local
	version  string
	timeout  TimeoutMode

	store   *events.Store
	aggs    *aggregates.Manager
	svc     *sparkle.Service
	sched   *commit.Scheduler
	git     *gitops.Git
	watcher *aggregates.Watcher
	bcast   *Broadcaster
	log     *log.Logger

	staticDir string
	started   time.Time
	pid       int
	port      int
	httpSrv   *http.Server

	shuttingDown atomic.Bool
	rebuilding   atomic.Bool
	lastChange   atomic.Int64 // unix ms

	idle   *idleTimer
	exitCh chan struct{}
	exit   sync.Once

	fetchGroup  singleflight.Group
	fetchMu     sync.Mutex
	fetchActive bool
	nextFetchAt time.Time
	lastFetchAt time.Time
	lastFetchErr string
}

// configured reports whether a project config was loaded; without one
// only ping/serverInfo/version/config endpoints answer.
func (s *Server) configured() bool { return s.project != nil }

// routes builds the daemon mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Reads.
	mux.HandleFunc("/api/ping", s.wrap(http.MethodGet, s.handlePing))
	mux.HandleFunc("/api/status", s.wrap(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/api/serverInfo", s.wrap(http.MethodGet, s.handleServerInfo))
	mux.HandleFunc("/api/version", s.wrap(http.MethodGet, s.handleVersion))
	mux.HandleFunc("/api/allItems", s.wrap(http.MethodGet, s.handleAllItems))
	mux.HandleFunc("/api/pendingWork", s.wrap(http.MethodGet, s.handlePendingWork))
	mux.HandleFunc("/api/roots", s.wrap(http.MethodGet, s.handleRoots))
	mux.HandleFunc("/api/dag", s.wrap(http.MethodGet, s.handleDag))
	mux.HandleFunc("/api/allowedStatuses", s.wrap(http.MethodGet, s.handleAllowedStatuses))
	mux.HandleFunc("/api/getTakers", s.wrap(http.MethodGet, s.handleGetTakers))
	mux.HandleFunc("/api/aggregateStatus", s.wrap(http.MethodGet, s.handleAggregateStatus))
	mux.HandleFunc("/api/getLastChange", s.wrap(http.MethodGet, s.handleGetLastChange))
	mux.HandleFunc("/api/events", s.handleEvents)

	// Writes.
	mux.HandleFunc("/api/createItem", s.wrap(http.MethodPost, s.handleCreateItem))
	mux.HandleFunc("/api/getItemDetails", s.wrap(http.MethodPost, s.handleGetItemDetails))
	mux.HandleFunc("/api/alterTagline", s.wrap(http.MethodPost, s.handleAlterTagline))
	mux.HandleFunc("/api/updateTagline", s.wrap(http.MethodPost, s.handleAlterTagline))
	mux.HandleFunc("/api/addEntry", s.wrap(http.MethodPost, s.handleAddEntry))
	mux.HandleFunc("/api/updateStatus", s.wrap(http.MethodPost, s.handleUpdateStatus))
	mux.HandleFunc("/api/addDependency", s.wrap(http.MethodPost, s.handleAddDependency))
	mux.HandleFunc("/api/removeDependency", s.wrap(http.MethodPost, s.handleRemoveDependency))
	mux.HandleFunc("/api/addMonitor", s.wrap(http.MethodPost, s.handleAddMonitor))
	mux.HandleFunc("/api/removeMonitor", s.wrap(http.MethodPost, s.handleRemoveMonitor))
	mux.HandleFunc("/api/ignoreItem", s.wrap(http.MethodPost, s.handleIgnoreItem))
	mux.HandleFunc("/api/unignoreItem", s.wrap(http.MethodPost, s.handleUnignoreItem))
	mux.HandleFunc("/api/takeItem", s.wrap(http.MethodPost, s.handleTakeItem))
	mux.HandleFunc("/api/surrenderItem", s.wrap(http.MethodPost, s.handleSurrenderItem))
	mux.HandleFunc("/api/updateStatuses", s.wrap(http.MethodPost, s.handleUpdateStatuses))
	mux.HandleFunc("/api/getPotentialDependencies", s.wrap(http.MethodPost, s.handlePotentialDependencies))
	mux.HandleFunc("/api/getPotentialDependents", s.wrap(http.MethodPost, s.handlePotentialDependents))
	mux.HandleFunc("/api/getItemAuditTrail", s.wrap(http.MethodPost, s.handleAuditTrail))
	mux.HandleFunc("/api/fetch", s.wrap(http.MethodPost, s.handleFetch))
	mux.HandleFunc("/api/shutdown", s.wrap(http.MethodPost, s.handleShutdown))
	mux.HandleFunc("/api/internal/aggregateUpdated", s.wrap(http.MethodPost, s.handleAggregateUpdated))

	// Config.
	mux.HandleFunc("/api/config/get", s.wrap(http.MethodPost, s.handleConfigGet))
	mux.HandleFunc("/api/config/setProject", s.wrap(http.MethodPost, s.handleConfigSetProject))
	mux.HandleFunc("/api/config/notifyChange", s.wrap(http.MethodPost, s.handleConfigNotifyChange))

	// Client logging.
	mux.HandleFunc("/log", s.wrap(http.MethodPost, s.handleClientLog))
	mux.HandleFunc("/api/clientLog", s.wrap(http.MethodPost, s.handleClientLog))

	// Everything else is the static UI.
	mux.HandleFunc("/", s.handleStatic)

	return s.cors(mux)
}

// cors answers preflights and stamps permissive headers for the
// local-origin browser client.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// openEndpoints answer even before the project is configured.
var openEndpoints = map[string]bool{
	"/api/ping":       true,
	"/api/serverInfo": true,
	"/api/version":    true,
	"/api/shutdown":   true,
}

// wrap applies the per-request policy shared by every endpoint: method
// check, shutdown refusal, config gate, and idle-timer reset.
func (s *Server) wrap(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.respondError(w, types.Validationf("method %s not allowed", r.Method))
			return
		}
		if s.shuttingDown.Load() && r.URL.Path != "/api/shutdown" {
			s.respondError(w, &types.Error{Kind: types.ErrShuttingDown, Message: "daemon is shutting down"})
			return
		}
		open := openEndpoints[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/api/config/") || r.URL.Path == "/log" || r.URL.Path == "/api/clientLog"
		if !s.configured() && !open {
			s.respondError(w, &types.Error{Kind: types.ErrConfig, Message: "sparkle is not configured; run sparkle setup"})
			return
		}
		// Pure API clients keep a daemon alive without holding a stream.
		if s.idle != nil && s.bcast.SubscriberCount() == 0 && r.URL.Path != "/api/shutdown" {
			s.idle.reset()
		}
		fn(w, r)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("encoding response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"error":  err.Error(),
		"reason": string(types.KindOf(err)),
	}
	var e *types.Error
	if errors.As(err, &e) {
		body["error"] = e.Message
		if e.Kind == types.ErrRebuilding {
			body["rebuilding"] = true
		}
	}
	s.respondJSON(w, types.StatusOf(err), body)
}

// decode reads a JSON request body, tolerating an empty body for
// argument-free posts.
func (s *Server) decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return types.Validationf("invalid request body: %v", err)
}

// guardRebuild refuses consistency-requiring reads mid-rebuild.
func (s *Server) guardRebuild() error {
	if s.rebuilding.Load() {
		return &types.Error{Kind: types.ErrRebuilding, Message: "aggregate rebuild in progress"}
	}
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "sparkle"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"version": s.version})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service":    "sparkle",
		"version":    s.version,
		"pid":        s.pid,
		"port":       s.port,
		"configured": s.configured(),
	}
	if s.configured() {
		info["branch"] = s.project.GitBranch
		info["directory"] = s.project.Directory
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	available, reason, details := s.git.Availability()
	s.fetchMu.Lock()
	fetchActive := s.fetchActive
	lastFetch := s.lastFetchAt
	lastFetchErr := s.lastFetchErr
	nextFetch := s.nextFetchAt
	s.fetchMu.Unlock()

	status := map[string]any{
		"pid":             s.pid,
		"port":            s.port,
		"version":         s.version,
		"uptimeSeconds":   int(time.Since(s.started).Seconds()),
		"subscribers":     s.bcast.SubscriberCount(),
		"commitScheduled": s.sched.IsScheduled(),
		"fetchInProgress": fetchActive,
		"rebuilding":      s.rebuilding.Load(),
		"git": map[string]any{
			"available": available,
			"reason":    string(reason),
			"details":   details,
		},
	}
	if !lastFetch.IsZero() {
		status["lastFetch"] = lastFetch.UnixMilli()
	}
	if lastFetchErr != "" {
		status["lastFetchError"] = lastFetchErr
	}
	if !nextFetch.IsZero() {
		status["nextFetch"] = nextFetch.UnixMilli()
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleAllItems(w http.ResponseWriter, r *http.Request) {
	if err := s.guardRebuild(); err != nil {
		s.respondError(w, err)
		return
	}
	items, err := s.svc.AllItems(r.URL.Query().Get("search"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePendingWork(w http.ResponseWriter, r *http.Request) {
	if err := s.guardRebuild(); err != nil {
		s.respondError(w, err)
		return
	}
	ids, err := s.svc.PendingWork()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"itemIds": ids})
}

func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	if err := s.guardRebuild(); err != nil {
		s.respondError(w, err)
		return
	}
	roots, err := s.svc.Graph().Roots()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": roots})
}

func (s *Server) handleDag(w http.ResponseWriter, r *http.Request) {
	if err := s.guardRebuild(); err != nil {
		s.respondError(w, err)
		return
	}
	nodes, err := s.svc.Dag(r.URL.Query().Get("referenceId"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleAllowedStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.aggs.Statuses()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *Server) handleGetTakers(w http.ResponseWriter, r *http.Request) {
	takers, err := s.aggs.Takers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"takers": takers})
}

func (s *Server) handleAggregateStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.aggs.ValidateAll()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"total":      result.Total,
		"valid":      result.Valid,
		"invalid":    result.Invalid,
		"rebuilding": s.rebuilding.Load(),
	})
}

func (s *Server) handleGetLastChange(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"timestamp": s.lastChange.Load()})
}

// handleEvents runs one SSE stream until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, types.Validationf("method %s not allowed", r.Method))
		return
	}
	if s.shuttingDown.Load() {
		s.respondError(w, &types.Error{Kind: types.ErrShuttingDown, Message: "daemon is shutting down"})
		return
	}
	if !s.configured() {
		s.respondError(w, &types.Error{Kind: types.ErrConfig, Message: "sparkle is not configured; run sparkle setup"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := s.bcast.Subscribe()
	defer unsubscribe()

	if err := writeSSEEvent(w, Event{Name: "connected", Data: map[string]any{"status": "ok"}}); err != nil {
		return
	}
	available, reason, details := s.git.Availability()
	_ = writeSSEEvent(w, Event{Name: "gitStatus", Data: gitStatusPayload(available, reason, details)})
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func gitStatusPayload(available bool, reason gitops.Reason, details string) map[string]any {
	payload := map[string]any{
		"active":    available,
		"reason":    string(reason),
		"timestamp": nowMillis(),
	}
	if details != "" {
		payload["details"] = details
	}
	return payload
}

// handleClientLog appends a browser-side log line to the daemon log.
func (s *Server) handleClientLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err == nil && len(body) > 0 {
		s.log.Printf("client: %s", strings.TrimSpace(string(body)))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleStatic serves the UI. Without a configured project only the
// embedded configure-me page is offered.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.respondError(w, types.NotFoundf("unknown route %s", r.URL.Path))
		return
	}
	serveStatic(w, r, s.staticDir, s.configured())
}
