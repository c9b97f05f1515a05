package daemon

import (
	"net/http"
	"time"

	"github.com/sparkle-tasks/sparkle/internal/config"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// itemRequest covers every single-item operation body.
type itemRequest struct {
	ItemID string `json:"itemId"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tagline      string `json:"tagline"`
		Status       string `json:"status"`
		InitialEntry string `json:"initialEntry"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	agg, err := s.svc.CreateItem(r.Context(), req.Tagline, req.Status, req.InitialEntry)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"itemId": agg.ItemID, "item": agg})
}

func (s *Server) handleGetItemDetails(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.guardRebuild(); err != nil {
		s.respondError(w, err)
		return
	}
	details, err := s.svc.ItemDetails(r.Context(), req.ItemID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, details)
}

func (s *Server) handleAlterTagline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID  string `json:"itemId"`
		Tagline string `json:"tagline"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.AlterTagline(r.Context(), req.ItemID, req.Tagline))
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"itemId"`
		Text   string `json:"text"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.AddEntry(r.Context(), req.ItemID, req.Text))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"itemId"`
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.UpdateStatus(r.Context(), req.ItemID, req.Status, req.Text))
}

// dependencyRequest names both edge endpoints.
type dependencyRequest struct {
	Needing string `json:"needing"`
	Needed  string `json:"needed"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.AddDependency(r.Context(), req.Needing, req.Needed))
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	var req dependencyRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.RemoveDependency(r.Context(), req.Needing, req.Needed))
}

func (s *Server) handleAddMonitor(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.AddMonitor(r.Context(), req.ItemID))
}

func (s *Server) handleRemoveMonitor(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.RemoveMonitor(r.Context(), req.ItemID))
}

func (s *Server) handleIgnoreItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.IgnoreItem(r.Context(), req.ItemID))
}

func (s *Server) handleUnignoreItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.UnignoreItem(r.Context(), req.ItemID))
}

func (s *Server) handleTakeItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.svc.TakeItem(r.Context(), req.ItemID); err != nil {
		s.respondError(w, err)
		return
	}
	s.bcast.Broadcast("takersUpdated", map[string]any{})
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSurrenderItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMutation(w, s.svc.SurrenderItem(r.Context(), req.ItemID))
}

func (s *Server) handleUpdateStatuses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Statuses []string `json:"statuses"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.svc.UpdateStatuses(r.Context(), req.Statuses); err != nil {
		s.respondError(w, err)
		return
	}
	s.bcast.Broadcast("statusesUpdated", map[string]any{"statuses": req.Statuses})
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePotentialDependencies(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	split, err := s.svc.PotentialDependencies(req.ItemID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, split)
}

func (s *Server) handlePotentialDependents(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	split, err := s.svc.PotentialDependents(req.ItemID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, split)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	trail, err := s.svc.AuditTrail(req.ItemID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"events": trail})
}

// respondMutation is the shared tail of the simple write handlers.
func (s *Server) respondMutation(w http.ResponseWriter, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "shuttingDown": true})
	go s.requestShutdown("shutdown requested over http")
}

// handleAggregateUpdated lets an external writer (another tool editing
// event files directly) announce the items it touched.
func (s *Server) handleAggregateUpdated(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"itemIds"`
		Reason  string   `json:"reason"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "external_write"
	}
	s.lastChange.Store(nowMillis())
	s.bcast.Broadcast("aggregatesUpdated", map[string]any{"itemIds": req.ItemIDs, "reason": req.Reason})
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"configured": s.configured()}
	if s.project != nil {
		resp["project"] = s.project
	}
	if s.local != nil {
		resp["local"] = s.local
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleConfigSetProject rewrites sparkle_config. A port change makes
// the daemon announce portChanging, give clients a moment to hear it,
// and exit for a clean relaunch.
func (s *Server) handleConfigSetProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GitBranch    string `json:"git_branch"`
		Directory    string `json:"directory"`
		WorktreePath string `json:"worktree_path"`
		Port         int    `json:"port"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	project := &config.Project{
		GitBranch:    req.GitBranch,
		Directory:    req.Directory,
		WorktreePath: req.WorktreePath,
	}
	if s.project != nil {
		if project.GitBranch == "" {
			project.GitBranch = s.project.GitBranch
		}
		if project.Directory == "" {
			project.Directory = s.project.Directory
		}
		if project.WorktreePath == "" {
			project.WorktreePath = s.project.WorktreePath
		}
		project.CommitDebounceSeconds = s.project.CommitDebounceSeconds
	}
	if err := project.Validate(); err != nil {
		s.respondError(w, types.Validationf("%v", err))
		return
	}
	if err := config.SaveProject(s.repoRoot, project); err != nil {
		s.respondError(w, err)
		return
	}

	portChanging := false
	if s.local != nil && req.Port != 0 && req.Port != s.port {
		s.local.Port = req.Port
		if err := config.SaveLocal(s.aggs.Dir(), s.local); err != nil {
			s.respondError(w, err)
			return
		}
		portChanging = true
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "portChanging": portChanging})

	if portChanging {
		s.bcast.Broadcast("portChanging", map[string]any{"oldPort": s.port, "newPort": req.Port})
		go func() {
			time.Sleep(portChangeGrace)
			s.requestShutdown("port changed")
		}()
	}
}

func (s *Server) handleConfigNotifyChange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	payload := map[string]any{}
	if req.Sender != "" {
		payload["sender"] = req.Sender
	}
	s.bcast.Broadcast("configurationUpdated", payload)
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
