package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/etcd"
)

func (s *Server) registerSyncRoutes() {
	s.mux.HandleFunc("POST /api/v1/sync", s.handleTriggerSync)
	s.mux.HandleFunc("GET /api/v1/sync/status", s.handleSyncStatus)
	s.mux.HandleFunc("GET /api/v1/sync/{id}", s.handleGetSync)
}

// handleTriggerSync starts a manual sync of the given kinds, or all kinds when none are given.
// It answers 202 with the PENDING request; poll GET /api/v1/sync/{id} for the outcome.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.writeError(w, r, domain.ErrUnavailable)
		return
	}

	var req struct {
		Kinds []domain.Kind `json:"kinds"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sync, err := s.syncer.Trigger(r.Context(), req.Kinds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, sync)
}

func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.writeError(w, r, domain.ErrUnavailable)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sync, err := s.syncer.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sync)
}

// handleSyncStatus returns the last result of every synced kind and, with etcd, the sync leader.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.writeError(w, r, domain.ErrUnavailable)
		return
	}

	status, err := s.syncer.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"kinds":   s.syncer.Kinds(),
		"results": status,
	}
	if s.leader != nil {
		leader := map[string]interface{}{"self": s.leader.IsLeader()}
		holder, err := s.leader.Holder(r.Context())
		switch {
		case err == nil:
			leader["holder"] = holder
		case !errors.Is(err, etcd.ErrKeyNotFound):
			s.logger.Warn("Failed to look up sync leader", zap.Error(err))
		}
		resp["leader"] = leader
	}
	s.writeJSON(w, http.StatusOK, resp)
}
