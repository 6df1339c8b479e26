package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/auth"
)

func (s *Server) registerAuthRoutes() {
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/v1/users/{id}/password", s.handleSetPassword)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.RemoteAddr = remoteHost(r)
	req.UserAgent = r.UserAgent()

	resp, err := s.auth.Login(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tokens, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

// handleSetPassword lets users change their own password. Local users may set anyone's.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	actor := domain.ActorFromContext(r.Context())
	if actor != id {
		if err := s.requireLocalUser(r, actor); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.auth.SetPassword(r.Context(), id, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireLocalUser(r *http.Request, actor int64) error {
	users, err := s.registry.Resource(domain.KindUser)
	if err != nil {
		return err
	}
	u, err := users.Get(r.Context(), actor)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrPermissionDenied
	}
	if err != nil {
		return err
	}
	if lo, ok := u.(domain.LocalOnly); !ok || !lo.IsLocal() {
		return fmt.Errorf("%w: only local users may change other users' passwords", domain.ErrPermissionDenied)
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
