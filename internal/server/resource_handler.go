package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

const maxPageLimit = 1000

// listResponse is one page of a kind's records.
type listResponse struct {
	Items  []any `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

func (s *Server) registerResourceRoutes() {
	s.mux.HandleFunc("GET /api/v1/resources", s.handleKinds)
	s.mux.HandleFunc("GET /api/v1/resources/{kind}", s.handleList)
	s.mux.HandleFunc("POST /api/v1/resources/{kind}", s.handleCreate)
	s.mux.HandleFunc("GET /api/v1/resources/{kind}/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /api/v1/resources/{kind}/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/v1/resources/{kind}/{id}", s.handleDeactivate)
	s.mux.HandleFunc("POST /api/v1/resources/{kind}/{id}/activate", s.handleActivate)
	s.mux.HandleFunc("GET /api/v1/resources/{kind}/by-key/{key}", s.handleGetByKey)
}

func (s *Server) resource(r *http.Request) (inventory.Resource, error) {
	return s.registry.Resource(domain.Kind(r.PathValue("kind")))
}

// writableResource is resource for handlers that write. System-managed kinds answer 405.
func (s *Server) writableResource(w http.ResponseWriter, r *http.Request) (inventory.Resource, error) {
	res, err := s.resource(r)
	if err != nil {
		return nil, err
	}
	if _, ok := res.New().(domain.SystemManaged); ok {
		w.Header().Set("Allow", http.MethodGet)
		return nil, fmt.Errorf("%w: %s", domain.ErrReadOnly, res.Kind())
	}
	return res, nil
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]domain.Kind{"kinds": s.registry.Kinds()})
}

// handleList handles GET /api/v1/resources/{kind}?search=&include_inactive=&limit=&offset=
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := s.resource(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	filter := domain.ListFilter{Search: r.URL.Query().Get("search")}
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		if filter.IncludeInactive, err = strconv.ParseBool(raw); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid include_inactive", domain.ErrInvalidArgument))
			return
		}
	}

	items, total, err := res.List(r.Context(), filter, domain.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]any, 0, len(items))
	for _, e := range items {
		out = append(out, present(e))
	}
	s.writeJSON(w, http.StatusOK, listResponse{Items: out, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.resource(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := res.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, present(e))
}

func (s *Server) handleGetByKey(w http.ResponseWriter, r *http.Request) {
	res, err := s.resource(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := res.GetByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, present(e))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	res, err := s.writableResource(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e := res.New()
	if err := decode(w, r, e); err != nil {
		s.writeError(w, r, err)
		return
	}
	if sk, ok := e.(domain.SecretKeeper); ok {
		sk.KeepSecrets(nil)
	}

	created, err := res.Create(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, present(created))
}

// handleUpdate replaces a record. The body must carry the version it was read at.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := s.writableResource(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	e := res.New()
	if err := decode(w, r, e); err != nil {
		s.writeError(w, r, err)
		return
	}
	e.GetMeta().ID = id
	if sk, ok := e.(domain.SecretKeeper); ok {
		stored, err := res.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sk.KeepSecrets(stored)
	}

	updated, err := res.Update(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, present(updated))
}

// handleDeactivate soft-deletes a record: DELETE /api/v1/resources/{kind}/{id}?version=N
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.handleStatus(w, r, inventory.Resource.Deactivate)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.handleStatus(w, r, inventory.Resource.Activate)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, apply func(inventory.Resource, context.Context, int64, int64) (domain.Entity, error)) {
	res, err := s.writableResource(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || version < 0 {
		s.writeError(w, r, fmt.Errorf("%w: version query parameter is required", domain.ErrInvalidArgument))
		return
	}

	e, err := apply(res, r.Context(), id, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, present(e))
}
