package api

import (
	"net/http"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/pool"
	"github.com/pacfleet/pacfleet/pkg/types"
)

type poolRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	SyncPolicy  *types.SyncPolicy `json:"sync_policy,omitempty"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == nil {
		writeError(w, errdefs.Validation.New("pool name is required"))
		return
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	p, err := s.pools.Create(r.Context(), *req.Name, description, req.SyncPolicy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.pools.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.pools.Get(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.pools.Update(r.Context(), pathVarValue(r, "id"), pool.Update{
		Name:        req.Name,
		Description: req.Description,
		SyncPolicy:  req.SyncPolicy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	if err := s.pools.Delete(r.Context(), pathVarValue(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pools.Status(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type assignRequest struct {
	EndpointID string `json:"endpoint_id"`
}

func (s *Server) handleAssignEndpoint(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.EndpointID == "" {
		writeError(w, errdefs.Validation.New("endpoint_id is required"))
		return
	}
	if err := s.pools.AssignEndpoint(r.Context(), pathVarValue(r, "id"), req.EndpointID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDetachEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.pools.RemoveEndpoint(r.Context(), pathVarValue(r, "id"), pathVarValue(r, "eid")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMoveEndpoint(w http.ResponseWriter, r *http.Request) {
	err := s.pools.MoveEndpoint(r.Context(),
		pathVarValue(r, "eid"), pathVarValue(r, "id"), pathVarValue(r, "target_pool_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
