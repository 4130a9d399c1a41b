package api

import (
	"net/http"
	"time"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

type registerRequest struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
}

type registerResponse struct {
	Endpoint *types.Endpoint `json:"endpoint"`
	Token    string          `json:"token"`
}

// handleRegister creates or re-registers an endpoint. The token in the
// response is the only time the plaintext credential leaves the server.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	e, token, err := s.auth.Register(r.Context(), req.Name, req.Hostname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Endpoint: e, Token: token})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.store.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": endpoints})
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEndpoint(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type statusRequest struct {
	Status types.SyncStatus `json:"status"`
}

// handleUpdateEndpointStatus lets an endpoint report its own sync status.
// Any status report doubles as a heartbeat.
func (s *Server) handleUpdateEndpointStatus(w http.ResponseWriter, r *http.Request) {
	id := pathVarValue(r, "id")
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !types.ValidSyncStatus(req.Status) {
		writeError(w, errdefs.Validation.New("unknown sync status %q", req.Status))
		return
	}
	if err := s.store.UpdateEndpointSyncStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.TouchEndpointLastSeen(r.Context(), id, time.Now().UTC().Truncate(time.Millisecond)); err != nil {
		writeError(w, err)
		return
	}
	e, err := s.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleHeartbeat records liveness without a status payload. An offline
// endpoint comes back as behind.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Heartbeat(r.Context(), pathVarValue(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type snapshotRequest struct {
	PacmanVersion string                `json:"pacman_version"`
	Architecture  string                `json:"architecture"`
	Packages      []types.PackageRecord `json:"packages"`
}

// handleSaveSnapshot stores the endpoint's pushed package set as a new
// immutable snapshot.
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	saved, err := s.states.SaveSnapshot(r.Context(), pathVarValue(r, "id"), &types.Snapshot{
		PacmanVersion: req.PacmanVersion,
		Architecture:  req.Architecture,
		Packages:      req.Packages,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snaps, err := s.states.GetEndpointSnapshots(r.Context(), pathVarValue(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}

type repositoriesRequest struct {
	Repositories []*types.Repository `json:"repositories"`
}

// handleReplaceRepositories bulk-replaces the endpoint's repository index
// and refreshes the pool's compatibility analysis.
func (s *Server) handleReplaceRepositories(w http.ResponseWriter, r *http.Request) {
	id := pathVarValue(r, "id")
	var req repositoriesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.ReplaceEndpointRepositories(r.Context(), id, req.Repositories); err != nil {
		writeError(w, err)
		return
	}
	s.analyzer.OnRepositoriesReplaced(r.Context(), id)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListEndpointRepositories(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"repositories": repos})
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := pathVarValue(r, "id")
	e, err := s.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// Detach first so pool bookkeeping stays coherent.
	if e.PoolID != "" {
		if err := s.pools.RemoveEndpoint(r.Context(), e.PoolID, id); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.store.DeleteEndpoint(r.Context(), id, false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
