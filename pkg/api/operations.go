package api

import (
	"net/http"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
)

func (s *Server) handleSyncToLatest(w http.ResponseWriter, r *http.Request) {
	op, err := s.coord.SyncToLatest(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleSetAsLatest(w http.ResponseWriter, r *http.Request) {
	op, err := s.coord.SetAsLatest(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	op, err := s.coord.RevertToPrevious(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleEndpointOperations(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ops, err := s.coord.ListEndpointOperations(r.Context(), pathVarValue(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func (s *Server) handlePoolOperations(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ops, err := s.coord.ListPoolOperations(r.Context(), pathVarValue(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.coord.GetOperation(r.Context(), pathVarValue(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// handleCancelOperation cancels a pending operation. Admins may cancel any
// operation; an endpoint token only operations it initiated.
func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := pathVarValue(r, "id")
	op, err := s.coord.GetOperation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := identityFrom(r.Context())
	if !caller.Admin && caller.EndpointID != op.EndpointID {
		writeError(w, errdefs.Forbidden.New("token may not cancel operation %s", id))
		return
	}
	cancelled, err := s.coord.CancelOperation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.analyzer.Get(r.Context(), pathVarValue(r, "pool_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
