package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
)

// errorBody is the wire schema for every non-2xx response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), errorBody{Error: errorDetail{
		Code:      errdefs.Code(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}})
}

// limitParam parses the optional ?limit query parameter. Zero means no limit.
func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errdefs.Validation.New("invalid limit %q", v)
	}
	return n, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errdefs.Validation.New("invalid request body: %v", err)
	}
	return nil
}
