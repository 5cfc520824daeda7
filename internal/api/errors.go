package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gwi.com/docchat/internal/core"
	"gwi.com/docchat/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, core.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.As(err, &maxBytesErr):
		writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, core.ErrUpstreamUnavailable):
		logging.FromCtx(r.Context()).Error().Err(err).Msg("upstream unavailable")
		writeMessage(w, http.StatusBadGateway, "Upstream service unavailable")
	default:
		logging.FromCtx(r.Context()).Error().Err(err).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err)
	}
	return nil
}
