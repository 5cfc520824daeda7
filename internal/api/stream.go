package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gwi.com/docchat/internal/core"
	"gwi.com/docchat/internal/logging"
)

type tokenEvent struct {
	Token string `json:"token"`
}

type doneEvent struct {
	ConversationID string `json:"conversation_id"`
}

// GenerateStreamHandler streams the answer as server-sent events: one
// unnamed event per token, then a "done" or "error" event.
func (h *Handler) GenerateStreamHandler(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req core.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	gen, err := h.generator.Start(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer gen.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logging.FromCtx(r.Context())
	for token := range gen.Tokens() {
		if err := writeEvent(w, "", tokenEvent{Token: token}); err != nil {
			log.Debug().Err(err).Msg("client went away mid-stream")
			break
		}
		flusher.Flush()
	}

	if r.Context().Err() != nil {
		return
	}
	if err := gen.Err(); err != nil {
		_ = writeEvent(w, "error", errorResponse{Error: "Error generating response"})
	} else {
		_ = writeEvent(w, "done", doneEvent{ConversationID: gen.ConversationID()})
	}
	flusher.Flush()
}

func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
