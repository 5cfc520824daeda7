package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"gwi.com/docchat/internal/core"
	"gwi.com/docchat/internal/extract"
	"gwi.com/docchat/internal/vectorstore"
)

const multipartMemory = 32 << 20

type uploadResponse struct {
	Filename     string `json:"filename"`
	Message      string `json:"message"`
	ChunksStored int    `json:"chunks_stored"`
}

// UploadHandler ingests a multipart "file" into the vector store of the
// conversation named by the conversation_id form field or query parameter.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, uploadError(err))
		return
	}

	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		writeError(w, r, fmt.Errorf("%w: conversation_id is required", core.ErrValidation))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file is required", core.ErrValidation))
		return
	}
	defer file.Close()
	if !extract.Supported(header.Filename) {
		writeError(w, r, fmt.Errorf("%w: %w: %s", core.ErrValidation, extract.ErrUnsupportedFormat, header.Filename))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	scope := vectorstore.Scope{UserID: user.ID, ConversationID: conversationID}
	n, err := h.rag.Ingest(r.Context(), scope, header.Filename, content)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Filename:     header.Filename,
		Message:      "File uploaded and processed successfully",
		ChunksStored: n,
	})
}

func uploadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return fmt.Errorf("%w: invalid multipart form: %v", core.ErrValidation, err)
}
