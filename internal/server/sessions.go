package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ssd-technologies/takedat/internal/directory"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

const (
	ownerTokenHeader = "X-Owner-Token"
	maxRequestBody   = 64 * 1024
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req protocol.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	sess, token, err := s.dir.Create(directory.CreateParams{
		FileName: req.FileName,
		FileSize: req.FileSize,
		MimeType: req.MimeType,
	})
	var inputErr *directory.InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Code, inputErr.Message)
		return
	case err != nil:
		log.Printf("[directory] create session: %v", err)
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, protocol.CreateSessionResponse{
		Code:       sess.Code,
		SessionID:  sess.ID,
		ExpiresAt:  sess.ExpiresAt,
		OwnerToken: token,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.dir.GetByCode(chi.URLParam(r, "code"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, directory.Info(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.dir.Delete(chi.URLParam(r, "code"), r.Header.Get(ownerTokenHeader))
	if errors.Is(err, directory.ErrForbidden) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Owner token does not match")
		return
	}
	if err != nil {
		log.Printf("[directory] delete session: %v", err)
		writeError(w, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeSessionError maps directory lookup errors to HTTP responses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, directory.ErrSessionExpired):
		writeError(w, http.StatusGone, "SESSION_EXPIRED", "Session has expired")
	default:
		log.Printf("[directory] get session: %v", err)
		writeError(w, http.StatusInternalServerError, "GET_FAILED", "Failed to get session")
	}
}

// handleWebSocket validates the code and role, then hands the connection to
// the relay hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := protocol.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "role must be sender or receiver")
		return
	}
	sess, err := s.dir.GetByCode(chi.URLParam(r, "code"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.hub.ServeWS(w, r, sess.Code, role)
}
