package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/history"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	si, err := s.store.CreateSession(r.Context(), s.auth.UserID(r))
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"session_id": si.ID,
		"name":       si.Name,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), s.auth.UserID(r))
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.store.History(r.Context(), s.auth.UserID(r), id)
	if err != nil {
		s.logger.Error("fetch history failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": turns})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.store.Rename(r.Context(), s.auth.UserID(r), id, req.Name)
	switch {
	case errors.Is(err, history.ErrEmptyName):
		respondError(w, http.StatusBadRequest, "empty_name", "name must not be empty")
	case errors.Is(err, history.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
	case err != nil:
		s.logger.Error("rename failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "rename_failed", err.Error())
	default:
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("renamed").Inc()
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"session_id": id,
			"name":       strings.TrimSpace(req.Name),
		})
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), s.auth.UserID(r), id); err != nil {
		s.logger.Error("delete session failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAutoSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, err := s.orchestrator.AutoTitle(r.Context(), s.auth.UserID(r), id)
	switch {
	case errors.Is(err, history.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
	case err != nil:
		s.logger.Error("auto summary failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "autosummary_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]string{
			"session_id": id,
			"name":       name,
		})
	}
}
