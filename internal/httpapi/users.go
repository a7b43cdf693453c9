package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/solaris-dev/pylon/internal/store"
)

type setKVRequest struct {
	Key   string `json:"key" validate:"required,max=255"`
	Value string `json:"value" validate:"required"`
}

func (s *Server) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, ok := s.store.Get(userID)
	if !ok {
		respondError(w, http.StatusNotFound, "PRESENCE_NOT_FOUND", "no presence recorded for "+userID)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetKV(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, ok := s.store.Get(userID)
	if !ok {
		respondError(w, http.StatusNotFound, "USER_NOT_FOUND", "no presence recorded for "+userID)
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondJSON(w, http.StatusOK, rec.KV)
		return
	}
	value, ok := rec.KV[key]
	if !ok {
		respondError(w, http.StatusNotFound, "KEY_NOT_FOUND", "no annotation "+key)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetKV(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req setKVRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.KVOperations.WithLabelValues("set", "invalid").Inc()
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.metrics.KVOperations.WithLabelValues("set", "invalid").Inc()
		respondError(w, http.StatusBadRequest, validationCode(err), err.Error())
		return
	}

	if err := s.store.SetKV(r.Context(), userID, req.Key, req.Value); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.KVOperations.WithLabelValues("set", "not_found").Inc()
			respondError(w, http.StatusNotFound, "USER_NOT_FOUND", "no presence recorded for "+userID)
			return
		}
		s.metrics.KVOperations.WithLabelValues("set", "error").Inc()
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	s.metrics.KVOperations.WithLabelValues("set", "ok").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteKV(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		s.metrics.KVOperations.WithLabelValues("delete", "invalid").Inc()
		respondError(w, http.StatusBadRequest, "KEY_REQUIRED", "query parameter key is required")
		return
	}

	if err := s.store.DeleteKV(r.Context(), userID, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.KVOperations.WithLabelValues("delete", "not_found").Inc()
			respondError(w, http.StatusNotFound, "KEY_NOT_FOUND", "no annotation "+key)
			return
		}
		s.metrics.KVOperations.WithLabelValues("delete", "error").Inc()
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	s.metrics.KVOperations.WithLabelValues("delete", "ok").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
