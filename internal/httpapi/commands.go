package httpapi

import (
	"errors"
	"net/http"

	"github.com/solaris-dev/pylon/internal/command"
	"github.com/solaris-dev/pylon/internal/store"
)

type commandRequest struct {
	ActorID string   `json:"actor_id" validate:"required"`
	Name    string   `json:"name" validate:"required"`
	Args    []string `json:"args"`
}

type commandResponse struct {
	Output string `json:"output"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, validationCode(err), err.Error())
		return
	}

	out, err := s.dispatcher.Execute(r.Context(), req.ActorID, req.Name, req.Args)
	if err != nil {
		switch {
		case errors.Is(err, command.ErrUnknownCommand):
			respondError(w, http.StatusBadRequest, "UNKNOWN_COMMAND", err.Error())
		case errors.Is(err, command.ErrMissingArgs):
			respondError(w, http.StatusBadRequest, "MISSING_ARGS", err.Error())
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, commandResponse{Output: out})
}
