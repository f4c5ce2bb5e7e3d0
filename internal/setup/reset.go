package setup

import (
	"errors"
	"net/http"

	"localauth/internal/directory"
	"localauth/internal/reset"
	"localauth/internal/store"
)

type resetRequest struct {
	Target             string `json:"target"`
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := store.ParseHashField(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}
	if req.NewPassword != req.NewPasswordConfirm {
		writeError(w, http.StatusBadRequest, "New passwords do not match")
		return
	}

	err = s.resetter.Reset(r.Context(), reset.Request{
		Target:  target,
		Current: req.CurrentPassword,
		New:     req.NewPassword,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "target": string(target)})
	case errors.Is(err, reset.ErrMismatch), errors.Is(err, directory.ErrBind):
		writeError(w, http.StatusForbidden, "Current password is incorrect")
	case errors.Is(err, reset.ErrTooShort), errors.Is(err, reset.ErrUnchanged):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusConflict, "System is not configured")
	case errors.Is(err, reset.ErrNotInitialized):
		writeError(w, http.StatusConflict, "System is not initialized")
	default:
		s.internalError(w, r, "setup.reset.error", err)
	}
}
