package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/models"
)

type putPreferenceRequest struct {
	Email *bool `json:"email" validate:"required"`
	InApp *bool `json:"in_app" validate:"required"`
}

func (s *Server) listPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.deps.Preferences.ListPreferences(r.Context(), actor(r))
	if err != nil {
		s.errs.Handle(w, r, errors.NewStoreError("list preferences", err))
		return
	}
	if prefs == nil {
		prefs = []models.Preference{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"preferences": prefs})
}

// putPreference only ever writes the caller's own row.
func (s *Server) putPreference(w http.ResponseWriter, r *http.Request) {
	role := strings.ToLower(chi.URLParam(r, "role"))
	t, err := models.ParseNotificationType(chi.URLParam(r, "type"))
	if err != nil {
		s.errs.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}
	if !s.deps.Policy.Allowed(role, t) {
		s.errs.Handle(w, r, errors.NewValidationError("role "+role+" does not receive "+t.String()+" notifications"))
		return
	}

	var req putPreferenceRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}

	pref := models.Preference{
		UserID: actor(r),
		Role:   role,
		Type:   t,
		Email:  *req.Email,
		InApp:  *req.InApp,
	}
	if err := s.deps.Preferences.UpsertPreference(r.Context(), pref); err != nil {
		s.errs.Handle(w, r, errors.NewStoreError("upsert preference", err))
		return
	}
	writeJSON(w, http.StatusOK, pref)
}
