package api

import (
	"net/http"
	"strings"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/events"
)

type investmentTrackingRequest struct {
	TrackingID int64 `json:"tracking_id" validate:"required,gt=0"`
	InvestorID int64 `json:"investor_id" validate:"required,gt=0"`
	StartupID  int64 `json:"startup_id" validate:"required,gt=0"`
}

type profileUpdateRequest struct {
	UpdateID  string `json:"update_id" validate:"required,max=128"`
	StartupID *int64 `json:"startup_id" validate:"omitempty,gt=0"`
	ProjectID *int64 `json:"project_id" validate:"omitempty,gt=0"`
}

type roleAssignedRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required"`
}

type userUpdatedRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// emit hands the event to the dispatcher. A full queue is reported to the
// caller as 202 with accepted=false so the business action is never failed.
func (s *Server) emit(w http.ResponseWriter, r *http.Request, event events.Event) {
	accepted := true
	if err := s.deps.Emitter.Emit(r.Context(), event); err != nil {
		accepted = false
		s.logger.Warn("event not enqueued", map[string]interface{}{
			"eventId":  event.ID,
			"eventKey": event.Key,
			"error":    err.Error(),
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id": event.ID,
		"accepted": accepted,
	})
}

func (s *Server) investmentTracking(w http.ResponseWriter, r *http.Request) {
	var req investmentTrackingRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	s.emit(w, r, events.Followed(req.TrackingID, req.InvestorID, req.StartupID))
}

func (s *Server) profileUpdate(w http.ResponseWriter, r *http.Request) {
	var req profileUpdateRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	if req.StartupID == nil && req.ProjectID == nil {
		s.errs.Handle(w, r, errors.NewValidationError("startup_id or project_id is required"))
		return
	}
	s.emit(w, r, events.ProfileUpdated(req.UpdateID, req.StartupID, req.ProjectID))
}

// roleAssigned creates the default preference rows for a newly granted role.
func (s *Server) roleAssigned(w http.ResponseWriter, r *http.Request) {
	var req roleAssignedRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	role := strings.ToLower(req.Role)
	if !s.deps.Policy.HasRole(role) {
		s.errs.Handle(w, r, errors.NewValidationError("unknown role "+req.Role))
		return
	}

	created, err := s.deps.Preferences.EnsureRolePreferences(r.Context(), req.UserID, role, s.deps.Policy.TypesForRole(role))
	if err != nil {
		s.errs.Handle(w, r, errors.NewStoreError("ensure role preferences", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": req.UserID,
		"role":    role,
		"created": created,
	})
}

// userUpdated drops the cached name and email so the next notification
// email is rendered from the users table.
func (s *Server) userUpdated(w http.ResponseWriter, r *http.Request) {
	var req userUpdatedRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	if s.deps.Users != nil {
		if err := s.deps.Users.Invalidate(r.Context(), req.UserID); err != nil {
			s.errs.Handle(w, r, errors.NewStoreError("invalidate user cache", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     req.UserID,
		"invalidated": true,
	})
}
