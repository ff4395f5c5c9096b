package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/models"
	"forum-comms/internal/notification"
)

type patchNotificationRequest struct {
	Status *models.NotificationStatus `json:"status" validate:"required"`
}

// parseNotificationFilter maps query parameters onto a store filter. The
// recipient is always the caller.
func parseNotificationFilter(r *http.Request) (notification.Filter, error) {
	q := r.URL.Query()
	f := notification.Filter{Ordering: q.Get("ordering")}

	if raw := q.Get("notification_type"); raw != "" {
		t, err := models.ParseNotificationType(raw)
		if err != nil {
			return f, errors.NewValidationError(err.Error())
		}
		f.Type = &t
	}
	if raw := q.Get("status"); raw != "" {
		st, err := models.ParseNotificationStatus(raw)
		if err != nil {
			return f, errors.NewValidationError(err.Error())
		}
		f.Status = &st
	}
	if raw := q.Get("delivery_status"); raw != "" {
		ds, err := models.ParseDeliveryStatus(raw)
		if err != nil {
			return f, errors.NewValidationError(err.Error())
		}
		f.DeliveryStatus = &ds
	}

	var err error
	if f.InvestorID, err = queryInt64Ptr(r, "investor_id"); err != nil {
		return f, err
	}
	if f.StartupID, err = queryInt64Ptr(r, "startup_id"); err != nil {
		return f, err
	}
	if f.Page, err = queryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(r, "page_size", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseNotificationFilter(r)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	views, err := s.deps.Notifications.List(r.Context(), actor(r), filter)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	if views == nil {
		views = []notification.View{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": views,
		"page":    filter.Page,
	})
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	view, err := s.deps.Notifications.Get(r.Context(), actor(r), id)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) patchNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	var req patchNotificationRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	view, err := s.deps.Notifications.SetReadStatus(r.Context(), actor(r), id, *req.Status)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
