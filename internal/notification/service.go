package notification

import (
	"context"
	"fmt"
	"strings"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/models"
)

// ProfileLookup is the read side of the profile directory.
type ProfileLookup interface {
	GetInvestor(ctx context.Context, investorID int64) (*models.InvestorProfile, error)
	GetStartup(ctx context.Context, startupID int64) (*models.StartupProfile, error)
	GetProject(ctx context.Context, projectID int64) (*models.Project, error)
}

// View is a notification as served by the read API.
type View struct {
	models.Notification
	AssociatedProfileURL string `json:"associated_profile_url,omitempty"`
}

// Service wraps Store with fail-soft creation and API projections.
type Service struct {
	store    *Store
	profiles ProfileLookup
	siteURL  string
	logger   logger.Logger
}

func NewService(store *Store, profiles ProfileLookup, siteURL string, log logger.Logger) *Service {
	return &Service{
		store:    store,
		profiles: profiles,
		siteURL:  strings.TrimRight(siteURL, "/"),
		logger:   logger.ForComponent(log, "notification-service"),
	}
}

// CreateNotification never returns an error: invalid input and store
// failures are logged and reported as ok=false.
func (s *Service) CreateNotification(ctx context.Context, n models.NewNotification) (int64, bool) {
	if err := n.Validate(); err != nil {
		s.logger.Warn("notification rejected", map[string]interface{}{
			"notificationType": n.Type.String(),
			"error":            err.Error(),
		})
		return 0, false
	}
	created, err := s.store.Create(ctx, n)
	if err != nil {
		s.logger.Error("notification create failed", map[string]interface{}{
			"notificationType": n.Type.String(),
			"error":            err.Error(),
		})
		return 0, false
	}
	return created.ID, true
}

// Get returns the notification owned by recipientID.
func (s *Service) Get(ctx context.Context, recipientID, id int64) (*View, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, errors.NewStoreError("get notification", err)
	}
	if n == nil || !ownedBy(n, recipientID) {
		return nil, errors.NewNotificationNotFoundError(id)
	}
	return s.view(ctx, n), nil
}

// List returns the recipient's notifications matching f.
func (s *Service) List(ctx context.Context, recipientID int64, f Filter) ([]View, error) {
	f.RecipientID = &recipientID
	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, errors.NewStoreError("list notifications", err)
	}
	views := make([]View, 0, len(items))
	for i := range items {
		views = append(views, *s.view(ctx, &items[i]))
	}
	return views, nil
}

func (s *Service) SetReadStatus(ctx context.Context, recipientID, id int64, status models.NotificationStatus) (*View, error) {
	if _, err := s.Get(ctx, recipientID, id); err != nil {
		return nil, err
	}
	n, err := s.store.SetReadStatus(ctx, id, status)
	if err != nil {
		return nil, errors.NewStoreError("set read status", err)
	}
	if n == nil {
		return nil, errors.NewNotificationNotFoundError(id)
	}
	return s.view(ctx, n), nil
}

func ownedBy(n *models.Notification, userID int64) bool {
	return n.RecipientID != nil && *n.RecipientID == userID
}

func (s *Service) view(ctx context.Context, n *models.Notification) *View {
	return &View{Notification: *n, AssociatedProfileURL: s.AssociatedProfileURL(ctx, n)}
}

// AssociatedProfileURL links FOLLOW to the investor and UPDATE to the
// project or startup. MESSAGE has no profile link.
func (s *Service) AssociatedProfileURL(ctx context.Context, n *models.Notification) string {
	switch n.Type {
	case models.TypeFollow:
		if n.InvestorID == nil {
			return ""
		}
		investor, err := s.profiles.GetInvestor(ctx, *n.InvestorID)
		if err != nil || investor == nil {
			if err != nil {
				s.logger.Debug("investor lookup failed", map[string]interface{}{"error": err.Error()})
			}
			return ""
		}
		return fmt.Sprintf("%s/investors/%d", s.siteURL, investor.UserID)
	case models.TypeUpdate:
		if n.ProjectID != nil {
			return fmt.Sprintf("%s/projects/%d", s.siteURL, *n.ProjectID)
		}
		if n.StartupID != nil {
			return fmt.Sprintf("%s/startups/%d", s.siteURL, *n.StartupID)
		}
	}
	return ""
}
