package notification

import (
	"context"
	"fmt"

	"forum-comms/internal/common/logger"
	"forum-comms/internal/models"
	"forum-comms/pkg/registry"
)

// PreferenceReader returns nil, nil when no preference is stored.
type PreferenceReader interface {
	GetPreference(ctx context.Context, userID int64, role string, t models.NotificationType) (*models.Preference, error)
}

type RoleChecker interface {
	UserHasRole(ctx context.Context, userID int64, role string) (bool, error)
}

type MessageLookup interface {
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
}

// Resolution is the recipient and the channels enabled for one notification.
// RecipientUserID is 0 when the recipient could not be determined.
type Resolution struct {
	RecipientUserID int64
	Role            string
	Email           bool
	InApp           bool
}

// Resolver decides delivery channels. Every lookup failure resolves to both
// channels enabled.
type Resolver struct {
	policy   *registry.Policy
	prefs    PreferenceReader
	profiles ProfileLookup
	roles    RoleChecker
	messages MessageLookup
	logger   logger.Logger
}

func NewResolver(policy *registry.Policy, prefs PreferenceReader, profiles ProfileLookup, roles RoleChecker, messages MessageLookup, log logger.Logger) *Resolver {
	return &Resolver{
		policy:   policy,
		prefs:    prefs,
		profiles: profiles,
		roles:    roles,
		messages: messages,
		logger:   logger.ForComponent(log, "preference-resolver"),
	}
}

func (r *Resolver) ResolvePreference(ctx context.Context, n *models.Notification) Resolution {
	res := Resolution{Email: true, InApp: true}
	fields := map[string]interface{}{
		"notificationId":   n.ID,
		"notificationType": n.Type.String(),
	}

	eligible := r.policy.EligibleRoles(n.Type)
	switch {
	case len(eligible) == 0:
		r.logger.Warn("no role may receive notification type, failing open", fields)
		return res

	case len(eligible) == 1:
		role := eligible[0]
		userID, err := r.recipientFor(ctx, role, n)
		if err != nil {
			r.logger.Warn("recipient lookup failed, failing open", withErr(fields, err))
			return res
		}
		res.RecipientUserID, res.Role = userID, role
		return r.applyPreference(ctx, res, n.Type, fields)

	case n.Type == models.TypeMessage:
		receiver, err := r.messageReceiver(ctx, n)
		if err != nil {
			r.logger.Warn("message receiver lookup failed, failing open", withErr(fields, err))
			return res
		}
		res.RecipientUserID = receiver
		for _, role := range eligible {
			has, err := r.roles.UserHasRole(ctx, receiver, role)
			if err != nil {
				r.logger.Warn("role lookup failed", withErr(fields, err))
				continue
			}
			if has {
				res.Role = role
				return r.applyPreference(ctx, res, n.Type, fields)
			}
		}
		r.logger.Debug("receiver holds no eligible role, failing open", fields)
		return res

	default:
		for _, role := range eligible {
			userID, err := r.recipientFor(ctx, role, n)
			if err != nil {
				continue
			}
			res.RecipientUserID, res.Role = userID, role
			return r.applyPreference(ctx, res, n.Type, fields)
		}
		r.logger.Warn("no eligible recipient found, failing open", fields)
		return res
	}
}

func (r *Resolver) applyPreference(ctx context.Context, res Resolution, t models.NotificationType, fields map[string]interface{}) Resolution {
	pref, err := r.prefs.GetPreference(ctx, res.RecipientUserID, res.Role, t)
	if err != nil {
		r.logger.Warn("preference lookup failed, failing open", withErr(fields, err))
		return res
	}
	if pref == nil {
		return res
	}
	res.Email, res.InApp = pref.Email, pref.InApp
	return res
}

// recipientFor maps a role to the user who receives n in that role.
func (r *Resolver) recipientFor(ctx context.Context, role string, n *models.Notification) (int64, error) {
	if n.Type == models.TypeMessage {
		return r.messageReceiver(ctx, n)
	}
	switch role {
	case models.RoleInvestor:
		if n.InvestorID == nil {
			return 0, fmt.Errorf("notification has no investor")
		}
		investor, err := r.profiles.GetInvestor(ctx, *n.InvestorID)
		if err != nil {
			return 0, err
		}
		if investor == nil {
			return 0, fmt.Errorf("investor %d not found", *n.InvestorID)
		}
		return investor.UserID, nil

	case models.RoleStartup:
		startupID := n.StartupID
		if startupID == nil && n.ProjectID != nil {
			project, err := r.profiles.GetProject(ctx, *n.ProjectID)
			if err != nil {
				return 0, err
			}
			if project == nil {
				return 0, fmt.Errorf("project %d not found", *n.ProjectID)
			}
			startupID = &project.StartupID
		}
		if startupID == nil {
			return 0, fmt.Errorf("notification has no startup")
		}
		startup, err := r.profiles.GetStartup(ctx, *startupID)
		if err != nil {
			return 0, err
		}
		if startup == nil {
			return 0, fmt.Errorf("startup %d not found", *startupID)
		}
		return startup.UserID, nil

	default:
		return 0, fmt.Errorf("no recipient mapping for role %q", role)
	}
}

func (r *Resolver) messageReceiver(ctx context.Context, n *models.Notification) (int64, error) {
	if n.MessageID == nil {
		return 0, fmt.Errorf("notification has no message")
	}
	msg, err := r.messages.GetMessageByID(ctx, *n.MessageID)
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, fmt.Errorf("message %s not found", *n.MessageID)
	}
	return msg.ReceiverID, nil
}

func withErr(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
