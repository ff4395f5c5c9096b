package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	awsclient "forum-comms/internal/common/aws"
	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/metrics"
	"forum-comms/internal/common/observability"
	"forum-comms/internal/events"
	"forum-comms/internal/hub"
	"forum-comms/internal/models"
	"forum-comms/internal/notification"
)

const dedupePrefix = "dispatch:event:"

// Notifications creates records and builds profile links.
type Notifications interface {
	CreateNotification(ctx context.Context, n models.NewNotification) (int64, bool)
	AssociatedProfileURL(ctx context.Context, n *models.Notification) string
}

// DeliveryRecorder updates delivery state on a stored notification.
type DeliveryRecorder interface {
	SetRecipient(ctx context.Context, id, userID int64) error
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

type PreferenceResolver interface {
	ResolvePreference(ctx context.Context, n *models.Notification) notification.Resolution
}

type Profiles interface {
	GetStartup(ctx context.Context, startupID int64) (*models.StartupProfile, error)
	GetProject(ctx context.Context, projectID int64) (*models.Project, error)
	TrackingInvestors(ctx context.Context, startupID, projectID *int64) ([]int64, error)
}

type Users interface {
	ResolveUser(ctx context.Context, userID int64) (*models.User, error)
}

type Messages interface {
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
}

// Broadcaster pushes a payload to a live connection group.
type Broadcaster interface {
	Broadcast(ctx context.Context, group string, payload []byte) error
}

// Deps wires the handler to its collaborators. Redis, SES, SNS, Hub and
// Observability may be nil.
type Deps struct {
	Notifications Notifications
	Records       DeliveryRecorder
	Resolver      PreferenceResolver
	Profiles      Profiles
	Users         Users
	Messages      Messages
	Hub           Broadcaster
	Redis         *redis.Client
	SES           SESService
	SNS           SNSService
	Observability *observability.Observability
}

type Handler struct {
	config *Config
	deps   Deps
	ses    SESService
	sleep  sleepFunc
	logger logger.Logger
}

func NewHandler(config *Config, deps Deps, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		deps:   deps,
		ses:    deps.SES,
		sleep:  sleepContext,
		logger: logger.ForComponent(log, "notification-dispatch"),
	}
}

// Process handles one domain event. UPDATE events without an investor are
// fanned out to every tracking investor first. Errors are contained: the
// returned error only reports failures of the fan-out lookup.
func (h *Handler) Process(ctx context.Context, event events.Event) error {
	if event.Type == models.TypeUpdate && event.InvestorID == nil {
		return h.fanOut(ctx, event)
	}
	h.process(ctx, event)
	return nil
}

func (h *Handler) fanOut(ctx context.Context, event events.Event) error {
	investors, err := h.deps.Profiles.TrackingInvestors(ctx, event.StartupID, event.ProjectID)
	if err != nil {
		h.logger.Error("tracking investor lookup failed", map[string]interface{}{
			"eventId": event.ID,
			"error":   err.Error(),
		})
		return errors.NewStoreError("tracking investors", err)
	}
	for _, investorID := range lo.Uniq(investors) {
		h.process(ctx, event.ForInvestor(investorID))
	}
	return nil
}

func (h *Handler) process(ctx context.Context, event events.Event) *Output {
	start := time.Now()
	typeName := event.Type.String()

	ctx, span := h.deps.Observability.Tracer().Start(ctx, "dispatch.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("notification_type", typeName),
	)

	out := h.execute(ctx, event)
	if out.Status == OutcomeFailed {
		span.SetStatus(codes.Error, "delivery failed")
	}

	metrics.DispatchEvents.WithLabelValues(typeName, out.Status).Inc()
	metrics.DispatchDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	if h.deps.Observability != nil {
		h.deps.Observability.RecordEvent(ctx, typeName, out.Status)
		h.deps.Observability.RecordDuration(ctx, time.Since(start), typeName)
	}

	h.logger.Info("event processed", map[string]interface{}{
		"eventId":          event.ID,
		"eventKey":         event.Key,
		"notificationType": typeName,
		"notificationId":   out.NotificationID,
		"status":           out.Status,
	})
	return out
}

func (h *Handler) execute(ctx context.Context, event events.Event) *Output {
	claimed, dedupeKey := h.claim(ctx, event)
	if !claimed {
		return &Output{Status: OutcomeDuplicate}
	}

	id, ok := h.deps.Notifications.CreateNotification(ctx, event.Notification())
	if !ok {
		h.release(ctx, dedupeKey)
		return &Output{Status: OutcomeRejected}
	}

	n := notificationFromEvent(id, event)
	res := h.deps.Resolver.ResolvePreference(ctx, n)
	out := &Output{NotificationID: id, RecipientID: res.RecipientUserID}

	if res.RecipientUserID != 0 {
		n.RecipientID = lo.ToPtr(res.RecipientUserID)
		if err := h.deps.Records.SetRecipient(ctx, id, res.RecipientUserID); err != nil {
			h.logger.Error("set recipient failed", map[string]interface{}{
				"notificationId": id,
				"error":          err.Error(),
			})
		}
	}

	sendEmail := res.Email && h.emailConfigured()
	if !sendEmail && !res.InApp {
		out.Status = OutcomeSuppressed
		return out
	}

	pushed := false
	if res.InApp {
		pushed = h.pushInApp(ctx, n, res.RecipientUserID)
	}
	if !sendEmail && !pushed {
		// Nothing went out; the record stays PENDING.
		h.logger.Info("notification not delivered on any channel", map[string]interface{}{
			"notificationId": id,
			"recipientId":    res.RecipientUserID,
		})
		out.Status = OutcomeSuppressed
		return out
	}

	if sendEmail {
		attempts, err := h.deliverEmail(ctx, n, res.RecipientUserID)
		out.EmailAttempts = attempts
		if err != nil {
			out.RetriesExhausted = stderrors.Is(err, errors.ErrDeliveryTransient)
			h.logger.Error("email delivery failed", map[string]interface{}{
				"notificationId":   id,
				"attempts":         attempts,
				"retriesExhausted": out.RetriesExhausted,
				"error":            err.Error(),
			})
			h.markFailed(ctx, id)
			out.Status = OutcomeFailed
			return out
		}
	}

	if err := h.deps.Records.MarkSent(ctx, id); err != nil {
		h.logger.Error("mark sent failed", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
	}
	out.Status = OutcomeSent
	return out
}

// claim reserves the event key. A Redis outage lets the event through.
func (h *Handler) claim(ctx context.Context, event events.Event) (bool, string) {
	if h.deps.Redis == nil || event.Key == "" {
		return true, ""
	}
	key := dedupePrefix + event.Key
	ok, err := h.deps.Redis.SetNX(ctx, key, event.ID, h.config.DedupeTTL).Result()
	if err != nil {
		h.logger.Warn("dedupe check failed", map[string]interface{}{
			"eventKey": event.Key,
			"error":    err.Error(),
		})
		return true, ""
	}
	return ok, key
}

func (h *Handler) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.deps.Redis.Del(ctx, key).Err(); err != nil {
		h.logger.Warn("dedupe release failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

func (h *Handler) markFailed(ctx context.Context, id int64) {
	if err := h.deps.Records.MarkFailed(ctx, id); err != nil {
		h.logger.Error("mark failed failed", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
	}
}

func notificationFromEvent(id int64, event events.Event) *models.Notification {
	return &models.Notification{
		ID:             id,
		Type:           event.Type,
		Status:         models.StatusUnread,
		InvestorID:     event.InvestorID,
		StartupID:      event.StartupID,
		ProjectID:      event.ProjectID,
		MessageID:      event.MessageID,
		DeliveryStatus: models.DeliveryPending,
		CreatedAt:      event.OccurredAt,
	}
}

// pushInApp is best effort: failures are logged and never fail the record.
// It reports whether the frame reached the hub or the push topic.
func (h *Handler) pushInApp(ctx context.Context, n *models.Notification, recipientID int64) bool {
	if recipientID == 0 {
		h.logger.Debug("in-app push skipped, recipient unknown", map[string]interface{}{
			"notificationId": n.ID,
		})
		return false
	}
	payload, err := json.Marshal(InAppFrame{Notification: n})
	if err != nil {
		h.logger.Error("in-app frame encode failed", map[string]interface{}{"error": err.Error()})
		return false
	}

	delivered := false

	if h.deps.Hub != nil {
		if err := h.deps.Hub.Broadcast(ctx, hub.NotificationGroup(recipientID), payload); err != nil {
			metrics.DispatchDeliveries.WithLabelValues(ChannelInApp, "error").Inc()
			h.logger.Warn("in-app broadcast failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err.Error(),
			})
		} else {
			metrics.DispatchDeliveries.WithLabelValues(ChannelInApp, "sent").Inc()
			delivered = true
		}
	}

	if h.config.SNSEnabled && h.deps.SNS != nil {
		input := awsclient.BuildPublishInput(h.config.TopicARN, strconv.FormatInt(recipientID, 10), n.Type.String(), string(payload))
		if _, err := h.deps.SNS.Publish(ctx, input); err != nil {
			metrics.DispatchDeliveries.WithLabelValues(ChannelPush, "error").Inc()
			h.logger.Warn("push publish failed", map[string]interface{}{
				"notificationId": n.ID,
				"awsCode":        awsclient.ErrorCode(err),
				"error":          err.Error(),
			})
		} else {
			metrics.DispatchDeliveries.WithLabelValues(ChannelPush, "sent").Inc()
			delivered = true
		}
	}
	return delivered
}

func (h *Handler) emailConfigured() bool {
	return h.config.EmailEnabled && h.ses != nil
}

func (h *Handler) deliverEmail(ctx context.Context, n *models.Notification, recipientID int64) (int, error) {
	if recipientID == 0 {
		return 0, errors.NewDeliveryPermanentError(ChannelEmail, fmt.Errorf("recipient unknown"))
	}
	recipient, err := h.deps.Users.ResolveUser(ctx, recipientID)
	if err != nil {
		return 0, errors.NewDeliveryPermanentError(ChannelEmail, err)
	}
	if recipient == nil || recipient.Email == "" {
		return 0, errors.NewDeliveryPermanentError(ChannelEmail, errors.NewUserNotFoundError(recipientID))
	}

	email, err := RenderEmail(n.Type, h.templateData(ctx, n, recipient))
	if err != nil {
		return 0, errors.NewDeliveryPermanentError(ChannelEmail, err)
	}
	input := awsclient.BuildEmailInput(h.config.FromEmail, recipient.Email, email.Subject, email.Text, email.HTML)
	return h.sendEmailWithRetry(ctx, input)
}

func (h *Handler) templateData(ctx context.Context, n *models.Notification, recipient *models.User) TemplateData {
	data := TemplateData{
		RecipientName: recipient.DisplayName(),
		ProfileURL:    h.deps.Notifications.AssociatedProfileURL(ctx, n),
	}

	switch n.Type {
	case models.TypeUpdate:
		data.StartupName = h.startupName(ctx, n)
	case models.TypeMessage:
		data.SenderName = h.senderName(ctx, n)
	}
	return data
}

func (h *Handler) startupName(ctx context.Context, n *models.Notification) string {
	startupID := n.StartupID
	if startupID == nil && n.ProjectID != nil {
		project, err := h.deps.Profiles.GetProject(ctx, *n.ProjectID)
		if err == nil && project != nil {
			startupID = &project.StartupID
		}
	}
	if startupID == nil {
		return ""
	}
	startup, err := h.deps.Profiles.GetStartup(ctx, *startupID)
	if err != nil || startup == nil {
		return ""
	}
	return startup.Name
}

func (h *Handler) senderName(ctx context.Context, n *models.Notification) string {
	if n.MessageID == nil || h.deps.Messages == nil {
		return ""
	}
	msg, err := h.deps.Messages.GetMessageByID(ctx, *n.MessageID)
	if err != nil || msg == nil {
		return ""
	}
	sender, err := h.deps.Users.ResolveUser(ctx, msg.SenderID)
	if err != nil || sender == nil {
		return ""
	}
	return sender.DisplayName()
}
