package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/events"
	"forum-comms/internal/models"
)

const tracerName = "forum-comms/chat"

// UserDirectory resolves platform users. ResolveUser returns nil, nil for an
// unknown id.
type UserDirectory interface {
	ResolveUser(ctx context.Context, userID int64) (*models.User, error)
}

// Notifier receives the notification trigger for a persisted message.
type Notifier interface {
	NotifyMessage(ctx context.Context, event events.Event) error
}

// EmitterNotifier forwards message triggers to an event emitter.
type EmitterNotifier struct {
	Emitter events.Emitter
}

func (n EmitterNotifier) NotifyMessage(ctx context.Context, event events.Event) error {
	return n.Emitter.Emit(ctx, event)
}

// ==========================
// Create chat
// ==========================

type CreateChatCommand struct {
	store  Store
	logger logger.Logger
}

func NewCreateChatCommand(store Store, log logger.Logger) *CreateChatCommand {
	return &CreateChatCommand{store: store, logger: logger.ForComponent(log, "create-chat")}
}

// Handle creates a room for (SenderID, ReceiverID) or returns the one that
// already exists for that ordered pair.
func (c *CreateChatCommand) Handle(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error) {
	if room.SenderID <= 0 || room.ReceiverID <= 0 {
		return nil, errors.NewValidationError("both participants are required")
	}
	if room.SenderID == room.ReceiverID {
		return nil, errors.NewValidationError("participants must be distinct")
	}

	existing, err := c.store.FindRoomByPair(ctx, room.SenderID, room.ReceiverID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	newID := room.ID
	roomID, err := c.store.CreateRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if roomID != newID {
		// Lost a race with a concurrent create for the same pair.
		return c.store.GetRoomSummary(ctx, roomID)
	}

	c.logger.Info("chat room created", map[string]interface{}{
		"roomId":     roomID,
		"senderId":   room.SenderID,
		"receiverId": room.ReceiverID,
	})
	return room, nil
}

// ==========================
// Create message
// ==========================

type CreateMessageCommand struct {
	store     Store
	directory UserDirectory
	notifier  Notifier
	logger    logger.Logger
	now       func() time.Time
}

func NewCreateMessageCommand(store Store, directory UserDirectory, notifier Notifier, log logger.Logger) *CreateMessageCommand {
	return &CreateMessageCommand{
		store:     store,
		directory: directory,
		notifier:  notifier,
		logger:    logger.ForComponent(log, "create-message"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle persists plaintext from actorID into roomID and fires the MESSAGE
// trigger before returning. The sender is always the actor; the receiver is
// the other participant.
func (c *CreateMessageCommand) Handle(ctx context.Context, actorID int64, roomID, plaintext string) (*models.MessageView, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chat.CreateMessageCommand")
	defer span.End()
	span.SetAttributes(attribute.String("room_id", roomID), attribute.Int64("actor_id", actorID))

	view, err := c.handle(ctx, actorID, roomID, plaintext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.Normalize(err).Code))
	}
	return view, err
}

func (c *CreateMessageCommand) handle(ctx context.Context, actorID int64, roomID, plaintext string) (*models.MessageView, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, errors.NewValidationError("message content is empty")
	}

	room, err := c.store.GetRoomSummary(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, errors.NewRoomNotFoundError(roomID)
	}
	if !room.HasParticipant(actorID) {
		return nil, errors.NewNotParticipantError(roomID, actorID)
	}

	senderID, receiverID := actorID, room.Counterpart(actorID)

	sender, err := c.directory.ResolveUser(ctx, senderID)
	if err != nil {
		return nil, errors.NewStoreError("resolve sender", err)
	}
	if sender == nil {
		return nil, errors.NewUserNotFoundError(senderID)
	}

	message := &models.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    plaintext,
		CreatedAt:  c.now(),
	}
	if _, err := c.store.CreateMessage(ctx, roomID, message); err != nil {
		return nil, err
	}

	if c.notifier != nil {
		if err := c.notifier.NotifyMessage(ctx, events.MessageCreated(message.ID)); err != nil {
			c.logger.Warn("message notification trigger failed", map[string]interface{}{
				"roomId":    roomID,
				"messageId": message.ID,
				"error":     err.Error(),
			})
		}
	}

	view := models.NewMessageView(*message, sender.DisplayName())
	return &view, nil
}

// ==========================
// Mark message read
// ==========================

type MarkMessageReadCommand struct {
	store Store
	now   func() time.Time
}

func NewMarkMessageReadCommand(store Store) *MarkMessageReadCommand {
	return &MarkMessageReadCommand{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Handle sets read_at on a message in roomID. Only the receiver may do this.
func (c *MarkMessageReadCommand) Handle(ctx context.Context, actorID int64, roomID, messageID string) (*models.MessageView, error) {
	message, err := c.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message == nil || message.RoomID != roomID {
		return nil, errors.NewMessageNotFoundError(messageID)
	}
	if message.ReceiverID != actorID {
		return nil, errors.NewNotParticipantError(roomID, actorID)
	}

	updated, err := c.store.MarkMessageRead(ctx, messageID, c.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, errors.NewMessageNotFoundError(messageID)
	}
	view := models.NewMessageView(*updated, "")
	return &view, nil
}
