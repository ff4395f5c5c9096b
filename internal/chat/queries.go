package chat

import (
	"context"

	"github.com/samber/lo"

	"forum-comms/internal/models"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

// ChatRoomQuery reads a single room. Absent rooms yield nil, nil.
type ChatRoomQuery struct {
	store Store
}

func NewChatRoomQuery(store Store) *ChatRoomQuery {
	return &ChatRoomQuery{store: store}
}

// Handle returns the room with its decrypted history.
func (q *ChatRoomQuery) Handle(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	return q.store.GetRoom(ctx, roomID)
}

// Summary returns the room without messages; used for authorization checks.
func (q *ChatRoomQuery) Summary(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	return q.store.GetRoomSummary(ctx, roomID)
}

type MessageFilter struct {
	Offset int
	Limit  int
}

// Normalize clamps the filter to sane pagination bounds.
func (f MessageFilter) Normalize() MessageFilter {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultMessageLimit
	}
	if f.Limit > MaxMessageLimit {
		f.Limit = MaxMessageLimit
	}
	return f
}

type MessageQuery struct {
	store Store
}

func NewMessageQuery(store Store) *MessageQuery {
	return &MessageQuery{store: store}
}

func (q *MessageQuery) Handle(ctx context.Context, roomID string, filter MessageFilter) ([]models.MessageView, error) {
	filter = filter.Normalize()
	messages, err := q.store.GetMessages(ctx, roomID, filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(m models.Message, _ int) models.MessageView {
		return models.NewMessageView(m, "")
	}), nil
}

type UserRoomsQuery struct {
	store Store
}

func NewUserRoomsQuery(store Store) *UserRoomsQuery {
	return &UserRoomsQuery{store: store}
}

func (q *UserRoomsQuery) Handle(ctx context.Context, userID int64) ([]models.ChatRoom, error) {
	return q.store.GetUserRooms(ctx, userID)
}
