// Package chat persists encrypted chat rooms and messages and exposes the
// command and query handlers used by the API and the connection hub.
package chat

import (
	"context"
	"time"

	"forum-comms/internal/models"
)

// Store is the chat persistence capability. Lookups return nil, nil when the
// record does not exist. Content crosses this boundary only as plaintext;
// implementations own encryption.
type Store interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom) (string, error)
	FindRoomByPair(ctx context.Context, senderID, receiverID int64) (*models.ChatRoom, error)
	CreateMessage(ctx context.Context, roomID string, message *models.Message) (string, error)
	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetRoomSummary(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error)
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
	GetUserRooms(ctx context.Context, userID int64) ([]models.ChatRoom, error)
	MarkMessageRead(ctx context.Context, messageID string, at time.Time) (*models.Message, error)
}
