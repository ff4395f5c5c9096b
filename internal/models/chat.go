package models

import "time"

// ChatRoom is a two-party conversation. SenderID is the participant who
// opened the room; ReceiverID is the other one.
type ChatRoom struct {
	ID         string    `json:"oid"`
	Title      string    `json:"title"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
	Messages   []Message `json:"messages,omitempty"`
}

// HasParticipant reports whether userID is one of the two participants.
func (r *ChatRoom) HasParticipant(userID int64) bool {
	return userID != 0 && (r.SenderID == userID || r.ReceiverID == userID)
}

// Counterpart returns the other participant for userID.
func (r *ChatRoom) Counterpart(userID int64) int64 {
	if r.SenderID == userID {
		return r.ReceiverID
	}
	return r.SenderID
}

// Message holds plaintext content in memory. DecryptErr is set instead of
// Content when the stored ciphertext could not be opened.
type Message struct {
	ID         string     `json:"oid"`
	RoomID     string     `json:"room_id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	DecryptErr error      `json:"-"`
}

// MessageView is the shape sent over the live channel and the command API.
type MessageView struct {
	ID         string     `json:"oid"`
	RoomID     string     `json:"room_id"`
	Content    string     `json:"content"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	CreatedAt  time.Time  `json:"created_at"`
	SenderName string     `json:"sender_name,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	Unreadable bool       `json:"unreadable,omitempty"`
}

// NewMessageView projects a stored message; senderName may be empty.
func NewMessageView(m Message, senderName string) MessageView {
	return MessageView{
		ID:         m.ID,
		RoomID:     m.RoomID,
		Content:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		CreatedAt:  m.CreatedAt,
		SenderName: senderName,
		ReadAt:     m.ReadAt,
		Unreadable: m.DecryptErr != nil,
	}
}
