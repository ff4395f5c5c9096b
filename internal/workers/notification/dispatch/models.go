package dispatch

import "forum-comms/internal/models"

// Outcome labels one processed event.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
	OutcomeDuplicate  = "duplicate"
	OutcomeRejected   = "rejected"
)

// Channel names used in logs and metrics.
const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
	ChannelPush  = "push"
)

// Output summarises one processed event.
type Output struct {
	NotificationID   int64  `json:"notificationId"`
	RecipientID      int64  `json:"recipientId,omitempty"`
	Status           string `json:"status"`
	EmailAttempts    int    `json:"emailAttempts,omitempty"`
	RetriesExhausted bool   `json:"retriesExhausted,omitempty"`
}

// InAppFrame is pushed to the recipient's notification group.
type InAppFrame struct {
	Notification *models.Notification `json:"notification"`
}
