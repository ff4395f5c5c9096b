// Package events defines the domain events that trigger notifications and
// the seam through which command handlers emit them.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forum-comms/internal/models"
)

// Event is a domain fact that may produce a notification. Key identifies the
// underlying fact so duplicates can be suppressed.
type Event struct {
	ID         string                  `json:"id"`
	Type       models.NotificationType `json:"type"`
	Key        string                  `json:"key"`
	InvestorID *int64                  `json:"investor_id,omitempty"`
	StartupID  *int64                  `json:"startup_id,omitempty"`
	ProjectID  *int64                  `json:"project_id,omitempty"`
	MessageID  *string                 `json:"message_id,omitempty"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// Emitter accepts events for asynchronous processing. Implementations must
// not block the caller beyond a bounded enqueue.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, event Event) error

func (f EmitterFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func newEvent(t models.NotificationType, key string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		OccurredAt: time.Now().UTC(),
	}
}

// MessageCreated is emitted after a chat message is persisted.
func MessageCreated(messageID string) Event {
	e := newEvent(models.TypeMessage, "message:"+messageID)
	e.MessageID = &messageID
	return e
}

// Followed is emitted when an investor starts tracking a startup.
func Followed(trackingID, investorID, startupID int64) Event {
	e := newEvent(models.TypeFollow, fmt.Sprintf("tracking:%d", trackingID))
	e.InvestorID = &investorID
	e.StartupID = &startupID
	return e
}

// ProfileUpdated is emitted for a startup profile or project update. The
// dispatcher fans it out to every tracking investor.
func ProfileUpdated(updateID string, startupID, projectID *int64) Event {
	e := newEvent(models.TypeUpdate, "update:"+updateID)
	e.StartupID = startupID
	e.ProjectID = projectID
	return e
}

// ForInvestor copies an UPDATE event for one recipient investor.
func (e Event) ForInvestor(investorID int64) Event {
	out := e
	out.InvestorID = &investorID
	out.Key = fmt.Sprintf("%s:investor:%d", e.Key, investorID)
	return out
}

// Notification converts the event into the store input.
func (e Event) Notification() models.NewNotification {
	return models.NewNotification{
		Type:       e.Type,
		InvestorID: e.InvestorID,
		StartupID:  e.StartupID,
		ProjectID:  e.ProjectID,
		MessageID:  e.MessageID,
	}
}
