package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationType values match the persisted integers.
type NotificationType int16

const (
	TypeFollow  NotificationType = 1
	TypeMessage NotificationType = 2
	TypeUpdate  NotificationType = 3
)

var notificationTypeNames = map[NotificationType]string{
	TypeFollow:  "FOLLOW",
	TypeMessage: "MESSAGE",
	TypeUpdate:  "UPDATE",
}

// AllNotificationTypes lists every type in persisted order.
var AllNotificationTypes = []NotificationType{TypeFollow, TypeMessage, TypeUpdate}

func (t NotificationType) String() string {
	if name, ok := notificationTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NotificationType(%d)", int16(t))
}

func (t NotificationType) Valid() bool {
	_, ok := notificationTypeNames[t]
	return ok
}

func (t NotificationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *NotificationType) UnmarshalJSON(data []byte) error {
	parsed, err := parseEnum(data, ParseNotificationType)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseNotificationType accepts a name ("follow", "FOLLOW") or the integer value.
func ParseNotificationType(s string) (NotificationType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		t := NotificationType(n)
		if t.Valid() {
			return t, nil
		}
	}
	for t, name := range notificationTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown notification type %q", s)
}

// NotificationStatus is the read state; values match the persisted integers.
type NotificationStatus int16

const (
	StatusUnread NotificationStatus = 0
	StatusRead   NotificationStatus = 1
)

func (s NotificationStatus) String() string {
	switch s {
	case StatusUnread:
		return "UNREAD"
	case StatusRead:
		return "READ"
	default:
		return fmt.Sprintf("NotificationStatus(%d)", int16(s))
	}
}

func (s NotificationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *NotificationStatus) UnmarshalJSON(data []byte) error {
	parsed, err := parseEnum(data, ParseNotificationStatus)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "0", "UNREAD":
		return StatusUnread, nil
	case "1", "READ":
		return StatusRead, nil
	default:
		return 0, fmt.Errorf("unknown notification status %q", s)
	}
}

// DeliveryStatus tracks the dispatch outcome. PENDING is stored as NULL.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return DeliveryPending, nil
	case "1", "SENT":
		return DeliverySent, nil
	case "0", "FAILED":
		return DeliveryFailed, nil
	default:
		return "", fmt.Errorf("unknown delivery status %q", s)
	}
}

// Notification is one persisted notification record.
type Notification struct {
	ID             int64              `json:"id"`
	Type           NotificationType   `json:"notification_type"`
	Status         NotificationStatus `json:"status"`
	InvestorID     *int64             `json:"investor,omitempty"`
	StartupID      *int64             `json:"startup,omitempty"`
	ProjectID      *int64             `json:"project,omitempty"`
	MessageID      *string            `json:"message_id,omitempty"`
	RecipientID    *int64             `json:"recipient_user_id,omitempty"`
	DeliveryStatus DeliveryStatus     `json:"delivery_status"`
	CreatedAt      time.Time          `json:"created_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	ReadAt         *time.Time         `json:"read_at,omitempty"`
}

// NewNotification is the input for creating a record.
type NewNotification struct {
	Type       NotificationType
	InvestorID *int64
	StartupID  *int64
	ProjectID  *int64
	MessageID  *string
}

// Validate checks that the references required by the type are present.
func (n NewNotification) Validate() error {
	switch n.Type {
	case TypeFollow:
		if n.InvestorID == nil || n.StartupID == nil {
			return fmt.Errorf("FOLLOW requires investor and startup")
		}
	case TypeUpdate:
		if n.InvestorID == nil || (n.StartupID == nil && n.ProjectID == nil) {
			return fmt.Errorf("UPDATE requires investor and startup or project")
		}
	case TypeMessage:
		if n.MessageID == nil || *n.MessageID == "" {
			return fmt.Errorf("MESSAGE requires message id")
		}
	default:
		return fmt.Errorf("unknown notification type %d", int16(n.Type))
	}
	return nil
}

// Preference is the per-channel opt-in for one (user, role, type).
type Preference struct {
	UserID int64            `json:"user_id"`
	Role   string           `json:"role"`
	Type   NotificationType `json:"notification_type"`
	Email  bool             `json:"email"`
	InApp  bool             `json:"in_app"`
}

func parseEnum[T any](data []byte, parse func(string) (T, error)) (T, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		var zero T
		return zero, err
	}
	switch v := raw.(type) {
	case string:
		return parse(v)
	case float64:
		return parse(strconv.Itoa(int(v)))
	default:
		var zero T
		return zero, fmt.Errorf("unsupported enum value %s", string(data))
	}
}
