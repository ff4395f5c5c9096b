// Package errors provides the standardized error taxonomy shared by the chat
// command path, the connection hub and the notification pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeRoomNotFound         ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeMessageNotFound      ErrorCode = "MESSAGE_NOT_FOUND"
	ErrCodeUserNotFound         ErrorCode = "USER_NOT_FOUND"
	ErrCodeNotParticipant       ErrorCode = "NOT_PARTICIPANT"
	ErrCodeStore                ErrorCode = "STORE_ERROR"
	ErrCodeDecryptionFailed     ErrorCode = "DECRYPTION_FAILED"
	ErrCodeAuthRejected         ErrorCode = "AUTH_REJECTED"
	ErrCodeDeliveryTransient    ErrorCode = "DELIVERY_TRANSIENT"
	ErrCodeDeliveryPermanent    ErrorCode = "DELIVERY_PERMANENT"
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so the sentinels
// below work with errors.Is regardless of details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrRoomNotFound         = &StandardError{Code: ErrCodeRoomNotFound}
	ErrMessageNotFound      = &StandardError{Code: ErrCodeMessageNotFound}
	ErrUserNotFound         = &StandardError{Code: ErrCodeUserNotFound}
	ErrNotParticipant       = &StandardError{Code: ErrCodeNotParticipant}
	ErrStore                = &StandardError{Code: ErrCodeStore}
	ErrDecryption           = &StandardError{Code: ErrCodeDecryptionFailed}
	ErrAuthRejected         = &StandardError{Code: ErrCodeAuthRejected}
	ErrDeliveryTransient    = &StandardError{Code: ErrCodeDeliveryTransient}
	ErrDeliveryPermanent    = &StandardError{Code: ErrCodeDeliveryPermanent}
	ErrValidation           = &StandardError{Code: ErrCodeValidationFailed}
	ErrNotificationNotFound = &StandardError{Code: ErrCodeNotificationNotFound}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewRoomNotFoundError creates a non-retryable lookup error.
func NewRoomNotFoundError(roomID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRoomNotFound,
		Message:   "Chat room not found",
		Details:   fmt.Sprintf("roomId: %s", roomID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewMessageNotFoundError(messageID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMessageNotFound,
		Message:   "Chat message not found",
		Details:   fmt.Sprintf("messageId: %s", messageID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserNotFoundError creates a non-retryable lookup error.
func NewUserNotFoundError(userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeUserNotFound,
		Message:   "User not found",
		Details:   fmt.Sprintf("userId: %d", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotParticipantError(roomID string, userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotParticipant,
		Message:   "User is not a participant of the room",
		Details:   fmt.Sprintf("roomId: %s, userId: %d", roomID, userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreError wraps a transient persistence failure.
func NewStoreError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStore,
		Message:   "Persistence operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDecryptionError reports a single record that could not be decrypted.
func NewDecryptionError(recordID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDecryptionFailed,
		Message:   "Record could not be decrypted",
		Details:   fmt.Sprintf("recordId: %s, error: %s", recordID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewAuthRejectedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthRejected,
		Message:   "Authentication rejected",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryTransientError marks an email failure worth another attempt.
func NewDeliveryTransientError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryTransient,
		Message:   "Notification delivery failed transiently",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDeliveryPermanentError marks an email failure that must not be retried.
func NewDeliveryPermanentError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryPermanent,
		Message:   "Notification delivery failed permanently",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationNotFoundError(id int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationNotFound,
		Message:   "Notification not found",
		Details:   fmt.Sprintf("notificationId: %d", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification
// ==========================

// GetRetryCount returns how many attempts a failure with this code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDeliveryTransient, ErrCodeStore:
		return 3
	default:
		return 0
	}
}

// IsRetryable reports whether err is a StandardError flagged retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// GetErrorCategory groups codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "DELIVERY"):
		return "DELIVERY"
	case code == ErrCodeAuthRejected || code == ErrCodeNotParticipant:
		return "AUTH"
	case code == ErrCodeStore || code == ErrCodeDecryptionFailed:
		return "STORAGE"
	case strings.HasSuffix(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	case code == ErrCodeValidationFailed:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
