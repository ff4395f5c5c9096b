package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorHandler translates errors into HTTP responses with a uniform envelope.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

type errorEnvelope struct {
	Error *StandardError `json:"error"`
}

// HTTPStatus maps an error code to the status returned to API clients.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeRoomNotFound, ErrCodeMessageNotFound, ErrCodeUserNotFound, ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case ErrCodeNotParticipant:
		return http.StatusForbidden
	case ErrCodeAuthRejected:
		return http.StatusUnauthorized
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeStore, ErrCodeDeliveryTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handle logs server-side failures and writes the error envelope.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	if status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("request failed", map[string]interface{}{
			"method":        r.Method,
			"path":          r.URL.Path,
			"errorCode":     string(stdErr.Code),
			"details":       stdErr.Details,
			"retryable":     stdErr.Retryable,
			"errorCategory": GetErrorCategory(stdErr.Code),
		})
	}

	// Internal details stay in the log.
	out := *stdErr
	if stdErr.Code == ErrCodeInternal || stdErr.Code == ErrCodeStore {
		out.Details = ""
	}
	WriteError(w, status, &out)
}

// WriteError writes err with the given status.
func WriteError(w http.ResponseWriter, status int, err *StandardError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}
