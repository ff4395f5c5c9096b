package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
)

type ctxKey int

const userIDKey ctxKey = iota

type CredentialValidator interface {
	ValidateCredential(token string) (int64, error)
}

// UserID returns the authenticated user stored by Authenticate.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

func withUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// Authenticate requires a valid bearer token on every request.
func Authenticate(auth CredentialValidator, eh *errors.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				eh.Handle(w, r, errors.NewAuthRejectedError("missing bearer token"))
				return
			}
			userID, err := auth.ValidateCredential(header)
			if err != nil {
				eh.Handle(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}

// RequestLogger logs one line per request at debug, or warn for 5xx.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"durationMs": time.Since(start).Milliseconds(),
				"requestId":  middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("request completed", fields)
				return
			}
			log.Debug("request completed", fields)
		})
	}
}
