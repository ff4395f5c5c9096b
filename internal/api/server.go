// Package api serves the REST surface of the comms service: chat rooms and
// messages, notifications and preferences, domain-event ingest and health.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forum-comms/internal/chat"
	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/events"
	"forum-comms/internal/models"
	"forum-comms/internal/notification"
	"forum-comms/pkg/registry"
)

type RoomCreator interface {
	Handle(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error)
}

type RoomReader interface {
	Summary(ctx context.Context, roomID string) (*models.ChatRoom, error)
}

type UserRoomsReader interface {
	Handle(ctx context.Context, userID int64) ([]models.ChatRoom, error)
}

type MessageReader interface {
	Handle(ctx context.Context, roomID string, filter chat.MessageFilter) ([]models.MessageView, error)
}

type MessageSender interface {
	Handle(ctx context.Context, actorID int64, roomID, plaintext string) (*models.MessageView, error)
}

type ReadMarker interface {
	Handle(ctx context.Context, actorID int64, roomID, messageID string) (*models.MessageView, error)
}

// LiveBroadcaster pushes API-sent messages to connected room members.
type LiveBroadcaster interface {
	Sequence(group string, fn func() error) error
	Broadcast(ctx context.Context, group string, payload []byte) error
}

type Notifications interface {
	List(ctx context.Context, recipientID int64, f notification.Filter) ([]notification.View, error)
	Get(ctx context.Context, recipientID, id int64) (*notification.View, error)
	SetReadStatus(ctx context.Context, recipientID, id int64, status models.NotificationStatus) (*notification.View, error)
}

type Preferences interface {
	ListPreferences(ctx context.Context, userID int64) ([]models.Preference, error)
	UpsertPreference(ctx context.Context, p models.Preference) error
	EnsureRolePreferences(ctx context.Context, userID int64, role string, types []models.NotificationType) (int, error)
}

// UserCache forgets a user whose contact details changed upstream.
type UserCache interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Checker is a dependency probed by /ready.
type Checker interface {
	Ping(ctx context.Context) error
}

// WebSockets serves the live channels.
type WebSockets interface {
	ServeChat(w http.ResponseWriter, r *http.Request)
	ServeNotifications(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Auth          CredentialValidator
	CreateRoom    RoomCreator
	Rooms         RoomReader
	UserRooms     UserRoomsReader
	Messages      MessageReader
	SendMessage   MessageSender
	MarkRead      ReadMarker
	Live          LiveBroadcaster
	Notifications Notifications
	Preferences   Preferences
	Users         UserCache
	Policy        *registry.Policy
	Emitter       events.Emitter
	WebSockets    WebSockets
	Checks        map[string]Checker
	Version       string
}

type Server struct {
	deps   Deps
	errs   *errors.ErrorHandler
	logger logger.Logger
}

func NewServer(deps Deps, log logger.Logger) *Server {
	log = logger.ForComponent(log, "api")
	if deps.Policy == nil {
		deps.Policy = registry.DefaultPolicy()
	}
	return &Server{
		deps:   deps,
		errs:   errors.NewErrorHandler(log),
		logger: log,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	if s.deps.WebSockets != nil {
		// Websocket handlers authenticate during the handshake themselves.
		r.Get("/ws/chat/{roomID}", s.deps.WebSockets.ServeChat)
		r.Get("/ws/notifications", s.deps.WebSockets.ServeNotifications)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequestLogger(s.logger))
		r.Use(Authenticate(s.deps.Auth, s.errs))

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.listRooms)
			r.Post("/", s.createRoom)
			r.Get("/{roomID}", s.getRoom)
			r.Get("/{roomID}/messages", s.listMessages)
			r.Post("/{roomID}/messages", s.sendMessage)
			r.Post("/{roomID}/messages/{messageID}/read", s.markRead)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.listNotifications)
			r.Get("/{id}", s.getNotification)
			r.Patch("/{id}", s.patchNotification)
		})

		r.Get("/notification-preferences", s.listPreferences)
		r.Put("/notification-preferences/{role}/{type}", s.putPreference)

		r.Route("/events", func(r chi.Router) {
			r.Post("/investment-tracking", s.investmentTracking)
			r.Post("/profile-updates", s.profileUpdate)
			r.Post("/roles", s.roleAssigned)
			r.Post("/users", s.userUpdated)
		})
	})

	return r
}

// actor returns the authenticated user; Authenticate guarantees presence.
func actor(r *http.Request) int64 {
	id, _ := UserID(r.Context())
	return id
}
