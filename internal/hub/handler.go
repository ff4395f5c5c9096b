package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/metrics"
	"forum-comms/internal/common/validation"
	"forum-comms/internal/models"
)

const frameTimeout = 10 * time.Second

type CredentialValidator interface {
	ValidateCredential(token string) (int64, error)
}

// RoomReader returns a room without history, or nil when absent.
type RoomReader interface {
	Summary(ctx context.Context, roomID string) (*models.ChatRoom, error)
}

type MessageSender interface {
	Handle(ctx context.Context, actorID int64, roomID, plaintext string) (*models.MessageView, error)
}

// inboundFrame accepts both the legacy {message} and the {content} shape.
// Client-claimed sender and receiver ids are ignored.
type inboundFrame struct {
	Message *string `json:"message"`
	Content *string `json:"content"`
}

func (f inboundFrame) text() string {
	if f.Content != nil {
		return *f.Content
	}
	return lo.FromPtr(f.Message)
}

// Handler upgrades chat and notification connections.
type Handler struct {
	hub      *Hub
	auth     CredentialValidator
	rooms    RoomReader
	sender   MessageSender
	frames   *validation.Validator
	cfg      ConnConfig
	origins  []string
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewHandler(h *Hub, auth CredentialValidator, rooms RoomReader, sender MessageSender, frames *validation.Validator, cfg ConnConfig, allowedOrigins []string, log logger.Logger) *Handler {
	handler := &Handler{
		hub:     h,
		auth:    auth,
		rooms:   rooms,
		sender:  sender,
		frames:  frames,
		cfg:     cfg,
		origins: allowedOrigins,
		logger:  logger.ForComponent(log, "ws-handler"),
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     handler.checkOrigin,
	}
	return handler
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	return lo.Contains(h.origins, "*") || lo.Contains(h.origins, origin)
}

// credential reads ?token= first, then the Authorization header.
func credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return r.Header.Get("Authorization")
}

// reject answers with a bare 403. The body never says whether the room
// exists.
func (h *Handler) reject(w http.ResponseWriter, reason string, fields map[string]interface{}) {
	metrics.HandshakeRejections.WithLabelValues(reason).Inc()
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["reason"] = reason
	fields["state"] = StateRejected.String()
	h.logger.Info("websocket handshake rejected", fields)
	w.WriteHeader(http.StatusForbidden)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (int64, bool) {
	token := credential(r)
	if strings.TrimSpace(token) == "" {
		h.reject(w, "missing_credential", nil)
		return 0, false
	}
	userID, err := h.auth.ValidateCredential(token)
	if err != nil {
		h.reject(w, "invalid_credential", map[string]interface{}{"error": err.Error()})
		return 0, false
	}
	return userID, true
}

// ServeChat handles GET /ws/chat/{roomID}.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "roomID")
	room, err := h.rooms.Summary(r.Context(), roomID)
	if err != nil {
		h.reject(w, "room_lookup_failed", map[string]interface{}{"roomId": roomID, "error": err.Error()})
		return
	}
	if room == nil || !room.HasParticipant(userID) {
		h.reject(w, "not_participant", map[string]interface{}{"roomId": roomID, "userId": userID})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := newConn(h.hub, ws, userID, h.cfg)
	h.hub.Join(roomID, c)
	h.logger.Debug("chat connection joined", map[string]interface{}{"roomId": roomID, "userId": userID})

	go c.WritePump()
	c.ReadPump(func(data []byte) {
		h.handleFrame(c, roomID, data)
	})
}

func (h *Handler) handleFrame(c *Conn, roomID string, data []byte) {
	fields := map[string]interface{}{"roomId": roomID, "userId": c.userID}

	if h.frames != nil {
		if res := h.frames.ValidateBytes(data); !res.Valid {
			fields["errors"] = res.GetErrorMessages()
			h.logger.Warn("chat frame rejected", fields)
			return
		}
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		fields["error"] = err.Error()
		h.logger.Warn("chat frame rejected", fields)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	err := h.hub.Sequence(roomID, func() error {
		view, err := h.sender.Handle(ctx, c.userID, roomID, frame.text())
		if err != nil {
			return err
		}
		payload, err := json.Marshal(view)
		if err != nil {
			return err
		}
		if err := h.hub.Broadcast(ctx, roomID, payload); err != nil {
			h.logger.Warn("relay publish failed", map[string]interface{}{"roomId": roomID, "error": err.Error()})
		}
		return nil
	})
	if err != nil {
		fields["error"] = err.Error()
		fields["code"] = string(errors.Normalize(err).Code)
		h.logger.Warn("chat frame dropped", fields)
	}
}

// ServeNotifications handles GET /ws/notifications. The connection joins
// the caller's own notification group and only receives.
func (h *Handler) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := newConn(h.hub, ws, userID, h.cfg)
	h.hub.Join(NotificationGroup(userID), c)

	go c.WritePump()
	c.ReadPump(nil)
}
