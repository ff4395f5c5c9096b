package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"forum-comms/internal/chat"
	"forum-comms/internal/common/errors"
	"forum-comms/internal/models"
)

type createRoomRequest struct {
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
	Title      string `json:"title" validate:"max=200"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.deps.UserRooms.Handle(r.Context(), actor(r))
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []models.ChatRoom{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	room, err := s.deps.CreateRoom.Handle(r.Context(), &models.ChatRoom{
		Title:      req.Title,
		SenderID:   actor(r),
		ReceiverID: req.ReceiverID,
	})
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// participantRoom loads the room and checks the caller belongs to it. A room
// the caller cannot see is reported as not found.
func (s *Server) participantRoom(r *http.Request) (*models.ChatRoom, error) {
	roomID := chi.URLParam(r, "roomID")
	room, err := s.deps.Rooms.Summary(r.Context(), roomID)
	if err != nil {
		return nil, err
	}
	if room == nil || !room.HasParticipant(actor(r)) {
		return nil, errors.NewRoomNotFoundError(roomID)
	}
	return room, nil
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.participantRoom(r)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	room, err := s.participantRoom(r)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", chat.DefaultMessageLimit)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}

	filter := chat.MessageFilter{Offset: offset, Limit: limit}.Normalize()
	messages, err := s.deps.Messages.Handle(r.Context(), room.ID, filter)
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"offset":   filter.Offset,
		"limit":    filter.Limit,
	})
}

// sendMessage persists and then pushes the message to live room members in
// the same per-room order the websocket path uses.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	roomID := chi.URLParam(r, "roomID")
	ctx := r.Context()

	var view *models.MessageView
	send := func() error {
		var err error
		view, err = s.deps.SendMessage.Handle(ctx, actor(r), roomID, req.Content)
		if err != nil {
			return err
		}
		if s.deps.Live == nil {
			return nil
		}
		payload, err := json.Marshal(view)
		if err != nil {
			return err
		}
		if err := s.deps.Live.Broadcast(ctx, roomID, payload); err != nil {
			s.logger.Warn("live broadcast failed", map[string]interface{}{"roomId": roomID, "error": err.Error()})
		}
		return nil
	}

	var err error
	if s.deps.Live != nil {
		err = s.deps.Live.Sequence(roomID, send)
	} else {
		err = send()
	}
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.MarkRead.Handle(r.Context(), actor(r), chi.URLParam(r, "roomID"), chi.URLParam(r, "messageID"))
	if err != nil {
		s.errs.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
