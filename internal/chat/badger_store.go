package chat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"forum-comms/internal/common/crypto"
	"forum-comms/internal/common/errors"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/metrics"
	"forum-comms/internal/models"
)

const (
	roomPrefix     = "room:"
	messagePrefix  = "msg:"
	messageIDIndex = "msgid:"
	userRoomIndex  = "uroom:"
	pairIndex      = "pair:"
	sequenceKey    = "seq:messages"

	sequenceBandwidth = 1000
	maxTxnRetries     = 3
)

type roomDoc struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type messageDoc struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Ciphertext []byte     `json:"ciphertext"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// BadgerStore keeps rooms and messages in Badger.
//
// Keys:
//
//	room:<roomID>                -> roomDoc
//	msg:<roomID>:<seq, 20 digits> -> messageDoc
//	msgid:<messageID>            -> msg key
//	uroom:<userID>:<roomID>      -> empty
//	pair:<senderID>:<receiverID> -> roomID
//
// seq comes from one process-wide Badger sequence, so a room's messages
// iterate in the order they were written.
type BadgerStore struct {
	db     *badger.DB
	cipher *crypto.Cipher
	seq    *badger.Sequence
	logger logger.Logger
}

func NewBadgerStore(db *badger.DB, cipher *crypto.Cipher, log logger.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("acquire message sequence: %w", err)
	}
	return &BadgerStore{
		db:     db,
		cipher: cipher,
		seq:    seq,
		logger: logger.ForComponent(log, "chat-store"),
	}, nil
}

// Close releases unused sequence leases. It does not close the DB.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func roomKey(roomID string) []byte {
	return []byte(roomPrefix + roomID)
}

func messagesPrefix(roomID string) []byte {
	return []byte(messagePrefix + roomID + ":")
}

func messageKey(roomID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messagePrefix, roomID, seq))
}

func userRoomKey(userID int64, roomID string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", userRoomIndex, userID, roomID))
}

func pairKey(senderID, receiverID int64) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", pairIndex, senderID, receiverID))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// CreateRoom persists room and indexes it for both participants. When a room
// already exists for the same ordered pair, its id is returned instead.
func (s *BadgerStore) CreateRoom(ctx context.Context, room *models.ChatRoom) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewStoreError("create room", err)
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	doc := roomDoc{
		ID:         room.ID,
		Title:      room.Title,
		SenderID:   room.SenderID,
		ReceiverID: room.ReceiverID,
		CreatedAt:  room.CreatedAt,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", errors.NewStoreError("encode room", err)
	}

	roomID := room.ID
	err = s.update(func(txn *badger.Txn) error {
		pk := pairKey(room.SenderID, room.ReceiverID)
		item, err := txn.Get(pk)
		switch {
		case err == nil:
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			roomID = string(existing)
			return nil
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		roomID = room.ID
		if err := txn.Set(roomKey(room.ID), data); err != nil {
			return err
		}
		if err := txn.Set(pk, []byte(room.ID)); err != nil {
			return err
		}
		if err := txn.Set(userRoomKey(room.SenderID, room.ID), nil); err != nil {
			return err
		}
		return txn.Set(userRoomKey(room.ReceiverID, room.ID), nil)
	})
	if err != nil {
		return "", errors.NewStoreError("create room", err)
	}
	room.ID = roomID
	return roomID, nil
}

func (s *BadgerStore) FindRoomByPair(ctx context.Context, senderID, receiverID int64) (*models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("find room", err)
	}
	var room *models.ChatRoom
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(senderID, receiverID))
		if err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		roomID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		room, err = s.readRoom(txn, string(roomID))
		return err
	})
	if err != nil {
		return nil, errors.NewStoreError("find room", err)
	}
	return room, nil
}

// CreateMessage encrypts message.Content and appends it to the room.
func (s *BadgerStore) CreateMessage(ctx context.Context, roomID string, message *models.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewStoreError("create message", err)
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.RoomID = roomID

	sealed, err := s.cipher.Encrypt([]byte(message.Content), []byte(message.ID))
	if err != nil {
		return "", errors.NewStoreError("encrypt message", err)
	}
	data, err := json.Marshal(messageDoc{
		ID:         message.ID,
		RoomID:     roomID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Ciphertext: sealed,
		CreatedAt:  message.CreatedAt,
		ReadAt:     message.ReadAt,
	})
	if err != nil {
		return "", errors.NewStoreError("encode message", err)
	}

	seq, err := s.seq.Next()
	if err != nil {
		return "", errors.NewStoreError("next message sequence", err)
	}
	key := messageKey(roomID, seq)

	roomMissing := false
	err = s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(roomKey(roomID)); err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				roomMissing = true
				return nil
			}
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(messageIDIndex+message.ID), key)
	})
	if err != nil {
		return "", errors.NewStoreError("create message", err)
	}
	if roomMissing {
		return "", errors.NewRoomNotFoundError(roomID)
	}

	metrics.MessagesPersisted.Inc()
	return message.ID, nil
}

// GetRoom returns the room with every message decrypted.
func (s *BadgerStore) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	room, err := s.GetRoomSummary(ctx, roomID)
	if err != nil || room == nil {
		return room, err
	}
	messages, err := s.GetMessages(ctx, roomID, 0, 0)
	if err != nil {
		return nil, err
	}
	room.Messages = messages
	return room, nil
}

// GetRoomSummary returns the room without its messages.
func (s *BadgerStore) GetRoomSummary(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("get room", err)
	}
	var room *models.ChatRoom
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = s.readRoom(txn, roomID)
		return err
	})
	if err != nil {
		return nil, errors.NewStoreError("get room", err)
	}
	return room, nil
}

// GetMessages returns messages in write order. limit <= 0 means no limit.
func (s *BadgerStore) GetMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("get messages", err)
	}
	if offset < 0 {
		offset = 0
	}

	var docs []messageDoc
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagesPrefix(roomID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(docs) == limit {
				break
			}
			var doc messageDoc
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError("get messages", err)
	}

	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, s.open(doc))
	}
	return messages, nil
}

func (s *BadgerStore) GetMessageByID(ctx context.Context, messageID string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("get message", err)
	}
	var doc *messageDoc
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, _, err = readMessageDoc(txn, messageID)
		return err
	})
	if err != nil {
		return nil, errors.NewStoreError("get message", err)
	}
	if doc == nil {
		return nil, nil
	}
	message := s.open(*doc)
	return &message, nil
}

// GetUserRooms lists rooms where userID is a participant, oldest first.
func (s *BadgerStore) GetUserRooms(ctx context.Context, userID int64) ([]models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("get user rooms", err)
	}
	rooms := []models.ChatRoom{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("%s%d:", userRoomIndex, userID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			roomID := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			room, err := s.readRoom(txn, roomID)
			if err != nil {
				return err
			}
			if room != nil {
				rooms = append(rooms, *room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError("get user rooms", err)
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// MarkMessageRead stamps read_at once; later calls keep the first timestamp.
func (s *BadgerStore) MarkMessageRead(ctx context.Context, messageID string, at time.Time) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("mark message read", err)
	}
	var doc *messageDoc
	err := s.update(func(txn *badger.Txn) error {
		var key []byte
		var err error
		doc, key, err = readMessageDoc(txn, messageID)
		if err != nil || doc == nil || doc.ReadAt != nil {
			return err
		}
		stamped := at.UTC()
		doc.ReadAt = &stamped
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, errors.NewStoreError("mark message read", err)
	}
	if doc == nil {
		return nil, nil
	}
	message := s.open(*doc)
	return &message, nil
}

func (s *BadgerStore) readRoom(txn *badger.Txn, roomID string) (*models.ChatRoom, error) {
	item, err := txn.Get(roomKey(roomID))
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc roomDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, err
	}
	return &models.ChatRoom{
		ID:         doc.ID,
		Title:      doc.Title,
		SenderID:   doc.SenderID,
		ReceiverID: doc.ReceiverID,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

func readMessageDoc(txn *badger.Txn, messageID string) (*messageDoc, []byte, error) {
	ref, err := txn.Get([]byte(messageIDIndex + messageID))
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	key, err := ref.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	item, err := txn.Get(key)
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var doc messageDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, nil, err
	}
	return &doc, key, nil
}

// open decrypts a stored message. A failure is recorded on the message
// instead of aborting the caller's read.
func (s *BadgerStore) open(doc messageDoc) models.Message {
	message := models.Message{
		ID:         doc.ID,
		RoomID:     doc.RoomID,
		SenderID:   doc.SenderID,
		ReceiverID: doc.ReceiverID,
		CreatedAt:  doc.CreatedAt,
		ReadAt:     doc.ReadAt,
	}
	plaintext, err := s.cipher.Decrypt(doc.Ciphertext, []byte(doc.ID))
	if err != nil {
		metrics.MessageDecryptFailures.Inc()
		s.logger.Warn("message could not be decrypted", map[string]interface{}{
			"messageId": doc.ID,
			"roomId":    doc.RoomID,
		})
		message.DecryptErr = errors.NewDecryptionError(doc.ID, err)
		return message
	}
	message.Content = string(plaintext)
	return message
}
