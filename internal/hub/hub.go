// Package hub fans live frames out to websocket connections grouped by room
// or by user, and relays broadcasts between instances through Redis pub/sub.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/metrics"
)

const DefaultRelayChannel = "comms:broadcast"

const (
	defaultRelayBackoff    = time.Second
	defaultRelayMaxBackoff = 30 * time.Second
)

// envelope is the relay wire format.
type envelope struct {
	Origin  string          `json:"origin"`
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

type sequencer struct {
	mu   sync.Mutex
	refs int
}

// Hub owns every group on this instance. Join, Leave and local delivery
// are serialised by one RWMutex so a leaving connection never receives a
// frame after Leave returns.
type Hub struct {
	id      string
	rdb     *redis.Client
	channel string
	logger  logger.Logger

	relayBackoff    time.Duration
	relayMaxBackoff time.Duration

	mu     sync.RWMutex
	groups map[string]map[*Conn]struct{}

	seqMu sync.Mutex
	seqs  map[string]*sequencer
}

// NewHub creates a hub. rdb may be nil for a single-instance deployment.
func NewHub(rdb *redis.Client, channel string, log logger.Logger) *Hub {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Hub{
		id:      uuid.NewString(),
		rdb:     rdb,
		channel: channel,
		logger:  logger.ForComponent(log, "hub"),
		groups:  make(map[string]map[*Conn]struct{}),
		seqs:    make(map[string]*sequencer),

		relayBackoff:    defaultRelayBackoff,
		relayMaxBackoff: defaultRelayMaxBackoff,
	}
}

// ID identifies this instance on the relay.
func (h *Hub) ID() string {
	return h.id
}

func groupKind(group string) string {
	if strings.HasPrefix(group, "notifications:") {
		return "notifications"
	}
	return "chat"
}

func (h *Hub) Join(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Conn]struct{})
		h.groups[group] = members
	}
	if _, exists := members[c]; exists {
		return
	}
	members[c] = struct{}{}
	c.group = group
	c.setState(StateJoined)
	metrics.HubConnections.WithLabelValues(groupKind(group)).Inc()
}

// Leave removes c from group and closes its send buffer. It is safe to call
// more than once.
func (h *Hub) Leave(group string, c *Conn) {
	h.mu.Lock()
	members, ok := h.groups[group]
	_, present := members[c]
	if ok && present {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
		metrics.HubConnections.WithLabelValues(groupKind(group)).Dec()
	}
	h.mu.Unlock()

	if present {
		c.closeSend()
	}
}

// Members returns the number of local connections in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Broadcast delivers payload to every local member of group and publishes
// it on the relay for other instances.
func (h *Hub) Broadcast(ctx context.Context, group string, payload []byte) error {
	h.deliver(group, payload, "local")

	if h.rdb == nil {
		return nil
	}
	data, err := json.Marshal(envelope{Origin: h.id, Group: group, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := h.rdb.Publish(ctx, h.channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay: %w", err)
	}
	return nil
}

func (h *Hub) deliver(group string, payload []byte, origin string) {
	var slow []*Conn

	h.mu.RLock()
	for c := range h.groups[group] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	metrics.HubBroadcasts.WithLabelValues(groupKind(group), origin).Inc()

	for _, c := range slow {
		metrics.HubDroppedConnections.Inc()
		h.logger.Warn("send buffer full, dropping connection", map[string]interface{}{
			"group":  group,
			"userId": c.userID,
		})
		h.Leave(group, c)
	}
}

// Sequence runs fn while holding the group's lock, so persist-then-broadcast
// for one room happens in completion order. Different groups never block
// each other.
func (h *Hub) Sequence(group string, fn func() error) error {
	h.seqMu.Lock()
	s, ok := h.seqs[group]
	if !ok {
		s = &sequencer{}
		h.seqs[group] = s
	}
	s.refs++
	h.seqMu.Unlock()

	defer func() {
		h.seqMu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(h.seqs, group)
		}
		h.seqMu.Unlock()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Run consumes the relay until ctx is cancelled. Frames this instance
// published are skipped since they were already delivered locally. A failed
// subscription is retried with doubling backoff, so a Redis outage at
// startup only delays the relay.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		<-ctx.Done()
		return nil
	}

	delay := h.relayBackoff
	for {
		subscribed, err := h.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = h.relayBackoff
		}
		h.logger.Warn("relay subscription lost, retrying...", map[string]interface{}{
			"channel":     h.channel,
			"error":       fmt.Sprint(err),
			"nextRetryIn": delay.String(),
		})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay *= 2
		if delay > h.relayMaxBackoff {
			delay = h.relayMaxBackoff
		}
	}
}

// consume runs one subscription. It reports whether the subscribe succeeded.
func (h *Hub) consume(ctx context.Context) (bool, error) {
	pubsub := h.rdb.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", h.channel, err)
	}
	h.logger.Info("relay subscribed", map[string]interface{}{
		"channel":  h.channel,
		"instance": h.id,
	})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, fmt.Errorf("relay channel %s closed", h.channel)
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("relay frame discarded", map[string]interface{}{"error": err.Error()})
				continue
			}
			if env.Origin == h.id {
				continue
			}
			h.deliver(env.Group, env.Payload, "relay")
		}
	}
}

// NotificationGroup names the per-user in-app channel.
func NotificationGroup(userID int64) string {
	return "notifications:" + strconv.FormatInt(userID, 10)
}
