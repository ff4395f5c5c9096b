package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"forum-comms/internal/common/config"
)

// ConnState tracks a connection through its handshake.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateJoined
	StateClosed
	StateRejected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateJoined:
		return "JOINED"
	case StateClosed:
		return "CLOSED"
	case StateRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// ConnConfig holds websocket timing and buffer limits.
type ConnConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (c ConnConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 16 * 1024,
		SendBuffer:     256,
	}
}

// LoadConnConfig reads the hub section, keeping defaults for unset values.
func LoadConnConfig(cfg config.HubConfig) ConnConfig {
	c := DefaultConnConfig()
	if cfg.WriteWait > 0 {
		c.WriteWait = config.GetDuration(cfg.WriteWait)
	}
	if cfg.PongWait > 0 {
		c.PongWait = config.GetDuration(cfg.PongWait)
	}
	if cfg.MaxMessageSize > 0 {
		c.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.SendBuffer > 0 {
		c.SendBuffer = cfg.SendBuffer
	}
	return c
}

// Conn is one websocket connection.
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	cfg    ConnConfig
	userID int64
	group  string
	state  atomic.Int32
	once   sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, userID int64, cfg ConnConfig) *Conn {
	c := &Conn{
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, cfg.SendBuffer),
		cfg:    cfg,
		userID: userID,
	}
	c.setState(StateAuthenticated)
	return c
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

func (c *Conn) UserID() int64 {
	return c.userID
}

func (c *Conn) closeSend() {
	c.once.Do(func() {
		close(c.send)
	})
}

// ReadPump reads frames until the peer goes away and hands each one to
// onFrame. It leaves the group on exit.
func (c *Conn) ReadPump(onFrame func(data []byte)) {
	defer func() {
		c.hub.Leave(c.group, c)
		c.setState(StateClosed)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if onFrame != nil {
			onFrame(data)
		}
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// pings. A closed buffer ends the connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)) //nolint:errcheck
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
