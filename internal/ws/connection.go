package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"schoolchat/internal/config"
	"schoolchat/pkg/types"
)

// Connection wraps one authenticated websocket session. All writes go
// through a single writer goroutine; SendEvent is safe from any
// goroutine. The connection id distinguishes this session from a later
// one authenticated as the same identity.
type Connection struct {
	id        string
	identity  types.Identity
	conn      *websocket.Conn
	cfg       *config.WebSocketConfig
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewConnection(wsConn *websocket.Conn, identity types.Identity, cfg *config.WebSocketConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.New().String(),
		identity: identity,
		conn:     wsConn,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ConnectionID() string { return c.id }

func (c *Connection) Identity() types.Identity { return c.identity }

// SendEvent marshals one event and queues it for the writer goroutine.
// A full queue for longer than the write timeout counts as a dead peer.
func (c *Connection) SendEvent(name string, payload any) error {
	evt, err := types.NewEvent(name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-time.After(c.cfg.WriteTimeout):
		return ErrSendTimeout
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// Close tears the session down. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	return nil
}
