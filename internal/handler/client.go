package handler

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"groupchat/internal/errs"
)

const (
	// 1フレームの書き込みに許す時間
	writeWait = 10 * time.Second
	// クライアントから受け付ける最大フレームサイズ
	maxFrameSize = 1 << 20
)

// client is one WebSocket connection. Frames are queued on send and written
// in order by writePump, the only goroutine that writes to conn.
type client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	graceful     atomic.Bool
	pingInterval time.Duration
}

func newClient(conn *websocket.Conn, buffer int, pingInterval time.Duration) *client {
	return &client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
}

func (c *client) ID() string { return c.id }

// Enqueue never blocks. A closed connection rejects the frame. A full queue
// rejects it too and closes the connection, whose read loop then unregisters
// it like any other disconnect.
func (c *client) Enqueue(frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection %s is closed", errs.ErrTransport, c.id)
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		log.Printf("[WebSocket] ❌ Send queue of %s is full, closing", c.id)
		c.close()
		return fmt.Errorf("%w: send queue of %s is full", errs.ErrTransport, c.id)
	}
}

// close drops whatever is still queued and closes the socket.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closeGracefully delivers what is already queued, then sends a close frame.
func (c *client) closeGracefully() {
	c.graceful.Store(true)
	c.close()
}

func (c *client) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		default:
		}

		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame, time.Now().Add(writeWait)); err != nil {
				log.Printf("[WebSocket] ❌ Write to %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-tick:
			if err := c.write(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Printf("[WebSocket] ❌ Ping to %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-c.done:
			c.shutdown()
			return
		}
	}
}

func (c *client) shutdown() {
	if !c.graceful.Load() {
		return
	}
	deadline := time.Now().Add(writeWait)
	c.flush(deadline)
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// flush writes what is still queued before deadline.
func (c *client) flush(deadline time.Time) {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame, deadline); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
