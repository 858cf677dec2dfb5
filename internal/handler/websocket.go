package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"groupchat/internal/config"
	"groupchat/internal/engine"
	"groupchat/internal/errs"
	"groupchat/internal/model"
)

// createUpgrader creates a WebSocket upgrader that accepts the configured origins
func createUpgrader(cfg config.Config) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if !cfg.OriginAllowed(origin) {
				log.Printf("[WebSocket] ❌ Forbidden origin: %q", origin)
				return false
			}
			return true
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := createUpgrader(h.Config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := newClient(conn, h.Config.SendBuffer, h.Config.PingInterval)
	session := h.Engine.Connect(c)
	go c.writePump()

	log.Printf("[WebSocket] New connection %s from %s", c.id, r.RemoteAddr)
	defer func() {
		h.Engine.Disconnect(session)
		c.close()
		log.Printf("[WebSocket] Client %s disconnected. Online: %d", c.id, h.Engine.OnlineCount())
	}()

	conn.SetReadLimit(maxFrameSize)
	h.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		h.extendReadDeadline(conn)
		return nil
	})

	// A started mutation always runs to completion.
	ctx := context.WithoutCancel(r.Context())

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] ❌ Read from %s failed: %v", c.id, err)
			}
			return
		}
		h.extendReadDeadline(conn)

		ev, err := engine.ParseEvent(raw)
		if err == nil {
			err = h.Engine.Handle(ctx, session, ev)
		}
		if err != nil {
			log.Printf("[WebSocket] ❌ Rejected frame from %s: %v", c.id, err)
			reject(c, err)
			if errors.Is(err, errs.ErrSessionClosed) {
				c.closeGracefully()
				return
			}
			continue
		}

		if _, ok := ev.(engine.Logout); ok {
			log.Printf("[WebSocket] %s logged out", c.id)
			c.closeGracefully()
			return
		}
	}
}

func (h *Handler) extendReadDeadline(conn *websocket.Conn) {
	if h.Config.PongWait <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(h.Config.PongWait))
}

// reject tells the originating connection why its frame was refused.
// Internal failures are reported without detail.
func reject(c *client, err error) {
	reason := "internal error"
	if errs.IsClientError(err) {
		reason = err.Error()
	}
	frame, merr := json.Marshal(model.Frame{Type: model.TypeError, Data: model.ErrorPayload{Reason: reason}})
	if merr != nil {
		return
	}
	if err := c.Enqueue(frame); err != nil {
		log.Printf("[WebSocket] Could not report error to %s: %v", c.id, err)
	}
}
