package coordinator

import (
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pyshare/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live link to the hub. It carries no buffer state of its own.
type Client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ID returns the connection's opaque identity.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// ServeWs upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "coordinator stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(h.opts.AllowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("coordinator: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
	}
	if !h.join(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "coordinator stopped"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// readPump forwards edits to the hub. Frames that are not text or do not decode as
// an edit are skipped; the connection stays open.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	if c.hub.opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				glog.Infof("coordinator: client %s disconnected: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			glog.Warningf("coordinator: ignoring non-text frame from %s", c.id)
			continue
		}
		code, err := protocol.DecodeEdit(message)
		if err != nil {
			glog.Warningf("coordinator: ignoring frame from %s: %v", c.id, err)
			continue
		}
		if !c.hub.submitEdit(c, code) {
			return
		}
	}
}

// writePump is the only writer of data frames on the connection. A closed send
// channel means the hub dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.Infof("coordinator: write to %s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
