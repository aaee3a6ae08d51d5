package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tagstream/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	out    chan model.LocationUpdate
	once   sync.Once
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		}
		return
	}
	c := &Client{
		hub:    h,
		conn:   conn,
		remote: r.RemoteAddr,
		out:    make(chan model.LocationUpdate, 256),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

// send drops the update if the client's buffer is full; live consumers
// that fall behind reconcile from the persistence path, not from here.
func (c *Client) send(update model.LocationUpdate) {
	select {
	case c.out <- update:
	default:
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.out)
	})
}

// readPump only drains control frames; subscribers never send data.
func (c *Client) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case update, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(update); err != nil {
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
