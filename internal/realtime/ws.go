package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/notify-api/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 32
)

var errChannelClosed = errors.New("channel closed")

// wsChannel adapts a websocket connection to the hub's Channel
// interface. Writes go through a buffered queue drained by a single
// writer goroutine, per gorilla's one-writer rule.
type wsChannel struct {
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}
	once sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn: conn,
		send: make(chan Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) Send(env Envelope) error {
	select {
	case <-c.done:
		return errChannelClosed
	case c.send <- env:
		return nil
	default:
		// A full buffer means the client stopped draining; treat the
		// channel as broken rather than block the broadcaster.
		return errors.New("send buffer full")
	}
}

func (c *wsChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler upgrades HTTP requests to live notification channels bound
// to the hub.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is the reverse proxy's concern here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// ServeWS opens a channel for the authenticated user and blocks until
// the connection dies. A connection that stops answering pings hits
// the read deadline and is torn down through the same cleanup path as
// an explicit disconnect.
func (h *WSHandler) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	tenantID := c.Query("tenant_id")
	if userID == "" || tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and tenant_id are required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	ch := newWSChannel(conn)
	h.hub.Register(userID, tenantID, ch)
	defer func() {
		h.hub.Unregister(userID, tenantID, ch)
		ch.Close()
	}()

	go ch.writePump()

	ch.Send(Envelope{Type: TypeConnected, Timestamp: time.Now().UTC()})

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "user_id", userID, "error", err.Error())
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ch.Send(Envelope{Type: TypeError, Data: "invalid message", Timestamp: time.Now().UTC()})
			continue
		}
		// Application-level ping for clients that cannot use protocol
		// pings.
		if env.Type == TypePing {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			ch.Send(Envelope{Type: TypePong, Timestamp: time.Now().UTC()})
		}
	}
}
