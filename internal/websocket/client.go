package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client is one WebSocket connection bound to a session. Outbound
// delivery goes through a buffered channel so one slow connection never
// blocks fan-out to the others.
type Client struct {
	SessionID uuid.UUID
	UserID    uuid.UUID

	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	closeOnce sync.Once
}

func NewClient(sessionID, userID uuid.UUID, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, 256),
		logger:    logger,
	}
}

// enqueue hands a message to the write pump without blocking. Returns
// false when the client's buffer is full.
func (c *Client) enqueue(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump reads inbound frames until the connection drops. Pongs refresh
// the read deadline and count as liveness.
func (c *Client) ReadPump(onMessage func([]byte), onPong func(), onClose func()) {
	defer func() {
		c.conn.Close()
		onClose()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onPong != nil {
			onPong()
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("sessionId", c.SessionID.String()),
					zap.Error(err))
			}
			break
		}
		onMessage(message)
	}
}

// WritePump drains the send channel and keeps the connection alive with
// protocol-level pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
