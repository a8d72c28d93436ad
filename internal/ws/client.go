package ws

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// Client is one websocket log subscriber. A failed write tears the
// connection down; the hub drops the subscriber on the error return.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one frame to the connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
