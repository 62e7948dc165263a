package web

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64
	sendBuffer     = 32
)

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// readPump forwards the client's input to the event loop. When the client
// goes away every key is released.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		c.conn.Close()
		s.post(input{kind: ReleaseAll})
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return // connection closed
		}

		in, err := parseInput(msg)
		if err != nil {
			s.logger.Debug("ignoring message", slog.String("remote", c.remoteAddr), slog.Any("error", err))
			continue
		}

		if !s.post(in) {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			s.hub.remove(c)
			// drain until the hub closes send
			for range c.send {
			}
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
