package web

import (
	"context"
	"log/slog"
)

// hub owns the set of connected clients and fans messages out to them.
type hub struct {
	clients map[*client]bool

	register, unregister chan *client
	broadcast            chan []byte

	// greeting returns the messages a client receives when it joins
	greeting func() [][]byte

	done   <-chan struct{}
	logger *slog.Logger
}

func newHub(ctx context.Context, greeting func() [][]byte, logger *slog.Logger) *hub {
	h := &hub{
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		greeting:   greeting,
		done:       ctx.Done(),
		logger:     logger,
	}

	go h.run()

	return h
}

func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			for _, msg := range h.greeting() {
				c.send <- msg
			}
			h.logger.Info("client connected", slog.String("remote", c.remoteAddr), slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("client disconnected", slog.String("remote", c.remoteAddr), slog.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// too slow to keep up
					h.drop(c)
				}
			}
		}
	}
}

func (h *hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) send(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}
