// Package web runs a program behind an HTTP server and plays it in the
// browser. The page streams keydown and keyup events over a WebSocket and
// receives frames and beeps back.
package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/gorilla/websocket"

	"chip8harness/chip8"
	"chip8harness/chip8/display"
	"chip8harness/config"
	"chip8harness/keypad"
	"chip8harness/loader"
)

//go:embed static/index.html
var indexHTML []byte

// Server is the frame sink, beeper and input source of one machine.
type Server struct {
	hub      *hub
	input    chan input
	done     <-chan struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu        sync.Mutex
	last      [display.PackedSize]byte
	lastHash  uint64
	haveFrame bool
}

// NewServer returns a Server whose client hub lives until ctx is done.
func NewServer(ctx context.Context, logger *slog.Logger) *Server {
	s := &Server{
		input:  make(chan input, 64),
		done:   ctx.Done(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
		},
	}
	s.hub = newHub(ctx, s.greeting, logger)

	return s
}

// Handler serves the page at / and the WebSocket at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", slog.Any("error", err))
			return
		}

		c := &client{
			conn:       conn,
			send:       make(chan []byte, sendBuffer),
			remoteAddr: r.RemoteAddr,
		}

		if !s.hub.add(c) {
			conn.Close()
			return
		}

		go s.writePump(c)
		go s.readPump(c)
	})

	return mux
}

func (s *Server) greeting() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := [][]byte{{Hello}}
	if s.haveFrame {
		msgs = append(msgs, frameMessage(s.last))
	}
	return msgs
}

// Draw sends frame to every client unless it equals the previous frame.
func (s *Server) Draw(frame display.Frame) error {
	packed := display.Pack(frame)
	sum := xxhash.Sum64(packed[:])

	s.mu.Lock()
	if s.haveFrame && sum == s.lastHash && packed == s.last {
		s.mu.Unlock()
		return nil
	}
	s.last, s.lastHash, s.haveFrame = packed, sum, true
	s.mu.Unlock()

	s.hub.send(frameMessage(packed))

	return nil
}

// Beep asks every client to play the tone for d.
func (s *Server) Beep(d time.Duration) {
	s.hub.send(beepMessage(d))
}

func (s *Server) post(in input) bool {
	select {
	case s.input <- in:
		return true
	case <-s.done:
		return false
	}
}

// inputs delivers client input in arrival order.
func (s *Server) inputs() <-chan input {
	return s.input
}

// Run loads the program at cfg.Location and serves it on cfg.Addr until
// ctx is done or the machine halts.
func Run(ctx context.Context, cfg config.Config, fetcher loader.Fetcher, logger *slog.Logger) error {
	mode, err := cfg.ReleaseMode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := NewServer(ctx, logger)

	machine := chip8.New(s, s,
		chip8.WithCyclesPerSecond(cfg.CyclesPerSecond),
		chip8.WithLogger(logger))
	defer machine.Stop()

	if err := loader.LoadAndStart(ctx, fetcher, cfg.Location, machine,
		loader.WithLogger(logger), loader.WithTimeout(cfg.Timeout)); err != nil {
		return err
	}

	keys := keypad.New(machine, keypad.WithReleaseMode(mode), keypad.WithLogger(logger))

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("serving", slog.String("url", "http://"+ln.Addr().String()+"/"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-machine.Done():
			return machine.Err()
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case in := <-s.inputs():
			if err := in.apply(keys); err != nil {
				return fmt.Errorf("failed to update keys: %w", err)
			}
		}
	}
}
