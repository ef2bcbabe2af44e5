package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msniranjan18/chit-call/pkg/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var ErrSocketClosed = errors.New("socket closed")

// Handler receives one inbound envelope. Handlers run on the read pump and
// must not block.
type Handler func(events.Envelope)

// Socket is the client side of the realtime connection.
type Socket struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[events.Type][]Handler
	any      []Handler

	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketURL turns an http(s) base URL into the /ws endpoint for token.
func WebSocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial connects to baseURL with token and starts the pumps. Register
// handlers with On before events arrive, or accept that early frames are
// dropped.
func Dial(ctx context.Context, baseURL, token string, logger *slog.Logger) (*Socket, error) {
	wsURL, err := WebSocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", baseURL, err)
	}

	s := &Socket{
		conn:     conn,
		send:     make(chan []byte, 64),
		logger:   logger,
		handlers: make(map[events.Type][]Handler),
		done:     make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	return s, nil
}

// On registers h for events of type t.
func (s *Socket) On(t events.Type, h Handler) {
	s.mu.Lock()
	s.handlers[t] = append(s.handlers[t], h)
	s.mu.Unlock()
}

// OnAny registers h for every inbound event.
func (s *Socket) OnAny(h Handler) {
	s.mu.Lock()
	s.any = append(s.any, h)
	s.mu.Unlock()
}

// Emit queues an event for the server. The server stamps the sender.
func (s *Socket) Emit(t events.Type, payload any) error {
	data, err := events.Encode(t, "", payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSocketClosed
	default:
		return fmt.Errorf("emit %s: send buffer full", t)
	}
}

func (s *Socket) Done() <-chan struct{} { return s.done }

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Socket) dispatch(env events.Envelope) {
	s.mu.RLock()
	handlers := append([]Handler(nil), s.handlers[env.Type]...)
	handlers = append(handlers, s.any...)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

func (s *Socket) readPump() {
	defer func() {
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Socket read error", "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}
		s.dispatch(env)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("Socket write error", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
