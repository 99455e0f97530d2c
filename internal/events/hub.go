// Package events fans ambient suggestions out to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ambient/internal/triage"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingEvery    = pongWait * 9 / 10
)

type subscriber struct {
	conn *websocket.Conn
	addr string
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Hub keeps the most recent suggestion and streams new ones to every
// connected subscriber. Subscribers that fall behind are disconnected.
type Hub struct {
	logger   log.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest *triage.Suggestion
	closed bool
}

// NewHub creates a Hub. Cross-origin browser connections are rejected by the
// upgrader's default origin check.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish implements triage.Publisher.
func (h *Hub) Publish(ctx context.Context, s *triage.Suggestion) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal suggestion: %w", err)
	}

	h.mu.Lock()
	cp := *s
	h.latest = &cp
	var slow []*subscriber
	for sub := range h.subs {
		select {
		case sub.send <- b:
		default:
			slow = append(slow, sub)
			delete(h.subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logger.Warn(ctx, "dropping slow suggestion subscriber", "remote_addr", sub.addr)
		sub.close()
	}
	return nil
}

// Latest returns the most recently published suggestion.
func (h *Hub) Latest() (*triage.Suggestion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return nil, false
	}
	cp := *h.latest
	return &cp, true
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams suggestions until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info(r.Context(), "suggestion subscriber connected", "remote_addr", sub.addr)

	go h.writeLoop(sub)
	h.readLoop(sub)

	h.remove(sub)
	h.logger.Info(context.Background(), "suggestion subscriber disconnected", "remote_addr", sub.addr)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	clear(h.subs)
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		sub.close()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// readLoop discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn(context.Background(), "suggestion subscriber read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-sub.done:
			return
		case b := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				sub.close()
				return
			}
		case <-ping.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				sub.close()
				return
			}
		}
	}
}
