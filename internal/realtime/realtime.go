// Package realtime implements the real-time broadcaster supplement
// described in spec §9's design note: the Index Engine emits events to
// a sink interface rather than holding a back-pointer to a
// broadcaster, and Broadcaster subscribes as that sink, fanning newly
// indexed batches out to connected websocket clients (e.g. a live-tail
// view).
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grepwise/grepwise/infrastructure/metrics"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected websocket subscriber.
type client struct {
	conn   *websocket.Conn
	send   chan []model.LogRecord
	source string // "" subscribes to every source
}

// Broadcaster fans indexed batches out to connected websocket clients.
// It implements index.Sink by structural typing: Emit(records).
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *obslog.Component
}

// New constructs an empty Broadcaster.
func New(log *obslog.Component) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// ServeHTTP upgrades the connection to a websocket and registers the
// caller as a subscriber, optionally filtered to a single source via
// the "source" query parameter.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if b.log != nil {
			b.log.Error(r.Context(), "websocket upgrade failed", err, nil)
		}
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []model.LogRecord, sendBuffer),
		source: r.URL.Query().Get("source"),
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.Global().SetRealtimeClientsConnected(count)

	go b.serve(c)
}

// serve drains c.send into the websocket connection until it's closed,
// then unregisters the client.
func (b *Broadcaster) serve(c *client) {
	defer b.unregister(c)
	defer c.conn.Close()

	// Detect client-initiated close without expecting any inbound traffic.
	go func() {
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				c.conn.Close()
				return
			}
		}
	}()

	for records := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(records); err != nil {
			return
		}
	}
}

func (b *Broadcaster) unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.Global().SetRealtimeClientsConnected(count)
}

// Emit satisfies index.Sink: it fans a newly-indexed batch out to
// every connected client, filtering by source when the client
// subscribed to one.
func (b *Broadcaster) Emit(records []model.LogRecord) {
	if len(records) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		matched := records
		if c.source != "" {
			matched = filterBySource(records, c.source)
			if len(matched) == 0 {
				continue
			}
		}
		select {
		case c.send <- matched:
			metrics.Global().RecordRealtimeMessageSent("grepwise", "queued")
		default:
			metrics.Global().RecordRealtimeMessageSent("grepwise", "dropped_slow_consumer")
		}
	}
}

func filterBySource(records []model.LogRecord, source string) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(records))
	for _, r := range records {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

// ClientCount returns the number of currently connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// StartHeartbeat periodically pings every connected client so
// intermediate proxies don't time out an idle connection; it runs
// until ctx is canceled.
func (b *Broadcaster) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ping()
		}
	}
}

func (b *Broadcaster) ping() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			c.conn.Close()
		}
	}
}
