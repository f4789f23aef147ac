// Package gateway streams signals to WebSocket subscribers. Signals reach the
// hub either directly (the hub is a model.SignalSink) or through the Redis
// pub:signal:* channels when scanner and API run as separate processes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kama-scannerv1/internal/logger"
	"kama-scannerv1/internal/model"
	redisstore "kama-scannerv1/internal/store/redis"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and signal fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // by channel
	seq     int64

	replay *ReplayBuffer
	log    *slog.Logger

	// OnClientCount is called with the new count after a client joins or leaves.
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a hub keeping replaySize envelopes for reconnect catch-up.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(replaySize),
		log:     logger.Component("gateway"),
	}
}

// Name implements model.SignalSink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements model.SignalSink by broadcasting on the signal's channel.
func (h *Hub) Publish(ctx context.Context, sig model.Signal) error {
	data, err := sig.MarshalJSON()
	if err != nil {
		return err
	}
	h.Broadcast(redisstore.ChannelKey(sig.Symbol), data)
	return nil
}

// ServeWS upgrades the request and registers the client.
//
// Query parameters:
//
//	symbols=TCS,INFY  only receive these symbols (default: all)
//	since=<seq>       replay buffered envelopes with seq > since
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	var symbols []string
	if s := r.URL.Query().Get("symbols"); s != "" {
		for _, sym := range strings.Split(s, ",") {
			if sym = strings.TrimSpace(strings.ToUpper(sym)); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	}
	since := int64(-1)
	if s := r.URL.Query().Get("since"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = v
		}
	}

	h.Register(conn, symbols, since)
}

// Register adds an upgraded connection. Initial state (latest envelope per
// channel, or the replay since the given seq when since >= 0) is queued
// before the client becomes visible to Broadcast.
func (h *Hub) Register(conn *websocket.Conn, symbols []string, since int64) {
	client := newClient(conn, h, symbols)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	if since >= 0 {
		for _, e := range h.replay.Since(since) {
			if client.wants(e.Channel) {
				client.queue(e.Data)
			}
		}
	} else {
		for channel, entry := range h.latest {
			if client.wants(channel) {
				client.queue(initialEnvelope(channel, entry))
			}
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count, "symbols", symbols)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)

	h.log.Info("ws client disconnected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the most recent payload per channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func initialEnvelope(channel string, e latestEntry) []byte {
	b, _ := json.Marshal(map[string]any{
		"channel": channel,
		"data":    e.Data,
		"ts":      e.TS.Format(time.RFC3339Nano),
		"seq":     e.Seq,
		"initial": true,
	})
	return b
}
