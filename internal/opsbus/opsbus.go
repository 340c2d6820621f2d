// Package opsbus implements the operator alert bus (spec.md §4.9
// "Alerts ... the event loop delivers them outside the tick thread ...
// per-message 3x retry with exponential backoff"). It drains
// internal/autonomic.AlertQueue on its own ticker, pushes each alert to
// every connected operator WebSocket client, and retries a failed push
// with the same backoff.ExponentialBackOff pattern
// internal/mcpbridge/connect.go uses for server reconnects. Grounded on
// the teacher's internal/bus.EventPublisher (Subscribe/Unsubscribe/
// Broadcast) and internal/gateway/server.go's upgrader + registerClient/
// unregisterClient/BroadcastEvent client registry.
package opsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/machina/internal/autonomic"
)

// maxDeliverAttempts is the per-message retry budget spec.md §4.9 names
// ("per-message 3x retry with exponential backoff").
const maxDeliverAttempts = 3

const (
	writeWait      = 10 * time.Second
	clientSendSize = 32
)

// ErrNoClients means no operator dashboard is currently connected; this
// is treated as a retryable delivery failure rather than a drop, since
// an operator may connect mid-backoff.
var ErrNoClients = errors.New("opsbus: no connected clients")

// Bus fans out autonomic alerts to connected operator WebSocket clients.
type Bus struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	nextID  uint64
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewBus builds an operator bus. allowedOrigins mirrors
// config.GatewayConfig.AllowedOrigins; an empty list allows all origins
// (teacher's checkOrigin backward-compat default).
func NewBus(allowedOrigins []string) *Bus {
	b := &Bus{clients: make(map[string]*client)}
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(originSet) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || originSet[origin]
		},
	}
	return b
}

// ServeHTTP upgrades the request to a WebSocket and registers the caller
// as an operator alert subscriber until the connection closes.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("opsbus.upgrade_failed", "error", err)
		return
	}
	c := b.register(conn)
	defer b.unregister(c)
	c.pump(r.Context())
}

func (b *Bus) register(conn *websocket.Conn) *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &client{
		id:   fmt.Sprintf("ops-%d", b.nextID),
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}
	b.clients[c.id] = c
	slog.Info("opsbus.client_connected", "id", c.id)
	return c
}

func (b *Bus) unregister(c *client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
	close(c.send)
	c.conn.Close()
	slog.Info("opsbus.client_disconnected", "id", c.id)
}

// pump drains c.send to the socket until the connection closes or ctx is
// cancelled; a read goroutine detects client-initiated close frames.
func (c *client) pump(ctx context.Context) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// broadcast pushes payload to every connected client's send buffer,
// dropping (not blocking on) any client whose buffer is full. It reports
// ErrNoClients when nobody is connected so callers can retry delivery.
func (b *Bus) broadcast(payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.clients) == 0 {
		return ErrNoClients
	}
	for _, c := range b.clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("opsbus.client_send_buffer_full", "id", c.id)
		}
	}
	return nil
}

// Deliver pushes one alert to every connected client, retrying up to
// maxDeliverAttempts times with exponential backoff on failure (spec.md
// §4.9). Grounded on internal/mcpbridge/connect.go's tryReconnect use of
// backoff.NewExponentialBackOff + NextBackOff.
func (b *Bus) Deliver(ctx context.Context, alert autonomic.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("opsbus: marshal alert: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxDeliverAttempts; attempt++ {
		if err := b.broadcast(payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == maxDeliverAttempts-1 {
			break
		}
		wait := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("opsbus: alert delivery failed after %d attempts: %w", maxDeliverAttempts, lastErr)
}

// Run drains queue on pollInterval ticks and delivers everything found,
// outside the autonomic tick thread (spec.md §4.9 "The event loop
// delivers them outside the tick thread"). It returns when ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context, queue *autonomic.AlertQueue, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range queue.DrainAll() {
				if err := b.Deliver(ctx, alert); err != nil {
					slog.Warn("opsbus.alert_delivery_failed", "error", err, "message", alert.Message)
				}
			}
		}
	}
}

// ClientCount reports the number of connected operator clients (used by
// the status surface).
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
