// eventbus.go implements the real-time data (RTDS) event-bus client: a
// topic-based WebSocket feed distinct from the CLOB market/user channels in
// ws.go. Subscriptions are topic + type + an opaque server-interpreted
// filter string, tracked so they survive a reconnect. Unlike the CLOB feed's
// server-driven ping, this channel expects the client to send an app-level
// "ping" text frame on an interval.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// EventBusStatus is the connection lifecycle state reported to the status
// callback.
type EventBusStatus int

const (
	EventBusDisconnected EventBusStatus = iota
	EventBusConnecting
	EventBusConnected
)

func (s EventBusStatus) String() string {
	switch s {
	case EventBusConnecting:
		return "CONNECTING"
	case EventBusConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

const (
	defaultPingInterval  = 5 * time.Second
	eventBusMaxBackoff   = 300 * time.Second
	eventBusWriteTimeout = 10 * time.Second
	eventBusReadTimeout  = 90 * time.Second
	eventBusBufferSize   = 256
)

// EventBusStats is a point-in-time snapshot of connection health, exposed
// for metrics/diagnostics.
type EventBusStats struct {
	Connected        bool
	ConnectedAt      time.Time
	Uptime           time.Duration
	MessagesReceived uint64
	Reconnects       int
	BackoffAttempt   int
	LastPongAge      time.Duration
}

// EventBusClient is the real-time-data event-bus client. A single instance
// carries every topic subscription this process needs and re-subscribes to
// all of them on every reconnect.
type EventBusClient struct {
	url          string
	auth         *Auth
	pingInterval time.Duration
	logger       *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.RWMutex
	subs   map[string]types.Subscription

	messages chan json.RawMessage

	statusMu sync.Mutex
	status   EventBusStatus
	statusCb func(EventBusStatus)

	statsMu     sync.Mutex
	stats       EventBusStats
	lastPongAt  time.Time
	connectedAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEventBusClient creates a client pointed at the RTDS websocket URL. auth
// may be nil for topics that require no authentication.
func NewEventBusClient(url string, auth *Auth, logger *slog.Logger) *EventBusClient {
	return &EventBusClient{
		url:          url,
		auth:         auth,
		pingInterval: defaultPingInterval,
		logger:       logger.With("component", "event_bus"),
		subs:         make(map[string]types.Subscription),
		messages:     make(chan json.RawMessage, eventBusBufferSize),
		closed:       make(chan struct{}),
	}
}

// SetPingInterval overrides the app-level ping cadence. Must be called
// before Run.
func (e *EventBusClient) SetPingInterval(d time.Duration) {
	e.pingInterval = d
}

// OnStatusChange registers a callback invoked whenever the connection
// transitions between CONNECTING, CONNECTED, and DISCONNECTED.
func (e *EventBusClient) OnStatusChange(cb func(EventBusStatus)) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.statusCb = cb
}

func (e *EventBusClient) setStatus(s EventBusStatus) {
	e.statusMu.Lock()
	e.status = s
	cb := e.statusCb
	e.statusMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Messages returns the channel of raw inbound payloads; callers decode
// according to their own topic's schema.
func (e *EventBusClient) Messages() <-chan json.RawMessage {
	return e.messages
}

// Subscribe registers a topic subscription, tracked across reconnects. If
// the client is currently connected, the subscription is sent immediately.
func (e *EventBusClient) Subscribe(topic, subType, filters string) error {
	sub := types.Subscription{Topic: topic, Type: subType, Filters: filters}
	if e.auth != nil {
		sub.ClobAuth = e.auth.WSAuthPayload()
	}

	e.subsMu.Lock()
	e.subs[topic] = sub
	e.subsMu.Unlock()

	return e.writeSubscription(sub, "subscribe")
}

// Unsubscribe removes a topic subscription.
func (e *EventBusClient) Unsubscribe(topic string) error {
	e.subsMu.Lock()
	sub, ok := e.subs[topic]
	delete(e.subs, topic)
	e.subsMu.Unlock()

	if !ok {
		return nil
	}
	return e.writeSubscription(sub, "unsubscribe")
}

func (e *EventBusClient) writeSubscription(sub types.Subscription, action string) error {
	msg := map[string]any{
		"action":  action,
		"topic":   sub.Topic,
		"type":    sub.Type,
		"filters": sub.Filters,
	}
	if sub.ClobAuth != nil {
		msg["auth"] = sub.ClobAuth
	}
	return e.writeJSON(msg)
}

func (e *EventBusClient) resubscribeAll() error {
	e.subsMu.RLock()
	subs := make([]types.Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.subsMu.RUnlock()

	for _, s := range subs {
		if err := e.writeSubscription(s, "subscribe"); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of connection health.
func (e *EventBusClient) Stats() EventBusStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := e.stats
	if s.Connected {
		s.Uptime = time.Since(e.connectedAt)
	}
	if !e.lastPongAt.IsZero() {
		s.LastPongAge = time.Since(e.lastPongAt)
	}
	return s
}

// Close shuts the client down; Run returns shortly after.
func (e *EventBusClient) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.connMu.Unlock()
}

// Run connects and maintains the event-bus connection, re-subscribing to
// every tracked topic on each reconnect, until ctx is cancelled or Close is
// called. Backoff is min(2^attempts, 300s) seconds, reset to 0 attempts on
// every successful connect.
func (e *EventBusClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		default:
		}

		e.setStatus(EventBusConnecting)
		err := e.connectAndRead(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		default:
		}

		e.setStatus(EventBusDisconnected)
		e.statsMu.Lock()
		e.stats.Reconnects++
		e.statsMu.Unlock()

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > eventBusMaxBackoff || backoff <= 0 {
			backoff = eventBusMaxBackoff
		}
		attempt++

		e.statsMu.Lock()
		e.stats.BackoffAttempt = attempt
		e.statsMu.Unlock()

		e.logger.Warn("event bus disconnected, reconnecting", "error", err, "backoff", backoff, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return nil
		case <-time.After(backoff):
		}
	}
}

func (e *EventBusClient) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return clobtypes.NewStream(clobtypes.StreamSubKindConnectionError, "dial event bus", err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()
	defer func() {
		e.connMu.Lock()
		conn.Close()
		e.conn = nil
		e.connMu.Unlock()
	}()

	if err := e.resubscribeAll(); err != nil {
		return clobtypes.NewStream(clobtypes.StreamSubKindProtocolError, "resubscribe", err)
	}

	now := time.Now()
	e.statsMu.Lock()
	e.stats.Connected = true
	e.stats.BackoffAttempt = 0
	e.connectedAt = now
	e.lastPongAt = now
	e.statsMu.Unlock()
	defer func() {
		e.statsMu.Lock()
		e.stats.Connected = false
		e.statsMu.Unlock()
	}()

	e.setStatus(EventBusConnected)
	e.logger.Info("event bus connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go e.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(eventBusReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return clobtypes.NewStream(clobtypes.StreamSubKindConnectionError, "read", err)
		}

		if string(msg) == "pong" {
			e.statsMu.Lock()
			e.lastPongAt = time.Now()
			e.statsMu.Unlock()
			continue
		}

		e.statsMu.Lock()
		e.stats.MessagesReceived++
		e.statsMu.Unlock()

		select {
		case e.messages <- json.RawMessage(append([]byte(nil), msg...)):
		default:
			e.logger.Warn("event bus message channel full, dropping message")
		}
	}
}

func (e *EventBusClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.writeMessage(websocket.TextMessage, []byte("ping")); err != nil {
				e.logger.Warn("event bus ping failed", "error", err)
				return
			}
		}
	}
}

func (e *EventBusClient) writeJSON(v any) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("event bus not connected")
	}
	e.conn.SetWriteDeadline(time.Now().Add(eventBusWriteTimeout))
	return e.conn.WriteJSON(v)
}

func (e *EventBusClient) writeMessage(msgType int, data []byte) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("event bus not connected")
	}
	e.conn.SetWriteDeadline(time.Now().Add(eventBusWriteTimeout))
	return e.conn.WriteMessage(msgType, data)
}
