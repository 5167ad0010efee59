// Package hyperliquid implements the primary-venue clients: the live
// WebSocket stream and the historical snapshot fetcher.
package hyperliquid

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/ratelimit"
)

// ConnState is the live connection's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SubscriptionType is one of the venue's stream channels.
type SubscriptionType string

const (
	SubCandle SubscriptionType = "candle"
	SubTrades SubscriptionType = "trades"
	SubBook   SubscriptionType = "l2Book"
	SubBbo    SubscriptionType = "bbo"
)

// Subscription identifies one stream. Interval is set for candle streams only.
type Subscription struct {
	Type     SubscriptionType
	Symbol   string
	Interval domain.Interval
}

func (s Subscription) key() string {
	if s.Type == SubCandle {
		return string(s.Type) + ":" + s.Symbol + ":" + string(s.Interval)
	}
	return string(s.Type) + ":" + s.Symbol
}

func (s Subscription) payload(method string) map[string]any {
	sub := map[string]any{"type": string(s.Type), "coin": s.Symbol}
	if s.Type == SubCandle {
		sub["interval"] = string(s.Interval)
	}
	return map[string]any{"method": method, "subscription": sub}
}

// Stats is a point-in-time snapshot of the connection. Timestamps are Unix
// ms, zero when the event never happened.
type Stats struct {
	URL          string
	State        ConnState
	LastOpen     int64
	LastClose    int64
	LastPing     int64
	LastPong     int64
	OutboundMsgs uint64
	Subs         int
}

// WSClientConfig configures the live stream client.
type WSClientConfig struct {
	// HeartbeatIdle is how long the outbound side may stay idle before the
	// heartbeat check emits a ping.
	HeartbeatIdle time.Duration
	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns the production defaults.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HeartbeatIdle: 30 * time.Second,
		DialTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Outbound message budget: 2000 messages per minute.
const (
	sendCapacity     = 2000
	sendRefillPerSec = 2000.0 / 60.0
)

// WSClient maintains one persistent connection to the venue. It owns the
// subscription set, re-subscribes after every reconnect, and emits decoded
// messages through the handler. Reconnects run forever with a jittered
// 1-3s delay; there is no retry bound.
type WSClient struct {
	url     string
	config  WSClientConfig
	handler func(Message)
	logger  *log.Logger

	sendBucket *ratelimit.TokenBucket

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]Subscription
	lastOutbound time.Time
	lastOpen     int64
	lastClose    int64
	lastPing     int64
	lastPong     int64
	outbound     uint64

	state  atomic.Int32
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

// WSClientOptions configures NewWSClient.
type WSClientOptions struct {
	URL     string
	Config  WSClientConfig
	Handler func(Message)
	Logger  *log.Logger
}

// NewWSClient creates a disconnected client. Call Connect to open the stream.
func NewWSClient(opts WSClientOptions) *WSClient {
	cfg := opts.Config
	if cfg.HeartbeatIdle <= 0 {
		cfg = DefaultWSConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags)
	}
	handler := opts.Handler
	if handler == nil {
		handler = func(Message) {}
	}
	return &WSClient{
		url:        opts.URL,
		config:     cfg,
		handler:    handler,
		logger:     logger,
		sendBucket: ratelimit.NewTokenBucket(sendCapacity, sendRefillPerSec),
		subs:       make(map[string]Subscription),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// State returns the current connection state.
func (c *WSClient) State() ConnState {
	return ConnState(c.state.Load())
}

// Connect opens the connection and starts the read and heartbeat loops.
// A second call while connected or connecting is a no-op.
func (c *WSClient) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}

	if err := c.dial(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastOpen = c.now().UnixMilli()
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	c.logger.Printf("connected to %s", c.url)
	return nil
}

// Close tears the connection down. Idempotent.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	c.wg.Wait()
	return nil
}

// Subscribe sends a subscribe request and, if the send goes through, adds
// the stream to the set replayed after reconnects. A duplicate subscription
// is a no-op.
func (c *WSClient) Subscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sub.key()
	if _, ok := c.subs[key]; ok {
		return
	}
	if c.sendLocked(sub.payload("subscribe")) {
		c.subs[key] = sub
	}
}

// Unsubscribe sends an unsubscribe request and removes the stream from the
// set if the send goes through.
func (c *WSClient) Unsubscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sub.key()
	if _, ok := c.subs[key]; !ok {
		return
	}
	if c.sendLocked(sub.payload("unsubscribe")) {
		delete(c.subs, key)
	}
}

// Ping sends a heartbeat ping.
func (c *WSClient) Ping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingLocked()
}

func (c *WSClient) pingLocked() {
	if c.sendLocked(map[string]any{"method": "ping"}) {
		c.lastPing = c.now().UnixMilli()
	}
}

// sendLocked writes one JSON message. Drops silently when disconnected or
// when the outbound message budget is exhausted.
func (c *WSClient) sendLocked(obj any) bool {
	if c.conn == nil || c.State() != StateConnected {
		return false
	}
	if !c.sendBucket.Take(1) {
		return false
	}
	c.conn.SetWriteDeadline(c.now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(obj); err != nil {
		return false
	}
	c.lastOutbound = c.now()
	c.outbound++
	return true
}

// Stats returns a snapshot of connection counters.
func (c *WSClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		URL:          c.url,
		State:        c.State(),
		LastOpen:     c.lastOpen,
		LastClose:    c.lastClose,
		LastPing:     c.lastPing,
		LastPong:     c.lastPong,
		OutboundMsgs: c.outbound,
		Subs:         len(c.subs),
	}
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			c.reconnect()
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.markDisconnected()
			c.reconnect()
			continue
		}

		msg, err := DecodeMessage(raw)
		if err != nil || msg == nil {
			// Malformed frames and unknown channels are dropped.
			continue
		}
		if _, ok := msg.(Pong); ok {
			c.mu.Lock()
			c.lastPong = c.now().UnixMilli()
			c.mu.Unlock()
		}
		c.handler(msg)
	}
}

func (c *WSClient) markDisconnected() {
	c.state.Store(int32(StateDisconnected))
	c.mu.Lock()
	c.lastClose = c.now().UnixMilli()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.logger.Printf("disconnected from %s", c.url)
}

// reconnectDelay returns the jittered redial backoff, uniform in [1s, 4s).
func reconnectDelay() time.Duration {
	return time.Second + time.Duration(rand.Int63n(int64(3*time.Second)))
}

// reconnect sleeps a jittered delay, then redials and replays the
// subscription set. A failed attempt returns to the read loop, which calls
// back in; retries are unbounded.
func (c *WSClient) reconnect() {
	delay := reconnectDelay()
	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.state.Store(int32(StateConnecting))
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	err := c.dial(ctx)
	cancel()
	if err != nil {
		c.logger.Printf("reconnect failed: %v", err)
		c.state.Store(int32(StateDisconnected))
		return
	}

	c.resubscribeAll()
}

func (c *WSClient) resubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if !c.sendLocked(sub.payload("subscribe")) {
			c.logger.Printf("resubscribe dropped: %s", sub.key())
		}
	}
}

func (c *WSClient) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.heartbeat()
		}
	}
}

// heartbeat pings when the outbound side has been idle past the threshold.
func (c *WSClient) heartbeat() {
	if c.State() != StateConnected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastOutbound) >= c.config.HeartbeatIdle {
		c.pingLocked()
	}
}
