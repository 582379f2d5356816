package controller

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/indexer"
	"github.com/canopy-network/blockstore/pkg/redis"
)

const (
	feedPingInterval = 30 * time.Second
	feedReadTimeout  = 60 * time.Second
	feedInitialRetry = time.Second
	feedMaxRetry     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ClientMessage is what feed clients send.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Epoch  string `json:"epoch"`  // epoch number, or "*" for every epoch
}

// ServerMessage is what the feed sends.
type ServerMessage struct {
	Type    string      `json:"type"` // "slot.indexed", "subscribed", "unsubscribed", "info", "error"
	Payload interface{} `json:"payload"`
}

// epochSubscriptions tracks the epochs one client follows.
type epochSubscriptions struct {
	mu     sync.RWMutex
	epochs map[string]bool
}

func newEpochSubscriptions() *epochSubscriptions {
	return &epochSubscriptions{epochs: make(map[string]bool)}
}

func (s *epochSubscriptions) Subscribe(epoch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[epoch] = true
}

func (s *epochSubscriptions) Unsubscribe(epoch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.epochs, epoch)
}

// IsSubscribed reports whether events of epoch should be forwarded. "*" matches all.
func (s *epochSubscriptions) IsSubscribed(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epochs["*"] || s.epochs[strconv.FormatUint(epoch, 10)]
}

// HandleSlotFeed upgrades to a websocket and streams slot.indexed events of the epochs the
// client subscribes to.
//
// Client sends: {"action": "subscribe", "epoch": "812"} or {"action": "subscribe", "epoch": "*"}
// Server sends: {"type": "slot.indexed", "payload": {...}}, plus acks, info and errors.
func (c *Controller) HandleSlotFeed(w http.ResponseWriter, r *http.Request) {
	if c.App.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "slot feed not available (Redis disabled)")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// unblocks the reader when the writer fails or the server shuts down
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	subs := newEpochSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.subscribeEvents(ctx, send, subs)
	}()
	go func() {
		defer wg.Done()
		c.sendPings(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeMessages(ctx, conn, send)
	}()

	c.App.Logger.Debug("Slot feed client connected", zap.String("remote_addr", r.RemoteAddr))
	c.readClientMessages(ctx, conn, subs, send)
	cancel()
	wg.Wait()
	c.App.Logger.Debug("Slot feed client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// feedPattern is the channel the feed follows: this deployment's prefix, or all of them.
func (c *Controller) feedPattern() string {
	prefix := c.App.Prefix
	if prefix == "" {
		prefix = "*"
	}
	return redis.SlotIndexedChannel(prefix)
}

// subscribeEvents keeps a subscription open until ctx is done, resubscribing with backoff
// whenever it drops. The client is told about every drop and recovery.
func (c *Controller) subscribeEvents(ctx context.Context, send chan<- ServerMessage, subs *epochSubscriptions) {
	pattern := c.feedPattern()
	backoff := feedInitialRetry

	for attempt := 1; ctx.Err() == nil; attempt++ {
		msgs, closeFn, err := c.App.Events.Subscribe(ctx, pattern)
		if err == nil {
			backoff = feedInitialRetry
			push(ctx, send, ServerMessage{Type: "info", Payload: map[string]interface{}{"message": "slot feed connected", "attempt": attempt}})
			c.forwardEvents(ctx, msgs, send, subs)
			_ = closeFn()
		}
		if ctx.Err() != nil {
			return
		}

		c.App.Logger.Warn("Slot feed subscription lost, will retry",
			zap.String("pattern", pattern), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		push(ctx, send, ServerMessage{Type: "error", Payload: map[string]interface{}{
			"message":     "event source lost, reconnecting",
			"retryIn":     backoff.Seconds(),
			"recoverable": true,
		}})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, feedMaxRetry)
	}
}

// forwardEvents relays the client's epochs until msgs closes or ctx is done.
func (c *Controller) forwardEvents(ctx context.Context, msgs <-chan redis.Message, send chan<- ServerMessage, subs *epochSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event indexer.SlotIndexedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Warn("Dropping unparsable slot event",
					zap.String("channel", msg.Channel), zap.String("prefix", redis.PrefixOf(msg.Channel)), zap.Error(err))
				continue
			}
			if !subs.IsSubscribed(event.Epoch) {
				continue
			}
			push(ctx, send, ServerMessage{Type: indexer.EventSlotIndexed, Payload: json.RawMessage(msg.Payload)})
		}
	}
}

// nextBackoff doubles current, caps it at max and adds up to 10% jitter either way.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(float64(next) * 0.1 * (2*rand.Float64() - 1))
	next += jitter
	if next < current {
		next = current
	}
	if next > max {
		next = max
	}
	return next
}

func push(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}

// sendPings sends ping frames; the client's pongs extend the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write websocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages handles subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, subs *epochSubscriptions, send chan<- ServerMessage) {
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("Websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
			push(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
			continue
		}
		if msg.Epoch != "*" {
			n, err := strconv.ParseUint(msg.Epoch, 10, 64)
			if err != nil {
				push(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "epoch must be a number or *"}})
				continue
			}
			// "0005" and "5" name the same epoch
			msg.Epoch = strconv.FormatUint(n, 10)
		}

		if msg.Action == "subscribe" {
			subs.Subscribe(msg.Epoch)
			push(ctx, send, ServerMessage{Type: "subscribed", Payload: map[string]string{"epoch": msg.Epoch}})
		} else {
			subs.Unsubscribe(msg.Epoch)
			push(ctx, send, ServerMessage{Type: "unsubscribed", Payload: map[string]string{"epoch": msg.Epoch}})
		}
	}
}
