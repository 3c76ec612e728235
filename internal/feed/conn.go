// Package feed maintains websocket connections to the market-data
// provider: one connection per symbol chunk, each with its own auth,
// subscription, keepalive, and reconnection lifecycle. Decoded bars
// from all connections flow into a shared output channel.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"tradebotv1/internal/metrics"
	"tradebotv1/internal/model"
	"tradebotv1/internal/notification"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Config holds per-connection settings.
type Config struct {
	Name    string // connection label for logs and metrics
	URL     string
	APIKey  string
	Symbols []string

	Kinds        []model.EventKind // subscription granularities; default second bars
	SubBatchSize int               // symbols per subscribe message
	SubDelay     time.Duration     // pacing between subscribe batches
	SubRetries   int               // bounded retries per sub-batch
	PingInterval time.Duration
	AuthTimeout  time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (c *Config) applyDefaults() {
	if len(c.Kinds) == 0 {
		c.Kinds = []model.EventKind{model.KindSecondBar}
	}
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = 50
	}
	if c.SubDelay <= 0 {
		c.SubDelay = 250 * time.Millisecond
	}
	if c.SubRetries <= 0 {
		c.SubRetries = 3
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Conn is one feed connection owning a chunk of the watchlist.
type Conn struct {
	cfg      Config
	dialer   *websocket.Dialer
	notifier notification.Notifier
	mt       *metrics.Metrics
	state    atomic.Int32
}

// NewConn creates a feed connection for one symbol chunk.
func NewConn(cfg Config, notifier notification.Notifier, mt *metrics.Metrics) *Conn {
	cfg.applyDefaults()
	return &Conn{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		notifier: notifier,
		mt:       mt,
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

type request struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// Run drives the connection until ctx is cancelled. Transport failures
// reconnect forever with capped exponential backoff; an auth rejection
// stops this connection permanently (sibling connections are unaffected)
// and is returned to the caller.
func (c *Conn) Run(ctx context.Context, out chan<- model.Bar) error {
	defer c.setState(StateDisconnected)

	backoff := c.cfg.BackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streamed, err := c.runOnce(ctx, out)
		if err == nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			log.Printf("[feed %s] fatal: %v", c.cfg.Name, err)
			notification.SendAsync(c.notifier, notification.Alert{
				Level:   notification.AlertCritical,
				Title:   fmt.Sprintf("Feed auth rejected: %s", c.cfg.Name),
				Message: authErr.Msg,
			})
			return err
		}

		if streamed {
			// First failure after a healthy streak: reset backoff and alert
			// once. Repeated failures only log until streaming resumes.
			backoff = c.cfg.BackoffMin
			notification.SendAsync(c.notifier, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   fmt.Sprintf("Feed connection lost: %s", c.cfg.Name),
				Message: err.Error(),
			})
		}
		c.setState(StateDisconnected)
		c.mt.FeedReconnects.WithLabelValues(c.cfg.Name).Inc()
		log.Printf("[feed %s] disconnected: %v; reconnecting in %s", c.cfg.Name, err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}

// runOnce performs one connect/auth/subscribe/stream cycle. The
// returned bool reports whether the connection reached streaming, which
// resets the backoff.
func (c *Conn) runOnce(ctx context.Context, out chan<- model.Bar) (bool, error) {
	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, &TransportError{Conn: c.cfg.Name, Op: "dial", Err: err}
	}
	defer conn.Close()

	// Unblock the read loop on shutdown.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-dctx.Done()
		conn.Close()
	}()

	if err := c.authenticate(conn); err != nil {
		return false, err
	}
	if err := c.subscribe(ctx, conn); err != nil {
		return false, err
	}

	c.setState(StateStreaming)
	log.Printf("[feed %s] streaming %d symbols", c.cfg.Name, len(c.cfg.Symbols))

	go c.keepalive(dctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, &TransportError{Conn: c.cfg.Name, Op: "read", Err: err}
		}

		bars, statuses, derr := decodeFrame(data)
		if derr != nil {
			c.mt.DecodeFailures.Inc()
			log.Printf("[feed %s] %v (message skipped)", c.cfg.Name, derr)
			continue
		}
		for _, st := range statuses {
			log.Printf("[feed %s] status: %s %s", c.cfg.Name, st.Status, st.Message)
		}
		for _, bar := range bars {
			c.mt.EventsTotal.Inc()
			select {
			case out <- bar:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

// authenticate sends the credential and waits for the provider's auth
// acknowledgement within the auth timeout.
func (c *Conn) authenticate(conn *websocket.Conn) error {
	c.setState(StateAuthenticating)

	if err := conn.WriteJSON(request{Action: "auth", Params: c.cfg.APIKey}); err != nil {
		return &TransportError{Conn: c.cfg.Name, Op: "auth write", Err: err}
	}

	deadline := time.Now().Add(c.cfg.AuthTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &TransportError{Conn: c.cfg.Name, Op: "auth read", Err: err}
		}
		_, statuses, derr := decodeFrame(data)
		if derr != nil {
			continue
		}
		for _, st := range statuses {
			switch st.Status {
			case "auth_success":
				return nil
			case "auth_failed":
				return &AuthError{Conn: c.cfg.Name, Msg: st.Message}
			}
		}
	}
	return &TransportError{Conn: c.cfg.Name, Op: "auth", Err: errors.New("no acknowledgement before timeout")}
}

// subscribe sends the chunk's subscriptions in paced sub-batches. A
// sub-batch that keeps failing after bounded retries degrades coverage
// (alert, continue); if every sub-batch fails the connection is treated
// as broken.
func (c *Conn) subscribe(ctx context.Context, conn *websocket.Conn) error {
	c.setState(StateSubscribing)

	batches := 0
	failed := 0
	for start := 0; start < len(c.cfg.Symbols); start += c.cfg.SubBatchSize {
		end := start + c.cfg.SubBatchSize
		if end > len(c.cfg.Symbols) {
			end = len(c.cfg.Symbols)
		}
		batch := c.cfg.Symbols[start:end]
		batches++

		if start > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.SubDelay):
			}
		}

		if err := c.subscribeBatch(ctx, conn, batch); err != nil {
			failed++
			log.Printf("[feed %s] %v (degraded coverage)", c.cfg.Name, err)
			notification.SendAsync(c.notifier, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   fmt.Sprintf("Feed coverage degraded: %s", c.cfg.Name),
				Message: err.Error(),
			})
		}
	}

	if batches > 0 && failed == batches {
		return &TransportError{Conn: c.cfg.Name, Op: "subscribe", Err: errors.New("all sub-batches failed")}
	}
	return nil
}

func (c *Conn) subscribeBatch(ctx context.Context, conn *websocket.Conn, batch []string) error {
	params := make([]string, 0, len(batch)*len(c.cfg.Kinds))
	for _, kind := range c.cfg.Kinds {
		for _, sym := range batch {
			params = append(params, string(kind)+"."+sym)
		}
	}
	req := request{Action: "subscribe", Params: strings.Join(params, ",")}

	var lastErr error
	for attempt := 0; attempt < c.cfg.SubRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.SubDelay):
			}
		}
		if lastErr = conn.WriteJSON(req); lastErr == nil {
			return nil
		}
	}
	return &SubscriptionError{Conn: c.cfg.Name, Symbols: batch, Err: lastErr}
}

// keepalive pings the provider on a fixed interval, independent of the
// read loop. A failed ping closes the connection so the read loop
// surfaces a transport error and reconnection takes over.
func (c *Conn) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				log.Printf("[feed %s] keepalive failed: %v", c.cfg.Name, err)
				conn.Close()
				return
			}
		}
	}
}
