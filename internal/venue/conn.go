package venue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateDegraded means the socket is open but the read stream has gone
	// stale. Submissions fail fast until traffic resumes.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// SubmitResult is one per-transaction outcome of a batch submission,
// positional with the submitted payloads.
type SubmitResult struct {
	Accepted bool
	Code     int32
	Message  string
	TxHash   string
}

// TokenSource supplies auth tokens for private subscriptions and submissions.
type TokenSource interface {
	Token() (string, error)
	Invalidate()
}

// Config sizes a connection.
type Config struct {
	Account schema.AccountIndex
	Scales  map[schema.MarketID]MarketScale
	// SubmitTimeout bounds the wait for a batch reply.
	SubmitTimeout time.Duration
	// StaleAfter marks the stream degraded with no inbound traffic.
	StaleAfter time.Duration
	// DeadAfter tears the session down with no inbound traffic.
	DeadAfter   time.Duration
	EventBuffer int
	Backoff     Backoff
}

func (cfg *Config) setDefaults() {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Second
	}
	if cfg.DeadAfter <= cfg.StaleAfter {
		cfg.DeadAfter = 3 * cfg.StaleAfter
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.Backoff.Min == 0 && cfg.Backoff.Max == 0 && cfg.Backoff.Factor == 0 && cfg.Backoff.Jitter == 0 {
		cfg.Backoff = DefaultBackoff()
	}
}

// Connection owns one venue session and its reconnect loop. Submissions fail
// fast whenever the connection is not fully established; queueing writes for
// an eventual reconnect would submit stale orders into a changed market.
type Connection struct {
	cfg       Config
	transport Transport
	tokens    TokenSource
	metrics   *obs.Metrics

	state    atomic.Int32
	lastRead atomic.Int64
	nextID   atomic.Uint64
	events   chan schema.Event

	mu      sync.Mutex
	conn    Conn
	topics  map[string]struct{}
	pending map[string]chan []txResult

	writeMu sync.Mutex
}

// NewConnection creates a connection subscribed to the account's private
// order and trade streams.
func NewConnection(cfg Config, transport Transport, tokens TokenSource, metrics *obs.Metrics) (*Connection, error) {
	if transport == nil || tokens == nil {
		return nil, exception.ErrNilInstance
	}
	cfg.setDefaults()
	c := &Connection{
		cfg:       cfg,
		transport: transport,
		tokens:    tokens,
		metrics:   metrics,
		events:    make(chan schema.Event, cfg.EventBuffer),
		topics:    make(map[string]struct{}),
		pending:   make(map[string]chan []txResult),
	}
	c.topics[OrdersChannel(cfg.Account)] = struct{}{}
	c.topics[TradesChannel(cfg.Account)] = struct{}{}
	return c, nil
}

// State returns the current lifecycle phase.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Events exposes the decoded venue push stream.
func (c *Connection) Events() <-chan schema.Event {
	return c.events
}

// Subscribe registers a channel. The subscription replays on every reconnect;
// subscribing twice is an error.
func (c *Connection) Subscribe(channel string) error {
	c.mu.Lock()
	if _, ok := c.topics[channel]; ok {
		c.mu.Unlock()
		return errors.Wrap(exception.ErrAlreadySubscribed, channel)
	}
	c.topics[channel] = struct{}{}
	connected := c.State() == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendSubscribe(channel)
}

// Run drives the dial/read/reconnect loop until ctx ends.
func (c *Connection) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.state.Store(int32(StateDisconnected))
			return ctx.Err()
		}
		c.state.Store(int32(StateConnecting))
		conn, err := c.transport.Dial(ctx)
		if err != nil {
			attempt++
			logs.Warnf("venue dial failed, attempt: %d, err: %+v", attempt, err)
			c.sleepBackoff(ctx, attempt)
			continue
		}
		attempt = 0
		c.lastRead.Store(time.Now().UnixNano())
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		err = c.runSession(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.failPending()
		c.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.IncReconnect()
		logs.Warnf("venue session ended, err: %+v", err)
		attempt++
		c.sleepBackoff(ctx, attempt)
	}
}

// SubmitBatch sends signed payloads as one batch and waits for the positional
// results. It fails fast when the connection is not fully established.
func (c *Connection) SubmitBatch(ctx context.Context, payloads []schema.SignedPayload) ([]SubmitResult, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if len(payloads) > MaxBatchSize {
		return nil, errors.Wrap(exception.ErrInvalidArgument,
			fmt.Sprintf("batch size %d exceeds %d", len(payloads), MaxBatchSize))
	}
	if c.State() != StateConnected {
		return nil, exception.ErrConnUnavailable
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, errors.Wrap(err, "derive auth token")
	}

	id := fmt.Sprintf("batch_%d", c.nextID.Add(1))
	payload, err := encodeBatch(id, payloads, token)
	if err != nil {
		return nil, err
	}

	reply := make(chan []txResult, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.write(payload); err != nil {
		return nil, errors.Wrap(exception.ErrConnUnavailable, err.Error())
	}

	timer := time.NewTimer(c.cfg.SubmitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, exception.ErrSubmitTimeout
	case results, ok := <-reply:
		if !ok {
			return nil, exception.ErrConnClosed
		}
		if len(results) != len(payloads) {
			return nil, errors.Wrap(exception.ErrProtocol,
				fmt.Sprintf("batch %s returned %d results for %d entries", id, len(results), len(payloads)))
		}
		c.metrics.ObserveSubmit(time.Since(start))
		out := make([]SubmitResult, len(results))
		for i, r := range results {
			out[i] = SubmitResult{
				Accepted: r.Code == codeOK,
				Code:     r.Code,
				Message:  r.Message,
				TxHash:   r.TxHash,
			}
		}
		return out, nil
	}
}

func (c *Connection) runSession(ctx context.Context, conn Conn) error {
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop(conn, errCh)
	}()

	interval := c.cfg.StaleAfter / 3
	if interval < time.Second {
		interval = time.Second
	}
	watchdog := time.NewTicker(interval)
	defer watchdog.Stop()

	var reason error
loop:
	for {
		select {
		case <-ctx.Done():
			reason = ctx.Err()
			break loop
		case err := <-errCh:
			reason = err
			break loop
		case <-watchdog.C:
			idle := time.Duration(time.Now().UnixNano() - c.lastRead.Load())
			switch {
			case idle > c.cfg.DeadAfter:
				reason = errors.Wrap(exception.ErrConnClosed,
					fmt.Sprintf("no traffic for %s", idle.Truncate(time.Second)))
				break loop
			case idle > c.cfg.StaleAfter:
				if c.state.CompareAndSwap(int32(StateConnected), int32(StateDegraded)) {
					logs.Warnf("venue stream stale, idle: %s", idle.Truncate(time.Millisecond))
				}
			default:
				if c.state.CompareAndSwap(int32(StateDegraded), int32(StateConnected)) {
					logs.Info("venue stream recovered")
				}
			}
		}
	}

	_ = conn.Close()
	<-done
	return reason
}

func (c *Connection) readLoop(conn Conn, errCh chan<- error) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		c.lastRead.Store(time.Now().UnixNano())
		c.handleFrame(payload)
	}
}

func (c *Connection) handleFrame(payload []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.metrics.IncDeadLetter()
		logs.Warnf("venue frame undecodable, err: %+v", err)
		return
	}
	now := time.Now().UnixNano()
	switch {
	case frame.Type == frameConnected:
		if err := c.replaySubscriptions(); err != nil {
			// A session without its subscriptions never leaves Connecting;
			// close it so the reconnect loop retries.
			logs.Errorf("subscription replay failed, err: %+v", err)
			c.closeSession()
			return
		}
		c.state.Store(int32(StateConnected))
		logs.Info("venue connected")
	case frame.Type == framePing:
		pong, err := json.Marshal(pongFrame{Type: framePong})
		if err == nil {
			err = c.write(pong)
		}
		if err != nil {
			logs.Warnf("pong failed, err: %+v", err)
		}
	case frame.Type == frameSendTxBatch:
		c.resolvePending(frame.ID, frame.Results)
	case frame.Type == frameError:
		c.handleError(&frame, now)
	case strings.HasPrefix(frame.Type, "subscribed/"), strings.HasPrefix(frame.Type, "update/"):
		c.handleChannel(&frame, now)
	}
}

func (c *Connection) handleChannel(frame *inboundFrame, now int64) {
	var events []schema.Event
	switch {
	case strings.Contains(frame.Type, channelOrders):
		events = decodeOrderEvents(frame, c.cfg.Scales, now)
	case strings.Contains(frame.Type, channelTrades):
		events = decodeTradeEvents(frame, c.cfg.Scales, now)
	default:
		return
	}
	for _, ev := range events {
		c.pushEvent(ev)
	}
}

func (c *Connection) handleError(frame *inboundFrame, now int64) {
	if frame.APIKeyIndex != nil && IsNonceRejection(frame.Code, frame.Message) {
		ev := schema.Event{
			Kind:           schema.EventNonceError,
			Key:            schema.APIKeyIndex(*frame.APIKeyIndex),
			ConfirmedNonce: -1,
			TsRecv:         now,
		}
		if frame.ExpectedNonce != nil {
			ev.ConfirmedNonce = *frame.ExpectedNonce - 1
		}
		c.pushEvent(ev)
		return
	}
	if isAuthRejection(frame.Message) {
		c.tokens.Invalidate()
		logs.Warnf("auth token invalidated, code: %d, err: %+v",
			frame.Code, errors.Wrap(exception.ErrAuthRejected, frame.Message))
		return
	}
	logs.Warnf("venue error frame, code: %d, message: %s", frame.Code, frame.Message)
}

// pushEvent never blocks the read loop. A stalled consumer loses events and
// resynchronizes from the next channel snapshot.
func (c *Connection) pushEvent(ev schema.Event) {
	select {
	case c.events <- ev:
	default:
		c.metrics.IncEventDrop()
		logs.Errorf("venue event dropped, kind: %s, client_order_id: %d, seq: %d",
			ev.Kind.String(), ev.ClientOrderID, ev.Seq)
	}
}

func (c *Connection) replaySubscriptions() error {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	sort.Strings(topics)

	for _, channel := range topics {
		if err := c.sendSubscribe(channel); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) sendSubscribe(channel string) error {
	token, err := c.tokens.Token()
	if err != nil {
		return errors.Wrap(err, "derive auth token")
	}
	payload, err := json.Marshal(subscribeFrame{
		Type:    frameSubscribe,
		Channel: channel,
		Auth:    token,
	})
	if err != nil {
		return errors.Wrap(err, "encode subscribe "+channel)
	}
	return c.write(payload)
}

func (c *Connection) write(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return exception.ErrConnUnavailable
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(payload)
}

func (c *Connection) resolvePending(id string, results []txResult) {
	c.mu.Lock()
	reply, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		logs.Warnf("batch reply with no waiter, id: %s", id)
		return
	}
	reply <- results
}

// closeSession tears the current socket down; the read loop error ends the
// session and the reconnect loop takes over.
func (c *Connection) closeSession() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) failPending() {
	c.mu.Lock()
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Connection) sleepBackoff(ctx context.Context, attempt int) {
	wait := c.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
