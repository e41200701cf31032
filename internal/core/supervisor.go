/*
Core wires the quoting pipeline and owns its lifecycle.

# Module
  - quote builder: diffs the static quote intent against the book snapshot
  - reconciler: sole book writer; admits orders, applies acks and venue events
  - dispatcher: leases nonces, signs, and submits batches to the venue
  - venue connection: websocket session, reconnect, private stream decode

# Flow
 1. ticker -> builder -> actions queue
 2. reconciler admits creates, forwards to the dispatch outbox
 3. dispatcher submits, acks flow back into the reconciler
 4. venue events settle fills, cancels, and nonce conflicts

# Shutdown
  - stop quoting, drain the pipeline, best-effort cancel-all, teardown
*/
package core

import (
	"context"
	"sync"
	"time"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/dispatch"
	"main/internal/nonce"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/quote"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/sign"
	"main/internal/venue"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	actionQueueSize = 64
	ackQueueSize    = 1024

	cancelAllTimeout = 5 * time.Second
	metricsInterval  = 30 * time.Second
)

// Supervisor owns every pipeline component and runs them as one unit.
type Supervisor struct {
	cfg ops.Loaded

	book       *book.Book
	builder    *quote.Builder
	conn       *venue.Connection
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	metrics    *obs.Metrics
	stream     *obs.TransitionStream

	actions *bus.Queue[[]schema.Action]
	outbox  *bus.Queue[[]schema.Action]
	acks    *bus.Queue[schema.Ack]
}

// New assembles the pipeline. Nonce counters prime from the venue's REST API,
// so construction needs a live context.
func New(ctx context.Context, cfg ops.Loaded) (*Supervisor, error) {
	metrics := obs.NewMetrics()
	stream := obs.NewTransitionStream()

	signer, err := sign.New(cfg.Signer.PrivateKey, cfg.Signer.Account, 0)
	if err != nil {
		return nil, errors.Wrap(err, "build signer")
	}
	tokens := sign.NewTokenCache(signer, cfg.Nonce.StartKey, cfg.Signer.AuthTTL)

	rest := venue.NewRestClient(cfg.RestURL, 0)
	seq, err := nonce.NewSequencer(ctx, cfg.Nonce, rest)
	if err != nil {
		return nil, errors.Wrap(err, "build sequencer")
	}

	transport := venue.NewWebsocketTransport(cfg.WsURL, 0)
	conn, err := venue.NewConnection(cfg.Venue, transport, tokens, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "build connection")
	}

	actions := bus.NewQueue[[]schema.Action](actionQueueSize)
	outbox := bus.NewQueue[[]schema.Action](actionQueueSize)
	acks := bus.NewQueue[schema.Ack](ackQueueSize)

	dispatcher, err := dispatch.NewDispatcher(cfg.Dispatch, seq, signer, conn, acks, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "build dispatcher")
	}

	orders := book.New()
	reconciler, err := reconcile.NewReconciler(
		cfg.Reconcile, orders, seq, actions, outbox, acks, conn.Events(), stream, metrics)
	if err != nil {
		return nil, errors.Wrap(err, "build reconciler")
	}

	ids := quote.NewIDSource(uint64(time.Now().UnixNano()))
	builder := quote.NewBuilder(cfg.Quote, risk.NewEngine(cfg.Risk), ids)

	return &Supervisor{
		cfg:        cfg,
		book:       orders,
		builder:    builder,
		conn:       conn,
		dispatcher: dispatcher,
		reconciler: reconciler,
		metrics:    metrics,
		stream:     stream,
		actions:    actions,
		outbox:     outbox,
		acks:       acks,
	}, nil
}

// Book exposes the order book for read-side consumers.
func (s *Supervisor) Book() *book.Book {
	return s.book
}

// Metrics exposes the pipeline counters.
func (s *Supervisor) Metrics() *obs.Metrics {
	return s.metrics
}

// Transitions exposes the order state change stream.
func (s *Supervisor) Transitions() *obs.TransitionStream {
	return s.stream
}

// Run starts every component and blocks until ctx ends, then drains and
// optionally cancels all resting orders. The connection lives on its own
// context so the shutdown cancel-all still has a session to ride on.
func (s *Supervisor) Run(ctx context.Context) error {
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	var connWg sync.WaitGroup
	connWg.Add(1)
	go func() {
		defer connWg.Done()
		if err := s.conn.Run(connCtx); err != nil && connCtx.Err() == nil {
			logs.Errorf("venue connection stopped, err: %+v", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			logs.Errorf("reconciler stopped, err: %+v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.outbox.Run(ctx, func(actions []schema.Action) {
			if err := s.dispatcher.Dispatch(ctx, actions); err != nil && ctx.Err() == nil {
				logs.Errorf("dispatch failed, actions: %d, err: %+v", len(actions), err)
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.quoteLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.metricsLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	s.shutdown()
	connCancel()
	connWg.Wait()
	return ctx.Err()
}

// quoteLoop rebuilds the action set on a fixed cadence. The builder diff makes
// each cycle idempotent: an unchanged intent against an unchanged book emits
// nothing.
func (s *Supervisor) quoteLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.QuoteSpec.Interval)
	defer ticker.Stop()

	intent := schema.QuoteIntent{
		Market: s.cfg.QuoteSpec.Market,
		Levels: s.cfg.QuoteSpec.Levels,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.conn.State() != venue.StateConnected {
				continue
			}
			actions := s.builder.Build(intent, s.book.Snapshot(), time.Now())
			if len(actions) == 0 {
				continue
			}
			if err := s.actions.Publish(ctx, actions); err != nil && ctx.Err() == nil {
				logs.Errorf("quote publish failed, actions: %d, err: %+v", len(actions), err)
			}
		}
	}
}

func (s *Supervisor) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.metrics.Snapshot()
			logs.Infof("pipeline: submitted=%d accepted=%d rejected=%d retries=%d resyncs=%d timeouts=%d reconnects=%d open=%d",
				snap.Submitted, snap.Accepted, snap.Rejected, snap.Retries,
				snap.NonceResyncs, snap.Timeouts, snap.Reconnects, s.book.Len())
		}
	}
}

// shutdown runs after the main context is done, so the cancel-all gets its
// own deadline.
func (s *Supervisor) shutdown() {
	s.actions.Close()
	s.outbox.Close()
	s.acks.Close()

	if !s.cfg.CancelAllOnStop {
		return
	}
	if s.conn.State() != venue.StateConnected {
		logs.Warnf("skip cancel-all on stop, connection state: %s", s.conn.State().String())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelAllTimeout)
	defer cancel()
	if err := s.dispatcher.CancelAll(ctx); err != nil {
		logs.Errorf("cancel-all on stop failed, err: %+v", err)
		return
	}
	logs.Info("cancel-all submitted on stop")
}
