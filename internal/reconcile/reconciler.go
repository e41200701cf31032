package reconcile

import (
	"context"
	"strings"
	"time"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/venue"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// NonceResyncer realigns a nonce key after the venue reports a sequence
// conflict. *nonce.Sequencer satisfies it.
type NonceResyncer interface {
	Resync(ctx context.Context, key schema.APIKeyIndex, confirmed int64) error
}

// Config sizes a reconciler.
type Config struct {
	// AckDeadline bounds how long a Submitted order may stay unacked before
	// the sweep fails it.
	AckDeadline   time.Duration
	SweepInterval time.Duration
	// RemovalGrace keeps terminal orders around to absorb duplicate late
	// events before removal.
	RemovalGrace time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.RemovalGrace <= 0 {
		cfg.RemovalGrace = 30 * time.Second
	}
}

// Reconciler is the sole writer of the order book. It admits new orders ahead
// of dispatch, applies acks and venue events, sweeps ack deadlines, and
// removes terminal orders after a grace period.
type Reconciler struct {
	cfg     Config
	book    *book.Book
	seq     NonceResyncer
	actions *bus.Queue[[]schema.Action]
	outbox  *bus.Queue[[]schema.Action]
	acks    *bus.Queue[schema.Ack]
	events  <-chan schema.Event
	stream  *obs.TransitionStream
	metrics *obs.Metrics
	now     func() time.Time
}

// NewReconciler creates a reconciler. Actions flow in through actions, are
// admitted to the book, and flow out through outbox toward the dispatcher.
func NewReconciler(
	cfg Config,
	b *book.Book,
	seq NonceResyncer,
	actions *bus.Queue[[]schema.Action],
	outbox *bus.Queue[[]schema.Action],
	acks *bus.Queue[schema.Ack],
	events <-chan schema.Event,
	stream *obs.TransitionStream,
	metrics *obs.Metrics,
) (*Reconciler, error) {
	if b == nil || seq == nil || actions == nil || outbox == nil || acks == nil || events == nil {
		return nil, exception.ErrNilInstance
	}
	cfg.setDefaults()
	return &Reconciler{
		cfg:     cfg,
		book:    b,
		seq:     seq,
		actions: actions,
		outbox:  outbox,
		acks:    acks,
		events:  events,
		stream:  stream,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Run processes actions, acks, events, and the deadline sweep until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case actions, ok := <-r.actions.C():
			if !ok {
				return exception.ErrQueueClosed
			}
			r.admit(ctx, actions)
		case ack, ok := <-r.acks.C():
			if !ok {
				return exception.ErrQueueClosed
			}
			r.applyAck(ack)
		case ev := <-r.events:
			r.applyEvent(ctx, ev)
		case <-ticker.C:
			r.sweep()
		}
	}
}

// admit inserts creates as Submitted before they can reach the wire, then
// forwards the batch to the dispatcher. A duplicate create is dropped whole.
func (r *Reconciler) admit(ctx context.Context, actions []schema.Action) {
	now := r.now()
	forward := actions[:0]
	for _, action := range actions {
		switch action.Kind {
		case schema.ActionCreate:
			order := schema.Order{
				ClientOrderID: action.ClientOrderID,
				Market:        action.Market,
				Side:          action.Side,
				Price:         action.Price,
				Qty:           action.Qty,
				Type:          action.Type,
				TimeInForce:   action.TimeInForce,
				ExpiresAt:     action.ExpiresAt,
				Deadline:      now.Add(r.cfg.AckDeadline).UnixNano(),
				State:         schema.OrderStateSubmitted,
			}
			if err := r.book.Insert(order); err != nil {
				logs.Errorf("create admission refused, client_order_id: %d, err: %+v", action.ClientOrderID, err)
				continue
			}
			r.publish(order, schema.OrderStateBuilding, schema.OrderStateSubmitted)
		case schema.ActionCancel, schema.ActionModify:
			if _, ok := r.book.Get(action.ClientOrderID); !ok {
				logs.Warnf("%s for unknown order dropped, client_order_id: %d", action.Kind.String(), action.ClientOrderID)
				continue
			}
		}
		forward = append(forward, action)
	}
	if len(forward) == 0 {
		return
	}
	if err := r.outbox.Publish(ctx, forward); err != nil {
		logs.Errorf("dispatch forward failed, actions: %d, err: %+v", len(forward), err)
	}
}

// applyAck resolves a submission outcome. An accepted ack promotes Submitted
// to Live; a rejected ack on a Submitted order is terminal. Acks for orders
// already resolved by a faster venue event only record the tx hash.
func (r *Reconciler) applyAck(ack schema.Ack) {
	err := r.book.Mutate(ack.ClientOrderID, func(o *schema.Order) {
		if ack.TxHash != "" {
			o.TxHash = ack.TxHash
		}
		switch ack.Status {
		case schema.AckAccepted:
			if o.State == schema.OrderStateSubmitted {
				from := o.State
				o.State = schema.OrderStateLive
				r.publish(*o, from, o.State)
			}
		case schema.AckRejected:
			if o.State == schema.OrderStateSubmitted {
				from := o.State
				o.State = schema.OrderStateFailed
				o.RejectCode = ack.Code
				o.RejectMessage = ack.Message
				o.TerminalAt = r.now().UnixNano()
				r.publish(*o, from, o.State)
				return
			}
			// A rejected cancel or modify leaves the resting order as-is; the
			// next build cycle retries it.
			logs.Warnf("rejection on %s order ignored, client_order_id: %d, code: %d, message: %s",
				o.State.String(), ack.ClientOrderID, ack.Code, ack.Message)
		}
	})
	if errors.Is(err, exception.ErrUnknownOrder) {
		logs.Warnf("ack for unknown order dropped, client_order_id: %d", ack.ClientOrderID)
	}
}

func (r *Reconciler) applyEvent(ctx context.Context, ev schema.Event) {
	if ev.Kind == schema.EventNonceError {
		r.metrics.IncNonceResync()
		if err := r.seq.Resync(ctx, ev.Key, ev.ConfirmedNonce); err != nil {
			logs.Errorf("nonce resync failed, key: %d, err: %+v", ev.Key, err)
		}
		return
	}

	_, tracked := r.book.Get(ev.ClientOrderID)
	if !tracked {
		if r.adopt(ev) {
			return
		}
		logs.Warnf("event for unknown order dropped, kind: %s, client_order_id: %d, seq: %d",
			ev.Kind.String(), ev.ClientOrderID, ev.Seq)
		return
	}

	_ = r.book.Mutate(ev.ClientOrderID, func(o *schema.Order) {
		if ev.Seq != 0 && ev.Seq <= o.LastSeq {
			return
		}
		o.LastSeq = ev.Seq
		r.applyToOrder(o, ev)
	})
	if r.metrics != nil && ev.TsRecv > 0 {
		r.metrics.ObserveEvent(time.Duration(r.now().UnixNano() - ev.TsRecv))
	}
}

// applyToOrder folds one deduplicated event into the order. Fills carry the
// venue's cumulative filled quantity; the local value only ratchets up.
func (r *Reconciler) applyToOrder(o *schema.Order, ev schema.Event) {
	from := o.State
	if ev.TxHash != "" {
		o.TxHash = ev.TxHash
	}
	if ev.FilledQty > o.FilledQty {
		o.FilledQty = ev.FilledQty
	}
	if o.FilledQty > o.Qty {
		o.FilledQty = o.Qty
	}

	switch {
	case ev.Kind == schema.EventCancelConfirmed:
		if ev.Status == venue.StatusExpired {
			o.State = schema.OrderStateExpired
		} else {
			o.State = schema.OrderStateCancelled
		}
	case o.FilledQty >= o.Qty && o.Qty > 0, ev.Status == venue.StatusFilled:
		o.State = schema.OrderStateFilled
	case o.FilledQty > 0:
		o.State = schema.OrderStatePartFilled
	case ev.Status == venue.StatusOpen:
		switch o.State {
		case schema.OrderStateSubmitted, schema.OrderStateFailed, schema.OrderStateExpired:
			// The venue holds the order open: either the event outran the
			// batch ack, or the sweep timed the order out while its ack was
			// lost. The venue is the source of truth.
			o.State = schema.OrderStateLive
			o.RejectCode = 0
			o.RejectMessage = ""
		}
	}

	if o.State != from {
		if o.State.IsTerminal() {
			o.TerminalAt = r.now().UnixNano()
		} else {
			o.TerminalAt = 0
		}
		r.publish(*o, from, o.State)
	}
}

// adopt seeds the book from a snapshot event for an order this process never
// submitted, recovering open orders left by a previous run. Terminal strays
// are discarded.
func (r *Reconciler) adopt(ev schema.Event) bool {
	if ev.Kind != schema.EventOrderUpdate {
		return false
	}
	switch ev.Status {
	case venue.StatusOpen, venue.StatusPending:
	default:
		return false
	}
	order := schema.Order{
		ClientOrderID: ev.ClientOrderID,
		Market:        ev.Market,
		Side:          ev.Side,
		Price:         ev.Price,
		Qty:           ev.Qty,
		FilledQty:     ev.FilledQty,
		State:         schema.OrderStateLive,
		LastSeq:       ev.Seq,
		TxHash:        ev.TxHash,
	}
	if order.FilledQty > 0 {
		order.State = schema.OrderStatePartFilled
	}
	if err := r.book.Insert(order); err != nil {
		logs.Errorf("order adoption failed, client_order_id: %d, err: %+v", ev.ClientOrderID, err)
		return false
	}
	logs.Infof("adopted venue order, client_order_id: %d, market: %d, price: %d, leaves: %d",
		order.ClientOrderID, order.Market, order.Price, order.LeavesQty())
	r.publish(order, schema.OrderStateUnknown, order.State)
	return true
}

// sweep fails Submitted orders past their ack deadline, expires open orders
// whose venue-side expiry lapsed with no confirmation, and removes terminal
// orders past the grace period.
func (r *Reconciler) sweep() {
	now := r.now().UnixNano()
	nowMilli := now / int64(time.Millisecond)
	var unacked []schema.ClientOrderID
	var lapsed []schema.ClientOrderID
	var removals []schema.ClientOrderID
	r.book.Each(func(o *schema.Order) {
		switch {
		case o.State == schema.OrderStateSubmitted && o.Deadline > 0 && now > o.Deadline:
			unacked = append(unacked, o.ClientOrderID)
		case o.State.IsOpen() && o.ExpiresAt > 0 && nowMilli > o.ExpiresAt:
			lapsed = append(lapsed, o.ClientOrderID)
		case o.State.IsTerminal() && o.TerminalAt > 0 && now-o.TerminalAt > int64(r.cfg.RemovalGrace):
			removals = append(removals, o.ClientOrderID)
		}
	})

	for _, id := range unacked {
		r.metrics.IncTimeout()
		_ = r.book.Mutate(id, func(o *schema.Order) {
			from := o.State
			o.State = schema.OrderStateFailed
			o.RejectMessage = "ack deadline exceeded"
			o.TerminalAt = now
			r.publish(*o, from, o.State)
		})
	}
	for _, id := range lapsed {
		_ = r.book.Mutate(id, func(o *schema.Order) {
			from := o.State
			o.State = schema.OrderStateExpired
			o.TerminalAt = now
			r.publish(*o, from, o.State)
		})
	}
	for _, id := range removals {
		r.book.Remove(id)
	}
}

func (r *Reconciler) publish(o schema.Order, from, to schema.OrderState) {
	if r.stream == nil {
		return
	}
	r.stream.Publish(obs.Transition{
		ClientOrderID: o.ClientOrderID,
		Market:        o.Market,
		Side:          o.Side,
		From:          from,
		To:            to,
		Code:          o.RejectCode,
		Message:       strings.TrimSpace(o.RejectMessage),
		TxHash:        o.TxHash,
		At:            r.now(),
	})
}
