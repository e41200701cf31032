package dispatch

import (
	"context"
	"fmt"
	"time"

	"main/internal/bus"
	"main/internal/nonce"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/sign"
	"main/internal/venue"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// AckMode controls whether dispatch blocks on the venue's batch reply.
type AckMode uint8

const (
	// AckModeStrict waits for every batch reply before returning, so nonce
	// rejections retry inline and acks are ordered with dispatch calls.
	AckModeStrict AckMode = iota
	// AckModeOptimistic returns after the batch is written; replies resolve in
	// the background. Lower latency, weaker ack ordering.
	AckModeOptimistic
)

// ParseAckMode maps a config string to a mode.
func ParseAckMode(s string) (AckMode, bool) {
	switch s {
	case "", "strict":
		return AckModeStrict, true
	case "optimistic":
		return AckModeOptimistic, true
	default:
		return 0, false
	}
}

// Submitter sends signed batches to the venue. *venue.Connection satisfies it.
type Submitter interface {
	SubmitBatch(ctx context.Context, payloads []schema.SignedPayload) ([]venue.SubmitResult, error)
}

// Config sizes a dispatcher.
type Config struct {
	AckMode AckMode
	// RetryBudget caps resubmissions per action after nonce rejections.
	RetryBudget   int
	RetryDelayMin time.Duration
	RetryDelayMax time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	if cfg.RetryDelayMin <= 0 {
		cfg.RetryDelayMin = 50 * time.Millisecond
	}
	if cfg.RetryDelayMax < cfg.RetryDelayMin {
		cfg.RetryDelayMax = time.Second
	}
}

type entry struct {
	action  schema.Action
	lease   schema.NonceLease
	payload schema.SignedPayload
}

// Dispatcher turns actions into signed, nonce-sequenced batch submissions and
// publishes one ack per action. Nonce rejections resync the sequencer and
// retry under a fresh lease; business rejections are terminal.
type Dispatcher struct {
	cfg     Config
	seq     *nonce.Sequencer
	signer  *sign.Signer
	conn    Submitter
	acks    *bus.Queue[schema.Ack]
	metrics *obs.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, seq *nonce.Sequencer, signer *sign.Signer, conn Submitter, acks *bus.Queue[schema.Ack], metrics *obs.Metrics) (*Dispatcher, error) {
	if seq == nil || signer == nil || conn == nil || acks == nil {
		return nil, exception.ErrNilInstance
	}
	cfg.setDefaults()
	return &Dispatcher{
		cfg:     cfg,
		seq:     seq,
		signer:  signer,
		conn:    conn,
		acks:    acks,
		metrics: metrics,
	}, nil
}

// Dispatch submits the actions in venue-sized chunks. Each action gets its
// own lease and signature; a validation failure rejects that action alone and
// never reaches the network.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []schema.Action) error {
	for start := 0; start < len(actions); start += venue.MaxBatchSize {
		end := start + venue.MaxBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		entries := d.prepare(ctx, actions[start:end])
		if len(entries) == 0 {
			continue
		}
		if d.cfg.AckMode == AckModeOptimistic {
			go func(entries []entry) {
				if err := d.submit(ctx, entries); err != nil {
					logs.Errorf("background submit failed, err: %+v", err)
				}
			}(entries)
			continue
		}
		if err := d.submit(ctx, entries); err != nil {
			return err
		}
	}
	return nil
}

// CancelAll signs and submits a whole-account cancel.
func (d *Dispatcher) CancelAll(ctx context.Context) error {
	lease, err := d.seq.Lease(ctx)
	if err != nil {
		return errors.Wrap(err, "lease for cancel all")
	}
	payload, err := d.signer.SignCancelAll(lease, time.Now())
	if err != nil {
		d.seq.MarkRejected(lease)
		return errors.Wrap(err, "sign cancel all")
	}
	results, err := d.conn.SubmitBatch(ctx, []schema.SignedPayload{payload})
	if err != nil {
		return errors.Wrap(err, "submit cancel all")
	}
	if len(results) != 1 || !results[0].Accepted {
		d.seq.MarkRejected(lease)
		return errors.New(fmt.Sprintf("cancel all rejected, code: %d, message: %s",
			results[0].Code, results[0].Message))
	}
	return nil
}

func (d *Dispatcher) prepare(ctx context.Context, actions []schema.Action) []entry {
	now := time.Now()
	entries := make([]entry, 0, len(actions))
	for _, action := range actions {
		lease, err := d.seq.Lease(ctx)
		if err != nil {
			d.ack(ctx, schema.Ack{
				ClientOrderID: action.ClientOrderID,
				Status:        schema.AckRejected,
				Message:       err.Error(),
			})
			continue
		}
		payload, err := d.signer.SignAction(action, lease, now)
		if err != nil {
			d.metrics.IncValidation()
			d.seq.MarkRejected(lease)
			d.ack(ctx, schema.Ack{
				ClientOrderID: action.ClientOrderID,
				Status:        schema.AckRejected,
				Message:       err.Error(),
				Lease:         lease,
			})
			continue
		}
		entries = append(entries, entry{action: action, lease: lease, payload: payload})
	}
	return entries
}

func (d *Dispatcher) submit(ctx context.Context, entries []entry) error {
	round := 0
	for len(entries) > 0 {
		payloads := make([]schema.SignedPayload, len(entries))
		for i := range entries {
			payloads[i] = entries[i].payload
		}
		d.metrics.IncSubmitted(len(entries))

		results, err := d.conn.SubmitBatch(ctx, payloads)
		if err != nil {
			return d.settleFailedSubmit(ctx, entries, err)
		}

		var retry []entry
		now := time.Now()
		for i, r := range results {
			e := entries[i]
			switch {
			case r.Accepted:
				d.metrics.IncAccepted()
				d.ack(ctx, schema.Ack{
					ClientOrderID: e.action.ClientOrderID,
					Status:        schema.AckAccepted,
					Code:          r.Code,
					TxHash:        r.TxHash,
					Lease:         e.lease,
				})
			case venue.IsNonceRejection(r.Code, r.Message):
				if next, ok := d.retryEntry(ctx, e, r, now); ok {
					retry = append(retry, next)
				}
			default:
				d.metrics.IncRejected()
				d.seq.MarkRejected(e.lease)
				d.ack(ctx, schema.Ack{
					ClientOrderID: e.action.ClientOrderID,
					Status:        schema.AckRejected,
					Code:          r.Code,
					Message:       r.Message,
					TxHash:        r.TxHash,
					Lease:         e.lease,
				})
			}
		}

		entries = retry
		if len(entries) > 0 {
			round++
			d.sleepRetry(ctx, round)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// retryEntry resyncs the rejected lease's key and re-signs the action under a
// fresh lease, until the action's retry budget runs out.
func (d *Dispatcher) retryEntry(ctx context.Context, e entry, r venue.SubmitResult, now time.Time) (entry, bool) {
	d.metrics.IncNonceResync()
	d.seq.MarkRejected(e.lease)
	if err := d.seq.Resync(ctx, e.lease.Key, -1); err != nil {
		logs.Errorf("nonce resync failed, key: %d, err: %+v", e.lease.Key, err)
	}

	if int(e.action.Attempts) >= d.cfg.RetryBudget {
		d.metrics.IncRejected()
		d.ack(ctx, schema.Ack{
			ClientOrderID: e.action.ClientOrderID,
			Status:        schema.AckRejected,
			Code:          r.Code,
			Message:       exception.ErrRetryExhausted.Error() + ": " + r.Message,
			Lease:         e.lease,
		})
		return entry{}, false
	}
	e.action.Attempts++

	lease, err := d.seq.Lease(ctx)
	if err != nil {
		d.ack(ctx, schema.Ack{
			ClientOrderID: e.action.ClientOrderID,
			Status:        schema.AckRejected,
			Message:       err.Error(),
		})
		return entry{}, false
	}
	payload, err := d.signer.SignAction(e.action, lease, now)
	if err != nil {
		d.seq.MarkRejected(lease)
		d.ack(ctx, schema.Ack{
			ClientOrderID: e.action.ClientOrderID,
			Status:        schema.AckRejected,
			Message:       err.Error(),
			Lease:         lease,
		})
		return entry{}, false
	}
	d.metrics.IncRetry()
	return entry{action: e.action, lease: lease, payload: payload}, true
}

// settleFailedSubmit resolves a batch whose submission call failed as a whole.
// A batch the venue never saw is rejected immediately; a batch with an unknown
// outcome is left for the deadline sweep.
func (d *Dispatcher) settleFailedSubmit(ctx context.Context, entries []entry, err error) error {
	switch {
	case errors.Is(err, exception.ErrConnUnavailable):
		for _, e := range entries {
			d.metrics.IncRejected()
			d.seq.MarkRejected(e.lease)
			d.ack(ctx, schema.Ack{
				ClientOrderID: e.action.ClientOrderID,
				Status:        schema.AckRejected,
				Message:       exception.ErrConnUnavailable.Error(),
				Lease:         e.lease,
			})
		}
		return nil
	case errors.Is(err, exception.ErrSubmitTimeout),
		errors.Is(err, exception.ErrConnClosed),
		errors.Is(err, exception.ErrProtocol):
		d.metrics.IncTimeout()
		logs.Warnf("batch outcome unknown, entries: %d, err: %+v", len(entries), err)
		return nil
	default:
		return err
	}
}

func (d *Dispatcher) ack(ctx context.Context, a schema.Ack) {
	if err := d.acks.Publish(ctx, a); err != nil {
		logs.Errorf("ack publish failed, client_order_id: %d, err: %+v", a.ClientOrderID, err)
	}
}

func (d *Dispatcher) sleepRetry(ctx context.Context, round int) {
	delay := d.cfg.RetryDelayMin << uint(round-1)
	if delay > d.cfg.RetryDelayMax {
		delay = d.cfg.RetryDelayMax
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
