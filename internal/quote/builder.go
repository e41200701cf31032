package quote

import (
	"sync/atomic"
	"time"

	"main/internal/book"
	"main/internal/risk"
	"main/internal/schema"

	"github.com/yanun0323/logs"
)

// Config controls the diffing behavior.
type Config struct {
	// ToleranceTicks is the price deviation within which an existing order
	// still serves a target level. Repricing inside the tolerance would only
	// churn queue position.
	ToleranceTicks schema.Price
	// ExpiryHorizon is the venue-side lifetime given to created orders.
	ExpiryHorizon time.Duration
	TimeInForce   schema.TimeInForce
}

func (cfg *Config) setDefaults() {
	if cfg.ToleranceTicks < 0 {
		cfg.ToleranceTicks = 0
	}
	if cfg.ExpiryHorizon <= 0 {
		cfg.ExpiryHorizon = 24 * time.Hour
	}
	if cfg.TimeInForce == schema.TimeInForceUnknown {
		cfg.TimeInForce = schema.TimeInForceGTT
	}
}

// IDSource hands out process-unique client order ids.
type IDSource struct {
	next atomic.Uint64
}

// NewIDSource seeds the generator. Seed with a startup timestamp so ids never
// collide with a previous run's non-terminal orders.
func NewIDSource(seed uint64) *IDSource {
	s := &IDSource{}
	s.next.Store(seed)
	return s
}

// Next returns the next id.
func (s *IDSource) Next() schema.ClientOrderID {
	return schema.ClientOrderID(s.next.Add(1))
}

// Builder diffs a quote intent against the book snapshot and emits the
// minimal action set that converges the book to the intent. It is the sole
// producer of Create actions, which is where the exposure ceiling is
// enforced.
type Builder struct {
	cfg  Config
	risk *risk.Engine
	ids  *IDSource
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config, engine *risk.Engine, ids *IDSource) *Builder {
	cfg.setDefaults()
	return &Builder{cfg: cfg, risk: engine, ids: ids}
}

// Build computes the actions for one intent. Orders still Submitted (unacked)
// are never targeted by a conflicting action this cycle; they are deferred to
// a later cycle once their ack resolves them.
func (b *Builder) Build(intent schema.QuoteIntent, snap *book.Snapshot, now time.Time) []schema.Action {
	var actions []schema.Action
	for _, side := range []schema.Side{schema.SideBid, schema.SideAsk} {
		actions = append(actions, b.buildSide(intent, side, snap, now)...)
	}
	return actions
}

func (b *Builder) buildSide(intent schema.QuoteIntent, side schema.Side, snap *book.Snapshot, now time.Time) []schema.Action {
	targets := make([]schema.QuoteLevel, 0, len(intent.Levels))
	for _, lvl := range intent.Levels {
		if lvl.Side == side && lvl.Qty > 0 {
			targets = append(targets, lvl)
		}
	}
	open := snap.Open(intent.Market, side)

	// Match each target to the nearest open order inside the tolerance.
	// Ties break toward the order closest in price, preserving its queue
	// position.
	orderUsed := make([]bool, len(open))
	targetMet := make([]bool, len(targets))
	for ti, target := range targets {
		best := -1
		var bestDiff schema.Price
		for oi, o := range open {
			if orderUsed[oi] {
				continue
			}
			diff := absPrice(o.Price - target.Price)
			if diff > b.cfg.ToleranceTicks {
				continue
			}
			if best == -1 || diff < bestDiff {
				best, bestDiff = oi, diff
			}
		}
		if best >= 0 {
			orderUsed[best] = true
			targetMet[ti] = true
		}
	}

	var actions []schema.Action
	var freedQty schema.Quantity
	for oi, o := range open {
		if orderUsed[oi] {
			continue
		}
		if o.State == schema.OrderStateSubmitted {
			// Unacked: emitting a cancel now would race its ack. Defer.
			continue
		}
		actions = append(actions, schema.Action{
			Kind:          schema.ActionCancel,
			ClientOrderID: o.ClientOrderID,
			Market:        o.Market,
			Side:          o.Side,
		})
		freedQty += o.LeavesQty()
	}

	// Creates count against the ceiling net of the quantity this same cycle
	// is cancelling: the intent no longer includes those slots.
	openQty := snap.OpenQty(intent.Market, side) - freedQty
	if openQty < 0 {
		openQty = 0
	}
	for ti, target := range targets {
		if targetMet[ti] {
			continue
		}
		if b.risk != nil {
			decision := b.risk.EvaluateCreate(target.Price, target.Qty, openQty)
			if !decision.Allow {
				logs.Warnf("create suppressed, market: %d, side: %s, price: %d, reason: %s",
					intent.Market, side.String(), target.Price, decision.Reason.String())
				continue
			}
		}
		openQty += target.Qty
		actions = append(actions, schema.Action{
			Kind:          schema.ActionCreate,
			ClientOrderID: b.ids.Next(),
			Market:        intent.Market,
			Side:          side,
			Price:         target.Price,
			Qty:           target.Qty,
			Type:          schema.OrderTypeLimit,
			TimeInForce:   b.cfg.TimeInForce,
			ExpiresAt:     now.Add(b.cfg.ExpiryHorizon).UnixMilli(),
		})
	}
	return actions
}

func absPrice(p schema.Price) schema.Price {
	if p < 0 {
		return -p
	}
	return p
}
