package risk

import "main/internal/schema"

const maxInt64 = int64(^uint64(0) >> 1)

// Reason explains a deny decision.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxOrderQty
	ReasonExposureCeiling
	ReasonNotional
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonMaxOrderQty:
		return "max_order_qty"
	case ReasonExposureCeiling:
		return "exposure_ceiling"
	case ReasonNotional:
		return "notional"
	default:
		return "unknown"
	}
}

// Config defines static exposure limits.
type Config struct {
	KillSwitch bool `json:"killSwitch"`
	// MaxOrderQty caps a single order's quantity. 0 disables the check.
	MaxOrderQty schema.Quantity `json:"maxOrderQty"`
	// MaxOpenQtyPerSide caps the aggregate resting quantity per (market,
	// side), counting Submitted and Live orders. 0 disables the check.
	MaxOpenQtyPerSide schema.Quantity `json:"maxOpenQtyPerSide"`
	// MaxOrderNotional caps price*qty per order. 0 disables the check.
	MaxOrderNotional int64 `json:"maxOrderNotional"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Engine evaluates create actions against static limits. The order builder
// is its only caller: it is the sole producer of Create actions, which is
// what makes the ceiling enforceable at one point.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// EvaluateCreate checks one prospective create against the current aggregate
// open quantity on its side.
func (e *Engine) EvaluateCreate(price schema.Price, qty schema.Quantity, openQty schema.Quantity) Decision {
	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch}
	}
	if e.cfg.MaxOrderQty > 0 && qty > e.cfg.MaxOrderQty {
		return Decision{Reason: ReasonMaxOrderQty}
	}
	if e.cfg.MaxOrderNotional > 0 {
		notional, overflow := mulNotional(price, qty)
		if overflow || notional > e.cfg.MaxOrderNotional {
			return Decision{Reason: ReasonNotional}
		}
	}
	if e.cfg.MaxOpenQtyPerSide > 0 && int64(openQty)+int64(qty) > int64(e.cfg.MaxOpenQtyPerSide) {
		return Decision{Reason: ReasonExposureCeiling}
	}
	return Decision{Allow: true}
}

func mulNotional(price schema.Price, qty schema.Quantity) (int64, bool) {
	p, q := int64(price), int64(qty)
	if p <= 0 || q <= 0 {
		return 0, false
	}
	if p > maxInt64/q {
		return 0, true
	}
	return p * q, false
}
