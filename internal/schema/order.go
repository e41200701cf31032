package schema

// OrderState tracks the lifecycle of an order.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStateBuilding
	OrderStateSubmitted
	OrderStateLive
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCancelled
	OrderStateFailed
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStateBuilding:
		return "building"
	case OrderStateSubmitted:
		return "submitted"
	case OrderStateLive:
		return "live"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCancelled:
		return "cancelled"
	case OrderStateFailed:
		return "failed"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateFailed, OrderStateExpired:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the order still holds a slot on a quote level.
func (s OrderState) IsOpen() bool {
	switch s {
	case OrderStateSubmitted, OrderStateLive, OrderStatePartFilled:
		return true
	default:
		return false
	}
}

// Order is the local view of one venue order. Entries are owned by the
// reconciler until terminal; every other task reads snapshots.
type Order struct {
	ClientOrderID ClientOrderID
	Market        MarketID
	Side          Side
	Price         Price
	Qty           Quantity
	FilledQty     Quantity
	Type          OrderType
	TimeInForce   TimeInForce

	// ExpiresAt is the venue-side expiry in unix milliseconds.
	ExpiresAt int64
	// Deadline is the local ack deadline in unix nanoseconds. A Submitted
	// order unacked past it is swept into Failed.
	Deadline int64
	// TerminalAt records when a terminal state was entered, for the removal
	// grace period that absorbs duplicate late events.
	TerminalAt int64

	State OrderState
	// LastSeq is the highest venue event sequence applied to this order.
	LastSeq uint64

	RejectCode    int32
	RejectMessage string
	TxHash        string
}

// LeavesQty is the still-resting quantity.
func (o Order) LeavesQty() Quantity {
	leaves := o.Qty - o.FilledQty
	if leaves < 0 {
		return 0
	}
	return leaves
}

// SignedPayload is an immutable signed transaction. It is built once and may
// only be resent verbatim as an idempotent retry carrying the same nonce.
type SignedPayload struct {
	TxType uint8
	Body   []byte
	Sig    []byte
	Lease  NonceLease
}
