package schema

// EventKind discriminates venue push events after boundary decoding.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventOrderUpdate
	EventFill
	EventCancelConfirmed
	EventNonceError
)

func (k EventKind) String() string {
	switch k {
	case EventOrderUpdate:
		return "order_update"
	case EventFill:
		return "fill"
	case EventCancelConfirmed:
		return "cancel_confirmed"
	case EventNonceError:
		return "nonce_error"
	default:
		return "unknown"
	}
}

// Event is a decoded venue push. Events are idempotent by
// (ClientOrderID, Seq); replays are dropped by the reconciler.
type Event struct {
	Kind          EventKind
	Seq           uint64
	ClientOrderID ClientOrderID
	Market        MarketID
	Side          Side
	Price         Price
	Qty           Quantity
	// FilledQty is the cumulative filled quantity reported by the venue.
	FilledQty Quantity
	Status    string
	TxHash    string

	// NonceError fields.
	Key            APIKeyIndex
	ConfirmedNonce int64

	// TsRecv is the local receive timestamp in unix nanoseconds.
	TsRecv int64
}

// QuoteLevel is one desired resting order of a quote intent.
type QuoteLevel struct {
	Side  Side
	Price Price
	Qty   Quantity
}

// QuoteIntent is the strategy's desired resting order set for one market at a
// point in time, independent of current live orders.
type QuoteIntent struct {
	Market MarketID
	Levels []QuoteLevel
}
