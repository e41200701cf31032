package schema

// MarketID identifies an order book on the venue.
type MarketID uint32

// AccountIndex identifies the trading account on the venue.
type AccountIndex int64

// APIKeyIndex selects one signing key slot of an account.
type APIKeyIndex uint8

// Price is an integer multiple of the market tick.
type Price int64

// Quantity is an integer multiple of the market lot.
type Quantity int64

// ClientOrderID is a process-unique order identifier assigned before submission.
type ClientOrderID uint64

// Side marks the resting direction of an order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// IsAsk reports whether the side maps to the venue's is_ask flag.
func (s Side) IsAsk() bool {
	return s == SideAsk
}

// OrderType is the venue order category.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStopLoss
	OrderTypeStopLossLimit
	OrderTypeTakeProfit
	OrderTypeTakeProfitLimit
)

// TimeInForce controls how long an order may rest.
type TimeInForce uint8

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceIOC
	TimeInForceGTT
	TimeInForcePostOnly
)

// NonceLease binds one signing sequence value to one api key slot.
// Values are strictly increasing per key; a lease is consumed at most once.
type NonceLease struct {
	Key   APIKeyIndex
	Value int64
}
