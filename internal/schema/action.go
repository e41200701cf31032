package schema

// ActionKind discriminates the order mutations the builder can request.
type ActionKind uint8

const (
	ActionUnknown ActionKind = iota
	ActionCreate
	ActionCancel
	ActionModify
	ActionCancelAll
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionCancel:
		return "cancel"
	case ActionModify:
		return "modify"
	case ActionCancelAll:
		return "cancel_all"
	default:
		return "unknown"
	}
}

// Action is one desired order mutation, produced by the order builder and
// consumed by the dispatcher. For Cancel and Modify, ClientOrderID names the
// existing order; Modify additionally carries the new price/quantity.
type Action struct {
	Kind          ActionKind
	ClientOrderID ClientOrderID
	Market        MarketID
	Side          Side
	Price         Price
	Qty           Quantity
	Type          OrderType
	TimeInForce   TimeInForce
	ExpiresAt     int64

	// Attempts counts dispatcher submissions of this logical action.
	Attempts uint8
}

// AckStatus is the per-entry submission outcome.
type AckStatus uint8

const (
	AckUnknown AckStatus = iota
	AckAccepted
	AckRejected
)

// Ack is the venue's per-entry answer to a submitted payload, delivered in
// submission order within a batch.
type Ack struct {
	ClientOrderID ClientOrderID
	Status        AckStatus
	Code          int32
	Message       string
	TxHash        string
	Lease         NonceLease
}
