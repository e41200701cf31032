package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

// Transaction type discriminants. These match the venue's documented
// contract and must never be renumbered.
const (
	TxTypeChangePubKey     uint8 = 8
	TxTypeCreateSubAccount uint8 = 9
	TxTypeCreatePublicPool uint8 = 10
	TxTypeUpdatePublicPool uint8 = 11
	TxTypeTransfer         uint8 = 12
	TxTypeWithdraw         uint8 = 13
	TxTypeCreateOrder      uint8 = 14
	TxTypeCancelOrder      uint8 = 15
	TxTypeCancelAll        uint8 = 16
	TxTypeModifyOrder      uint8 = 17
	TxTypeMintShares       uint8 = 18
	TxTypeBurnShares       uint8 = 19
	TxTypeUpdateLeverage   uint8 = 20
	TxTypeUpdateMargin     uint8 = 21
)

// Venue wire values for order categories and time-in-force.
const (
	WireOrderTypeLimit           uint8 = 0
	WireOrderTypeMarket          uint8 = 1
	WireOrderTypeStopLoss        uint8 = 2
	WireOrderTypeStopLossLimit   uint8 = 3
	WireOrderTypeTakeProfit      uint8 = 4
	WireOrderTypeTakeProfitLimit uint8 = 5

	WireTimeInForceIOC      uint8 = 0
	WireTimeInForceGTT      uint8 = 1
	WireTimeInForcePostOnly uint8 = 2
)

// MaxWirePrice is the largest price the fixed-width price field carries.
const MaxWirePrice = schema.Price(math.MaxUint32)

const (
	flagIsAsk      uint8 = 1 << 0
	flagReduceOnly uint8 = 1 << 1
)

// WireOrderType maps an order type to its wire value.
func WireOrderType(t schema.OrderType) (uint8, bool) {
	switch t {
	case schema.OrderTypeLimit:
		return WireOrderTypeLimit, true
	case schema.OrderTypeMarket:
		return WireOrderTypeMarket, true
	case schema.OrderTypeStopLoss:
		return WireOrderTypeStopLoss, true
	case schema.OrderTypeStopLossLimit:
		return WireOrderTypeStopLossLimit, true
	case schema.OrderTypeTakeProfit:
		return WireOrderTypeTakeProfit, true
	case schema.OrderTypeTakeProfitLimit:
		return WireOrderTypeTakeProfitLimit, true
	default:
		return 0, false
	}
}

// OrderTypeFromWire maps a wire value back to the order type.
func OrderTypeFromWire(v uint8) (schema.OrderType, bool) {
	switch v {
	case WireOrderTypeLimit:
		return schema.OrderTypeLimit, true
	case WireOrderTypeMarket:
		return schema.OrderTypeMarket, true
	case WireOrderTypeStopLoss:
		return schema.OrderTypeStopLoss, true
	case WireOrderTypeStopLossLimit:
		return schema.OrderTypeStopLossLimit, true
	case WireOrderTypeTakeProfit:
		return schema.OrderTypeTakeProfit, true
	case WireOrderTypeTakeProfitLimit:
		return schema.OrderTypeTakeProfitLimit, true
	default:
		return schema.OrderTypeUnknown, false
	}
}

// WireTimeInForce maps a time-in-force to its wire value.
func WireTimeInForce(tif schema.TimeInForce) (uint8, bool) {
	switch tif {
	case schema.TimeInForceIOC:
		return WireTimeInForceIOC, true
	case schema.TimeInForceGTT:
		return WireTimeInForceGTT, true
	case schema.TimeInForcePostOnly:
		return WireTimeInForcePostOnly, true
	default:
		return 0, false
	}
}

// TimeInForceFromWire maps a wire value back to the time-in-force.
func TimeInForceFromWire(v uint8) (schema.TimeInForce, bool) {
	switch v {
	case WireTimeInForceIOC:
		return schema.TimeInForceIOC, true
	case WireTimeInForceGTT:
		return schema.TimeInForceGTT, true
	case WireTimeInForcePostOnly:
		return schema.TimeInForcePostOnly, true
	default:
		return schema.TimeInForceUnknown, false
	}
}

// CreateOrderTx is the decoded body of a CreateOrder transaction.
type CreateOrderTx struct {
	AccountIndex  schema.AccountIndex
	Market        schema.MarketID
	ClientOrderID schema.ClientOrderID
	BaseAmount    schema.Quantity
	Price         schema.Price
	IsAsk         bool
	ReduceOnly    bool
	OrderType     uint8
	TimeInForce   uint8
	KeyIndex      schema.APIKeyIndex
	ExpiredAt     int64
	Nonce         int64
}

const CreateOrderBodySize = 52

// EncodeCreateOrder serializes a create-order body into a fixed-size payload.
func EncodeCreateOrder(dst []byte, tx CreateOrderTx) []byte {
	if cap(dst) < CreateOrderBodySize {
		dst = make([]byte, CreateOrderBodySize)
	} else {
		dst = dst[:CreateOrderBodySize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(tx.AccountIndex))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(tx.Market))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(tx.ClientOrderID))
	binary.LittleEndian.PutUint64(dst[20:28], uint64(tx.BaseAmount))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(tx.Price))
	var flags uint8
	if tx.IsAsk {
		flags |= flagIsAsk
	}
	if tx.ReduceOnly {
		flags |= flagReduceOnly
	}
	dst[32] = flags
	dst[33] = tx.OrderType
	dst[34] = tx.TimeInForce
	dst[35] = uint8(tx.KeyIndex)
	binary.LittleEndian.PutUint64(dst[36:44], uint64(tx.ExpiredAt))
	binary.LittleEndian.PutUint64(dst[44:52], uint64(tx.Nonce))

	return dst
}

// DecodeCreateOrder parses a fixed-size create-order body.
func DecodeCreateOrder(src []byte) (CreateOrderTx, bool) {
	if len(src) < CreateOrderBodySize {
		return CreateOrderTx{}, false
	}
	flags := src[32]
	return CreateOrderTx{
		AccountIndex:  schema.AccountIndex(binary.LittleEndian.Uint64(src[0:8])),
		Market:        schema.MarketID(binary.LittleEndian.Uint32(src[8:12])),
		ClientOrderID: schema.ClientOrderID(binary.LittleEndian.Uint64(src[12:20])),
		BaseAmount:    schema.Quantity(binary.LittleEndian.Uint64(src[20:28])),
		Price:         schema.Price(binary.LittleEndian.Uint32(src[28:32])),
		IsAsk:         flags&flagIsAsk != 0,
		ReduceOnly:    flags&flagReduceOnly != 0,
		OrderType:     src[33],
		TimeInForce:   src[34],
		KeyIndex:      schema.APIKeyIndex(src[35]),
		ExpiredAt:     int64(binary.LittleEndian.Uint64(src[36:44])),
		Nonce:         int64(binary.LittleEndian.Uint64(src[44:52])),
	}, true
}

// CancelOrderTx is the decoded body of a CancelOrder transaction.
type CancelOrderTx struct {
	AccountIndex  schema.AccountIndex
	Market        schema.MarketID
	ClientOrderID schema.ClientOrderID
	KeyIndex      schema.APIKeyIndex
	ExpiredAt     int64
	Nonce         int64
}

const CancelOrderBodySize = 37

// EncodeCancelOrder serializes a cancel-order body into a fixed-size payload.
func EncodeCancelOrder(dst []byte, tx CancelOrderTx) []byte {
	if cap(dst) < CancelOrderBodySize {
		dst = make([]byte, CancelOrderBodySize)
	} else {
		dst = dst[:CancelOrderBodySize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(tx.AccountIndex))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(tx.Market))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(tx.ClientOrderID))
	dst[20] = uint8(tx.KeyIndex)
	binary.LittleEndian.PutUint64(dst[21:29], uint64(tx.ExpiredAt))
	binary.LittleEndian.PutUint64(dst[29:37], uint64(tx.Nonce))

	return dst
}

// DecodeCancelOrder parses a fixed-size cancel-order body.
func DecodeCancelOrder(src []byte) (CancelOrderTx, bool) {
	if len(src) < CancelOrderBodySize {
		return CancelOrderTx{}, false
	}
	return CancelOrderTx{
		AccountIndex:  schema.AccountIndex(binary.LittleEndian.Uint64(src[0:8])),
		Market:        schema.MarketID(binary.LittleEndian.Uint32(src[8:12])),
		ClientOrderID: schema.ClientOrderID(binary.LittleEndian.Uint64(src[12:20])),
		KeyIndex:      schema.APIKeyIndex(src[20]),
		ExpiredAt:     int64(binary.LittleEndian.Uint64(src[21:29])),
		Nonce:         int64(binary.LittleEndian.Uint64(src[29:37])),
	}, true
}

// CancelAllTx is the decoded body of a CancelAll transaction.
type CancelAllTx struct {
	AccountIndex schema.AccountIndex
	KeyIndex     schema.APIKeyIndex
	ExpiredAt    int64
	Nonce        int64
}

const CancelAllBodySize = 25

// EncodeCancelAll serializes a cancel-all body into a fixed-size payload.
func EncodeCancelAll(dst []byte, tx CancelAllTx) []byte {
	if cap(dst) < CancelAllBodySize {
		dst = make([]byte, CancelAllBodySize)
	} else {
		dst = dst[:CancelAllBodySize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(tx.AccountIndex))
	dst[8] = uint8(tx.KeyIndex)
	binary.LittleEndian.PutUint64(dst[9:17], uint64(tx.ExpiredAt))
	binary.LittleEndian.PutUint64(dst[17:25], uint64(tx.Nonce))

	return dst
}

// DecodeCancelAll parses a fixed-size cancel-all body.
func DecodeCancelAll(src []byte) (CancelAllTx, bool) {
	if len(src) < CancelAllBodySize {
		return CancelAllTx{}, false
	}
	return CancelAllTx{
		AccountIndex: schema.AccountIndex(binary.LittleEndian.Uint64(src[0:8])),
		KeyIndex:     schema.APIKeyIndex(src[8]),
		ExpiredAt:    int64(binary.LittleEndian.Uint64(src[9:17])),
		Nonce:        int64(binary.LittleEndian.Uint64(src[17:25])),
	}, true
}

// ModifyOrderTx is the decoded body of a ModifyOrder transaction.
type ModifyOrderTx struct {
	AccountIndex  schema.AccountIndex
	Market        schema.MarketID
	ClientOrderID schema.ClientOrderID
	BaseAmount    schema.Quantity
	Price         schema.Price
	KeyIndex      schema.APIKeyIndex
	ExpiredAt     int64
	Nonce         int64
}

const ModifyOrderBodySize = 49

// EncodeModifyOrder serializes a modify-order body into a fixed-size payload.
func EncodeModifyOrder(dst []byte, tx ModifyOrderTx) []byte {
	if cap(dst) < ModifyOrderBodySize {
		dst = make([]byte, ModifyOrderBodySize)
	} else {
		dst = dst[:ModifyOrderBodySize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(tx.AccountIndex))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(tx.Market))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(tx.ClientOrderID))
	binary.LittleEndian.PutUint64(dst[20:28], uint64(tx.BaseAmount))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(tx.Price))
	dst[32] = uint8(tx.KeyIndex)
	binary.LittleEndian.PutUint64(dst[33:41], uint64(tx.ExpiredAt))
	binary.LittleEndian.PutUint64(dst[41:49], uint64(tx.Nonce))

	return dst
}

// DecodeModifyOrder parses a fixed-size modify-order body.
func DecodeModifyOrder(src []byte) (ModifyOrderTx, bool) {
	if len(src) < ModifyOrderBodySize {
		return ModifyOrderTx{}, false
	}
	return ModifyOrderTx{
		AccountIndex:  schema.AccountIndex(binary.LittleEndian.Uint64(src[0:8])),
		Market:        schema.MarketID(binary.LittleEndian.Uint32(src[8:12])),
		ClientOrderID: schema.ClientOrderID(binary.LittleEndian.Uint64(src[12:20])),
		BaseAmount:    schema.Quantity(binary.LittleEndian.Uint64(src[20:28])),
		Price:         schema.Price(binary.LittleEndian.Uint32(src[28:32])),
		KeyIndex:      schema.APIKeyIndex(src[32]),
		ExpiredAt:     int64(binary.LittleEndian.Uint64(src[33:41])),
		Nonce:         int64(binary.LittleEndian.Uint64(src[41:49])),
	}, true
}
