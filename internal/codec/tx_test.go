package codec

import (
	"testing"

	"main/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTypeMapping(t *testing.T) {
	testCases := []struct {
		desc     string
		input    schema.OrderType
		expected uint8
		ok       bool
	}{
		{desc: "limit", input: schema.OrderTypeLimit, expected: WireOrderTypeLimit, ok: true},
		{desc: "market", input: schema.OrderTypeMarket, expected: WireOrderTypeMarket, ok: true},
		{desc: "stop loss", input: schema.OrderTypeStopLoss, expected: WireOrderTypeStopLoss, ok: true},
		{desc: "stop loss limit", input: schema.OrderTypeStopLossLimit, expected: WireOrderTypeStopLossLimit, ok: true},
		{desc: "take profit", input: schema.OrderTypeTakeProfit, expected: WireOrderTypeTakeProfit, ok: true},
		{desc: "take profit limit", input: schema.OrderTypeTakeProfitLimit, expected: WireOrderTypeTakeProfitLimit, ok: true},
		{desc: "unknown", input: schema.OrderTypeUnknown, expected: 0, ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			v, ok := WireOrderType(tc.input)
			if ok != tc.ok {
				t.Fatalf("expected ok %v, got %v", tc.ok, ok)
			}
			if v != tc.expected {
				t.Fatalf("expected wire value %d, got %d", tc.expected, v)
			}
			if !tc.ok {
				return
			}
			back, ok := OrderTypeFromWire(v)
			if !ok || back != tc.input {
				t.Fatalf("round trip expected %v, got %v (ok %v)", tc.input, back, ok)
			}
		})
	}
}

func TestTimeInForceMapping(t *testing.T) {
	testCases := []struct {
		desc     string
		input    schema.TimeInForce
		expected uint8
		ok       bool
	}{
		{desc: "ioc", input: schema.TimeInForceIOC, expected: WireTimeInForceIOC, ok: true},
		{desc: "gtt", input: schema.TimeInForceGTT, expected: WireTimeInForceGTT, ok: true},
		{desc: "post only", input: schema.TimeInForcePostOnly, expected: WireTimeInForcePostOnly, ok: true},
		{desc: "unknown", input: schema.TimeInForceUnknown, expected: 0, ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			v, ok := WireTimeInForce(tc.input)
			if ok != tc.ok {
				t.Fatalf("expected ok %v, got %v", tc.ok, ok)
			}
			if v != tc.expected {
				t.Fatalf("expected wire value %d, got %d", tc.expected, v)
			}
			if !tc.ok {
				return
			}
			back, ok := TimeInForceFromWire(v)
			if !ok || back != tc.input {
				t.Fatalf("round trip expected %v, got %v (ok %v)", tc.input, back, ok)
			}
		})
	}
}

func TestCreateOrderRoundTrip(t *testing.T) {
	tx := CreateOrderTx{
		AccountIndex:  281474,
		Market:        3,
		ClientOrderID: 987654321,
		BaseAmount:    25_000,
		Price:         4_294_967_295,
		IsAsk:         true,
		ReduceOnly:    true,
		OrderType:     WireOrderTypeLimit,
		TimeInForce:   WireTimeInForceGTT,
		KeyIndex:      7,
		ExpiredAt:     1_760_000_000_000,
		Nonce:         42,
	}

	body := EncodeCreateOrder(nil, tx)
	require.Len(t, body, CreateOrderBodySize)

	decoded, ok := DecodeCreateOrder(body)
	require.True(t, ok)
	assert.Equal(t, tx, decoded)
}

func TestCreateOrderFlagsIndependent(t *testing.T) {
	body := EncodeCreateOrder(nil, CreateOrderTx{IsAsk: false, ReduceOnly: true})
	decoded, ok := DecodeCreateOrder(body)
	require.True(t, ok)
	assert.False(t, decoded.IsAsk)
	assert.True(t, decoded.ReduceOnly)
}

func TestCancelOrderRoundTrip(t *testing.T) {
	tx := CancelOrderTx{
		AccountIndex:  11,
		Market:        1,
		ClientOrderID: 555,
		KeyIndex:      2,
		ExpiredAt:     1_760_000_600_000,
		Nonce:         100,
	}

	body := EncodeCancelOrder(nil, tx)
	require.Len(t, body, CancelOrderBodySize)

	decoded, ok := DecodeCancelOrder(body)
	require.True(t, ok)
	assert.Equal(t, tx, decoded)
}

func TestCancelAllRoundTrip(t *testing.T) {
	tx := CancelAllTx{
		AccountIndex: 11,
		KeyIndex:     0,
		ExpiredAt:    1_760_000_600_000,
		Nonce:        7,
	}

	body := EncodeCancelAll(nil, tx)
	require.Len(t, body, CancelAllBodySize)

	decoded, ok := DecodeCancelAll(body)
	require.True(t, ok)
	assert.Equal(t, tx, decoded)
}

func TestModifyOrderRoundTrip(t *testing.T) {
	tx := ModifyOrderTx{
		AccountIndex:  11,
		Market:        9,
		ClientOrderID: 31337,
		BaseAmount:    1_000,
		Price:         250_000,
		KeyIndex:      5,
		ExpiredAt:     1_760_000_600_000,
		Nonce:         9001,
	}

	body := EncodeModifyOrder(nil, tx)
	require.Len(t, body, ModifyOrderBodySize)

	decoded, ok := DecodeModifyOrder(body)
	require.True(t, ok)
	assert.Equal(t, tx, decoded)
}

func TestDecodeTruncatedBody(t *testing.T) {
	body := EncodeCreateOrder(nil, CreateOrderTx{ClientOrderID: 1})
	_, ok := DecodeCreateOrder(body[:CreateOrderBodySize-1])
	assert.False(t, ok)

	_, ok = DecodeCancelOrder(body[:CancelOrderBodySize-1])
	assert.False(t, ok)

	_, ok = DecodeCancelAll(body[:CancelAllBodySize-1])
	assert.False(t, ok)

	_, ok = DecodeModifyOrder(body[:ModifyOrderBodySize-1])
	assert.False(t, ok)
}

func TestEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 128)
	body := EncodeCreateOrder(buf, CreateOrderTx{ClientOrderID: 77})
	require.Len(t, body, CreateOrderBodySize)
	assert.Same(t, &buf[:1][0], &body[0])
}
