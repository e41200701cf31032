package sign

import (
	"testing"
	"time"

	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New(testPrivateKey, 11, 0)
	require.NoError(t, err)
	return s
}

func testCreateAction(now time.Time) schema.Action {
	return schema.Action{
		Kind:          schema.ActionCreate,
		ClientOrderID: 1001,
		Market:        3,
		Side:          schema.SideAsk,
		Price:         250_000,
		Qty:           1_500,
		Type:          schema.OrderTypeLimit,
		TimeInForce:   schema.TimeInForceGTT,
		ExpiresAt:     now.Add(time.Hour).UnixMilli(),
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New("not-hex", 11, 0)
	assert.Error(t, err)

	_, err = New("0x"+testPrivateKey, 11, 0)
	assert.NoError(t, err)
}

func TestSignCreateDeterministic(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1_760_000_000, 0)
	action := testCreateAction(now)
	lease := schema.NonceLease{Key: 2, Value: 42}

	first, err := signer.SignAction(action, lease, now)
	require.NoError(t, err)
	second, err := signer.SignAction(action, lease, now)
	require.NoError(t, err)

	assert.Equal(t, codec.TxTypeCreateOrder, first.TxType)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Sig, second.Sig)
	assert.Equal(t, lease, first.Lease)

	decoded, ok := codec.DecodeCreateOrder(first.Body)
	require.True(t, ok)
	assert.Equal(t, schema.AccountIndex(11), decoded.AccountIndex)
	assert.Equal(t, action.ClientOrderID, decoded.ClientOrderID)
	assert.Equal(t, lease.Key, decoded.KeyIndex)
	assert.Equal(t, lease.Value, decoded.Nonce)
	assert.True(t, decoded.IsAsk)
}

func TestSignCreateValidation(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1_760_000_000, 0)

	testCases := []struct {
		desc     string
		mutate   func(*schema.Action)
		expected error
	}{
		{desc: "zero price", mutate: func(a *schema.Action) { a.Price = 0 }, expected: exception.ErrPriceOverflow},
		{desc: "price above wire range", mutate: func(a *schema.Action) { a.Price = codec.MaxWirePrice + 1 }, expected: exception.ErrPriceOverflow},
		{desc: "zero qty", mutate: func(a *schema.Action) { a.Qty = 0 }, expected: exception.ErrAmountOverflow},
		{desc: "missing expiry", mutate: func(a *schema.Action) { a.ExpiresAt = 0 }, expected: exception.ErrInvalidInput},
		{desc: "expiry too soon", mutate: func(a *schema.Action) { a.ExpiresAt = now.Add(time.Second).UnixMilli() }, expected: exception.ErrExpiryTooSoon},
		{desc: "bad order type", mutate: func(a *schema.Action) { a.Type = schema.OrderTypeUnknown }, expected: exception.ErrInvalidInput},
		{desc: "bad time in force", mutate: func(a *schema.Action) { a.TimeInForce = schema.TimeInForceUnknown }, expected: exception.ErrInvalidInput},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			action := testCreateAction(now)
			tc.mutate(&action)
			_, err := signer.SignAction(action, schema.NonceLease{Key: 0, Value: 1}, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.expected), "got %+v", err)
		})
	}
}

func TestSignCancelRequiresID(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1_760_000_000, 0)

	_, err := signer.SignAction(schema.Action{Kind: schema.ActionCancel}, schema.NonceLease{}, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidInput))

	payload, err := signer.SignAction(schema.Action{
		Kind:          schema.ActionCancel,
		ClientOrderID: 1001,
		Market:        3,
	}, schema.NonceLease{Key: 1, Value: 5}, now)
	require.NoError(t, err)
	assert.Equal(t, codec.TxTypeCancelOrder, payload.TxType)

	decoded, ok := codec.DecodeCancelOrder(payload.Body)
	require.True(t, ok)
	assert.Equal(t, schema.ClientOrderID(1001), decoded.ClientOrderID)
	assert.Greater(t, decoded.ExpiredAt, now.UnixMilli())
}

func TestSignCancelAll(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1_760_000_000, 0)

	payload, err := signer.SignCancelAll(schema.NonceLease{Key: 3, Value: 9}, now)
	require.NoError(t, err)
	assert.Equal(t, codec.TxTypeCancelAll, payload.TxType)

	decoded, ok := codec.DecodeCancelAll(payload.Body)
	require.True(t, ok)
	assert.Equal(t, schema.AccountIndex(11), decoded.AccountIndex)
	assert.Equal(t, int64(9), decoded.Nonce)
}

func TestSignUnsupportedKind(t *testing.T) {
	signer := newTestSigner(t)
	_, err := signer.SignAction(schema.Action{Kind: schema.ActionUnknown}, schema.NonceLease{}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrUnsupportedType))
}

func TestVerify(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Unix(1_760_000_000, 0)
	payload, err := signer.SignAction(testCreateAction(now), schema.NonceLease{Key: 0, Value: 1}, now)
	require.NoError(t, err)

	assert.True(t, signer.Verify(payload.TxType, payload.Body, payload.Sig))

	tampered := append([]byte(nil), payload.Body...)
	tampered[0] ^= 0xff
	assert.False(t, signer.Verify(payload.TxType, tampered, payload.Sig))
	assert.False(t, signer.Verify(payload.TxType+1, payload.Body, payload.Sig))
	assert.False(t, signer.Verify(payload.TxType, payload.Body, payload.Sig[:32]))

	other, err := New("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 11, 0)
	require.NoError(t, err)
	assert.False(t, other.Verify(payload.TxType, payload.Body, payload.Sig))
}

func TestAuthTokenBindsDeadline(t *testing.T) {
	signer := newTestSigner(t)
	deadline := time.Unix(1_760_000_900, 0)

	token, err := signer.NewAuthToken(2, deadline)
	require.NoError(t, err)
	assert.Equal(t, deadline, token.ExpiresAt)
	assert.Contains(t, token.Token, "1760000900:")

	again, err := signer.NewAuthToken(2, deadline)
	require.NoError(t, err)
	assert.Equal(t, token.Token, again.Token)

	otherKey, err := signer.NewAuthToken(3, deadline)
	require.NoError(t, err)
	assert.NotEqual(t, token.Token, otherKey.Token)
}
