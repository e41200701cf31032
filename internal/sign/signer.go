package sign

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/yanun0323/errors"
)

// DefaultMinExpiry is the smallest expiry horizon accepted for GTT orders.
const DefaultMinExpiry = 30 * time.Second

// Signer builds and signs typed transaction payloads for one account key.
// It performs no I/O: signing is a pure function of the inputs and the key,
// so the same action and lease always produce the same payload.
type Signer struct {
	key       *ecdsa.PrivateKey
	account   schema.AccountIndex
	minExpiry time.Duration
}

// New creates a signer from a hex private key.
func New(privKeyHex string, account schema.AccountIndex, minExpiry time.Duration) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	if minExpiry <= 0 {
		minExpiry = DefaultMinExpiry
	}
	return &Signer{
		key:       key,
		account:   account,
		minExpiry: minExpiry,
	}, nil
}

// Account returns the account index this signer authorizes.
func (s *Signer) Account() schema.AccountIndex {
	return s.account
}

// PublicKeyHex returns the uncompressed public key as hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSAPub(&s.key.PublicKey))
}

// SignAction builds the wire body for the action, validates it, and signs it
// under the given lease. Validation failures surface before any network call.
func (s *Signer) SignAction(action schema.Action, lease schema.NonceLease, now time.Time) (schema.SignedPayload, error) {
	switch action.Kind {
	case schema.ActionCreate:
		return s.signCreate(action, lease, now)
	case schema.ActionCancel:
		return s.signCancel(action, lease, now)
	case schema.ActionModify:
		return s.signModify(action, lease, now)
	case schema.ActionCancelAll:
		return s.SignCancelAll(lease, now)
	default:
		return schema.SignedPayload{}, errors.Wrap(exception.ErrUnsupportedType, action.Kind.String())
	}
}

func (s *Signer) signCreate(action schema.Action, lease schema.NonceLease, now time.Time) (schema.SignedPayload, error) {
	if err := s.validatePriceQty(action.Price, action.Qty); err != nil {
		return schema.SignedPayload{}, err
	}
	if err := s.validateExpiry(action.ExpiresAt, now); err != nil {
		return schema.SignedPayload{}, err
	}
	orderType, ok := codec.WireOrderType(action.Type)
	if !ok {
		return schema.SignedPayload{}, errors.Wrap(exception.ErrInvalidInput, "order type")
	}
	tif, ok := codec.WireTimeInForce(action.TimeInForce)
	if !ok {
		return schema.SignedPayload{}, errors.Wrap(exception.ErrInvalidInput, "time in force")
	}

	body := codec.EncodeCreateOrder(nil, codec.CreateOrderTx{
		AccountIndex:  s.account,
		Market:        action.Market,
		ClientOrderID: action.ClientOrderID,
		BaseAmount:    action.Qty,
		Price:         action.Price,
		IsAsk:         action.Side.IsAsk(),
		OrderType:     orderType,
		TimeInForce:   tif,
		KeyIndex:      lease.Key,
		ExpiredAt:     action.ExpiresAt,
		Nonce:         lease.Value,
	})
	return s.seal(codec.TxTypeCreateOrder, body, lease)
}

func (s *Signer) signCancel(action schema.Action, lease schema.NonceLease, now time.Time) (schema.SignedPayload, error) {
	if action.ClientOrderID == 0 {
		return schema.SignedPayload{}, errors.Wrap(exception.ErrInvalidInput, "cancel without client order id")
	}
	body := codec.EncodeCancelOrder(nil, codec.CancelOrderTx{
		AccountIndex:  s.account,
		Market:        action.Market,
		ClientOrderID: action.ClientOrderID,
		KeyIndex:      lease.Key,
		ExpiredAt:     txDeadline(now),
		Nonce:         lease.Value,
	})
	return s.seal(codec.TxTypeCancelOrder, body, lease)
}

func (s *Signer) signModify(action schema.Action, lease schema.NonceLease, now time.Time) (schema.SignedPayload, error) {
	if action.ClientOrderID == 0 {
		return schema.SignedPayload{}, errors.Wrap(exception.ErrInvalidInput, "modify without client order id")
	}
	if err := s.validatePriceQty(action.Price, action.Qty); err != nil {
		return schema.SignedPayload{}, err
	}
	body := codec.EncodeModifyOrder(nil, codec.ModifyOrderTx{
		AccountIndex:  s.account,
		Market:        action.Market,
		ClientOrderID: action.ClientOrderID,
		BaseAmount:    action.Qty,
		Price:         action.Price,
		KeyIndex:      lease.Key,
		ExpiredAt:     txDeadline(now),
		Nonce:         lease.Value,
	})
	return s.seal(codec.TxTypeModifyOrder, body, lease)
}

// SignCancelAll signs a cancel-all transaction for the whole account.
func (s *Signer) SignCancelAll(lease schema.NonceLease, now time.Time) (schema.SignedPayload, error) {
	body := codec.EncodeCancelAll(nil, codec.CancelAllTx{
		AccountIndex: s.account,
		KeyIndex:     lease.Key,
		ExpiredAt:    txDeadline(now),
		Nonce:        lease.Value,
	})
	return s.seal(codec.TxTypeCancelAll, body, lease)
}

func (s *Signer) seal(txType uint8, body []byte, lease schema.NonceLease) (schema.SignedPayload, error) {
	sig, err := crypto.Sign(digest(txType, body), s.key)
	if err != nil {
		return schema.SignedPayload{}, errors.Wrap(err, "sign payload")
	}
	return schema.SignedPayload{
		TxType: txType,
		Body:   body,
		Sig:    sig,
		Lease:  lease,
	}, nil
}

func (s *Signer) validatePriceQty(price schema.Price, qty schema.Quantity) error {
	if price <= 0 || price > codec.MaxWirePrice {
		return errors.Wrap(exception.ErrPriceOverflow, fmt.Sprintf("price %d", price))
	}
	if qty <= 0 {
		return errors.Wrap(exception.ErrAmountOverflow, fmt.Sprintf("quantity %d", qty))
	}
	return nil
}

func (s *Signer) validateExpiry(expiresAt int64, now time.Time) error {
	if expiresAt <= 0 {
		return errors.Wrap(exception.ErrInvalidInput, "expiry missing")
	}
	horizon := now.Add(s.minExpiry).UnixMilli()
	if expiresAt < horizon {
		return errors.Wrap(exception.ErrExpiryTooSoon,
			fmt.Sprintf("expires_at %d < horizon %d", expiresAt, horizon))
	}
	return nil
}

// Verify reports whether sig was produced by this signer over the payload.
func (s *Signer) Verify(txType uint8, body, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	recovered, err := crypto.Ecrecover(digest(txType, body), sig)
	if err != nil {
		return false
	}
	return string(recovered) == string(crypto.FromECDSAPub(&s.key.PublicKey))
}

// digest is Keccak256 over the tx type tag and the encoded body. The nonce is
// part of the body, binding the signature to one sequence position.
func digest(txType uint8, body []byte) []byte {
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, txType)
	buf = append(buf, body...)
	return crypto.Keccak256(buf)
}

// txDeadline is the venue-side validity window for non-resting transactions.
func txDeadline(now time.Time) int64 {
	return now.Add(10 * time.Minute).UnixMilli()
}

// AuthToken is a short-lived token authorizing private-channel subscription.
type AuthToken struct {
	Token     string
	ExpiresAt time.Time
}

// NewAuthToken derives a token valid until deadline: the hex signature over
// (account, key, deadline) prefixed with the deadline for server-side checks.
func (s *Signer) NewAuthToken(key schema.APIKeyIndex, deadline time.Time) (AuthToken, error) {
	var msg [17]byte
	binary.LittleEndian.PutUint64(msg[0:8], uint64(s.account))
	msg[8] = uint8(key)
	binary.LittleEndian.PutUint64(msg[9:17], uint64(deadline.Unix()))

	sig, err := crypto.Sign(crypto.Keccak256(msg[:]), s.key)
	if err != nil {
		return AuthToken{}, errors.Wrap(err, "sign auth token")
	}
	return AuthToken{
		Token:     fmt.Sprintf("%d:%s", deadline.Unix(), hex.EncodeToString(sig)),
		ExpiresAt: deadline,
	}, nil
}
