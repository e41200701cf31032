package exception

import "github.com/yanun0323/errors"

var (
	ErrNonceUnavailable = errors.New("nonce: no nonce available")
	ErrNonceKeyRange    = errors.New("nonce: invalid api key range")
	ErrNonceUnknownKey  = errors.New("nonce: unknown api key index")

	ErrPriceOverflow   = errors.New("sign: price exceeds wire range")
	ErrAmountOverflow  = errors.New("sign: base amount exceeds wire range")
	ErrExpiryTooSoon   = errors.New("sign: expiry below minimum horizon")
	ErrInvalidInput    = errors.New("sign: invalid input")
	ErrUnsupportedType = errors.New("sign: unsupported transaction type")

	ErrRetryExhausted = errors.New("dispatch: retry budget exhausted")
	ErrDuplicateOrder = errors.New("book: order already exists")
	ErrUnknownOrder   = errors.New("book: order not found")
)
