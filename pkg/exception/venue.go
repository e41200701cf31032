package exception

import "github.com/yanun0323/errors"

var (
	ErrConnUnavailable   = errors.New("venue: connection unavailable")
	ErrConnClosed        = errors.New("venue: connection closed")
	ErrSubmitTimeout     = errors.New("venue: submit response timeout")
	ErrProtocol          = errors.New("venue: protocol error")
	ErrAlreadySubscribed = errors.New("venue: topic already subscribed")
	ErrAuthRejected      = errors.New("venue: auth token rejected")
)
