package auction

import (
	"errors"
	"fmt"
)

// Error is a caller-visible rejection with a stable machine-readable code.
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// ErrorCode returns the stable code recorded on failed receipts.
func (e *Error) ErrorCode() string { return e.code }

var (
	ErrUnauthorized        = &Error{"unauthorized", "unauthorized"}
	ErrInvalidTiming       = &Error{"invalid_timing", "invalid timing"}
	ErrInvalidState        = &Error{"invalid_state", "invalid state"}
	ErrBidTooLow           = &Error{"bid_too_low", "bid too low"}
	ErrAssetTransferFailed = &Error{"asset_transfer_failed", "asset transfer failed"}
	ErrNothingToWithdraw   = &Error{"nothing_to_withdraw", "nothing to withdraw"}
	ErrAmountOverflow      = &Error{"amount_overflow", "amount overflow"}
)

// ErrReentrant is returned when an operation is invoked on an Escrow that is
// already executing one, e.g. from inside an asset transfer callback.
var ErrReentrant = fmt.Errorf("%w: reentrant call", ErrInvalidState)

// Code returns the code of the first auction error in err's chain, or "" if
// there is none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}
