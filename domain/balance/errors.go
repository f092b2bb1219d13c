package balance

import "errors"

var (
	// ErrInsufficientFunds is a rejected-command error: the lock is
	// refused and no state changes.
	ErrInsufficientFunds = errors.New("balance: insufficient funds")

	// ErrUnknownHold means the caller referenced a hold that does not
	// exist. For pipeline callers this is an internal-consistency fault.
	ErrUnknownHold = errors.New("balance: unknown hold")
)
