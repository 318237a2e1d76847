package pool

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrBelowMinimum       = errors.New("below minimum contribution")
	ErrAboveMaximum       = errors.New("above maximum contribution")
	ErrAllocationExceeded = errors.New("allocation exceeded")
	ErrNotWhitelisted     = errors.New("not whitelisted")
	ErrNothingToRefund    = errors.New("nothing to refund")
	ErrDuplicateToken     = errors.New("duplicate token")
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrIndexOutOfBounds   = errors.New("index out of bounds")
	ErrTransferFailed     = errors.New("transfer failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidState, "InvalidState"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrBelowMinimum, "BelowMinimum"},
	{ErrAboveMaximum, "AboveMaximum"},
	{ErrAllocationExceeded, "AllocationExceeded"},
	{ErrNotWhitelisted, "NotWhitelisted"},
	{ErrNothingToRefund, "NothingToRefund"},
	{ErrDuplicateToken, "DuplicateToken"},
	{ErrTokenNotFound, "TokenNotFound"},
	{ErrInvalidToken, "InvalidToken"},
	{ErrIndexOutOfBounds, "IndexOutOfBounds"},
	{ErrTransferFailed, "TransferFailed"},
}

// Kind returns the name of the error kind wrapped by err. It returns "" for a
// nil error and "Internal" for errors outside the pool's taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// ErrorForKind is the inverse of Kind.
func ErrorForKind(name string) (error, bool) {
	for _, k := range kinds {
		if k.name == name {
			return k.err, true
		}
	}
	return nil, false
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%s not permitted while %s: %w", op, s, ErrInvalidState)
}

func transferFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransferFailed, fmt.Sprintf(format, args...))
}
