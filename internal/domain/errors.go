package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoEligiblePairs   = errors.New("no pair in whitelist")
	ErrInvalidMarket     = errors.New("invalid market")
	ErrInsufficientStake = errors.New("insufficient stake amount")
	ErrOrderOutstanding  = errors.New("order already outstanding")
	ErrClosedPosition    = errors.New("closed position")
)

// ClosedPositionError is returned when an engine operation targets a closed position.
type ClosedPositionError struct {
	PositionID string
}

func (e *ClosedPositionError) Error() string {
	return fmt.Sprintf("attempt to handle closed position %s", e.PositionID)
}

func (e *ClosedPositionError) Is(target error) bool {
	return target == ErrClosedPosition
}

// TransientError marks a failure that may succeed on retry (timeouts, rate limits, 5xx).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// OperationalError marks a failure that must halt the engine.
type OperationalError struct {
	Op  string
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("%s: operational: %v", e.Op, e.Err)
}

func (e *OperationalError) Unwrap() error { return e.Err }

func NewOperationalError(op string, err error) error {
	return &OperationalError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying on a later tick.
// An explicit OperationalError anywhere in the chain wins over transient causes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var opErr *OperationalError
	if errors.As(err, &opErr) {
		return false
	}
	var trErr *TransientError
	if errors.As(err, &trErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsContractViolation reports whether err is an expected "cannot open a position now" outcome.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrNoEligiblePairs) || errors.Is(err, ErrInsufficientStake)
}
