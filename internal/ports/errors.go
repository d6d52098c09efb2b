package ports

import (
	"errors"
	"fmt"
)

// Standard ledger errors.
// Adapters should wrap underlying infrastructure errors with ErrStorage (or ErrLockTimeout).
var (
	// Business rule rejections
	ErrValidation            = errors.New("invalid trade request")
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// Lookup errors
	ErrNotFound = errors.New("resource not found")

	// Storage errors
	ErrStorage     = errors.New("storage error")
	ErrLockTimeout = fmt.Errorf("lock wait timed out: %w", ErrStorage)

	// Configuration errors
	ErrConfigurationError = errors.New("invalid or missing configuration")
)

// ValidationError reports a malformed or out-of-range request field.
// It is detected before any write, so nothing needs to be rolled back.
type ValidationError struct {
	Row    int // Zero-based batch row, -1 for single trades
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("row %d: %s %s", e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientInventoryError reports a sell that cannot be fully satisfied by the open lots
// of its instrument. The whole unit of work is discarded when it is returned.
type InsufficientInventoryError struct {
	Instrument string
	Requested  int64
	Available  int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("not enough %s to sell: requested %d, available %d", e.Instrument, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientInventory) match.
func (e *InsufficientInventoryError) Is(target error) bool { return target == ErrInsufficientInventory }
