/*
errors.go - Error types for the settlement core

Sentinel errors live here so callers can branch with errors.Is. Store
implementations wrap these with driver-level detail.
*/
package economy

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when a referenced account doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering an already-registered user.
	ErrUserExists = errors.New("user already registered")

	// ErrIncomeNotFound is returned when removing an absent income record.
	ErrIncomeNotFound = errors.New("income record not found")

	// ErrRunInProgress is returned by the driver when Start is called on a
	// driver that is already running.
	ErrRunInProgress = errors.New("driver already started")
)

// SettlementError carries the run date alongside the failure that rolled the
// settlement back. It is recorded in the journal, never re-raised to the
// scheduler loop.
type SettlementError struct {
	RunDate Date
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement for %s failed: %v", e.RunDate, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
