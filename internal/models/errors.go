package models

import "errors"

// Sentinel errors shared across the repository, engine and controller
// layers. Wrap with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrValidation marks a missing or malformed request field.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown proposal, transaction or counterparty.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks a lifecycle transition attempted from a state
	// that does not permit it.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict marks a concurrent mutation detected by the currency
	// advisory lock, e.g. two rebalance runs racing on the same currency.
	ErrConflict = errors.New("conflicting operation in progress")
)
