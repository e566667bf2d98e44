package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks malformed or missing required fields. Not retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidParameter marks out-of-range numeric configuration.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidTransition marks a violated state machine guard. Callers re-read and may retry.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAuthenticationFailed is returned when a signing credential check rejects the user.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidEntry is returned by the audit ledger for entries missing user or action.
	ErrInvalidEntry = errors.New("invalid audit entry")
	// ErrLedgerTampered means the recomputed hash chain disagrees with a stored entry.
	ErrLedgerTampered = errors.New("audit ledger hash chain broken")
)
