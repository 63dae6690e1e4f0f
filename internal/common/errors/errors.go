// Package errors provides standardized error handling for the application
// pipeline: stable reason codes, retry classification, and severity.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Transient: retried with backoff up to a cap, then escalated.
	ErrCodeNetworkTimeout     ErrorCode = "NETWORK_TIMEOUT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeMailboxUnavailable ErrorCode = "MAILBOX_UNAVAILABLE"
	ErrCodeLedgerIO           ErrorCode = "LEDGER_IO"

	// Rejection: terminal for the posting, never retried automatically.
	ErrCodeSubmissionRejected ErrorCode = "SUBMISSION_REJECTED"
	ErrCodePostingUnavailable ErrorCode = "POSTING_UNAVAILABLE"

	// Infrastructure: fatal to the whole run.
	ErrCodeLedgerUnavailable ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodePoolExhausted     ErrorCode = "POOL_EXHAUSTED"
	ErrCodeConfigInvalid     ErrorCode = "CONFIG_INVALID"

	// Terminal for the posting, but distinguished from rejection so the
	// operator can retry the specific posting manually.
	ErrCodeVerificationTimeout ErrorCode = "VERIFICATION_TIMEOUT"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fatal     bool                   `json:"fatal"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the stable reason code from any error. Unclassified errors
// report INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}

// IsRetryable reports whether the error is transient and worth another
// attempt after backoff.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// IsInfrastructure reports whether the error must abort the whole run.
func IsInfrastructure(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Fatal
	}
	return false
}

// NewNetworkTimeoutError creates a retryable network error.
func NewNetworkTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetworkTimeout,
		Message:   "Network operation timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a retryable rate-limit error.
func NewRateLimitedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Platform signalled rate limiting",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMailboxUnavailableError creates an error for repeated mailbox
// connection failures, distinct from a verification timeout.
func NewMailboxUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMailboxUnavailable,
		Message:   "Mailbox could not be reached",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerIOError creates a retryable ledger storage error.
func NewLedgerIOError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerIO,
		Message:   "Ledger storage error",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionRejectedError creates a non-retryable rejection error.
func NewSubmissionRejectedError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionRejected,
		Message:   "Platform rejected the submission",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPostingUnavailableError creates a non-retryable error for a posting
// that disappeared between discovery and submission.
func NewPostingUnavailableError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodePostingUnavailable,
		Message:   "Posting is no longer available",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerUnavailableError creates a fatal ledger error.
func NewLedgerUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerUnavailable,
		Message:   "Ledger could not be initialized or reached",
		Details:   err.Error(),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPoolExhaustedError creates a fatal identity-pool error.
func NewPoolExhaustedError(waited time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodePoolExhausted,
		Message:   "All egress identities are in cooldown",
		Details:   fmt.Sprintf("waited: %s", waited),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigInvalidError creates a fatal configuration error.
func NewConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Invalid configuration",
		Details:   details,
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewVerificationTimeoutError creates a terminal verification-deadline error.
func NewVerificationTimeoutError(key string, deadline time.Time) *StandardError {
	return &StandardError{
		Code:      ErrCodeVerificationTimeout,
		Message:   "No matching verification mail arrived before the deadline",
		Details:   fmt.Sprintf("key: %s, deadline: %s", key, deadline.UTC().Format(time.RFC3339)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
