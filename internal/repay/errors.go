package repay

import (
	"errors"
	"fmt"

	"LendDesk/internal/debt"
	"LendDesk/internal/ledger"
)

// Code tags every non-success outcome of a repayment attempt. The UI maps
// tags to messages; detail strings are for humans and logs, never for
// programmatic inspection.
type Code string

const (
	// CodeValidation covers bad local input: non-positive amount, inactive
	// position, token mismatch. Never submitted to the chain.
	CodeValidation Code = "validation_error"

	// CodeInsufficientBalance is detected locally before any submission.
	CodeInsufficientBalance Code = "insufficient_balance"

	// CodeUserDeclined is a signer rejection; retrying the same step is
	// always safe.
	CodeUserDeclined Code = "user_declined"

	// CodeReverted means the chain's own rules rejected an operation, e.g.
	// the snapshot went stale; recoverable by re-running decomposition.
	CodeReverted Code = "remote_execution_reverted"

	// CodeConfirmationTimeout is an ambiguous outcome requiring an explicit
	// user-initiated status recheck, not an automatic retry.
	CodeConfirmationTimeout Code = "confirmation_timeout"

	// CodeAlreadyInProgress guards against interleaved attempts for the
	// same position.
	CodeAlreadyInProgress Code = "already_in_progress"

	// CodeInternal covers everything else: transport failures, malformed
	// ledger reads.
	CodeInternal Code = "internal_error"
)

var (
	// ErrInsufficientBalance fails an attempt before anything is submitted.
	ErrInsufficientBalance = errors.New("insufficient spendable balance")

	// ErrAlreadyInProgress rejects a second attempt for a position whose
	// first attempt is still in flight.
	ErrAlreadyInProgress = errors.New("repayment already in progress for position")
)

// Error is the tagged result carried across the orchestration boundary.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts the tagged error, classifying on the fly if a bare error
// escaped untagged.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	return classify(err, "")
}

// classify maps collaborator sentinels onto the taxonomy.
func classify(err error, detail string) *Error {
	if detail == "" {
		detail = err.Error()
	}
	switch {
	case errors.Is(err, debt.ErrInvalidAmount),
		errors.Is(err, debt.ErrPositionInactive),
		errors.Is(err, ledger.ErrNotFound):
		return &Error{Code: CodeValidation, Detail: detail, Err: err}
	case errors.Is(err, ErrInsufficientBalance):
		return &Error{Code: CodeInsufficientBalance, Detail: detail, Err: err}
	case errors.Is(err, ErrAlreadyInProgress):
		return &Error{Code: CodeAlreadyInProgress, Detail: detail, Err: err}
	case errors.Is(err, ledger.ErrUserDeclined):
		return &Error{Code: CodeUserDeclined, Detail: detail, Err: err}
	case errors.Is(err, ledger.ErrExecutionReverted):
		return &Error{Code: CodeReverted, Detail: detail, Err: err}
	case errors.Is(err, ledger.ErrConfirmationTimeout):
		return &Error{Code: CodeConfirmationTimeout, Detail: detail, Err: err}
	default:
		return &Error{Code: CodeInternal, Detail: detail, Err: err}
	}
}

func validationError(detail string) *Error {
	return &Error{Code: CodeValidation, Detail: detail}
}
