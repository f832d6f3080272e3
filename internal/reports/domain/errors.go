package domain

import (
	"errors"
	"fmt"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/ledger"
	"github.com/pendergraft/reportchain/internal/storage"
)

// Errors returned by the report service. Every failure wraps exactly one of
// these so callers can tell "nothing happened" from "something happened".
var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrLedgerRejected            = errors.New("ledger rejected the transaction")
	ErrLedgerUnavailable         = errors.New("ledger unavailable")
	ErrUnauthorized              = errors.New("not authorized to change report status")
	ErrNotFound                  = errors.New("report not found")
	ErrPartialFailure            = errors.New("report recorded but reward registration failed")
	ErrCorruptData               = errors.New("ledger data is corrupt")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrDuplicateSubmission       = errors.New("submission already recorded")
	ErrSubmissionPending         = errors.New("submission dispatched, outcome not yet known")
)

// PartialFailureError is returned by the self-report workflow when the
// ledger accepted the report but the reward registration did not complete.
// The ledger receipt is committed and must not be resubmitted.
type PartialFailureError struct {
	LedgerReceipt *chains.Receipt
	EvidenceHash  string
	Reporter      string
	// RewardTxHash is set when the reward transaction was broadcast but its
	// receipt was not observed.
	RewardTxHash string
	Err          error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%v: ledger tx %s committed: %v", ErrPartialFailure, e.LedgerReceipt.TxHash, e.Err)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailureError) Unwrap() error { return e.Err }

// DuplicateSubmissionError carries the journal entry that already holds the
// idempotency key.
type DuplicateSubmissionError struct {
	Existing *storage.Submission
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("%v: %s is %s", ErrDuplicateSubmission, e.Existing.Key, e.Existing.State)
}

func (e *DuplicateSubmissionError) Is(target error) bool { return target == ErrDuplicateSubmission }

// SubmissionPendingError means a transaction was broadcast and its receipt
// was not seen in time. The report may or may not be on the ledger.
type SubmissionPendingError struct {
	TxHash string
	Err    error
}

func (e *SubmissionPendingError) Error() string {
	return fmt.Sprintf("%v: tx %s: %v", ErrSubmissionPending, e.TxHash, e.Err)
}

func (e *SubmissionPendingError) Is(target error) bool { return target == ErrSubmissionPending }

func (e *SubmissionPendingError) Unwrap() error { return e.Err }

// mapChainErr translates gateway errors into the service taxonomy.
func mapChainErr(err error) error {
	var pending *chains.ReceiptPendingError
	switch {
	case errors.As(err, &pending):
		return &SubmissionPendingError{TxHash: pending.TxHash, Err: err}
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, ledger.ErrUnauthorized):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case errors.Is(err, ledger.ErrCorruptData), errors.Is(err, chains.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	case errors.Is(err, chains.ErrRejected):
		return fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}
