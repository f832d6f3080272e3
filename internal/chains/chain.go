// Package chains holds the chain-agnostic transaction model shared by the
// contract gateways: receipts and the error classes callers branch on.
package chains

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrRejected means the chain or contract refused the transaction:
	// a reverted simulation, a failed receipt, or an underfunded signer.
	ErrRejected = errors.New("transaction rejected")
	// ErrUnavailable means the node could not be reached or answered
	// nonsensically. Nothing was dispatched.
	ErrUnavailable = errors.New("chain unavailable")
	// ErrMalformed means a call returned data that does not decode against
	// the contract ABI.
	ErrMalformed = errors.New("malformed contract response")
)

// ReceiptPendingError is returned when a signed transaction may have reached
// the node but its outcome was not observed: the broadcast failed without a
// clear refusal, or no receipt arrived before the wait deadline.
type ReceiptPendingError struct {
	TxHash string
	Err    error
}

func (e *ReceiptPendingError) Error() string {
	return fmt.Sprintf("transaction %s dispatched, receipt not observed: %v", e.TxHash, e.Err)
}

func (e *ReceiptPendingError) Unwrap() error { return e.Err }

// Receipt is the proof artifact of a mined transaction.
type Receipt struct {
	TxHash            string   `json:"txHash"`
	BlockNumber       uint64   `json:"blockNumber"`
	GasUsed           uint64   `json:"gasUsed"`
	EffectiveGasPrice *big.Int `json:"effectiveGasPrice,omitempty"`
}

var weiPerEther = decimal.New(1, 18)

// Fee returns gasUsed * effectiveGasPrice in ether. It is zero when the
// node did not report a gas price.
func (r *Receipt) Fee() decimal.Decimal {
	if r == nil || r.EffectiveGasPrice == nil {
		return decimal.Zero
	}
	wei := decimal.NewFromBigInt(r.EffectiveGasPrice, 0).Mul(decimal.NewFromInt(int64(r.GasUsed)))
	return wei.Div(weiPerEther)
}
