// Package ledger is the gateway to the report marketplace contract: the
// append-only registry of reports and their review status.
package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/reportchain/internal/chains"
)

//go:embed marketplace.abi.json
var marketplaceABI string

// ABI parses the marketplace contract ABI.
func ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(marketplaceABI))
}

var (
	ErrNotFound     = errors.New("report not found")
	ErrUnauthorized = errors.New("signer is not the marketplace owner")
	ErrCorruptData  = errors.New("ledger returned data that does not match the report model")
)

// Backend executes marketplace methods. *evm.Contract implements it.
type Backend interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error)
	From() common.Address
}

// Record is a report as stored on chain. Status is the raw ordinal.
type Record struct {
	Index         uint64
	Domain        string
	AccusedWallet common.Address
	Reporter      common.Address
	EvidenceHash  [32]byte
	Timestamp     uint64
	Status        uint8
}

// GasLimits caps the marketplace transactions; zero means estimate.
type GasLimits struct {
	Submit uint64
	Status uint64
}

// Gateway reads and writes marketplace reports.
type Gateway struct {
	backend Backend
	gas     GasLimits
	logger  *slog.Logger
}

// NewGateway creates a gateway over backend.
func NewGateway(backend Backend, gas GasLimits, logger *slog.Logger) *Gateway {
	return &Gateway{backend: backend, gas: gas, logger: logger}
}

// SubmitReport appends a report. isAccusation distinguishes third-party
// accusations from self-reports, which carry the zero address as accused.
func (g *Gateway) SubmitReport(ctx context.Context, domain string, accused common.Address, evidence [32]byte, isAccusation bool) (*chains.Receipt, error) {
	receipt, err := g.backend.Transact(ctx, g.gas.Submit, "submitReport", domain, accused, evidence, isAccusation)
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "report recorded",
		"tx_hash", receipt.TxHash,
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
		"accusation", isAccusation,
	)
	return receipt, nil
}

// TotalReports returns the number of reports on the ledger.
func (g *Gateway) TotalReports(ctx context.Context) (uint64, error) {
	out, err := g.backend.Call(ctx, "totalReports")
	if err != nil {
		return 0, mapReadErr(err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: totalReports returned %d values", ErrCorruptData, len(out))
	}
	return toUint64("totalReports", out[0])
}

// GetReport reads the report at index. An index past the end is ErrNotFound.
func (g *Gateway) GetReport(ctx context.Context, index uint64) (*Record, error) {
	out, err := g.backend.Call(ctx, "getReport", new(big.Int).SetUint64(index))
	if err != nil {
		// Out-of-range reads revert; tell that apart from other rejections.
		if errors.Is(err, chains.ErrRejected) {
			if nfErr := g.checkIndex(ctx, index); nfErr != nil {
				return nil, nfErr
			}
		}
		return nil, mapReadErr(err)
	}
	return decodeRecord(index, out)
}

// SetStatus writes a new status ordinal for the report at index. Only the
// contract owner may do this; the check runs before any gas is spent.
func (g *Gateway) SetStatus(ctx context.Context, index uint64, status uint8) (*chains.Receipt, error) {
	if err := g.checkIndex(ctx, index); err != nil {
		return nil, err
	}

	owner, err := g.Owner(ctx)
	if err != nil {
		return nil, err
	}
	if owner != g.backend.From() {
		return nil, fmt.Errorf("%w: owner is %s, signer is %s", ErrUnauthorized, owner.Hex(), g.backend.From().Hex())
	}

	receipt, err := g.backend.Transact(ctx, g.gas.Status, "setReportStatus", new(big.Int).SetUint64(index), status)
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "report status updated",
		"report_id", index,
		"status", status,
		"tx_hash", receipt.TxHash,
	)
	return receipt, nil
}

// Owner returns the marketplace owner account.
func (g *Gateway) Owner(ctx context.Context) (common.Address, error) {
	out, err := g.backend.Call(ctx, "owner")
	if err != nil {
		return common.Address{}, mapReadErr(err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("%w: owner returned %d values", ErrCorruptData, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: owner is %T", ErrCorruptData, out[0])
	}
	return addr, nil
}

// IsWalletBanned reports the contract's ban flag for wallet.
func (g *Gateway) IsWalletBanned(ctx context.Context, wallet common.Address) (bool, error) {
	return g.callBool(ctx, "isWalletBanned", wallet)
}

// IsDomainBanned reports the contract's ban flag for a reported URL.
func (g *Gateway) IsDomainBanned(ctx context.Context, domain string) (bool, error) {
	return g.callBool(ctx, "isUrlBanned", domain)
}

func (g *Gateway) callBool(ctx context.Context, method string, arg any) (bool, error) {
	out, err := g.backend.Call(ctx, method, arg)
	if err != nil {
		return false, mapReadErr(err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%w: %s returned %d values", ErrCorruptData, method, len(out))
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T", ErrCorruptData, method, out[0])
	}
	return b, nil
}

func (g *Gateway) checkIndex(ctx context.Context, index uint64) error {
	total, err := g.TotalReports(ctx)
	if err != nil {
		return err
	}
	if index >= total {
		return fmt.Errorf("%w: index %d, ledger holds %d", ErrNotFound, index, total)
	}
	return nil
}

func mapReadErr(err error) error {
	if errors.Is(err, chains.ErrMalformed) {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return err
}

func decodeRecord(index uint64, out []any) (*Record, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("%w: getReport(%d) returned %d values", ErrCorruptData, index, len(out))
	}
	r := &Record{Index: index}
	var ok bool
	if r.Domain, ok = out[0].(string); !ok {
		return nil, fieldErr(index, "domain", out[0])
	}
	if r.AccusedWallet, ok = out[1].(common.Address); !ok {
		return nil, fieldErr(index, "accusedWallet", out[1])
	}
	if r.Reporter, ok = out[2].(common.Address); !ok {
		return nil, fieldErr(index, "reporter", out[2])
	}
	if r.EvidenceHash, ok = out[3].([32]byte); !ok {
		return nil, fieldErr(index, "evidenceHash", out[3])
	}
	ts, err := toUint64("timestamp", out[4])
	if err != nil {
		return nil, err
	}
	r.Timestamp = ts
	if r.Status, ok = out[5].(uint8); !ok {
		return nil, fieldErr(index, "status", out[5])
	}
	return r, nil
}

func fieldErr(index uint64, field string, v any) error {
	return fmt.Errorf("%w: report %d field %s has type %T", ErrCorruptData, index, field, v)
}

func toUint64(field string, v any) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return 0, fmt.Errorf("%w: %s has type %T", ErrCorruptData, field, v)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s %s out of range", ErrCorruptData, field, n)
	}
	return n.Uint64(), nil
}
