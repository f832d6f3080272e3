// Package rewards is the gateway to the reporter rewards contract.
package rewards

import (
	"context"
	_ "embed"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/reportchain/internal/chains"
)

//go:embed rewards.abi.json
var rewardsABI string

// ABI parses the rewards contract ABI.
func ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(rewardsABI))
}

// Backend sends rewards transactions. *evm.Contract implements it.
type Backend interface {
	Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error)
}

// Gateway registers self-reports for reward accrual.
type Gateway struct {
	backend  Backend
	gasLimit uint64
	logger   *slog.Logger
}

// NewGateway creates a gateway; gasLimit zero means estimate.
func NewGateway(backend Backend, gasLimit uint64, logger *slog.Logger) *Gateway {
	return &Gateway{backend: backend, gasLimit: gasLimit, logger: logger}
}

// RegisterReport credits reporter for the report identified by evidence.
// Errors carry the chains error classes unchanged.
func (g *Gateway) RegisterReport(ctx context.Context, reporter common.Address, evidence [32]byte) (*chains.Receipt, error) {
	receipt, err := g.backend.Transact(ctx, g.gasLimit, "registerReport", reporter, evidence)
	if err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "reward registered",
		"reporter", reporter.Hex(),
		"tx_hash", receipt.TxHash,
		"gas_used", receipt.GasUsed,
	)
	return receipt, nil
}
