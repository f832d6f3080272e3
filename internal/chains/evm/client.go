// Package evm talks to EVM-compatible chains over JSON-RPC: contract reads,
// signed transactions with pre-flight simulation, and receipt waiting.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/reportchain/internal/chains"
)

// Config holds connection and signing settings.
type Config struct {
	RPCURL         string
	ChainID        int64
	PrivateKey     string // hex, with or without 0x
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
}

// Client is a connected signer. It is safe for concurrent use; sends from
// the signing account are serialised so nonces are assigned in order.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	key            *ecdsa.PrivateKey
	from           common.Address
	callTimeout    time.Duration
	receiptTimeout time.Duration
	logger         *slog.Logger

	sendMu sync.Mutex
}

// Dial connects to the RPC endpoint and checks it serves the configured chain.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing rpc: %v", chains.ErrUnavailable, err)
	}

	idCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	remoteID, err := eth.ChainID(idCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("%w: reading chain id: %v", chains.ErrUnavailable, err)
	}
	if remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("rpc serves chain %s, configured chain is %d", remoteID, cfg.ChainID)
	}

	c := &Client{
		eth:            eth,
		chainID:        big.NewInt(cfg.ChainID),
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		callTimeout:    cfg.CallTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger,
	}
	logger.Info("connected to chain", "chain_id", cfg.ChainID, "signer", c.from.Hex())
	return c, nil
}

// From returns the signing account.
func (c *Client) From() common.Address {
	return c.from
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Contract binds a deployed contract at address. name labels logs and metrics.
func (c *Client) Contract(name, address string, contractABI abi.ABI) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%s: invalid contract address %q", name, address)
	}
	addr := common.HexToAddress(address)
	return &Contract{
		name:    name,
		address: addr,
		abi:     contractABI,
		bound:   bind.NewBoundContract(addr, contractABI, c.eth, c.eth, c.eth),
		client:  c,
	}, nil
}

// GetDeployedBytecode fetches the runtime code at address from the latest block.
func (c *Client) GetDeployedBytecode(ctx context.Context, address common.Address) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	code, err := c.eth.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getCode: %v", chains.ErrUnavailable, err)
	}
	return code, nil
}

// classify maps a node error to the chain error classes. JSON-RPC errors
// that describe execution or funding failures are rejections; everything
// else (transport, HTTP status, rate limits) is unavailability.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isRejection(err) {
		return fmt.Errorf("%w: %v", chains.ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", chains.ErrUnavailable, err)
}

func isRejection(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.ErrorCode() == 3 {
		return true
	}
	msg := strings.ToLower(rpcErr.Error())
	for _, marker := range []string{"revert", "insufficient funds", "gas required exceeds", "intrinsic gas too low", "invalid opcode"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
