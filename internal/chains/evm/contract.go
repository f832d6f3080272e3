package evm

import (
	"context"
	"errors"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/observability/metrics"
)

// Contract is a deployed contract bound to a Client's signer.
type Contract struct {
	name    string
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	client  *Client
}

// Address returns the contract address.
func (k *Contract) Address() common.Address {
	return k.address
}

// From returns the account transactions are signed with.
func (k *Contract) From() common.Address {
	return k.client.from
}

// Call executes a read-only method against the latest block and returns
// the decoded outputs.
func (k *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := k.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s.%s: %w", k.name, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.client.callTimeout)
	defer cancel()

	output, err := k.client.eth.CallContract(ctx, ethereum.CallMsg{
		From: k.client.from,
		To:   &k.address,
		Data: input,
	}, nil)
	if err != nil {
		return nil, classify(err)
	}

	values, err := k.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", chains.ErrMalformed, k.name, method, err)
	}
	return values, nil
}

// Transact simulates method with eth_call, then signs and sends it and waits
// for the receipt. A gasLimit of zero lets the node estimate.
//
// Once the transaction is broadcast neither the send nor the receipt wait
// follows ctx cancellation; they are bounded by the client's call and receipt
// timeouts instead. If the broadcast fails ambiguously or no receipt arrives
// in time a *chains.ReceiptPendingError carries the hash.
func (k *Contract) Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error) {
	receipt, err := k.transact(ctx, gasLimit, method, args...)
	outcome := "success"
	var pending *chains.ReceiptPendingError
	switch {
	case errors.As(err, &pending):
		outcome = "pending"
	case errors.Is(err, chains.ErrRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	var gasUsed uint64
	if receipt != nil {
		gasUsed = receipt.GasUsed
	}
	metrics.RecordChainTransaction(k.name, method, outcome, gasUsed)
	return receipt, err
}

func (k *Contract) transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error) {
	input, err := k.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s.%s: %w", k.name, method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, k.client.callTimeout)
	_, err = k.client.eth.CallContract(callCtx, ethereum.CallMsg{
		From: k.client.from,
		To:   &k.address,
		Gas:  gasLimit,
		Data: input,
	}, nil)
	cancel()
	if err != nil {
		return nil, classify(err)
	}

	tx, err := k.send(ctx, gasLimit, method, args...)
	if err != nil {
		return nil, err
	}
	k.client.logger.InfoContext(ctx, "transaction sent",
		"contract", k.name,
		"method", method,
		"tx_hash", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
	)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.client.receiptTimeout)
	defer cancel()
	mined, err := bind.WaitMined(waitCtx, k.client.eth, tx)
	if err != nil {
		return nil, &chains.ReceiptPendingError{TxHash: tx.Hash().Hex(), Err: err}
	}

	receipt := &chains.Receipt{
		TxHash:            mined.TxHash.Hex(),
		GasUsed:           mined.GasUsed,
		EffectiveGasPrice: mined.EffectiveGasPrice,
	}
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s.%s reverted in tx %s", chains.ErrRejected, k.name, method, receipt.TxHash)
	}
	return receipt, nil
}

// send signs the transaction, then broadcasts it. Signing only asks the node
// for the nonce and gas price, so failures up to that point mean nothing left
// this process. The broadcast ignores ctx cancellation: once
// eth_sendRawTransaction is issued the node may hold the transaction, so any
// error short of an outright refusal is reported as pending under the signed
// hash.
func (k *Contract) send(ctx context.Context, gasLimit uint64, method string, args ...any) (*types.Transaction, error) {
	k.client.sendMu.Lock()
	defer k.client.sendMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(k.client.key, k.client.chainID)
	if err != nil {
		return nil, fmt.Errorf("building transactor: %w", err)
	}
	signCtx, cancel := context.WithTimeout(ctx, k.client.callTimeout)
	defer cancel()
	opts.Context = signCtx
	opts.GasLimit = gasLimit
	opts.NoSend = true

	tx, err := k.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, classify(err)
	}

	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), k.client.callTimeout)
	defer cancelSend()
	if err := k.client.eth.SendTransaction(sendCtx, tx); err != nil {
		if isRejection(err) {
			return nil, fmt.Errorf("%w: %v", chains.ErrRejected, err)
		}
		k.client.logger.WarnContext(ctx, "broadcast outcome unknown",
			"contract", k.name,
			"method", method,
			"tx_hash", tx.Hash().Hex(),
			"error", err,
		)
		return nil, &chains.ReceiptPendingError{TxHash: tx.Hash().Hex(), Err: fmt.Errorf("broadcast: %w", err)}
	}
	return tx, nil
}
