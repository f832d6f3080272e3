package evm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/reportchain/internal/chains"
)

const testChainID = 1337

const testABI = `[
	{"type":"function","name":"total","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"submit","stateMutability":"nonpayable","inputs":[{"name":"domain","type":"string"}],"outputs":[]}
]`

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

var revertErr = &rpcError{Code: 3, Message: "execution reverted: only owner", Data: "0x08c379a0"}

// rpcStub is a JSON-RPC node serving just enough of the eth namespace to
// sign, broadcast and mine legacy transactions.
type rpcStub struct {
	chainID uint64

	mu        sync.Mutex
	call      func() (any, *rpcError)
	sendErr   *rpcError
	stall     bool
	mined     bool
	status    uint64
	sent      []common.Hash
	broadcast chan common.Hash
}

func newRPCStub() *rpcStub {
	return &rpcStub{
		chainID:   testChainID,
		call:      func() (any, *rpcError) { return "0x", nil },
		mined:     true,
		status:    types.ReceiptStatusSuccessful,
		broadcast: make(chan common.Hash, 1),
	}
}

func (s *rpcStub) set(fn func(s *rpcStub)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *rpcStub) sentHashes() []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Hash(nil), s.sent...)
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, rpcErr := s.handle(r.Context(), req.Method, req.Params)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *rpcStub) handle(ctx context.Context, method string, params []json.RawMessage) (any, *rpcError) {
	switch method {
	case "eth_chainId":
		return hexutil.EncodeUint64(s.chainID), nil
	case "eth_getBlockByNumber":
		return &types.Header{
			Number:     big.NewInt(4),
			Difficulty: big.NewInt(0),
			GasLimit:   30_000_000,
			Extra:      []byte{},
		}, nil
	case "eth_gasPrice":
		return "0x3b9aca00", nil
	case "eth_getTransactionCount":
		return "0x0", nil
	case "eth_call":
		s.mu.Lock()
		call := s.call
		s.mu.Unlock()
		return call()
	case "eth_sendRawTransaction":
		return s.sendRaw(ctx, params)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := json.Unmarshal(params[0], &hash); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.mined {
			return nil, nil
		}
		return &types.Receipt{
			Type:              types.LegacyTxType,
			Status:            s.status,
			CumulativeGasUsed: 42_000,
			Logs:              []*types.Log{},
			TxHash:            hash,
			GasUsed:           42_000,
			EffectiveGasPrice: big.NewInt(1_000_000_000),
			BlockHash:         common.Hash{0x05},
			BlockNumber:       big.NewInt(5),
		}, nil
	}
	return nil, &rpcError{Code: -32601, Message: "method not found: " + method}
}

func (s *rpcStub) sendRaw(ctx context.Context, params []json.RawMessage) (any, *rpcError) {
	var raw hexutil.Bytes
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}

	s.mu.Lock()
	s.sent = append(s.sent, tx.Hash())
	stall, sendErr := s.stall, s.sendErr
	s.mu.Unlock()

	select {
	case s.broadcast <- tx.Hash():
	default:
	}
	if stall {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return tx.Hash(), nil
}

func dialStub(t *testing.T, stub *rpcStub, receiptTimeout time.Duration) *Contract {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := Dial(t.Context(), Config{
		RPCURL:         srv.URL,
		ChainID:        testChainID,
		PrivateKey:     hex.EncodeToString(crypto.FromECDSA(key)),
		CallTimeout:    300 * time.Millisecond,
		ReceiptTimeout: receiptTimeout,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	parsed, err := abi.JSON(strings.NewReader(testABI))
	require.NoError(t, err)
	k, err := client.Contract("registry", "0x00000000000000000000000000000000000000aa", parsed)
	require.NoError(t, err)
	return k
}

func TestDial_ChainIDMismatch(t *testing.T) {
	stub := newRPCStub()
	stub.chainID = 5
	srv := httptest.NewServer(stub)
	defer srv.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = Dial(t.Context(), Config{
		RPCURL:      srv.URL,
		ChainID:     testChainID,
		PrivateKey:  hex.EncodeToString(crypto.FromECDSA(key)),
		CallTimeout: time.Second,
	}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc serves chain 5")
	assert.NotErrorIs(t, err, chains.ErrUnavailable)
}

func TestDial_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Dial(t.Context(), Config{
		RPCURL:      url,
		ChainID:     testChainID,
		PrivateKey:  "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		CallTimeout: time.Second,
	}, slog.Default())
	assert.ErrorIs(t, err, chains.ErrUnavailable)
}

func TestContractCall(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		rpcErr  *rpcError
		want    *big.Int
		wantErr error
	}{
		{"decodes outputs", hexutil.Encode(common.LeftPadBytes([]byte{7}, 32)), nil, big.NewInt(7), nil},
		{"short output", "0x1234", nil, nil, chains.ErrMalformed},
		{"revert", nil, revertErr, nil, chains.ErrRejected},
		{"node error", nil, &rpcError{Code: -32005, Message: "limit exceeded"}, nil, chains.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newRPCStub()
			stub.call = func() (any, *rpcError) { return tt.result, tt.rpcErr }
			k := dialStub(t, stub, time.Second)

			values, err := k.Call(t.Context(), "total")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, values, 1)
			assert.Equal(t, 0, tt.want.Cmp(values[0].(*big.Int)))
		})
	}
}

func TestContractTransact_Mined(t *testing.T) {
	stub := newRPCStub()
	k := dialStub(t, stub, 5*time.Second)

	receipt, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	require.NoError(t, err)

	sent := stub.sentHashes()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hex(), receipt.TxHash)
	assert.Equal(t, uint64(5), receipt.BlockNumber)
	assert.Equal(t, uint64(42_000), receipt.GasUsed)
	assert.Equal(t, "0.000042", receipt.Fee().String())
}

func TestContractTransact_PreflightRevert(t *testing.T) {
	stub := newRPCStub()
	stub.call = func() (any, *rpcError) { return nil, revertErr }
	k := dialStub(t, stub, time.Second)

	receipt, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, chains.ErrRejected)
	assert.Empty(t, stub.sentHashes(), "a reverted simulation is never broadcast")
}

func TestContractTransact_RevertedReceipt(t *testing.T) {
	stub := newRPCStub()
	stub.status = types.ReceiptStatusFailed
	k := dialStub(t, stub, 5*time.Second)

	receipt, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	assert.ErrorIs(t, err, chains.ErrRejected)
	require.NotNil(t, receipt, "a mined failure still carries its receipt")
	assert.Equal(t, stub.sentHashes()[0].Hex(), receipt.TxHash)
}

func TestContractTransact_ReceiptTimeout(t *testing.T) {
	stub := newRPCStub()
	stub.mined = false
	k := dialStub(t, stub, 200*time.Millisecond)

	receipt, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	assert.Nil(t, receipt)

	var pending *chains.ReceiptPendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, stub.sentHashes()[0].Hex(), pending.TxHash)
	assert.NotErrorIs(t, err, chains.ErrUnavailable)
}

func TestContractTransact_CancelledBeforeBroadcast(t *testing.T) {
	stub := newRPCStub()
	k := dialStub(t, stub, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := k.Transact(ctx, 100_000, "submit", "example.io")
	assert.ErrorIs(t, err, chains.ErrUnavailable)
	assert.Empty(t, stub.sentHashes())
}

func TestContractTransact_CancelledDuringBroadcast(t *testing.T) {
	stub := newRPCStub()
	stub.stall = true
	k := dialStub(t, stub, time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		<-stub.broadcast
		cancel()
	}()

	receipt, err := k.Transact(ctx, 100_000, "submit", "example.io")
	assert.Nil(t, receipt)

	var pending *chains.ReceiptPendingError
	require.ErrorAs(t, err, &pending, "a transaction the node may hold is never reported as unsent")
	assert.NotErrorIs(t, err, chains.ErrUnavailable)
	sent := stub.sentHashes()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hex(), pending.TxHash)
}

func TestContractTransact_BroadcastRefused(t *testing.T) {
	stub := newRPCStub()
	stub.sendErr = &rpcError{Code: -32000, Message: "insufficient funds for gas * price + value"}
	k := dialStub(t, stub, time.Second)

	_, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	assert.ErrorIs(t, err, chains.ErrRejected)
	var pending *chains.ReceiptPendingError
	assert.False(t, errors.As(err, &pending))
}

func TestContractTransact_BroadcastAmbiguous(t *testing.T) {
	stub := newRPCStub()
	stub.sendErr = &rpcError{Code: -32603, Message: "internal error"}
	k := dialStub(t, stub, time.Second)

	_, err := k.Transact(t.Context(), 100_000, "submit", "example.io")
	var pending *chains.ReceiptPendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, stub.sentHashes()[0].Hex(), pending.TxHash)
}

func TestContractTransact_ReceiptWaitOutlivesCaller(t *testing.T) {
	stub := newRPCStub()
	stub.mined = false
	k := dialStub(t, stub, 5*time.Second)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() {
		<-stub.broadcast
		cancel()
		time.Sleep(100 * time.Millisecond)
		stub.set(func(s *rpcStub) { s.mined = true })
	}()

	receipt, err := k.Transact(ctx, 100_000, "submit", "example.io")
	require.NoError(t, err)
	assert.Equal(t, stub.sentHashes()[0].Hex(), receipt.TxHash)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
