package rpcledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	coreerrors "solfind/core/errors"
	"solfind/ledger"
	"solfind/native/escrow"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newNode serves canned JSON-RPC results keyed by method. A string value is
// returned as an RPC error message.
func newNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch v := results[req.Method].(type) {
		case string:
			resp["error"] = map[string]any{"code": -32002, "message": v}
		case nil:
			resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		default:
			resp["result"] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLedger(t *testing.T, results map[string]any) *Ledger {
	t.Helper()
	srv := newNode(t, results)
	l, err := New(Config{Endpoint: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	return l
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	for _, ep := range []string{"", "localnet://x", "ftp://host", "http://"} {
		_, err := New(Config{Endpoint: ep})
		require.Error(t, err, ep)
	}
}

func TestLatestBlockhash(t *testing.T) {
	hash := solana.Hash{1, 2, 3}
	l := newTestLedger(t, map[string]any{
		"getLatestBlockhash": map[string]any{
			"context": map[string]any{"slot": 10},
			"value":   map[string]any{"blockhash": hash.String(), "lastValidBlockHeight": 300},
		},
	})
	bh, err := l.LatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, hash, bh.Hash)
	require.Equal(t, uint64(300), bh.LastValidBlockHeight)
}

func TestSignatureStatusWithProgramError(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"getSignatureStatuses": map[string]any{
			"context": map[string]any{"slot": 10},
			"value": []any{map[string]any{
				"slot":               9,
				"confirmations":      nil,
				"err":                map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6001}}},
				"confirmationStatus": "finalized",
			}},
		},
	})
	status, err := l.SignatureStatus(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	require.Equal(t, ledger.CommitmentFinalized, status.Commitment)
	require.ErrorIs(t, status.Err, escrow.ErrReportNotOpen)
}

func TestSignatureStatusUnknown(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"getSignatureStatuses": map[string]any{"context": map[string]any{"slot": 10}, "value": []any{nil}},
	})
	status, err := l.SignatureStatus(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestAccountNotFound(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"getAccountInfo": map[string]any{"context": map[string]any{"slot": 10}, "value": nil},
	})
	_, err := l.Account(context.Background(), solana.PublicKey{7})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestBalanceAndHeight(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"getBalance":     map[string]any{"context": map[string]any{"slot": 10}, "value": 5_000_000},
		"getBlockHeight": 1234,
	})
	bal, err := l.Balance(context.Background(), solana.PublicKey{7})
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), bal)
	h, err := l.BlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1234), h)
}

func TestSendTransactionPreflightProgramError(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"sendTransaction": "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1770",
	})
	tx := signedTransfer(t)
	_, err := l.SendTransaction(context.Background(), tx, ledger.DefaultSendOptions())
	require.ErrorIs(t, err, escrow.ErrUnauthorized)
	require.Equal(t, coreerrors.KindAuthorization, coreerrors.KindOf(err))
}

func TestSendTransactionBlockhashNotFound(t *testing.T) {
	l := newTestLedger(t, map[string]any{
		"sendTransaction": "Transaction simulation failed: Blockhash not found",
	})
	_, err := l.SendTransaction(context.Background(), signedTransfer(t), ledger.DefaultSendOptions())
	require.Equal(t, coreerrors.KindNetwork, coreerrors.KindOf(err))
}

func signedTransfer(t *testing.T) *solana.Transaction {
	t.Helper()
	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer.PublicKey(), true, true),
	}, []byte{2, 0, 0, 0})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}
