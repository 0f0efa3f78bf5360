// Copyright 2025 Certen Protocol

package txservice

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/actions"
	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/bridge"
	"github.com/conduit-stack/sequencer/pkg/kv"
	"github.com/conduit-stack/sequencer/pkg/mempool"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

func newTestServer(t *testing.T) (*Server, *kv.Store, actions.Deps, ed25519.PrivateKey) {
	t.Helper()
	store := kv.NewStore(kv.NewDBBackend(dbm.NewMemDB()))
	deps := actions.Deps{
		Accounts:     accounts.NewLedger(),
		Assets:       asset.NewRegistry(),
		Authority:    authority.NewModule(),
		Bridge:       bridge.NewRegistry(),
		BlockUpdates: authority.NewBlockUpdates(),
		IBC:          actions.NoopIBCEmitter{},
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := address.FromEd25519("sequencer", pub)
	if err != nil {
		t.Fatalf("FromEd25519 failed: %v", err)
	}

	o := store.Fork()
	h, err := deps.Assets.PutIBCAsset(o, "nria")
	if err != nil {
		t.Fatalf("PutIBCAsset failed: %v", err)
	}
	if err := deps.Accounts.IncreaseBalance(o, signer, h, sdkmath.NewInt(100)); err != nil {
		t.Fatalf("IncreaseBalance failed: %v", err)
	}
	deps.Assets.PutAllowedFeeAsset(o, h)
	if _, err := store.Commit(kv.FromOverlay(o)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	fs := asset.NewFeeSchedules()
	fs.Set(asset.ActionTransfer, asset.FeeSchedule{Base: sdkmath.NewInt(1), Multiplier: sdkmath.ZeroInt()})
	builder := transaction.NewBuilder("test-1", "sequencer", fs)
	mp := mempool.New(15, 64)
	ledger := accounts.NewLedger()

	srv := New(mp, builder, store, deps,
		func(view kv.View, checked *transaction.CheckedTransaction) (uint32, error) {
			return ledger.GetAccountNonce(view, checked.Signer)
		},
		func() uint64 { return 7 },
	)
	return srv, store, deps, priv
}

func signedTransfer(t *testing.T, priv ed25519.PrivateKey, nonce uint32) []byte {
	t.Helper()
	raw := make([]byte, address.Size)
	raw[0] = 9
	to, err := address.New("sequencer", raw)
	if err != nil {
		t.Fatalf("address.New failed: %v", err)
	}
	body := transaction.Body{
		ChainID: "test-1",
		Nonce:   nonce,
		Actions: []actions.Action{
			actions.Transfer{To: to, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"},
		},
	}
	wire, err := transaction.Sign(body, priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return wire
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTransaction(t *testing.T) {
	srv, _, _, priv := newTestServer(t)
	mux := srv.Mux()
	wire := signedTransfer(t, priv, 0)

	rec := postJSON(t, mux, "/v1/transaction/submit", submitRequest{Tx: hex.EncodeToString(wire)})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body)
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != mempool.StatePending || resp.Duplicate {
		t.Errorf("expected fresh pending insert, got %+v", resp)
	}
	wantID := transaction.TxID(wire)
	if resp.TxHash != hex.EncodeToString(wantID[:]) {
		t.Errorf("tx hash mismatch: got %s", resp.TxHash)
	}

	// Resubmitting the identical transaction reports duplicate, not error.
	rec = postJSON(t, mux, "/v1/transaction/submit", submitRequest{Tx: hex.EncodeToString(wire)})
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate submit returned %d: %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Duplicate {
		t.Errorf("expected duplicate=true, got %+v", resp)
	}
}

func TestSubmitTransaction_RejectsBadInput(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	mux := srv.Mux()

	rec := postJSON(t, mux, "/v1/transaction/submit", submitRequest{Tx: "not-hex"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad hex, got %d", rec.Code)
	}

	rec = postJSON(t, mux, "/v1/transaction/submit", submitRequest{Tx: hex.EncodeToString([]byte("{"))})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for undecodable tx, got %d", rec.Code)
	}
}

func TestTransactionStatus(t *testing.T) {
	srv, _, _, priv := newTestServer(t)
	mux := srv.Mux()
	wire := signedTransfer(t, priv, 0)

	rec := postJSON(t, mux, "/v1/transaction/submit", submitRequest{Tx: hex.EncodeToString(wire)})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body)
	}

	id := transaction.TxID(wire)
	req := httptest.NewRequest(http.MethodGet, "/v1/transaction/status?hash="+hex.EncodeToString(id[:]), nil)
	statusRec := httptest.NewRecorder()
	mux.ServeHTTP(statusRec, req)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status returned %d: %s", statusRec.Code, statusRec.Body)
	}
	var st statusResponse
	if err := json.Unmarshal(statusRec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.Status != mempool.StatePending {
		t.Errorf("expected Pending, got %+v", st)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/transaction/status?hash=zz", nil)
	statusRec = httptest.NewRecorder()
	mux.ServeHTTP(statusRec, req)
	if statusRec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed hash, got %d", statusRec.Code)
	}
}

func TestTransactionFees(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	mux := srv.Mux()

	raw := make([]byte, address.Size)
	raw[0] = 9
	to, err := address.New("sequencer", raw)
	if err != nil {
		t.Fatalf("address.New failed: %v", err)
	}
	body := transaction.Body{
		ChainID: "test-1",
		Nonce:   0,
		Actions: []actions.Action{
			actions.Transfer{To: to, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"},
		},
	}

	rec := postJSON(t, mux, "/v1/transaction/fees", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("fees returned %d: %s", rec.Code, rec.Body)
	}
	var resp feesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BlockHeight != 7 {
		t.Errorf("expected block height 7, got %d", resp.BlockHeight)
	}
	if len(resp.Fees) != 1 || resp.Fees[0].Denom != "nria" || resp.Fees[0].Amount != "1" {
		t.Errorf("unexpected fee quote: %+v", resp.Fees)
	}
}
