// Copyright 2025 Certen Protocol

package transaction

import (
	"crypto/ed25519"
	"errors"
	"math"
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
)

func newTestStore(t *testing.T) *kv.Store {
	t.Helper()
	return kv.NewStore(kv.NewDBBackend(dbm.NewMemDB()))
}

func testAddr(t *testing.T, fill byte) address.Address {
	t.Helper()
	raw := make([]byte, address.Size)
	for i := range raw {
		raw[i] = fill
	}
	a, err := address.New("sequencer", raw)
	if err != nil {
		t.Fatalf("address.New failed: %v", err)
	}
	return a
}

func newTestDeps() actions.Deps {
	return actions.Deps{
		Accounts:     accounts.NewLedger(),
		Assets:       asset.NewRegistry(),
		Authority:    authority.NewModule(),
		Bridge:       bridge.NewRegistry(),
		BlockUpdates: authority.NewBlockUpdates(),
		IBC:          actions.NoopIBCEmitter{},
	}
}

func TestBody_JSONRoundTrip(t *testing.T) {
	to := testAddr(t, 2)
	body := Body{
		ChainID: "test-1",
		Nonce:   5,
		Actions: []actions.Action{
			actions.Transfer{To: to, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"},
		},
	}
	encoded, err := body.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	var decoded Body
	if err := decoded.UnmarshalJSON(encoded); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if decoded.ChainID != "test-1" || decoded.Nonce != 5 {
		t.Fatalf("body header mismatch: %+v", decoded)
	}
	if len(decoded.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(decoded.Actions))
	}
	tr, ok := decoded.Actions[0].(actions.Transfer)
	if !ok {
		t.Fatalf("expected actions.Transfer, got %T", decoded.Actions[0])
	}
	if !tr.To.Equal(to) || tr.Asset != "nria" || !tr.Amount.Equal(sdkmath.NewInt(40)) {
		t.Errorf("transfer action mismatch: %+v", tr)
	}
}

func TestSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	to := testAddr(t, 2)
	body := Body{
		ChainID: "test-1",
		Nonce:   0,
		Actions: []actions.Action{
			actions.Transfer{To: to, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"},
		},
	}
	wireBytes, err := Sign(body, priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	signed, err := Decode(wireBytes)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := signed.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature failed: %v", err)
	}
	if string(signed.PublicKey) != string(pub) {
		t.Errorf("public key mismatch after decode")
	}

	signed.Signature[0] ^= 0xFF
	tampered, _ := Decode(wireBytes)
	tampered.Signature = signed.Signature
	if err := tampered.VerifySignature(); err == nil {
		t.Error("expected tampered signature to fail verification")
	}
}

func TestTxID_DependsOnWireBytes(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	body1 := Body{ChainID: "test-1", Nonce: 0}
	body2 := Body{ChainID: "test-1", Nonce: 1}
	wire1, _ := Sign(body1, priv)
	wire2, _ := Sign(body2, priv)
	if TxID(wire1) == TxID(wire2) {
		t.Error("expected different nonces to produce different tx ids")
	}
	if TxID(wire1) != TxID(wire1) {
		t.Error("expected TxID to be deterministic")
	}
}

func TestBuilder_HappyTransfer(t *testing.T) {
	store := newTestStore(t)
	o := store.Fork()
	deps := newTestDeps()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	signer, err := address.FromEd25519("sequencer", pub)
	if err != nil {
		t.Fatalf("FromEd25519 failed: %v", err)
	}
	receiver := testAddr(t, 9)

	h, err := deps.Assets.PutIBCAsset(o, "nria")
	if err != nil {
		t.Fatalf("PutIBCAsset failed: %v", err)
	}
	if err := deps.Accounts.IncreaseBalance(o, signer, h, sdkmath.NewInt(100)); err != nil {
		t.Fatalf("IncreaseBalance failed: %v", err)
	}
	deps.Assets.PutAllowedFeeAsset(o, asset.TraceToIBCPrefixed("nria"))
	if _, err := store.Commit(kv.FromOverlay(o)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	fs := asset.NewFeeSchedules()
	fs.Set(asset.ActionTransfer, asset.FeeSchedule{Base: sdkmath.NewInt(1), Multiplier: sdkmath.ZeroInt()})
	builder := NewBuilder("test-1", "sequencer", fs)

	body := Body{
		ChainID: "test-1",
		Nonce:   0,
		Actions: []actions.Action{
			actions.Transfer{To: receiver, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"},
		},
	}
	wireBytes, err := Sign(body, priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	snapshot := store.Fork()
	checked, err := builder.Build(wireBytes, snapshot, deps)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !checked.Signer.Equal(signer) {
		t.Errorf("signer mismatch: got %s, want %s", checked.Signer, signer)
	}
	if len(checked.Movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(checked.Movements))
	}
	if !checked.Movements[0].Amount.Equal(sdkmath.NewInt(40)) {
		t.Errorf("movement amount mismatch: got %s", checked.Movements[0].Amount)
	}
	fee, ok := checked.FeesByAsset[asset.TraceToIBCPrefixed("nria")]
	if !ok || !fee.Equal(sdkmath.NewInt(1)) {
		t.Errorf("fee mismatch: got %s, found=%v", fee, ok)
	}

	// Build must not mutate the real store's committed state.
	realBal, err := deps.Accounts.GetAccountBalance(store, signer, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !realBal.Equal(sdkmath.NewInt(100)) {
		t.Errorf("expected committed store unaffected by Build, got balance %s", realBal)
	}
}

func TestBuilder_RejectsWrongChainID(t *testing.T) {
	store := newTestStore(t)
	_, priv, _ := ed25519.GenerateKey(nil)
	fs := asset.NewFeeSchedules()
	builder := NewBuilder("test-1", "sequencer", fs)

	body := Body{ChainID: "other-chain", Nonce: 0, Actions: []actions.Action{
		actions.Transfer{To: testAddr(t, 2), Asset: "nria", Amount: sdkmath.NewInt(1)},
	}}
	wireBytes, _ := Sign(body, priv)

	snapshot := store.Fork()
	if _, err := builder.Build(wireBytes, snapshot, newTestDeps()); err == nil {
		t.Error("expected chain id mismatch to be rejected")
	}
}

func TestBuilder_RejectsStaleNonce(t *testing.T) {
	store := newTestStore(t)
	o := store.Fork()
	deps := newTestDeps()
	pub, priv, _ := ed25519.GenerateKey(nil)
	signer, _ := address.FromEd25519("sequencer", pub)
	deps.Accounts.PutAccountNonce(o, signer, 5)
	if _, err := store.Commit(kv.FromOverlay(o)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	fs := asset.NewFeeSchedules()
	builder := NewBuilder("test-1", "sequencer", fs)
	body := Body{ChainID: "test-1", Nonce: 2, Actions: []actions.Action{
		actions.Transfer{To: testAddr(t, 2), Asset: "nria", Amount: sdkmath.NewInt(1)},
	}}
	wireBytes, _ := Sign(body, priv)

	snapshot := store.Fork()
	if _, err := builder.Build(wireBytes, snapshot, deps); err == nil {
		t.Error("expected stale nonce to be rejected")
	}
}

func TestBuilder_RejectsNonceAtMax(t *testing.T) {
	store := newTestStore(t)
	_, priv, _ := ed25519.GenerateKey(nil)
	fs := asset.NewFeeSchedules()
	builder := NewBuilder("test-1", "sequencer", fs)

	body := Body{ChainID: "test-1", Nonce: math.MaxUint32, Actions: []actions.Action{
		actions.Transfer{To: testAddr(t, 2), Asset: "nria", Amount: sdkmath.NewInt(1)},
	}}
	wireBytes, _ := Sign(body, priv)

	snapshot := store.Fork()
	if _, err := builder.Build(wireBytes, snapshot, newTestDeps()); !errors.Is(err, ErrNonceAtMax) {
		t.Errorf("got %v, want ErrNonceAtMax", err)
	}
}

func TestBuilder_RejectsOversizedTransaction(t *testing.T) {
	store := newTestStore(t)
	_, priv, _ := ed25519.GenerateKey(nil)
	fs := asset.NewFeeSchedules()
	builder := NewBuilder("test-1", "sequencer", fs)
	builder.MaxSize = 10

	body := Body{ChainID: "test-1", Nonce: 0, Actions: []actions.Action{
		actions.Transfer{To: testAddr(t, 2), Asset: "nria", Amount: sdkmath.NewInt(1)},
	}}
	wireBytes, _ := Sign(body, priv)

	snapshot := store.Fork()
	if _, err := builder.Build(wireBytes, snapshot, newTestDeps()); err == nil {
		t.Error("expected oversized transaction to be rejected")
	}
}
