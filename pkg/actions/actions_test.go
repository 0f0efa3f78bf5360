// Copyright 2025 Certen Protocol

package actions

import (
	"testing"

	sdkmath "cosmossdk.io/math"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/bridge"
	"github.com/conduit-stack/sequencer/pkg/kv"
)

func newTestOverlay(t *testing.T) *kv.Overlay {
	t.Helper()
	store := kv.NewStore(kv.NewDBBackend(dbm.NewMemDB()))
	return store.Fork()
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

func newTestDeps() Deps {
	return Deps{
		Accounts:     accounts.NewLedger(),
		Assets:       asset.NewRegistry(),
		Authority:    authority.NewModule(),
		Bridge:       bridge.NewRegistry(),
		BlockUpdates: authority.NewBlockUpdates(),
		IBC:          NoopIBCEmitter{},
	}
}

func seedBalance(t *testing.T, o *kv.Overlay, deps Deps, addr address.Address, trace string, amount int64) {
	t.Helper()
	h, err := deps.Assets.PutIBCAsset(o, trace)
	if err != nil {
		t.Fatalf("PutIBCAsset failed: %v", err)
	}
	if err := deps.Accounts.IncreaseBalance(o, addr, h, sdkmath.NewInt(amount)); err != nil {
		t.Fatalf("IncreaseBalance failed: %v", err)
	}
}

func TestTransfer_HappyPath(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	a := testAddr(t, 1)
	b := testAddr(t, 2)
	seedBalance(t, o, deps, a, "nria", 100)

	deps.Assets.PutAllowedFeeAsset(o, asset.TraceToIBCPrefixed("nria"))

	tr := Transfer{To: b, Asset: "nria", Amount: sdkmath.NewInt(40), FeeAsset: "nria"}
	if err := tr.CheckStateless(); err != nil {
		t.Fatalf("CheckStateless failed: %v", err)
	}
	ctx := Context{Signer: a, ChainID: "test", Fee: sdkmath.NewInt(1)}
	if err := tr.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}

	h := asset.TraceToIBCPrefixed("nria")
	balA, err := deps.Accounts.GetAccountBalance(o, a, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !balA.Equal(sdkmath.NewInt(59)) {
		t.Errorf("sender balance mismatch: got %s, want 59", balA)
	}
	balB, err := deps.Accounts.GetAccountBalance(o, b, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !balB.Equal(sdkmath.NewInt(40)) {
		t.Errorf("recipient balance mismatch: got %s, want 40", balB)
	}
}

func TestTransfer_RejectsNonpositiveAmount(t *testing.T) {
	tr := Transfer{Amount: sdkmath.ZeroInt()}
	if err := tr.CheckStateless(); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	a := testAddr(t, 1)
	b := testAddr(t, 2)
	seedBalance(t, o, deps, a, "nria", 10)

	tr := Transfer{To: b, Asset: "nria", Amount: sdkmath.NewInt(100)}
	ctx := Context{Signer: a, Fee: sdkmath.ZeroInt()}
	if err := tr.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected insufficient funds error")
	}
}

func TestValidatorUpdate_RequiresSudo(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	sudo := testAddr(t, 1)
	other := testAddr(t, 2)
	deps.Authority.PutSudoAddress(o, sudo)

	vu := ValidatorUpdate{Validator: authority.Validator{PubKey: []byte("pubkey-1"), Power: 10}}
	ctx := Context{Signer: other}
	if err := vu.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected unauthorized error for non-sudo signer")
	}

	ctx.Signer = sudo
	if err := vu.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed for sudo signer: %v", err)
	}
	staged := deps.BlockUpdates.Drain()
	if len(staged) != 1 {
		t.Fatalf("expected 1 staged validator update, got %d", len(staged))
	}
}

func TestSudoAddressChange_RequiresSudo(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	sudo := testAddr(t, 1)
	newSudo := testAddr(t, 2)
	deps.Authority.PutSudoAddress(o, sudo)

	change := SudoAddressChange{NewSudoAddress: newSudo}
	ctx := Context{Signer: newSudo}
	if err := change.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected unauthorized error")
	}

	ctx.Signer = sudo
	if err := change.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}
	got, err := deps.Authority.GetSudoAddress(o)
	if err != nil {
		t.Fatalf("GetSudoAddress failed: %v", err)
	}
	if !got.Equal(newSudo) {
		t.Errorf("sudo address not updated: got %s, want %s", got, newSudo)
	}
}

func TestFeeChange_PersistsSchedule(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	sudo := testAddr(t, 1)
	deps.Authority.PutSudoAddress(o, sudo)

	fc := FeeChange{TargetKind: asset.ActionTransfer, Schedule: asset.FeeSchedule{Base: sdkmath.NewInt(2), Multiplier: sdkmath.ZeroInt()}}
	ctx := Context{Signer: sudo}
	if err := fc.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}
	got, found, err := deps.Assets.GetFeeSchedule(o, asset.ActionTransfer)
	if err != nil {
		t.Fatalf("GetFeeSchedule failed: %v", err)
	}
	if !found || !got.Base.Equal(sdkmath.NewInt(2)) {
		t.Errorf("fee schedule not persisted correctly: found=%v got=%+v", found, got)
	}
}

func TestBridgeLockAndUnlock(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	user := testAddr(t, 1)
	bridgeAddr := testAddr(t, 2)
	withdrawer := testAddr(t, 3)
	recipient := testAddr(t, 4)
	seedBalance(t, o, deps, user, "nria", 100)

	deps.Bridge.PutBridgeAccountRollupID(o, bridgeAddr, []byte("rollup-1"))
	deps.Bridge.PutBridgeAccountWithdrawerAddress(o, bridgeAddr, withdrawer)

	lock := BridgeLock{BridgeAddress: bridgeAddr, Asset: "nria", Amount: sdkmath.NewInt(50)}
	ctx := Context{Signer: user, Fee: sdkmath.ZeroInt()}
	if err := lock.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("BridgeLock failed: %v", err)
	}

	h := asset.TraceToIBCPrefixed("nria")
	bal, err := deps.Accounts.GetAccountBalance(o, bridgeAddr, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !bal.Equal(sdkmath.NewInt(50)) {
		t.Errorf("bridge balance mismatch: got %s, want 50", bal)
	}

	unlock := BridgeUnlock{BridgeAddress: bridgeAddr, To: recipient, Asset: "nria", Amount: sdkmath.NewInt(20)}
	ctx2 := Context{Signer: withdrawer, Fee: sdkmath.ZeroInt()}
	if err := unlock.CheckAndExecute(o, ctx2, deps); err != nil {
		t.Fatalf("BridgeUnlock failed: %v", err)
	}

	recipientBal, err := deps.Accounts.GetAccountBalance(o, recipient, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !recipientBal.Equal(sdkmath.NewInt(20)) {
		t.Errorf("recipient balance mismatch: got %s, want 20", recipientBal)
	}

	ctx3 := Context{Signer: user, Fee: sdkmath.ZeroInt()}
	if err := unlock.CheckAndExecute(o, ctx3, deps); err == nil {
		t.Error("expected non-withdrawer unlock to be rejected")
	}
}

func TestIcs20Withdrawal_RejectsMissingMemoOnBridgeWithdrawal(t *testing.T) {
	bridgeAddr := testAddr(t, 1)
	w := Ics20Withdrawal{Amount: sdkmath.NewInt(10), TimeoutTime: 100, BridgeAddress: &bridgeAddr}
	if err := w.CheckStateless(); err == nil {
		t.Error("expected error for missing memo")
	}
}

func TestIcs20Withdrawal_RejectsOversizedMemoFields(t *testing.T) {
	bridgeAddr := testAddr(t, 1)
	oversized := make([]byte, 257)
	w := Ics20Withdrawal{
		Amount:        sdkmath.NewInt(10),
		TimeoutTime:   100,
		BridgeAddress: &bridgeAddr,
		Memo: &Ics20WithdrawalMemo{
			RollupBlockNumber:       1,
			RollupReturnAddress:     oversized,
			RollupWithdrawalEventID: "event-1",
		},
	}
	if err := w.CheckStateless(); err == nil {
		t.Error("expected error for oversized memo field")
	}
}

func TestIcs20Withdrawal_DirectWithdrawalEscrowsLocalDenom(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	user := testAddr(t, 1)
	returnAddr := testAddr(t, 2)
	seedBalance(t, o, deps, user, "nria", 100)

	w := Ics20Withdrawal{
		Amount:        sdkmath.NewInt(30),
		Denom:         "nria",
		TimeoutTime:   100,
		ReturnAddress: returnAddr,
		SourcePort:    "transfer",
		SourceChannel: "channel-0",
	}
	ctx := Context{Signer: user, Fee: sdkmath.ZeroInt()}
	if err := w.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}

	h := asset.TraceToIBCPrefixed("nria")
	userBal, err := deps.Accounts.GetAccountBalance(o, user, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !userBal.Equal(sdkmath.NewInt(70)) {
		t.Errorf("user balance mismatch: got %s, want 70", userBal)
	}

	escrowAddr, err := escrowPseudoAddress("channel-0")
	if err != nil {
		t.Fatalf("escrowPseudoAddress failed: %v", err)
	}
	escrowBal, err := deps.Accounts.GetAccountBalance(o, escrowAddr, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !escrowBal.Equal(sdkmath.NewInt(30)) {
		t.Errorf("escrow balance mismatch: got %s, want 30", escrowBal)
	}
}

func TestIcs20Withdrawal_BridgeWithdrawalDedupesEvents(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	bridgeAddr := testAddr(t, 1)
	withdrawer := testAddr(t, 2)
	returnAddr := testAddr(t, 3)
	seedBalance(t, o, deps, bridgeAddr, "nria", 100)
	deps.Bridge.PutBridgeAccountWithdrawerAddress(o, bridgeAddr, withdrawer)

	memo := &Ics20WithdrawalMemo{
		RollupBlockNumber:       5,
		RollupReturnAddress:     []byte("rollup-return"),
		RollupWithdrawalEventID: "event-1",
	}
	w := Ics20Withdrawal{
		Amount:        sdkmath.NewInt(10),
		Denom:         "nria",
		TimeoutTime:   100,
		ReturnAddress: returnAddr,
		BridgeAddress: &bridgeAddr,
		Memo:          memo,
		SourcePort:    "transfer",
		SourceChannel: "channel-0",
	}
	ctx := Context{Signer: withdrawer, Fee: sdkmath.ZeroInt()}
	if err := w.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("first withdrawal failed: %v", err)
	}
	if err := w.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected duplicate withdrawal event to be rejected")
	}
}

func TestMarketMapCreateUpdateRemove(t *testing.T) {
	o := newTestOverlay(t)
	authorityAddr := testAddr(t, 1)
	other := testAddr(t, 2)
	deps := newTestDeps()
	deps.MarketAuthorities = []address.Address{authorityAddr}

	create := MarketMapCreate{Key: "BTC/USD", Payload: []byte("payload-1")}
	ctx := Context{Signer: other, Height: 1}
	if err := create.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected non-authority create to be rejected")
	}

	ctx.Signer = authorityAddr
	if err := create.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := o.Get(marketMapKey("BTC/USD"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload-1" {
		t.Errorf("market payload mismatch: got %q", got)
	}

	update := MarketMapUpdate{Key: "BTC/USD", Payload: []byte("payload-2")}
	if err := update.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err = o.Get(marketMapKey("BTC/USD"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload-2" {
		t.Errorf("market payload mismatch after update: got %q", got)
	}

	remove := MarketMapRemove{Keys: []string{"BTC/USD", "unknown-key"}}
	if err := remove.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	got, err = o.Get(marketMapKey("BTC/USD"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected market to be removed, got %q", got)
	}
}

func TestInitBridgeAccount_RejectsDoubleInit(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	signer := testAddr(t, 1)
	sudo := testAddr(t, 2)
	withdrawer := testAddr(t, 3)

	init := InitBridgeAccount{RollupID: []byte("rollup-1"), SudoAddress: sudo, WithdrawerAddress: withdrawer}
	ctx := Context{Signer: signer, Fee: sdkmath.ZeroInt()}
	if err := init.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := init.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected double init to be rejected")
	}
}

func TestBridgeSudoChange_RequiresBridgeSudo(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	bridgeAddr := testAddr(t, 1)
	sudo := testAddr(t, 2)
	other := testAddr(t, 3)
	newSudo := testAddr(t, 4)
	deps.Bridge.PutBridgeAccountSudoAddress(o, bridgeAddr, sudo)

	change := BridgeSudoChange{BridgeAddress: bridgeAddr, NewSudoAddress: newSudo}
	ctx := Context{Signer: other, Fee: sdkmath.ZeroInt()}
	if err := change.CheckAndExecute(o, ctx, deps); err == nil {
		t.Error("expected non-sudo signer to be rejected")
	}

	ctx.Signer = sudo
	if err := change.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}
}

func TestRollupDataSubmission_DebitsFee(t *testing.T) {
	o := newTestOverlay(t)
	deps := newTestDeps()
	signer := testAddr(t, 1)
	seedBalance(t, o, deps, signer, "nria", 10)
	deps.Assets.PutAllowedFeeAsset(o, asset.TraceToIBCPrefixed("nria"))

	submission := RollupDataSubmission{RollupID: []byte("rollup-1"), Data: []byte("payload"), FeeAsset: "nria"}
	ctx := Context{Signer: signer, Fee: sdkmath.NewInt(3)}
	if err := submission.CheckAndExecute(o, ctx, deps); err != nil {
		t.Fatalf("CheckAndExecute failed: %v", err)
	}
	h := asset.TraceToIBCPrefixed("nria")
	bal, err := deps.Accounts.GetAccountBalance(o, signer, h)
	if err != nil {
		t.Fatalf("GetAccountBalance failed: %v", err)
	}
	if !bal.Equal(sdkmath.NewInt(7)) {
		t.Errorf("balance mismatch after fee debit: got %s, want 7", bal)
	}
}

func TestIbcRelayMessage_RejectsEmptyPacket(t *testing.T) {
	m := IbcRelayMessage{}
	if err := m.CheckStateless(); err == nil {
		t.Error("expected error for empty packet")
	}
}
