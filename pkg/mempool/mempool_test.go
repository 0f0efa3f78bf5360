package mempool

import (
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

func mustAddr(t *testing.T, seed byte) address.Address {
	t.Helper()
	raw := make([]byte, address.Size)
	raw[0] = seed
	a, err := address.New("sequencer", raw)
	if err != nil {
		t.Fatalf("address.New: %v", err)
	}
	return a
}

func checkedTx(t *testing.T, owner address.Address, nonce uint32) *transaction.CheckedTransaction {
	t.Helper()
	var id [32]byte
	id[0] = byte(nonce)
	id[1] = owner.Bytes()[0]
	return &transaction.CheckedTransaction{
		ID:     id,
		Signer: owner,
		Signed: transaction.Signed{Body: transaction.Body{Nonce: nonce}},
		FeesByAsset: map[asset.IBCPrefixed]sdkmath.Int{},
	}
}

func TestInsertNonceReplacementRejected(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 1)

	tx1 := checkedTx(t, owner, 5)
	if res := mp.Insert(tx1, 0); res != InsertParked {
		t.Fatalf("first insert: got %v, want Parked (gap from nonce 0)", res)
	}

	tx2 := checkedTx(t, owner, 5)
	tx2.ID[31] = 0xFF // distinguish payload identity while keeping same nonce
	if res := mp.Insert(tx2, 0); res != InsertNonceTaken {
		t.Fatalf("second insert: got %v, want NonceTaken", res)
	}
}

func TestParkedPromotion(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 2)

	for _, n := range []uint32{2, 3, 0, 1} {
		mp.Insert(checkedTx(t, owner, n), 0)
	}

	entries, err := mp.BuilderQueue(func(address.Address) (uint32, error) { return 0, nil })
	if err != nil {
		t.Fatalf("BuilderQueue: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	for i, e := range entries {
		if got := e.Tx.Signed.Body.Nonce; got != uint32(i) {
			t.Fatalf("entry %d: nonce %d, want %d", i, got, i)
		}
	}
}

func TestRemoveTxInvalidCascades(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 3)

	for _, n := range []uint32{0, 1, 2} {
		mp.Insert(checkedTx(t, owner, n), 0)
	}

	tx1 := checkedTx(t, owner, 1)
	mp.RemoveTxInvalid(owner, tx1.ID, 1, RemovalReason{Kind: ReasonFailedExecution})

	entries, err := mp.BuilderQueue(func(address.Address) (uint32, error) { return 0, nil })
	if err != nil {
		t.Fatalf("BuilderQueue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries after cascade removal, want 1 (only nonce 0 survives)", len(entries))
	}
	if entries[0].Tx.Signed.Body.Nonce != 0 {
		t.Fatalf("surviving entry has nonce %d, want 0", entries[0].Tx.Signed.Body.Nonce)
	}
}

func TestInsertRejectsLowAndDuplicate(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 5)

	if res := mp.Insert(checkedTx(t, owner, 4), 5); res != InsertNonceTooLow {
		t.Fatalf("insert below account nonce: got %v, want NonceTooLow", res)
	}

	tx := checkedTx(t, owner, 5)
	if res := mp.Insert(tx, 5); res != InsertOK {
		t.Fatalf("insert at account nonce: got %v, want OK", res)
	}
	if res := mp.Insert(tx, 5); res != InsertAlreadyPresent {
		t.Fatalf("reinsert identical tx: got %v, want AlreadyPresent", res)
	}
}

func TestTransactionStatusLifecycle(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 6)

	pending := checkedTx(t, owner, 0)
	parked := checkedTx(t, owner, 4)
	mp.Insert(pending, 0)
	mp.Insert(parked, 0)

	if st := mp.TransactionStatus(pending.ID); st.State != StatePending {
		t.Fatalf("pending tx status: %+v", st)
	}
	if st := mp.TransactionStatus(parked.ID); st.State != StateParked {
		t.Fatalf("parked tx status: %+v", st)
	}

	mp.RemoveTxInvalid(owner, parked.ID, 4, RemovalReason{Kind: ReasonExpired})
	if st := mp.TransactionStatus(parked.ID); st.State != StateRemoved || st.Reason.Kind != ReasonExpired {
		t.Fatalf("removed tx status: %+v", st)
	}

	// Once the block containing it commits, the status reports the
	// execution outcome.
	mp.RunMaintenance(func(address.Address) (uint32, error) { return 1, nil },
		map[[32]byte]ExecResult{pending.ID: {Code: 0}}, 12)
	st := mp.TransactionStatus(pending.ID)
	if st.State != StateExecuted || st.Height != 12 || st.ExecCode != 0 {
		t.Fatalf("executed tx status: %+v", st)
	}
}

func TestMaintenancePromotesParkedOnlyAccount(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 7)

	// Nonce 1 parks behind a gap; the account has nothing pending.
	if res := mp.Insert(checkedTx(t, owner, 1), 0); res != InsertParked {
		t.Fatalf("insert: got %v, want Parked", res)
	}

	// The on-chain nonce catches up (the gap transaction landed via
	// another node), closing the gap.
	mp.RunMaintenance(func(address.Address) (uint32, error) { return 1, nil }, nil, 5)

	entries, err := mp.BuilderQueue(func(address.Address) (uint32, error) { return 1, nil })
	if err != nil {
		t.Fatalf("BuilderQueue: %v", err)
	}
	if len(entries) != 1 || entries[0].Tx.Signed.Body.Nonce != 1 {
		t.Fatalf("expected promoted nonce-1 entry, got %+v", entries)
	}
}

func TestMaintenanceDropsStaleAndExpired(t *testing.T) {
	mp := New(DefaultParkedSizeLimit, 128)
	owner := mustAddr(t, 8)

	stale := checkedTx(t, owner, 0)
	mp.Insert(stale, 0)

	// Account nonce moved past the tx; the sweep drops it as stale.
	mp.RunMaintenance(func(address.Address) (uint32, error) { return 3, nil }, nil, 9)
	if st := mp.TransactionStatus(stale.ID); st.State != StateRemoved || st.Reason.Kind != ReasonNonceStale {
		t.Fatalf("stale tx status: %+v", st)
	}

	expired := checkedTx(t, owner, 3)
	mp.Insert(expired, 3)
	mp.ttl = 0
	mp.RunMaintenance(func(address.Address) (uint32, error) { return 3, nil }, nil, 10)
	if st := mp.TransactionStatus(expired.ID); st.State != StateRemoved || st.Reason.Kind != ReasonExpired {
		t.Fatalf("expired tx status: %+v", st)
	}
}

func TestAccountSizeLimit(t *testing.T) {
	mp := New(2, 128)
	owner := mustAddr(t, 4)

	// current nonce 0; nonces 5,6 go to parked (gap), filling the cap.
	if res := mp.Insert(checkedTx(t, owner, 5), 0); res != InsertParked {
		t.Fatalf("insert 5: got %v", res)
	}
	if res := mp.Insert(checkedTx(t, owner, 6), 0); res != InsertParked {
		t.Fatalf("insert 6: got %v", res)
	}
	if res := mp.Insert(checkedTx(t, owner, 7), 0); res != InsertAccountSizeLimit {
		t.Fatalf("insert 7: got %v, want AccountSizeLimit", res)
	}
}
