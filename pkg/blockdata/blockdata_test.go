package blockdata

import "testing"

func TestBuildTreeAndProofRoundTrip(t *testing.T) {
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	tree, err := BuildTree(items)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	for i, item := range items {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d): %v", i, err)
		}
		if !VerifyProof(item, proof, tree.Root()) {
			t.Fatalf("VerifyProof(%d) failed", i)
		}
	}
}

func TestVerifyProofRejectsWrongItem(t *testing.T) {
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	tree, err := BuildTree(items)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if VerifyProof([]byte("not-a"), proof, tree.Root()) {
		t.Fatal("VerifyProof accepted a substituted item")
	}
}

func TestBuildTreeEmptyRejected(t *testing.T) {
	if _, err := BuildTree(nil); err != ErrEmptyTree {
		t.Fatalf("got %v, want ErrEmptyTree", err)
	}
}

func TestRollupTransactionsTreeSortsByRollupID(t *testing.T) {
	groups := []RollupGroup{
		{RollupID: []byte{0x02}, Txs: [][]byte{[]byte("tx-b")}},
		{RollupID: []byte{0x01}, Txs: [][]byte{[]byte("tx-a")}},
	}
	_, sorted, err := BuildRollupTransactionsTree(groups)
	if err != nil {
		t.Fatalf("BuildRollupTransactionsTree: %v", err)
	}
	if sorted[0].RollupID[0] != 0x01 || sorted[1].RollupID[0] != 0x02 {
		t.Fatalf("groups not sorted by rollup_id: %+v", sorted)
	}
}

func TestRollupIdsTreeSorts(t *testing.T) {
	ids := [][]byte{{0x03}, {0x01}, {0x02}}
	_, sorted, err := BuildRollupIdsTree(ids)
	if err != nil {
		t.Fatalf("BuildRollupIdsTree: %v", err)
	}
	for i, want := range []byte{0x01, 0x02, 0x03} {
		if sorted[i][0] != want {
			t.Fatalf("sorted[%d] = %x, want %x", i, sorted[i][0], want)
		}
	}
}

func TestDataSequenceHashAndInclusionProofs(t *testing.T) {
	txRoot, _, err := BuildRollupTransactionsTree([]RollupGroup{
		{RollupID: []byte{0x01}, Txs: [][]byte{[]byte("tx1")}},
	})
	if err != nil {
		t.Fatalf("BuildRollupTransactionsTree: %v", err)
	}
	idsRoot, _, err := BuildRollupIdsTree([][]byte{{0x01}})
	if err != nil {
		t.Fatalf("BuildRollupIdsTree: %v", err)
	}

	seq := DataSequence{
		RollupTransactionsRoot: txRoot.Root(),
		RollupIdsRoot:          idsRoot.Root(),
		Txs:                    [][]byte{[]byte("signed-tx-1")},
	}

	hash, err := seq.DataHash()
	if err != nil {
		t.Fatalf("DataHash: %v", err)
	}
	if hash == ([32]byte{}) {
		t.Fatal("DataHash returned zero root")
	}

	proof0, err := ProofAtIndex0(seq)
	if err != nil {
		t.Fatalf("ProofAtIndex0: %v", err)
	}
	item0 := seq.Items()[0]
	if !VerifyProof(item0, proof0, hash) {
		t.Fatal("inclusion proof for RollupTransactionsRoot item failed to verify")
	}

	proof1, err := ProofAtIndex1(seq)
	if err != nil {
		t.Fatalf("ProofAtIndex1: %v", err)
	}
	item1 := seq.Items()[1]
	if !VerifyProof(item1, proof1, hash) {
		t.Fatal("inclusion proof for RollupIdsRoot item failed to verify")
	}
}

func TestEncodeDecodeItemRoundTrip(t *testing.T) {
	body := []byte("hello")
	encoded := EncodeItem(TagRollupTransactionsRoot, body)
	tag, decoded, rest, err := DecodeItem(encoded)
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if tag != TagRollupTransactionsRoot {
		t.Fatalf("tag = %x, want %x", tag, TagRollupTransactionsRoot)
	}
	if string(decoded) != "hello" {
		t.Fatalf("decoded = %q, want %q", decoded, "hello")
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %d bytes, want 0", len(rest))
	}
}
