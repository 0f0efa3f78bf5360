package app

import "testing"

func sampleProposal(height int64) CachedProposal {
	return CachedProposal{Height: height, Txs: [][]byte{[]byte("tx1")}}
}

func TestNewExecutionStateIsUnset(t *testing.T) {
	m := NewExecutionStateMachine()
	if m.Kind() != "Unset" {
		t.Fatalf("got %s, want Unset", m.Kind())
	}
}

func TestSetPreparedProposalFailsOnNonUnset(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetPreparedProposal(sampleProposal(1)); err != nil {
		t.Fatalf("first SetPreparedProposal: %v", err)
	}
	if err := m.SetPreparedProposal(sampleProposal(1)); err == nil {
		t.Fatal("expected error setting prepared proposal twice")
	}
}

func TestCheckIfPreparedProposalMatches(t *testing.T) {
	m := NewExecutionStateMachine()
	p := sampleProposal(1)
	if err := m.SetPreparedProposal(p); err != nil {
		t.Fatalf("SetPreparedProposal: %v", err)
	}
	if !m.CheckIfPreparedProposal(p) {
		t.Fatal("expected match")
	}
	if m.Kind() != "PreparedValid" {
		t.Fatalf("got %s, want PreparedValid", m.Kind())
	}
}

func TestCheckIfPreparedProposalMismatch(t *testing.T) {
	m := NewExecutionStateMachine()
	p := sampleProposal(1)
	if err := m.SetPreparedProposal(p); err != nil {
		t.Fatalf("SetPreparedProposal: %v", err)
	}
	other := sampleProposal(2)
	if m.CheckIfPreparedProposal(other) {
		t.Fatal("expected mismatch")
	}
	if m.Kind() != "CheckedPreparedMismatch" {
		t.Fatalf("got %s, want CheckedPreparedMismatch", m.Kind())
	}
	// should stay rejected even against the original proposal
	if m.CheckIfPreparedProposal(p) {
		t.Fatal("mismatch state should not revalidate")
	}
}

func TestSetExecutedBlockFromUnset(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetExecutedBlock([32]byte{1}); err != nil {
		t.Fatalf("SetExecutedBlock: %v", err)
	}
	if m.Kind() != "ExecutedBlock" {
		t.Fatalf("got %s, want ExecutedBlock", m.Kind())
	}
}

func TestSetExecutedBlockFromPreparedFails(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetPreparedProposal(sampleProposal(1)); err != nil {
		t.Fatalf("SetPreparedProposal: %v", err)
	}
	if err := m.SetExecutedBlock([32]byte{1}); err == nil {
		t.Fatal("expected error executing block from Prepared state")
	}
}

func TestSetExecutedBlockTwiceFails(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetExecutedBlock([32]byte{1}); err != nil {
		t.Fatalf("first SetExecutedBlock: %v", err)
	}
	if err := m.SetExecutedBlock([32]byte{2}); err == nil {
		t.Fatal("expected error executing block twice")
	}
}

func TestCheckIfExecutedBlockMatches(t *testing.T) {
	m := NewExecutionStateMachine()
	hash := [32]byte{9}
	if err := m.SetExecutedBlock(hash); err != nil {
		t.Fatalf("SetExecutedBlock: %v", err)
	}
	if !m.CheckIfExecutedBlock(hash) {
		t.Fatal("expected match")
	}
}

func TestCheckIfExecutedBlockMismatch(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetExecutedBlock([32]byte{9}); err != nil {
		t.Fatalf("SetExecutedBlock: %v", err)
	}
	if m.CheckIfExecutedBlock([32]byte{8}) {
		t.Fatal("expected mismatch")
	}
	if m.Kind() != "CheckedExecutedBlockMismatch" {
		t.Fatalf("got %s, want CheckedExecutedBlockMismatch", m.Kind())
	}
}

func TestCheckIfExecutedBlockFromPreparedTransitionsToMismatch(t *testing.T) {
	m := NewExecutionStateMachine()
	if err := m.SetPreparedProposal(sampleProposal(1)); err != nil {
		t.Fatalf("SetPreparedProposal: %v", err)
	}
	if m.CheckIfExecutedBlock([32]byte{1}) {
		t.Fatal("expected false from Prepared state")
	}
	if m.Kind() != "CheckedPreparedMismatch" {
		t.Fatalf("got %s, want CheckedPreparedMismatch", m.Kind())
	}
}
