package quorum

import (
	"crypto/ed25519"
	"errors"
	"math"
	"testing"

	"github.com/conduit-stack/sequencer/pkg/authority"
)

func genValidator(t *testing.T, power int64) (authority.Validator, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	return authority.Validator{PubKey: pub, Power: power}, priv
}

const testTimestamp = int64(1700000000e9)

func TestVerifyCommitPassesAboveTwoThirds(t *testing.T) {
	// 21 of 31 power signs: strictly above 2/3.
	v1, k1 := genValidator(t, 11)
	v2, k2 := genValidator(t, 10)
	v3, _ := genValidator(t, 10)
	validators := []authority.Validator{v1, v2, v3}

	vote := CanonicalVote{Type: VoteTypePrecommit, Height: 5, Round: 0, BlockID: [32]byte{0x01}, Timestamp: testTimestamp, ChainID: "test-chain"}
	commit := Commit{
		Height:    5,
		Round:     0,
		BlockID:   vote.BlockID,
		Timestamp: testTimestamp,
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: SignCanonicalVote(k1, vote)},
			{ValidatorIndex: 1, Signature: SignCanonicalVote(k2, vote)},
			{ValidatorIndex: 2, Absent: true},
		},
	}

	if err := VerifyCommit(validators, "test-chain", 4, commit); err != nil {
		t.Fatalf("VerifyCommit: %v", err)
	}
}

func TestVerifyCommitFailsBelowTwoThirds(t *testing.T) {
	v1, k1 := genValidator(t, 10)
	v2, _ := genValidator(t, 10)
	v3, _ := genValidator(t, 10)
	validators := []authority.Validator{v1, v2, v3}

	vote := CanonicalVote{Type: VoteTypePrecommit, Height: 5, Round: 0, BlockID: [32]byte{0x01}, Timestamp: testTimestamp, ChainID: "test-chain"}
	commit := Commit{
		Height:    5,
		Round:     0,
		BlockID:   vote.BlockID,
		Timestamp: testTimestamp,
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: SignCanonicalVote(k1, vote)},
			{ValidatorIndex: 1, Absent: true},
			{ValidatorIndex: 2, Absent: true},
		},
	}

	if err := VerifyCommit(validators, "test-chain", 4, commit); err == nil {
		t.Fatal("expected insufficient-power error, got nil")
	}
}

func TestVerifyCommitRejectsForgedSignature(t *testing.T) {
	v1, k1 := genValidator(t, 10)
	v2, _ := genValidator(t, 10)
	validators := []authority.Validator{v1, v2}

	vote := CanonicalVote{Type: VoteTypePrecommit, Height: 5, Round: 0, BlockID: [32]byte{0x01}, Timestamp: testTimestamp, ChainID: "test-chain"}
	wrongVote := vote
	wrongVote.Height = 6
	commit := Commit{
		Height:    5,
		Round:     0,
		BlockID:   vote.BlockID,
		Timestamp: testTimestamp,
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: SignCanonicalVote(k1, wrongVote)},
			{ValidatorIndex: 1, Absent: true},
		},
	}

	if err := VerifyCommit(validators, "test-chain", 4, commit); err == nil {
		t.Fatal("expected signature verification failure, got nil")
	}
}

func TestVerifyCommitRejectsHeightMismatch(t *testing.T) {
	v1, k1 := genValidator(t, 10)
	validators := []authority.Validator{v1}

	vote := CanonicalVote{Type: VoteTypePrecommit, Height: 5, Round: 0, BlockID: [32]byte{0x01}, Timestamp: testTimestamp, ChainID: "test-chain"}
	commit := Commit{
		Height:    5,
		Round:     0,
		BlockID:   vote.BlockID,
		Timestamp: testTimestamp,
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: SignCanonicalVote(k1, vote)},
		},
	}

	// Validator set height 5 would require a commit at height 6.
	err := VerifyCommit(validators, "test-chain", 5, commit)
	if !errors.Is(err, ErrHeightMismatch) {
		t.Fatalf("got %v, want ErrHeightMismatch", err)
	}
}

func TestVerifyCommitRejectsPowerOverflow(t *testing.T) {
	v1, _ := genValidator(t, math.MaxInt64)
	v2, _ := genValidator(t, 1)
	validators := []authority.Validator{v1, v2}

	commit := Commit{Height: 5, Timestamp: testTimestamp, Signatures: []CommitSig{{ValidatorIndex: 0, Absent: true}, {ValidatorIndex: 1, Absent: true}}}
	err := VerifyCommit(validators, "test-chain", 4, commit)
	if !errors.Is(err, ErrPowerOverflow) {
		t.Fatalf("got %v, want ErrPowerOverflow", err)
	}
}

func TestVerifyCommitRejectsTimestampMismatch(t *testing.T) {
	v1, k1 := genValidator(t, 10)
	validators := []authority.Validator{v1}

	vote := CanonicalVote{Type: VoteTypePrecommit, Height: 5, Round: 0, BlockID: [32]byte{0x01}, Timestamp: testTimestamp, ChainID: "test-chain"}
	commit := Commit{
		Height:    5,
		Round:     0,
		BlockID:   vote.BlockID,
		Timestamp: testTimestamp + 1, // commit carries a different timestamp than was signed
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: SignCanonicalVote(k1, vote)},
		},
	}

	err := VerifyCommit(validators, "test-chain", 4, commit)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestComputeLastCommitHashDeterministic(t *testing.T) {
	commit := Commit{
		Signatures: []CommitSig{
			{ValidatorIndex: 0, Signature: []byte{0x01, 0x02}},
			{ValidatorIndex: 1, Absent: true},
		},
	}
	h1, err := ComputeLastCommitHash(commit)
	if err != nil {
		t.Fatalf("ComputeLastCommitHash: %v", err)
	}
	h2, err := ComputeLastCommitHash(commit)
	if err != nil {
		t.Fatalf("ComputeLastCommitHash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("ComputeLastCommitHash is not deterministic")
	}
}
