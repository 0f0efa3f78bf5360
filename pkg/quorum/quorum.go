// Copyright 2025 Certen Protocol
//
// Package quorum verifies CometBFT-style commits: it checks the
// commit's height against the validator set's block height, sums the
// voting power behind a set of canonical-vote signatures with checked
// arithmetic, requires a 2/3+ threshold, and recomputes the commit
// hash carried in a block header.
//
// The commit hash is built on pkg/blockdata's double-hash-leaf tree so
// the module keeps a single hashing convention throughout.
package quorum

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/blockdata"
)

var (
	// ErrInsufficientPower is returned when the signed voting power
	// behind a commit does not clear the 2/3+ threshold.
	ErrInsufficientPower = errors.New("quorum: insufficient voting power for commit")
	// ErrUnknownValidator is returned when a signature's index does not
	// resolve to a validator in the supplied set.
	ErrUnknownValidator = errors.New("quorum: signature references unknown validator index")
	// ErrBadSignature is returned when a present signature fails to
	// verify against its validator's public key.
	ErrBadSignature = errors.New("quorum: signature verification failed")
	// ErrEmptyValidatorSet is returned verifying a commit with no
	// validators at all.
	ErrEmptyValidatorSet = errors.New("quorum: empty validator set")
	// ErrHeightMismatch is returned when the commit's height is not the
	// validator set's block height plus one.
	ErrHeightMismatch = errors.New("quorum: commit height does not follow validator set height")
	// ErrPowerOverflow is returned when summing voting power (or the
	// 2/3 threshold computation) overflows int64.
	ErrPowerOverflow = errors.New("quorum: voting power sum overflows")
	// ErrNegativePower is returned when a validator carries negative
	// voting power.
	ErrNegativePower = errors.New("quorum: negative voting power")
)

// VoteType distinguishes a canonical precommit from other vote kinds;
// only precommits count toward a commit's voting power.
type VoteType byte

const VoteTypePrecommit VoteType = 0x02

// CanonicalVote is the exact byte sequence each validator's signature
// covers: precommit type, height, round, the block ID being committed,
// the commit timestamp, and the chain ID. CometBFT validators never
// sign over anything else for a commit, so this is also what an
// equivocation check would compare across heights.
type CanonicalVote struct {
	Type      VoteType
	Height    int64
	Round     int32
	BlockID   [32]byte
	Timestamp int64 // unix nanoseconds
	ChainID   string
}

// Bytes canonically encodes the vote for signing/verification. This is
// a fixed-width encoding (not CometBFT's own protobuf canonical form)
// since this package only needs internal consistency between signer
// and verifier, not wire compatibility with an external CometBFT binary.
func (v CanonicalVote) Bytes() []byte {
	buf := make([]byte, 0, 1+8+4+32+8+len(v.ChainID))
	buf = append(buf, byte(v.Type))
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(v.Height))
	buf = append(buf, h[:]...)
	var r [4]byte
	binary.BigEndian.PutUint32(r[:], uint32(v.Round))
	buf = append(buf, r[:]...)
	buf = append(buf, v.BlockID[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(v.Timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, []byte(v.ChainID)...)
	return buf
}

// CommitSig is one validator's contribution to a commit. Absent is true
// for validators who did not vote (nil vote); their signature is empty
// and they contribute zero power.
type CommitSig struct {
	ValidatorIndex int
	Signature      []byte
	Absent         bool
}

// Commit is the set of signatures a block's LastCommit carries, plus
// the timestamp the canonical votes were signed over.
type Commit struct {
	Height     int64
	Round      int32
	BlockID    [32]byte
	Timestamp  int64 // unix nanoseconds
	Signatures []CommitSig
}

// checkedAdd adds two int64 values, reporting false on overflow.
func checkedAdd(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// checkedMul multiplies two int64 values, reporting false on overflow.
func checkedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// VerifyCommit checks a block commit in full: the commit's height must
// be validatorSetBlockHeight+1, every present signature must verify
// against its validator's public key, and the signed voting power must
// strictly exceed 2/3 of the full set's power. Power sums use checked
// addition; an overflow rejects the commit rather than wrapping.
// Validators are addressed by index into validators, which must be in
// the same order used when the commit was produced.
func VerifyCommit(validators []authority.Validator, chainID string, validatorSetBlockHeight int64, commit Commit) error {
	if len(validators) == 0 {
		return ErrEmptyValidatorSet
	}
	if commit.Height != validatorSetBlockHeight+1 {
		return fmt.Errorf("%w: commit height %d, validator set height %d", ErrHeightMismatch, commit.Height, validatorSetBlockHeight)
	}

	var totalPower, signedPower int64
	for i, v := range validators {
		if v.Power < 0 {
			return fmt.Errorf("%w: validator %d has power %d", ErrNegativePower, i, v.Power)
		}
		sum, ok := checkedAdd(totalPower, v.Power)
		if !ok {
			return ErrPowerOverflow
		}
		totalPower = sum
	}

	vote := CanonicalVote{
		Type:      VoteTypePrecommit,
		Height:    commit.Height,
		Round:     commit.Round,
		BlockID:   commit.BlockID,
		Timestamp: commit.Timestamp,
		ChainID:   chainID,
	}
	msg := vote.Bytes()

	for _, sig := range commit.Signatures {
		if sig.Absent {
			continue
		}
		if sig.ValidatorIndex < 0 || sig.ValidatorIndex >= len(validators) {
			return fmt.Errorf("%w: index %d", ErrUnknownValidator, sig.ValidatorIndex)
		}
		val := validators[sig.ValidatorIndex]
		if len(val.PubKey) != ed25519.PublicKeySize {
			return fmt.Errorf("quorum: validator %d has invalid ed25519 key size %d", sig.ValidatorIndex, len(val.PubKey))
		}
		if !ed25519.Verify(ed25519.PublicKey(val.PubKey), msg, sig.Signature) {
			return fmt.Errorf("%w: validator index %d", ErrBadSignature, sig.ValidatorIndex)
		}
		sum, ok := checkedAdd(signedPower, val.Power)
		if !ok {
			return ErrPowerOverflow
		}
		signedPower = sum
	}

	// Strict 2/3+ in checked integer arithmetic: signedPower*3 must
	// exceed totalPower*2, and either product overflowing rejects the
	// commit outright.
	signedTimes3, ok := checkedMul(signedPower, 3)
	if !ok {
		return ErrPowerOverflow
	}
	totalTimes2, ok := checkedMul(totalPower, 2)
	if !ok {
		return ErrPowerOverflow
	}
	if signedTimes3 <= totalTimes2 {
		return fmt.Errorf("%w: signed=%d total=%d", ErrInsufficientPower, signedPower, totalPower)
	}
	return nil
}

// commitSigLeaf canonically encodes one signature slot for hashing into
// LastCommitHash: validator index, absence flag, and the raw signature
// bytes (empty when absent).
func commitSigLeaf(sig CommitSig) []byte {
	buf := make([]byte, 0, 6+len(sig.Signature))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(sig.ValidatorIndex))
	buf = append(buf, idx[:]...)
	if sig.Absent {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
	}
	buf = append(buf, sig.Signature...)
	return buf
}

// ComputeLastCommitHash recomputes the Merkle root CometBFT calls
// last_commit_hash: an MHT over the commit's signature slots, in
// validator-set order, using the same double-hash leaf rule as the
// rest of a block's Merkle commitments.
func ComputeLastCommitHash(commit Commit) ([32]byte, error) {
	if len(commit.Signatures) == 0 {
		return [32]byte{}, ErrEmptyValidatorSet
	}
	items := make([][]byte, len(commit.Signatures))
	for i, sig := range commit.Signatures {
		items[i] = commitSigLeaf(sig)
	}
	tree, err := blockdata.BuildTree(items)
	if err != nil {
		return [32]byte{}, err
	}
	return tree.Root(), nil
}

// SignCanonicalVote signs a precommit with priv, for use by test
// helpers and single-process devnets where this package stands in for
// an external validator signing its own vote.
func SignCanonicalVote(priv ed25519.PrivateKey, vote CanonicalVote) []byte {
	return ed25519.Sign(priv, vote.Bytes())
}
