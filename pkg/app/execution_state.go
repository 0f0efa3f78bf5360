// Copyright 2025 Certen Protocol
//
// Package app implements the ABCI application: transaction checking,
// block preparation/validation, finalization and commit, wired to the
// kv store, mempool, and module set the rest of this tree builds.
//
// The proposal/execution tracking here is a state machine recording
// whether the current height's block has already
// been prepared and/or executed in a prior ABCI call, so CometBFT's
// PrepareProposal/ProcessProposal/FinalizeBlock sequence never executes
// the same block's transactions twice.
package app

import (
	"errors"
	"fmt"
	"time"
)

// ErrExecutionStateAlreadySet is returned attempting to cache a
// prepared proposal when the state machine isn't Unset.
var ErrExecutionStateAlreadySet = errors.New("app: execution state already set")

// ErrExecutedOutOfOrder is returned setting an executed block result
// from a state that cannot legally transition there.
var ErrExecutedOutOfOrder = errors.New("app: executed block state set out of legal order")

// executionStateKind names which variant of ExecutionState is active.
type executionStateKind int

const (
	stateUnset executionStateKind = iota
	statePrepared
	statePreparedValid
	stateCheckedPreparedMismatch
	stateExecutedBlock
	stateCheckedExecutedBlockMismatch
)

// CachedProposal is the information captured from a PrepareProposal
// call (or the matching ProcessProposal request, once validated) that
// later ABCI calls compare against to detect re-entrant or diverging
// block construction.
type CachedProposal struct {
	Time               time.Time
	ProposerAddress    [20]byte
	Txs                [][]byte
	NextValidatorsHash []byte
	Height             int64
}

func (a CachedProposal) equal(b CachedProposal) bool {
	if !a.Time.Equal(b.Time) || a.ProposerAddress != b.ProposerAddress || a.Height != b.Height {
		return false
	}
	if string(a.NextValidatorsHash) != string(b.NextValidatorsHash) {
		return false
	}
	if len(a.Txs) != len(b.Txs) {
		return false
	}
	for i := range a.Txs {
		if string(a.Txs[i]) != string(b.Txs[i]) {
			return false
		}
	}
	return true
}

// ExecutionStateMachine tracks what this process has already done for
// the block currently in flight, mirroring the legal-transition table a
// CometBFT application must respect: Unset -> Prepared -> PreparedValid
// -> ExecutedBlock, with a mismatch branch at each comparison point that
// becomes a terminal state for the height.
type ExecutionStateMachine struct {
	kind             executionStateKind
	cachedProposal   CachedProposal
	hasProposal      bool
	cachedBlockHash  [32]byte
}

// NewExecutionStateMachine returns a machine in the Unset state.
func NewExecutionStateMachine() *ExecutionStateMachine {
	return &ExecutionStateMachine{kind: stateUnset}
}

// Reset returns the machine to Unset, called once per height after
// Commit so the next height starts clean.
func (m *ExecutionStateMachine) Reset() {
	*m = ExecutionStateMachine{kind: stateUnset}
}

// Kind exposes the current variant for logging/diagnostics.
func (m *ExecutionStateMachine) Kind() string {
	switch m.kind {
	case stateUnset:
		return "Unset"
	case statePrepared:
		return "Prepared"
	case statePreparedValid:
		return "PreparedValid"
	case stateCheckedPreparedMismatch:
		return "CheckedPreparedMismatch"
	case stateExecutedBlock:
		return "ExecutedBlock"
	case stateCheckedExecutedBlockMismatch:
		return "CheckedExecutedBlockMismatch"
	default:
		return "Unknown"
	}
}

// SetPreparedProposal caches the result of a PrepareProposal call.
// Fails if a proposal is already cached for this height; the caller
// must Reset between heights.
func (m *ExecutionStateMachine) SetPreparedProposal(p CachedProposal) error {
	if m.kind != stateUnset {
		return ErrExecutionStateAlreadySet
	}
	m.kind = statePrepared
	m.cachedProposal = p
	m.hasProposal = true
	return nil
}

// CheckIfPreparedProposal compares a ProcessProposal request against
// the cached proposal. Returns false without erroring from states where
// no comparison makes sense (Unset or an already-terminal mismatch/
// executed state); in that case the caller must fall back to executing
// the proposal itself rather than trusting the cache.
func (m *ExecutionStateMachine) CheckIfPreparedProposal(p CachedProposal) bool {
	switch m.kind {
	case statePrepared, statePreparedValid:
		// fall through to comparison below
	default:
		return false
	}

	if !m.cachedProposal.equal(p) {
		m.kind = stateCheckedPreparedMismatch
		return false
	}
	m.kind = statePreparedValid
	return true
}

// SetExecutedBlock caches the block hash produced by executing the
// current proposal. Legal from Unset (an externally-supplied block
// with no locally prepared proposal, e.g. a late-joining validator) or
// PreparedValid; illegal, and left unchanged, from every other state.
func (m *ExecutionStateMachine) SetExecutedBlock(blockHash [32]byte) error {
	switch m.kind {
	case stateUnset:
		m.kind = stateExecutedBlock
		m.cachedBlockHash = blockHash
		m.hasProposal = false
		return nil
	case statePreparedValid:
		m.kind = stateExecutedBlock
		m.cachedBlockHash = blockHash
		return nil
	case statePrepared:
		return fmt.Errorf("%w: executed block set before prepared proposal was validated", ErrExecutedOutOfOrder)
	case stateExecutedBlock:
		return fmt.Errorf("%w: executed block set twice", ErrExecutedOutOfOrder)
	default:
		return fmt.Errorf("%w: executed block set after an invalid check", ErrExecutedOutOfOrder)
	}
}

// CheckIfExecutedBlock compares blockHash against a previously executed
// block's cached hash. From Prepared/PreparedValid (execution hasn't
// happened yet in this process) it transitions to the mismatch state
// and returns false, signaling the caller must execute for real.
func (m *ExecutionStateMachine) CheckIfExecutedBlock(blockHash [32]byte) bool {
	switch m.kind {
	case statePrepared, statePreparedValid:
		m.kind = stateCheckedPreparedMismatch
		return false
	case stateExecutedBlock:
		if m.cachedBlockHash != blockHash {
			m.kind = stateCheckedExecutedBlockMismatch
			return false
		}
		return true
	default:
		return false
	}
}
