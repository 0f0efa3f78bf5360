// Copyright 2025 Certen Protocol
//
// This file wires the module set (kv store, mempool, accounts, assets,
// authority, bridge, transaction builder) into a CometBFT ABCI
// application. Consensus requests for a given height are serialized by
// a single mutex; per-block scratch state lives on the App between
// FinalizeBlock and Commit.
package app

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cometed25519 "github.com/cometbft/cometbft/crypto/ed25519"
	cryptoenc "github.com/cometbft/cometbft/crypto/encoding"

	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/actions"
	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/blockdata"
	"github.com/conduit-stack/sequencer/pkg/bridge"
	"github.com/conduit-stack/sequencer/pkg/kv"
	"github.com/conduit-stack/sequencer/pkg/mempool"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

// UpgradeHeight is the height at which the authority module's
// validator-set storage migrates from an aggregate record to
// per-validator records. Zero disables the upgrade (post-upgrade format
// from genesis).
type UpgradeHeight uint64

// App implements abcitypes.Application. It owns the committed kv
// store, the application-side mempool, and the module set that
// interprets actions against that store.
type App struct {
	mu sync.Mutex

	logger *log.Logger

	store   *kv.Store
	mempool *mempool.Mempool

	builder   *transaction.Builder
	accounts  *accounts.Ledger
	assets    *asset.Registry
	authority *authority.Module
	bridge    *bridge.Registry

	blockUpdates *authority.BlockUpdates
	ibc          actions.IBCEmitter

	chainID       string
	addressPrefix string
	upgradeHeight UpgradeHeight

	execState *ExecutionStateMachine

	latestHeight int64
	lastAppHash  []byte

	// per-block scratch populated by FinalizeBlock and consumed by
	// Commit.
	currentHeight    int64
	currentOverlay   *kv.Overlay
	currentExecuted  map[[32]byte]mempool.ExecResult
	currentRemovals  []pendingRemoval
}

// pendingRemoval is one transaction FinalizeBlock decided must leave the
// mempool once the block that failed it commits.
type pendingRemoval struct {
	owner  address.Address
	id     [32]byte
	nonce  uint32
	reason mempool.RemovalReason
}

// New constructs an App. A nil IBC emitter is replaced by
// actions.NoopIBCEmitter, for when no IBC component runs alongside the
// sequencer.
func New(
	store *kv.Store,
	mp *mempool.Mempool,
	builder *transaction.Builder,
	chainID, addressPrefix string,
	upgradeHeight UpgradeHeight,
	ibc actions.IBCEmitter,
) *App {
	if ibc == nil {
		ibc = actions.NoopIBCEmitter{}
	}
	return &App{
		logger:        log.New(os.Stdout, "[app] ", log.LstdFlags|log.Lmicroseconds),
		store:         store,
		mempool:       mp,
		builder:       builder,
		accounts:      accounts.NewLedger(),
		assets:        asset.NewRegistry(),
		authority:     authority.NewModule(),
		bridge:        bridge.NewRegistry(),
		blockUpdates:  authority.NewBlockUpdates(),
		ibc:           ibc,
		chainID:       chainID,
		addressPrefix: addressPrefix,
		upgradeHeight: upgradeHeight,
		execState:     NewExecutionStateMachine(),
	}
}

var _ abcitypes.Application = (*App)(nil)

func (a *App) upgraded(height int64) bool {
	return a.upgradeHeight != 0 && uint64(height) >= uint64(a.upgradeHeight)
}

// migrateIfUpgraded runs the authority module's one-time validator-set
// migration into store when height is at or past the upgrade height.
func (a *App) migrateIfUpgraded(store *kv.Overlay, height int64) error {
	if !a.upgraded(height) {
		return nil
	}
	if err := a.authority.MigrateAtUpgradeHeight(store); err != nil {
		return fmt.Errorf("app: migrate validator set at height %d: %w", height, err)
	}
	return nil
}

// nextAccountNonce increments a consumed nonce, saturating at the
// maximum: an account that has spent its final nonce stays there, so
// every further transaction fails the nonce-too-low check instead of
// wrapping back to zero.
func nextAccountNonce(n uint32) uint32 {
	if n == math.MaxUint32 {
		return n
	}
	return n + 1
}

// deps builds the actions.Deps bundle this app always wires its
// modules with; the market-authority list is empty since market
// governance lives outside this module's scope.
func (a *App) deps() actions.Deps {
	return actions.Deps{
		Accounts:     a.accounts,
		Assets:       a.assets,
		Authority:    a.authority,
		Bridge:       a.bridge,
		BlockUpdates: a.blockUpdates,
		IBC:          a.ibc,
	}
}

// Deps exposes the module bundle the app wires actions with, for
// sibling services (the transaction service) that check transactions
// the same way CheckTx does.
func (a *App) Deps() actions.Deps { return a.deps() }

// LatestHeight reports the last committed block height.
func (a *App) LatestHeight() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latestHeight < 0 {
		return 0
	}
	return uint64(a.latestHeight)
}

// Info reports the application's last committed height and hash so
// CometBFT can determine whether replay/sync is needed.
func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &abcitypes.ResponseInfo{
		Data:             "sequencer",
		Version:          "0.1.0",
		AppVersion:       1,
		LastBlockHeight:  a.latestHeight,
		LastBlockAppHash: a.lastAppHash,
	}, nil
}

// InitChain seeds genesis validators from the genesis app state. The
// genesis document format itself is a config-layer concern; this
// method only applies whatever validator set the caller has already
// decoded and handed to CometBFT.
func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	overlay := a.store.Fork()
	for _, v := range req.Validators {
		pub := v.PubKey.GetEd25519()
		if pub == nil {
			continue
		}
		if err := a.authority.ApplyValidatorUpdate(overlay, a.upgraded(0), authority.Validator{PubKey: pub, Power: v.Power}); err != nil {
			overlay.Discard()
			return nil, fmt.Errorf("app: apply genesis validator: %w", err)
		}
	}
	delta := kv.FromOverlay(overlay)
	if _, err := a.store.Commit(delta); err != nil {
		return nil, fmt.Errorf("app: commit genesis state: %w", err)
	}

	return &abcitypes.ResponseInitChain{Validators: req.Validators}, nil
}

// CheckTx runs the checked-transaction builder against the latest
// committed state (never against any in-flight block) and, on success,
// inserts the result into the mempool.
func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	snapshot := a.store.Snapshot()
	checked, err := a.builder.Build(req.Tx, snapshot, a.deps())
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}

	currentNonce, err := a.accounts.GetAccountNonce(snapshot, checked.Signer)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 2, Log: "read account nonce: " + err.Error()}, nil
	}

	result := a.mempool.Insert(checked, currentNonce)
	switch result {
	case mempool.InsertOK, mempool.InsertParked, mempool.InsertAlreadyPresent:
		return &abcitypes.ResponseCheckTx{Code: 0, Log: result.String()}, nil
	default:
		return &abcitypes.ResponseCheckTx{Code: 3, Log: result.String()}, nil
	}
}

// typedItemOverhead is the wire size of the two mandatory typed data
// items PrepareProposal prepends: tag byte + 4-byte length + 32-byte
// root, twice.
const typedItemOverhead = 2 * (1 + 4 + 32)

// PrepareProposal pulls the mempool's builder queue (lowest
// nonce-distance-from-current first) up to MaxTxBytes, executes each
// candidate against a working overlay so a failing transaction never
// makes it into the proposal, and prepends the canonical typed data
// items before handing the transaction list back to CometBFT.
func (a *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.store.Snapshot()
	entries, err := a.mempool.BuilderQueue(func(addr address.Address) (uint32, error) {
		return a.accounts.GetAccountNonce(snapshot, addr)
	})
	if err != nil {
		return nil, fmt.Errorf("app: builder queue: %w", err)
	}

	working := kv.Fork(snapshot)
	if err := a.migrateIfUpgraded(working, req.Height); err != nil {
		return nil, err
	}
	groupsByRollup := map[string]*blockdata.RollupGroup{}
	var txs [][]byte
	total := int64(typedItemOverhead)
	for _, e := range entries {
		wire := e.Tx.WireBytes
		if total+int64(len(wire)) > req.MaxTxBytes {
			break
		}
		checked, err := a.builder.Execute(wire, working, a.deps(), a.upgraded(req.Height))
		if err != nil {
			a.mempool.RemoveTxInvalid(e.Owner, e.Tx.ID, e.Tx.Signed.Body.Nonce, mempool.RemovalReason{
				Kind:    mempool.ReasonFailedPrepareProposal,
				Message: err.Error(),
			})
			continue
		}
		a.accounts.PutAccountNonce(working, checked.Signer, nextAccountNonce(checked.Signed.Body.Nonce))
		collectRollupGroups(groupsByRollup, checked, wire)
		txs = append(txs, wire)
		total += int64(len(wire))
	}
	working.Discard()

	txRoot, idsRoot, err := rollupRoots(groupsByRollup)
	if err != nil {
		return nil, fmt.Errorf("app: build rollup roots: %w", err)
	}
	full := make([][]byte, 0, 2+len(txs))
	full = append(full, blockdata.EncodeItem(blockdata.TagRollupTransactionsRoot, txRoot[:]))
	full = append(full, blockdata.EncodeItem(blockdata.TagRollupIdsRoot, idsRoot[:]))
	full = append(full, txs...)

	// A round restart re-prepares the same height; start the machine
	// over rather than treating the second prepare as a conflict.
	a.execState.Reset()
	_ = a.execState.SetPreparedProposal(a.cachedProposalFor(req.Height, req.Time, req.ProposerAddress, req.NextValidatorsHash, full))

	return &abcitypes.ResponsePrepareProposal{Txs: full}, nil
}

func (a *App) cachedProposalFor(height int64, t time.Time, proposer, nextValidatorsHash []byte, txs [][]byte) CachedProposal {
	p := CachedProposal{
		Height:             height,
		Time:               t,
		NextValidatorsHash: nextValidatorsHash,
		Txs:                txs,
	}
	copy(p.ProposerAddress[:], proposer)
	return p
}

// collectRollupGroups buckets a checked transaction's
// RollupDataSubmission payloads into the per-rollup groups the block's
// rollup-transactions tree is built over.
func collectRollupGroups(groups map[string]*blockdata.RollupGroup, checked *transaction.CheckedTransaction, wire []byte) {
	for _, act := range checked.Signed.Body.Actions {
		rds, ok := act.(actions.RollupDataSubmission)
		if !ok {
			continue
		}
		key := string(rds.RollupID)
		g := groups[key]
		if g == nil {
			g = &blockdata.RollupGroup{RollupID: append([]byte(nil), rds.RollupID...)}
			groups[key] = g
		}
		g.Txs = append(g.Txs, wire)
	}
}

// rollupRoots builds the two mandatory roots over the collected groups;
// a block with no rollup data commits to the empty-tree root.
func rollupRoots(groupsByRollup map[string]*blockdata.RollupGroup) ([32]byte, [32]byte, error) {
	if len(groupsByRollup) == 0 {
		return blockdata.EmptyRoot(), blockdata.EmptyRoot(), nil
	}
	groups := make([]blockdata.RollupGroup, 0, len(groupsByRollup))
	rollupIDs := make([][]byte, 0, len(groupsByRollup))
	for _, g := range groupsByRollup {
		groups = append(groups, *g)
		rollupIDs = append(rollupIDs, g.RollupID)
	}
	txTree, _, err := blockdata.BuildRollupTransactionsTree(groups)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	idsTree, _, err := blockdata.BuildRollupIdsTree(rollupIDs)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return txTree.Root(), idsTree.Root(), nil
}

// splitBlockData separates a proposal's leading typed data items from
// the user transactions that follow them. An empty transaction list is
// a legal empty block; anything non-empty must lead with the two
// mandatory roots.
func splitBlockData(txs [][]byte) (txRoot, idsRoot [32]byte, userTxs [][]byte, err error) {
	if len(txs) == 0 {
		return blockdata.EmptyRoot(), blockdata.EmptyRoot(), nil, nil
	}
	if len(txs) < 2 {
		return txRoot, idsRoot, nil, fmt.Errorf("app: block data has %d items, want at least the two root items", len(txs))
	}
	for i, want := range []byte{blockdata.TagRollupTransactionsRoot, blockdata.TagRollupIdsRoot} {
		tag, body, rest, derr := blockdata.DecodeItem(txs[i])
		if derr != nil {
			return txRoot, idsRoot, nil, fmt.Errorf("app: decode data item %d: %w", i, derr)
		}
		if tag != want || len(body) != 32 || len(rest) != 0 {
			return txRoot, idsRoot, nil, fmt.Errorf("app: data item %d is not a well-formed root item (tag 0x%02x)", i, tag)
		}
		if i == 0 {
			copy(txRoot[:], body)
		} else {
			copy(idsRoot[:], body)
		}
	}
	rest := txs[2:]
	// Optional items follow the two roots in fixed order; skip them for
	// execution purposes.
	for len(rest) > 0 {
		tag, _, trailing, derr := blockdata.DecodeItem(rest[0])
		if derr != nil || len(trailing) != 0 || (tag != blockdata.TagUpgradeChangeHashes && tag != blockdata.TagExtendedCommitInfo) {
			break
		}
		rest = rest[1:]
	}
	return txRoot, idsRoot, rest, nil
}

// ProcessProposal validates an incoming proposal. A proposal that
// byte-matches what this node's own PrepareProposal cached for the
// height is accepted without re-execution; anything else is executed
// in full against a throwaway overlay, with its typed data items
// checked against roots recomputed from the transactions themselves.
func (a *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	incoming := a.cachedProposalFor(req.Height, req.Time, req.ProposerAddress, req.NextValidatorsHash, req.Txs)
	if a.execState.CheckIfPreparedProposal(incoming) {
		return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
	}

	claimedTxRoot, claimedIdsRoot, userTxs, err := splitBlockData(req.Txs)
	if err != nil {
		a.logger.Printf("rejecting proposal at height %d: %v", req.Height, err)
		return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
	}

	snapshot := a.store.Snapshot()
	throwaway := kv.Fork(snapshot)
	if err := a.migrateIfUpgraded(throwaway, req.Height); err != nil {
		return nil, err
	}
	groupsByRollup := map[string]*blockdata.RollupGroup{}
	for _, tx := range userTxs {
		checked, err := a.builder.Execute(tx, throwaway, a.deps(), a.upgraded(req.Height))
		if err != nil {
			throwaway.Discard()
			a.logger.Printf("rejecting proposal at height %d: %v", req.Height, err)
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
		a.accounts.PutAccountNonce(throwaway, checked.Signer, nextAccountNonce(checked.Signed.Body.Nonce))
		collectRollupGroups(groupsByRollup, checked, tx)
	}
	throwaway.Discard()

	txRoot, idsRoot, err := rollupRoots(groupsByRollup)
	if err != nil {
		return nil, fmt.Errorf("app: build rollup roots: %w", err)
	}
	if txRoot != claimedTxRoot || idsRoot != claimedIdsRoot {
		a.logger.Printf("rejecting proposal at height %d: rollup roots do not match block data", req.Height)
		return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
	}

	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote and VerifyVoteExtension are no-ops: this application does
// not use vote extensions.
func (a *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// FinalizeBlock executes the block's user transactions in order
// against a single block-scoped overlay, skipping the leading typed
// data items, and reports the post-execution verifiable state root as
// the block's AppHash.
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, _, userTxs, err := splitBlockData(req.Txs)
	if err != nil {
		return nil, fmt.Errorf("app: finalize block %d: %w", req.Height, err)
	}
	dataItemCount := len(req.Txs) - len(userTxs)

	snapshot := a.store.Snapshot()
	overlay := kv.Fork(snapshot)

	// The one-time validator-set storage migration runs inside the
	// first block overlay at or past the upgrade height, so it lands in
	// the same commit as that block; the migration itself no-ops once
	// its marker is persisted.
	if err := a.migrateIfUpgraded(overlay, req.Height); err != nil {
		return nil, err
	}

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i := 0; i < dataItemCount; i++ {
		txResults[i] = &abcitypes.ExecTxResult{Code: 0}
	}
	executed := make(map[[32]byte]mempool.ExecResult, len(userTxs))
	var removals []pendingRemoval

	height := uint64(req.Height)

	for i, txBytes := range userTxs {
		resultIdx := dataItemCount + i
		checked, err := a.builder.Execute(txBytes, overlay, a.deps(), a.upgraded(req.Height))
		if err != nil {
			txResults[resultIdx] = &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
			if signed, decodeErr := transaction.Decode(txBytes); decodeErr == nil {
				if signer, addrErr := address.FromEd25519(a.addressPrefix, signed.PublicKey); addrErr == nil {
					id := transaction.TxID(txBytes)
					executed[id] = mempool.ExecResult{Height: height, Code: 1, Log: err.Error()}
					removals = append(removals, pendingRemoval{
						owner:  signer,
						id:     id,
						nonce:  signed.Body.Nonce,
						reason: mempool.RemovalReason{Kind: mempool.ReasonFailedExecution, Message: err.Error()},
					})
				}
			}
			continue
		}

		a.accounts.PutAccountNonce(overlay, checked.Signer, nextAccountNonce(checked.Signed.Body.Nonce))

		txResults[resultIdx] = &abcitypes.ExecTxResult{Code: 0}
		executed[checked.ID] = mempool.ExecResult{Height: height, Code: 0}
	}

	a.currentHeight = req.Height
	a.currentOverlay = overlay
	a.currentExecuted = executed
	a.currentRemovals = removals

	appHash, err := kv.RootOf(overlay)
	if err != nil {
		return nil, fmt.Errorf("app: compute post-block root: %w", err)
	}

	var blockHash [32]byte
	copy(blockHash[:], req.Hash)
	if err := a.execState.SetExecutedBlock(blockHash); err != nil {
		// A height executed without a locally validated proposal (late
		// join, replay) is fine; anything else is worth a log line.
		a.logger.Printf("execution state at height %d: %v (state %s)", req.Height, err, a.execState.Kind())
	}

	var validatorUpdates []abcitypes.ValidatorUpdate
	for _, v := range a.blockUpdates.Drain() {
		pubKeyProto, err := cryptoenc.PubKeyToProto(cometed25519.PubKey(v.PubKey))
		if err != nil {
			return nil, fmt.Errorf("app: encode validator update pubkey: %w", err)
		}
		validatorUpdates = append(validatorUpdates, abcitypes.ValidatorUpdate{
			PubKey: pubKeyProto,
			Power:  v.Power,
		})
	}

	return &abcitypes.ResponseFinalizeBlock{
		TxResults:        txResults,
		ValidatorUpdates: validatorUpdates,
		AppHash:          appHash,
	}, nil
}

// Commit applies the block overlay staged by FinalizeBlock, runs
// mempool maintenance against the freshly committed nonces, and
// advances the application's own height/hash bookkeeping.
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentOverlay == nil {
		return &abcitypes.ResponseCommit{}, nil
	}

	delta := kv.FromOverlay(a.currentOverlay)
	version, err := a.store.Commit(delta)
	if err != nil {
		return nil, fmt.Errorf("app: commit block: %w", err)
	}

	root, err := a.store.Root()
	if err != nil {
		return nil, fmt.Errorf("app: compute root: %w", err)
	}

	a.latestHeight = a.currentHeight
	a.lastAppHash = root
	a.logger.Printf("committed height %d as store version %d", a.currentHeight, version)

	for _, r := range a.currentRemovals {
		a.mempool.RemoveTxInvalid(r.owner, r.id, r.nonce, r.reason)
	}

	snapshot := a.store.Snapshot()
	a.mempool.RunMaintenance(func(addr address.Address) (uint32, error) {
		return a.accounts.GetAccountNonce(snapshot, addr)
	}, a.currentExecuted, uint64(a.currentHeight))

	a.execState.Reset()
	a.currentOverlay = nil
	a.currentExecuted = nil
	a.currentRemovals = nil

	return &abcitypes.ResponseCommit{}, nil
}

// Query answers read-only state queries. Only account-nonce lookups
// and mempool transaction-status lookups are exposed; anything else is
// out of this application's scope.
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	switch req.Path {
	case "/mempool/status":
		if len(req.Data) != 32 {
			return &abcitypes.ResponseQuery{Code: 1, Log: "expected 32-byte tx id"}, nil
		}
		var id [32]byte
		copy(id[:], req.Data)
		status := a.mempool.TransactionStatus(id)
		return &abcitypes.ResponseQuery{Code: 0, Log: status.State}, nil
	case "/accounts/nonce":
		addr, err := address.New(a.addressPrefix, req.Data)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		snapshot := a.store.Snapshot()
		nonce, err := a.accounts.GetAccountNonce(snapshot, addr)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 2, Log: err.Error()}, nil
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], nonce)
		return &abcitypes.ResponseQuery{Code: 0, Value: buf[:]}, nil
	default:
		return &abcitypes.ResponseQuery{Code: 1, Log: "unknown query path"}, nil
	}
}

func (a *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}

