// Copyright 2025 Certen Protocol
//
// Package conductor drives a rollup execution client through a
// session-oriented commitment protocol: request a session from the
// execution client, advance its soft confirmation
// level by executing sequencer blocks one at a time, and advance its
// firm confirmation level by scanning the data-availability layer for
// already-soft-executed blocks and proving their inclusion.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/blockdata"
	"github.com/conduit-stack/sequencer/pkg/quorum"
	"github.com/conduit-stack/sequencer/pkg/relayer"
)

// Mode selects which confirmation levels this conductor advances.
type Mode int

const (
	ModeSoftOnly Mode = iota
	ModeFirmOnly
	ModeSoftAndFirm
)

// ParseMode maps the config-layer string form to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "soft_only":
		return ModeSoftOnly, nil
	case "firm_only":
		return ModeFirmOnly, nil
	case "soft_and_firm", "":
		return ModeSoftAndFirm, nil
	default:
		return 0, fmt.Errorf("conductor: unknown mode %q", s)
	}
}

func (m Mode) softEnabled() bool { return m != ModeFirmOnly }
func (m Mode) firmEnabled() bool { return m != ModeSoftOnly }

// ExecutedBlockMetadata is the executed rollup block summary both the
// execution client and this package exchange.
type ExecutedBlockMetadata struct {
	Number             uint64
	Hash               [32]byte
	ParentHash         [32]byte
	Timestamp          time.Time
	SequencerBlockHash [32]byte
}

// CommitmentState is the conductor's view of the rollup chain's
// confirmation levels. Invariant: Firm.Number <= Soft.Number.
type CommitmentState struct {
	Soft                       ExecutedBlockMetadata
	Firm                       ExecutedBlockMetadata
	LowestCelestiaSearchHeight uint64
}

// SessionParameters bound one execution session.
type SessionParameters struct {
	RollupID                         []byte
	RollupStartBlockNumber           uint64
	RollupEndBlockNumber             *uint64 // nil means unbounded
	SequencerChainID                 string
	SequencerStartBlockHeight        uint64
	CelestiaChainID                  string
	CelestiaSearchHeightMaxLookAhead uint64
}

// ExecutionSession is what CreateExecutionSession returns: an opaque
// session id, the parameters the execution client committed to for
// this session, and its starting commitment state.
type ExecutionSession struct {
	SessionID       string
	Parameters      SessionParameters
	CommitmentState CommitmentState
}

// BlockIdentifier selects a block by number or by hash; exactly one
// should be set.
type BlockIdentifier struct {
	Number *uint64
	Hash   *[32]byte
}

// ErrorCode classifies an ExecutionClient error by its protocol code.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodePermissionDenied
	CodeOutOfRange
	CodeFailedPrecondition
	CodeUnavailable
)

func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeOutOfRange:
		return "OUT_OF_RANGE"
	case CodeFailedPrecondition:
		return "FAILED_PRECONDITION"
	case CodeUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ClientError wraps an ExecutionClient failure with its protocol
// code: UNAVAILABLE is retriable,
// everything else (besides the OUT_OF_RANGE floor-skip case the soft
// path special-cases) is fatal to the session.
type ClientError struct {
	Code ErrorCode
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("conductor: execution client error [%s]: %v", e.Code, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// IsRetriable reports whether err (or a wrapped ClientError within it)
// is the UNAVAILABLE code that callers should retry with backoff.
func IsRetriable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Code == CodeUnavailable
	}
	return false
}

// IsOutOfRange reports whether err is the OUT_OF_RANGE code.
func IsOutOfRange(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Code == CodeOutOfRange
	}
	return false
}

// ExecutionClient is the rollup execution client protocol the
// conductor consumes; it is served by the rollup node, not here.
type ExecutionClient interface {
	CreateExecutionSession(ctx context.Context) (*ExecutionSession, error)
	GetBlock(ctx context.Context, id BlockIdentifier) (*ExecutedBlockMetadata, error)
	ExecuteBlock(ctx context.Context, sessionID string, prevBlockHash [32]byte, txs [][]byte, timestamp time.Time) (*ExecutedBlockMetadata, error)
	UpdateCommitmentState(ctx context.Context, sessionID string, state CommitmentState) (*CommitmentState, error)
}

// FilteredSequencerBlock is what the sequencer's gRPC surface returns
// for GetFilteredSequencerBlock: the rollup's own transaction group
// from one sequencer height, plus everything needed to check commit
// quorum and rollup inclusion against that height's header.
type FilteredSequencerBlock struct {
	Height                  uint64
	SequencerChainID        string
	BlockHash               [32]byte
	Timestamp               time.Time
	RollupTxs               [][]byte
	RollupTransactionsRoot  [32]byte
	RollupIdsRoot           [32]byte
	RollupTransactionsProof *blockdata.InclusionProof
	RollupIdsProof          *blockdata.InclusionProof

	// Commit is the commit for this block (its height equals Height),
	// signed by Validators, the set as of Height-1.
	Commit     quorum.Commit
	Validators []authority.Validator

	// LastCommit is the previous height's commit, whose recomputed
	// Merkle hash must equal LastCommitHash, the header field carrying
	// it. Both are absent (zero) at height 1, which has no previous
	// commit.
	LastCommit     quorum.Commit
	LastCommitHash [32]byte
}

// SequencerSource is the sequencer gRPC surface the conductor's soft
// path consumes.
type SequencerSource interface {
	GetFilteredSequencerBlock(ctx context.Context, height uint64, rollupID []byte) (*FilteredSequencerBlock, error)
}

// Blob is one namespaced entry returned by the DA layer's blob.GetAll.
type Blob struct {
	Namespace []byte
	Data      []byte // brotli-compressed, per pkg/relayer's wire format
}

// DASource is the DA layer JSON-RPC surface the conductor's firm path
// consumes: header.NetworkHead and blob.GetAll.
type DASource interface {
	NetworkHead(ctx context.Context) (uint64, error)
	GetAll(ctx context.Context, height uint64, namespaces [][]byte) ([]Blob, error)
}

// Config bounds one conductor's namespaces, mode and retry policy.
type Config struct {
	SequencerNamespace []byte
	RollupNamespace    []byte
	Mode               Mode
	PollInterval       time.Duration

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxElapsed time.Duration
}

// Metrics is the latest progress snapshot exposed over the conductor's
// status endpoint.
type Metrics struct {
	SoftNumber                 uint64
	FirmNumber                 uint64
	LowestCelestiaSearchHeight uint64
	SessionsStarted            uint64
}

// errSessionExhausted signals runSession to end cleanly and request a
// fresh session.
var errSessionExhausted = errors.New("conductor: session exhausted")

// Conductor drives one rollup's soft/firm advancement, one session at a
// time.
type Conductor struct {
	mu sync.RWMutex

	cfg        Config
	execClient ExecutionClient
	sequencer  SequencerSource
	da         DASource
	logger     *log.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	session *ExecutionSession
	state   CommitmentState
	metrics Metrics

	// softHistory retains soft-executed blocks between Firm.Number+1
	// and Soft.Number, keyed by rollup block number, so the firm path
	// can match a DA-reconstructed block against one that was
	// soft-executed several blocks ago rather than only the latest.
	// Pruned as Firm advances past
	// an entry.
	softHistory map[uint64]ExecutedBlockMetadata
}

// New constructs a Conductor. Call Run to start driving sessions.
func New(cfg Config, execClient ExecutionClient, sequencer SequencerSource, da DASource) *Conductor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Conductor{
		cfg:         cfg,
		execClient:  execClient,
		sequencer:   sequencer,
		da:          da,
		logger:      log.New(os.Stdout, "[conductor] ", log.LstdFlags|log.Lmicroseconds),
		softHistory: make(map[uint64]ExecutedBlockMetadata),
	}
}

func (c *Conductor) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffInitial
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = c.cfg.BackoffMaxElapsed
	return b
}

// Run drives sessions to completion back-to-back until ctx is
// canceled or Stop is called.
func (c *Conductor) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("conductor: already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		if err := c.runSession(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Printf("session error: %v", err)
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (c *Conductor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.mu.Unlock()
	<-c.doneCh
}

// Metrics returns a snapshot of the conductor's progress counters.
func (c *Conductor) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

func (c *Conductor) setState(f func(*CommitmentState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.state)
	c.metrics.SoftNumber = c.state.Soft.Number
	c.metrics.FirmNumber = c.state.Firm.Number
	c.metrics.LowestCelestiaSearchHeight = c.state.LowestCelestiaSearchHeight
}

// runSession requests a new session and drives it until it is
// exhausted (its RollupEndBlockNumber is reached) or a fatal error
// surfaces. Returning nil means "request another session".
func (c *Conductor) runSession(ctx context.Context) error {
	session, err := c.createSession(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.state = session.CommitmentState
	c.metrics.SessionsStarted++
	c.metrics.SoftNumber = session.CommitmentState.Soft.Number
	c.metrics.FirmNumber = session.CommitmentState.Firm.Number
	c.metrics.LowestCelestiaSearchHeight = session.CommitmentState.LowestCelestiaSearchHeight
	c.mu.Unlock()

	c.logger.Printf("session %s started: rollup=%x start=%d end=%v", session.SessionID, session.Parameters.RollupID, session.Parameters.RollupStartBlockNumber, session.Parameters.RollupEndBlockNumber)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case <-ticker.C:
		}

		if c.cfg.Mode.softEnabled() {
			if err := c.advanceSoft(ctx, session); err != nil {
				if errors.Is(err, errSessionExhausted) {
					c.logger.Printf("session %s exhausted at soft", session.SessionID)
					return nil
				}
				return fmt.Errorf("conductor: soft advance: %w", err)
			}
		}
		if c.cfg.Mode.firmEnabled() {
			if err := c.advanceFirm(ctx, session); err != nil {
				if errors.Is(err, errSessionExhausted) {
					c.logger.Printf("session %s exhausted at firm", session.SessionID)
					return nil
				}
				return fmt.Errorf("conductor: firm advance: %w", err)
			}
		}
	}
}

func (c *Conductor) createSession(ctx context.Context) (*ExecutionSession, error) {
	var session *ExecutionSession
	err := backoff.Retry(func() error {
		s, err := c.execClient.CreateExecutionSession(ctx)
		if err != nil {
			if IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		session = s
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("conductor: create execution session: %w", err)
	}
	return session, nil
}

// advanceSoft executes the next rollup block number in sequence
// against the sequencer's ordering and advances Soft by one.
func (c *Conductor) advanceSoft(ctx context.Context, session *ExecutionSession) error {
	c.mu.RLock()
	next := c.state.Soft.Number + 1
	if next < session.Parameters.RollupStartBlockNumber {
		next = session.Parameters.RollupStartBlockNumber
	}
	parentHash := c.state.Soft.Hash
	c.mu.RUnlock()

	if session.Parameters.RollupEndBlockNumber != nil && next > *session.Parameters.RollupEndBlockNumber {
		return errSessionExhausted
	}

	block, err := c.fetchFilteredBlock(ctx, next, session.Parameters.RollupID)
	if err != nil {
		if IsOutOfRange(err) && next < session.Parameters.SequencerStartBlockHeight {
			// Below the session floor: not yet available, not fatal.
			return nil
		}
		return err
	}

	if block.SequencerChainID != session.Parameters.SequencerChainID {
		return fmt.Errorf("conductor: sequencer chain id mismatch: got %q want %q", block.SequencerChainID, session.Parameters.SequencerChainID)
	}

	// The commit is signed by the validator set as of the previous
	// height, so the commit's height must be that height plus one.
	if err := quorum.VerifyCommit(block.Validators, session.Parameters.SequencerChainID, int64(next)-1, block.Commit); err != nil {
		c.logger.Printf("commit quorum not met for height %d: %v", next, err)
		return nil
	}

	if err := checkLastCommitHash(block, next); err != nil {
		c.logger.Printf("last commit hash check failed for height %d: %v", next, err)
		return nil
	}

	executed, err := c.executeBlock(ctx, session.SessionID, parentHash, block)
	if err != nil {
		return err
	}

	updated, err := c.updateCommitmentState(ctx, session.SessionID, CommitmentState{
		Soft:                       *executed,
		Firm:                       c.currentFirm(),
		LowestCelestiaSearchHeight: c.currentLowestSearchHeight(),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.softHistory[updated.Soft.Number] = updated.Soft
	c.mu.Unlock()
	c.setState(func(s *CommitmentState) { *s = *updated })
	return nil
}

// checkLastCommitHash recomputes the header's last_commit_hash from
// the block's previous-height commit and requires equality. Height 1
// has no previous commit, so the hash must be absent there.
func checkLastCommitHash(block *FilteredSequencerBlock, height uint64) error {
	if height == 1 {
		if block.LastCommitHash != ([32]byte{}) {
			return fmt.Errorf("conductor: last commit hash must be absent at height 1")
		}
		return nil
	}
	computed, err := quorum.ComputeLastCommitHash(block.LastCommit)
	if err != nil {
		return fmt.Errorf("conductor: recompute last commit hash: %w", err)
	}
	if computed != block.LastCommitHash {
		return fmt.Errorf("conductor: last commit hash mismatch: computed %x, header %x", computed, block.LastCommitHash)
	}
	return nil
}

func (c *Conductor) currentFirm() ExecutedBlockMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Firm
}

func (c *Conductor) currentLowestSearchHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LowestCelestiaSearchHeight
}

func (c *Conductor) fetchFilteredBlock(ctx context.Context, height uint64, rollupID []byte) (*FilteredSequencerBlock, error) {
	var block *FilteredSequencerBlock
	err := backoff.Retry(func() error {
		b, err := c.sequencer.GetFilteredSequencerBlock(ctx, height, rollupID)
		if err != nil {
			if IsOutOfRange(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		block = b
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch filtered sequencer block %d: %w", height, err)
	}
	return block, nil
}

func (c *Conductor) executeBlock(ctx context.Context, sessionID string, parent [32]byte, block *FilteredSequencerBlock) (*ExecutedBlockMetadata, error) {
	var executed *ExecutedBlockMetadata
	err := backoff.Retry(func() error {
		e, err := c.execClient.ExecuteBlock(ctx, sessionID, parent, block.RollupTxs, block.Timestamp)
		if err != nil {
			if IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		executed = e
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("execute block at sequencer height %d: %w", block.Height, err)
	}
	executed.SequencerBlockHash = block.BlockHash
	return executed, nil
}

func (c *Conductor) updateCommitmentState(ctx context.Context, sessionID string, want CommitmentState) (*CommitmentState, error) {
	var updated *CommitmentState
	err := backoff.Retry(func() error {
		u, err := c.execClient.UpdateCommitmentState(ctx, sessionID, want)
		if err != nil {
			if IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		updated = u
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("update commitment state: %w", err)
	}
	return updated, nil
}

// advanceFirm scans DA blocks starting at LowestCelestiaSearchHeight,
// within the session's max-look-ahead window, for a header+rollup blob
// pair whose reconstructed block hash matches the already-soft-executed
// block at that rollup height.
func (c *Conductor) advanceFirm(ctx context.Context, session *ExecutionSession) error {
	start := c.currentLowestSearchHeight()
	if start == 0 {
		start = 1
	}
	maxLook := session.Parameters.CelestiaSearchHeightMaxLookAhead
	if maxLook == 0 {
		return fmt.Errorf("conductor: firm confirmation enabled with zero max look-ahead")
	}

	networkHead, err := c.da.NetworkHead(ctx)
	if err != nil {
		return fmt.Errorf("conductor: da network head: %w", err)
	}

	end := start + maxLook - 1
	if networkHead < end {
		end = networkHead
	}

	for h := start; h <= end; h++ {
		matched, err := c.scanDAHeight(ctx, session, h)
		if err != nil {
			return err
		}
		c.setState(func(s *CommitmentState) { s.LowestCelestiaSearchHeight = h + 1 })
		if matched {
			return nil
		}
	}
	return nil
}

// scanDAHeight reads the sequencer-namespace header blob and
// rollup-namespace data blobs at DA height h, verifies the rollup's
// inclusion against the header, and, if the reconstructed block hash
// matches the already-soft-executed block at that rollup number,
// advances Firm. Returns true if a match was found and Firm advanced.
func (c *Conductor) scanDAHeight(ctx context.Context, session *ExecutionSession, h uint64) (bool, error) {
	blobs, err := c.da.GetAll(ctx, h, [][]byte{c.cfg.SequencerNamespace, c.cfg.RollupNamespace})
	if err != nil {
		return false, fmt.Errorf("conductor: da GetAll height %d: %w", h, err)
	}

	var headerBlob, rollupBlob *Blob
	for i := range blobs {
		b := &blobs[i]
		switch {
		case sameNamespace(b.Namespace, c.cfg.SequencerNamespace) && headerBlob == nil:
			headerBlob = b
		case sameNamespace(b.Namespace, c.cfg.RollupNamespace) && rollupBlob == nil:
			rollupBlob = b
		}
	}
	if headerBlob == nil || rollupBlob == nil {
		return false, nil
	}

	meta, err := relayer.DecodeMetadataWire(headerBlob.Data)
	if err != nil {
		return false, fmt.Errorf("conductor: decode header blob at da height %d: %w", h, err)
	}
	if meta.SequencerChainID != session.Parameters.SequencerChainID {
		return false, nil
	}

	rollupRaw, err := relayer.Decompress(rollupBlob.Data)
	if err != nil {
		return false, fmt.Errorf("conductor: decompress rollup blob at da height %d: %w", h, err)
	}
	txs, err := relayer.DecodeLengthPrefixedTxs(rollupRaw)
	if err != nil {
		return false, fmt.Errorf("conductor: decode rollup txs at da height %d: %w", h, err)
	}

	group := blockdata.RollupGroup{RollupID: session.Parameters.RollupID, Txs: txs}

	txTree, _, err := blockdata.BuildRollupTransactionsTree([]blockdata.RollupGroup{group})
	if err != nil {
		return false, fmt.Errorf("conductor: rebuild rollup transactions tree at da height %d: %w", h, err)
	}
	if txTree.Root() != meta.RollupTransactionsRoot {
		return false, fmt.Errorf("conductor: rollup transactions not in sequencer block at da height %d", h)
	}

	idsTree, _, err := blockdata.BuildRollupIdsTree([][]byte{session.Parameters.RollupID})
	if err != nil {
		return false, fmt.Errorf("conductor: rebuild rollup ids tree at da height %d: %w", h, err)
	}
	if idsTree.Root() != meta.RollupIdsRoot {
		return false, fmt.Errorf("conductor: rollup ids not in sequencer block at da height %d", h)
	}

	matchedFirm, ok := c.matchSoftHistory(meta.DataHash)
	if !ok {
		// Not a block this node has soft-executed (yet, or at all);
		// keep scanning later DA heights.
		return false, nil
	}

	soft := c.currentSoft()
	newSoft := soft
	if soft.Number < matchedFirm.Number {
		newSoft = matchedFirm
	}

	updated, err := c.updateCommitmentState(ctx, session.SessionID, CommitmentState{
		Soft:                       newSoft,
		Firm:                       matchedFirm,
		LowestCelestiaSearchHeight: h + 1,
	})
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	for n := range c.softHistory {
		if n <= updated.Firm.Number {
			delete(c.softHistory, n)
		}
	}
	c.mu.Unlock()
	c.setState(func(s *CommitmentState) { *s = *updated })
	return true, nil
}

// matchSoftHistory finds a soft-executed block (current latest, or a
// retained historical entry) whose SequencerBlockHash equals dataHash.
func (c *Conductor) matchSoftHistory(dataHash [32]byte) (ExecutedBlockMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Soft.SequencerBlockHash == dataHash {
		return c.state.Soft, true
	}
	for _, m := range c.softHistory {
		if m.SequencerBlockHash == dataHash {
			return m, true
		}
	}
	return ExecutedBlockMetadata{}, false
}

func (c *Conductor) currentSoft() ExecutedBlockMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Soft
}

func sameNamespace(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
