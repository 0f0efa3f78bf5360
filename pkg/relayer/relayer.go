// Copyright 2025 Certen Protocol
//
// Package relayer watches finalized sequencer blocks and submits their
// rollup data to a data-availability layer, tracking progress with
// crash-safe checkpoint files so a restart never skips a block; a height
// whose broadcast was not confirmed by the post-submit checkpoint is
// submitted again.
//
// External dependencies sit behind narrow interfaces; the checkpoint
// files are rewritten with the write-temp/fsync/rename idiom so a crash
// mid-write never leaves a torn document.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"
	"github.com/celestiaorg/go-square/v3/share"
	"github.com/google/uuid"

	"github.com/conduit-stack/sequencer/pkg/blockdata"
)

// RollupGroupBlob is one rollup's submitted-data blob for a single
// sequencer block: its raw transaction bytes, namespaced under the
// rollup's own DA namespace.
type RollupGroupBlob struct {
	RollupID  []byte
	Namespace []byte
	Data      []byte // brotli-compressed, length-prefixed concatenation of the group's txs
}

// MetadataBlob is the sequencer-namespaced header blob describing a
// submitted block: its height, data_hash, and the rollup-ids/rollup-
// transactions roots needed to verify inclusion of any RollupGroupBlob
// against it.
type MetadataBlob struct {
	SequencerHeight        uint64
	SequencerChainID       string
	DataHash               [32]byte
	RollupTransactionsRoot [32]byte
	RollupIdsRoot          [32]byte
	Data                   []byte // brotli-compressed encoding of the above
}

// FinalizedBlock is what the relayer needs from a single sequencer
// height: enough to reconstruct the canonical data sequence and filter
// rollup groups.
type FinalizedBlock struct {
	Height                 uint64
	SequencerChainID       string
	ProposerAddress         []byte
	DataHash                [32]byte
	RollupTransactionsRoot  [32]byte
	RollupIdsRoot           [32]byte
	Groups                  []blockdata.RollupGroup
}

// SequencerSource fetches finalized blocks from the sequencer. A gRPC
// client implements this in production; tests substitute an in-memory
// fake.
type SequencerSource interface {
	FinalizedBlock(ctx context.Context, height uint64) (*FinalizedBlock, error)
	LatestHeight(ctx context.Context) (uint64, error)
}

// DABroadcaster submits a packed set of blobs as one DA transaction and
// reports the DA block height it landed in.
type DABroadcaster interface {
	SubmitBlobs(ctx context.Context, metadata MetadataBlob, groups []RollupGroupBlob) (celestiaHeight uint64, err error)
	ReachablePeers(ctx context.Context) (int, error)
}

// Checkpoint is the crash-recovery record the relayer rewrites
// atomically before and after each submission.
type Checkpoint struct {
	SequencerHeight uint64 `json:"sequencer_height"`
	CelestiaHeight  uint64 `json:"celestia_height"`
}

// Config bounds which blocks the relayer submits and where it persists
// checkpoint state.
type Config struct {
	SequencerNamespace []byte
	RollupIDFilter     map[string]struct{} // empty means "all rollups"
	ValidatorAddress   []byte              // non-nil together with OnlyOwnBlocks restricts to self-proposed blocks
	OnlyOwnBlocks      bool
	StateDir           string
	MinReadyPeers      int

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxElapsed time.Duration
}

// Metrics is the latest progress snapshot the relayer exposes over its
// status endpoint.
type Metrics struct {
	LatestFetchedHeight   uint64
	LatestObservedHeight  uint64
	LatestConfirmedHeight uint64
}

// Relayer drives the fetch -> filter -> compress -> broadcast ->
// checkpoint loop for one sequencer chain.
type Relayer struct {
	mu sync.RWMutex

	cfg      Config
	source   SequencerSource
	da       DABroadcaster
	logger   *log.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	metrics Metrics
}

// New constructs a Relayer. Call Run to start its poll loop.
func New(cfg Config, source SequencerSource, da DABroadcaster) *Relayer {
	return &Relayer{
		cfg:    cfg,
		source: source,
		da:     da,
		logger: log.New(os.Stdout, "[relayer] ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (r *Relayer) preCheckpointPath() string  { return filepath.Join(r.cfg.StateDir, "pre_submit.json") }
func (r *Relayer) postCheckpointPath() string { return filepath.Join(r.cfg.StateDir, "post_submit.json") }

func readCheckpoint(path string) (Checkpoint, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("relayer: read checkpoint %s: %w", path, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return Checkpoint{}, false, fmt.Errorf("relayer: decode checkpoint %s: %w", path, err)
	}
	return c, true, nil
}

// writeCheckpointAtomic writes path as a crash-safe commit point:
// write temp, fsync temp, rename, fsync directory.
func writeCheckpointAtomic(path string, c Checkpoint) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("relayer: encode checkpoint: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("relayer: open checkpoint tmp: %w", err)
	}
	_, werr := f.Write(b)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("relayer: write checkpoint tmp: %w", werr)
	}
	if serr != nil {
		return fmt.Errorf("relayer: fsync checkpoint tmp: %w", serr)
	}
	if cerr != nil {
		return fmt.Errorf("relayer: close checkpoint tmp: %w", cerr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("relayer: rename checkpoint: %w", err)
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("relayer: fsync checkpoint dir open: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("relayer: fsync checkpoint dir: %w", err)
	}
	return d.Close()
}

// resumeHeight picks the next sequencer height to submit: one past the
// post-submit checkpoint, or the pre-submit checkpoint's own height when
// that one is newer, so a crash between writing pre-submit and
// finishing the broadcast is retried
// (rather than skipped), and a crash after post-submit never resubmits.
func (r *Relayer) resumeHeight() (uint64, error) {
	pre, preOK, err := readCheckpoint(r.preCheckpointPath())
	if err != nil {
		return 0, err
	}
	post, postOK, err := readCheckpoint(r.postCheckpointPath())
	if err != nil {
		return 0, err
	}
	switch {
	case !preOK && !postOK:
		return 1, nil
	case postOK && (!preOK || post.SequencerHeight >= pre.SequencerHeight):
		return post.SequencerHeight + 1, nil
	default:
		// Pre-submit ran but post-submit didn't land: retry the same
		// height rather than advance past a possibly-lost broadcast.
		return pre.SequencerHeight, nil
	}
}

// Run polls for newly finalized blocks and submits each one in turn
// until ctx is canceled. Safe to call once per Relayer.
func (r *Relayer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("relayer: already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()
	defer close(r.doneCh)

	if err := os.MkdirAll(r.cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("relayer: create state dir: %w", err)
	}

	next, err := r.resumeHeight()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-ticker.C:
		}

		latest, err := r.source.LatestHeight(ctx)
		if err != nil {
			r.logger.Printf("fetch latest height: %v", err)
			continue
		}
		r.setMetric(func(m *Metrics) { m.LatestObservedHeight = latest })

		for; next <= latest; next++ {
			if err := r.submitOne(ctx, next); err != nil {
				r.logger.Printf("submit height %d: %v", next, err)
				break
			}
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (r *Relayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.mu.Unlock()
	<-r.doneCh
}

func (r *Relayer) setMetric(f func(*Metrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.metrics)
}

// Metrics returns a snapshot of the relayer's progress counters.
func (r *Relayer) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// ReadyZ reports whether enough DA peers are reachable to accept
// submissions.
func (r *Relayer) ReadyZ(ctx context.Context) error {
	peers, err := r.da.ReachablePeers(ctx)
	if err != nil {
		return fmt.Errorf("relayer: check peers: %w", err)
	}
	if peers < r.cfg.MinReadyPeers {
		return fmt.Errorf("relayer: only %d of %d required peers reachable", peers, r.cfg.MinReadyPeers)
	}
	return nil
}

// submitOne fetches, filters, compresses, and broadcasts one height,
// bracketing the broadcast with the pre/post-submit checkpoint files.
func (r *Relayer) submitOne(ctx context.Context, height uint64) error {
	withBackoff := backoff.NewExponentialBackOff()
	withBackoff.InitialInterval = r.cfg.BackoffInitial
	withBackoff.MaxInterval = r.cfg.BackoffMax
	withBackoff.MaxElapsedTime = r.cfg.BackoffMaxElapsed

	var block *FinalizedBlock
	err := backoff.Retry(func() error {
		b, err := r.source.FinalizedBlock(ctx, height)
		if err != nil {
			return err
		}
		block = b
		return nil
	}, withBackoff)
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", height, err)
	}
	r.setMetric(func(m *Metrics) { m.LatestFetchedHeight = height })

	if r.cfg.OnlyOwnBlocks && !bytes.Equal(block.ProposerAddress, r.cfg.ValidatorAddress) {
		return r.checkpointSkip(height)
	}

	groups := r.filterGroups(block.Groups)
	if len(groups) == 0 && len(r.cfg.RollupIDFilter) > 0 {
		return r.checkpointSkip(height)
	}

	metadata, err := encodeMetadataBlob(block)
	if err != nil {
		return fmt.Errorf("encode metadata blob: %w", err)
	}
	blobs, err := encodeGroupBlobs(groups)
	if err != nil {
		return fmt.Errorf("encode group blobs: %w", err)
	}

	if err := writeCheckpointAtomic(r.preCheckpointPath(), Checkpoint{SequencerHeight: height}); err != nil {
		return err
	}

	submissionID := uuid.NewString()
	var celestiaHeight uint64
	err = backoff.Retry(func() error {
		h, err := r.da.SubmitBlobs(ctx, metadata, blobs)
		if err != nil {
			return err
		}
		celestiaHeight = h
		return nil
	}, withBackoff)
	if err != nil {
		return fmt.Errorf("broadcast height %d (submission %s): %w", height, submissionID, err)
	}
	r.logger.Printf("submission %s: sequencer height %d landed at celestia height %d", submissionID, height, celestiaHeight)

	if err := writeCheckpointAtomic(r.postCheckpointPath(), Checkpoint{SequencerHeight: height, CelestiaHeight: celestiaHeight}); err != nil {
		return err
	}
	r.setMetric(func(m *Metrics) { m.LatestConfirmedHeight = height })
	return nil
}

// checkpointSkip advances the post-submit checkpoint past a block that
// was fetched but filtered out entirely, so the resume logic doesn't
// refetch it forever.
func (r *Relayer) checkpointSkip(height uint64) error {
	return writeCheckpointAtomic(r.postCheckpointPath(), Checkpoint{SequencerHeight: height})
}

func (r *Relayer) filterGroups(groups []blockdata.RollupGroup) []blockdata.RollupGroup {
	if len(r.cfg.RollupIDFilter) == 0 {
		return groups
	}
	out := make([]blockdata.RollupGroup, 0, len(groups))
	for _, g := range groups {
		if _, ok := r.cfg.RollupIDFilter[string(g.RollupID)]; ok {
			out = append(out, g)
		}
	}
	return out
}

func encodeMetadataBlob(block *FinalizedBlock) (MetadataBlob, error) {
	wire := struct {
		SequencerHeight        uint64   `json:"sequencer_height"`
		SequencerChainID       string   `json:"sequencer_chain_id"`
		DataHash               [32]byte `json:"data_hash"`
		RollupTransactionsRoot [32]byte `json:"rollup_transactions_root"`
		RollupIdsRoot          [32]byte `json:"rollup_ids_root"`
	}{
		SequencerHeight:        block.Height,
		SequencerChainID:       block.SequencerChainID,
		DataHash:               block.DataHash,
		RollupTransactionsRoot: block.RollupTransactionsRoot,
		RollupIdsRoot:          block.RollupIdsRoot,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return MetadataBlob{}, err
	}
	return MetadataBlob{
		SequencerHeight:        block.Height,
		SequencerChainID:       block.SequencerChainID,
		DataHash:               block.DataHash,
		RollupTransactionsRoot: block.RollupTransactionsRoot,
		RollupIdsRoot:          block.RollupIdsRoot,
		Data:                   compress(raw),
	}, nil
}

// MetadataWire is the decoded JSON shape of a MetadataBlob's compressed
// Data payload; the conductor decodes it back out of a DA blob to
// recover the header fields needed to verify rollup inclusion proofs.
type MetadataWire struct {
	SequencerHeight        uint64   `json:"sequencer_height"`
	SequencerChainID       string   `json:"sequencer_chain_id"`
	DataHash               [32]byte `json:"data_hash"`
	RollupTransactionsRoot [32]byte `json:"rollup_transactions_root"`
	RollupIdsRoot          [32]byte `json:"rollup_ids_root"`
}

// DecodeMetadataWire decompresses and decodes a metadata blob's payload
// back into its JSON fields.
func DecodeMetadataWire(compressed []byte) (MetadataWire, error) {
	raw, err := Decompress(compressed)
	if err != nil {
		return MetadataWire{}, err
	}
	var w MetadataWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return MetadataWire{}, fmt.Errorf("relayer: decode metadata wire: %w", err)
	}
	return w, nil
}

// DecodeLengthPrefixedTxs reverses encodeLengthPrefixedTxs, splitting a
// decompressed rollup-group blob back into its individual transactions.
func DecodeLengthPrefixedTxs(data []byte) ([][]byte, error) {
	var txs [][]byte
	for len(data) > 0 {
		tx, rest, err := readLPExported(data)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		data = rest
	}
	return txs, nil
}

func readLPExported(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("relayer: truncated length prefix")
	}
	n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	b = b[4:]
	if len(b) < n {
		return nil, nil, fmt.Errorf("relayer: truncated item body (want %d, have %d)", n, len(b))
	}
	return b[:n], b[n:], nil
}

func encodeGroupBlobs(groups []blockdata.RollupGroup) ([]RollupGroupBlob, error) {
	out := make([]RollupGroupBlob, 0, len(groups))
	for _, g := range groups {
		ns, err := rollupNamespace(g.RollupID)
		if err != nil {
			return nil, fmt.Errorf("rollup %x: %w", g.RollupID, err)
		}
		raw := encodeLengthPrefixedTxs(g.Txs)
		out = append(out, RollupGroupBlob{
			RollupID:  g.RollupID,
			Namespace: ns,
			Data:      compress(raw),
		})
	}
	return out, nil
}

// rollupNamespace derives a DA namespace from a rollup ID the way the
// data-availability layer's own share encoding expects: a version-zero
// namespace whose trailing subgroup bytes are the rollup ID, left-
// padded with zeros when shorter than the subgroup's fixed width
// (v0IDSize bytes) and truncated to its first v0IDSize bytes when longer.
func rollupNamespace(rollupID []byte) ([]byte, error) {
	const v0IDSize = 10
	if len(rollupID) > v0IDSize {
		rollupID = rollupID[:v0IDSize]
	}
	ns, err := share.NewV0Namespace(rollupID)
	if err != nil {
		return nil, err
	}
	return ns.Bytes(), nil
}

func encodeLengthPrefixedTxs(txs [][]byte) []byte {
	var buf bytes.Buffer
	for _, tx := range txs {
		var n [4]byte
		n[0] = byte(len(tx) >> 24)
		n[1] = byte(len(tx) >> 16)
		n[2] = byte(len(tx) >> 8)
		n[3] = byte(len(tx))
		buf.Write(n[:])
		buf.Write(tx)
	}
	return buf.Bytes()
}

func compress(data []byte) []byte {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

// Decompress reverses compress; the conductor's firm-confirmation DA
// scan uses it to read back the metadata and rollup-group blobs this
// package writes.
func Decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("relayer: brotli decompress: %w", err)
	}
	return buf.Bytes(), nil
}
