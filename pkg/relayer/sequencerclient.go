// Copyright 2025 Certen Protocol

package relayer

import (
	"context"
	"fmt"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"

	"github.com/conduit-stack/sequencer/pkg/actions"
	"github.com/conduit-stack/sequencer/pkg/blockdata"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

// CometRPCSequencerSource implements SequencerSource against a running
// sequencer's standard CometBFT RPC endpoint, reconstructing each
// block's rollup groups by decoding its raw transactions the same way
// pkg/app's FinalizeBlock does: every RollupDataSubmission action's raw
// transaction bytes are bucketed under its rollup id.
type CometRPCSequencerSource struct {
	client *rpchttp.HTTP
}

// NewCometRPCSequencerSource dials the sequencer's CometBFT RPC server
// at addr (e.g. "http://127.0.0.1:26657").
func NewCometRPCSequencerSource(addr string) (*CometRPCSequencerSource, error) {
	client, err := rpchttp.New(addr, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("relayer: dial sequencer rpc %s: %w", addr, err)
	}
	return &CometRPCSequencerSource{client: client}, nil
}

// LatestHeight implements SequencerSource.
func (s *CometRPCSequencerSource) LatestHeight(ctx context.Context) (uint64, error) {
	status, err := s.client.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("relayer: query sequencer status: %w", err)
	}
	return uint64(status.SyncInfo.LatestBlockHeight), nil
}

// FinalizedBlock implements SequencerSource.
func (s *CometRPCSequencerSource) FinalizedBlock(ctx context.Context, height uint64) (*FinalizedBlock, error) {
	h := int64(height)
	result, err := s.client.Block(ctx, &h)
	if err != nil {
		return nil, fmt.Errorf("relayer: fetch block %d: %w", height, err)
	}
	block := result.Block

	groupsByRollup := map[string]*blockdata.RollupGroup{}
	for _, txBytes := range block.Data.Txs {
		signed, err := transaction.Decode(txBytes)
		if err != nil {
			// A tx that doesn't decode under this application's wire
			// format carries no rollup data; skip rather than fail the
			// whole block over it.
			continue
		}
		for _, act := range signed.Body.Actions {
			rds, ok := act.(actions.RollupDataSubmission)
			if !ok {
				continue
			}
			key := string(rds.RollupID)
			g := groupsByRollup[key]
			if g == nil {
				g = &blockdata.RollupGroup{RollupID: append([]byte(nil), rds.RollupID...)}
				groupsByRollup[key] = g
			}
			g.Txs = append(g.Txs, txBytes)
		}
	}

	var groups []blockdata.RollupGroup
	var rollupIDs [][]byte
	for _, g := range groupsByRollup {
		groups = append(groups, *g)
		rollupIDs = append(rollupIDs, g.RollupID)
	}

	txTree, orderedGroups, err := blockdata.BuildRollupTransactionsTree(groups)
	if err != nil {
		return nil, fmt.Errorf("relayer: build rollup transactions tree for block %d: %w", height, err)
	}
	idsTree, _, err := blockdata.BuildRollupIdsTree(rollupIDs)
	if err != nil {
		return nil, fmt.Errorf("relayer: build rollup ids tree for block %d: %w", height, err)
	}

	var dataHash [32]byte
	copy(dataHash[:], []byte(block.Header.DataHash))

	return &FinalizedBlock{
		Height:                 height,
		SequencerChainID:       block.Header.ChainID,
		ProposerAddress:        []byte(block.Header.ProposerAddress),
		DataHash:               dataHash,
		RollupTransactionsRoot: txTree.Root(),
		RollupIdsRoot:          idsTree.Root(),
		Groups:                 orderedGroups,
	}, nil
}
