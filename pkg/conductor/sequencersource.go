// Copyright 2025 Certen Protocol

package conductor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/blockdata"
	"github.com/conduit-stack/sequencer/pkg/quorum"
)

// JSONRPCSequencerSource implements SequencerSource against the
// sequencer's filtered-block query facade, the same thin client-wrapper
// shape as this package's JSONRPCExecutionClient and JSONRPCDASource:
// one method, one remote call, fields decoded by hand rather than
// through generated stubs.
type JSONRPCSequencerSource struct {
	addr       string
	httpClient *http.Client
}

// NewJSONRPCSequencerSource dials the sequencer's filtered-block facade
// at addr.
func NewJSONRPCSequencerSource(addr string) *JSONRPCSequencerSource {
	return &JSONRPCSequencerSource{addr: addr, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type seqRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type seqRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *JSONRPCSequencerSource) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(seqRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("conductor: encode sequencer rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.addr, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("conductor: build sequencer rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ClientError{Code: CodeUnavailable, Err: fmt.Errorf("conductor: sequencer rpc call %s: %w", method, err)}
	}
	defer resp.Body.Close()

	var decoded seqRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("conductor: decode sequencer rpc response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		return &ClientError{
			Code: rpcErrorCode(decoded.Error.Code),
			Err:  fmt.Errorf("conductor: sequencer rpc %s: %s", method, decoded.Error.Message),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

type proofNodeWire struct {
	Hash     string `json:"hash"`
	Position int    `json:"position"`
}

type inclusionProofWire struct {
	Index int             `json:"index"`
	Root  string          `json:"root"`
	Path  []proofNodeWire `json:"path"`
}

func (w inclusionProofWire) toProof() (*blockdata.InclusionProof, error) {
	root, err := decodeHash32(w.Root)
	if err != nil {
		return nil, err
	}
	path := make([]blockdata.ProofNode, 0, len(w.Path))
	for _, p := range w.Path {
		h, err := decodeHash32(p.Hash)
		if err != nil {
			return nil, err
		}
		path = append(path, blockdata.ProofNode{Hash: h, Position: blockdata.Position(p.Position)})
	}
	return &blockdata.InclusionProof{Index: w.Index, Root: root, Path: path}, nil
}

type commitSigWire struct {
	ValidatorIndex int    `json:"validator_index"`
	Signature      string `json:"signature"`
	Absent         bool   `json:"absent"`
}

type commitWire struct {
	Height             int64           `json:"height"`
	Round              int32           `json:"round"`
	BlockID            string          `json:"block_id"`
	TimestampUnixNanos int64           `json:"timestamp_unix_nanos"`
	Signatures         []commitSigWire `json:"signatures"`
}

func (w commitWire) toCommit() (quorum.Commit, error) {
	var blockID [32]byte
	if w.BlockID != "" {
		decoded, err := decodeHash32(w.BlockID)
		if err != nil {
			return quorum.Commit{}, err
		}
		blockID = decoded
	}
	sigs := make([]quorum.CommitSig, len(w.Signatures))
	for i, sw := range w.Signatures {
		var sig []byte
		if sw.Signature != "" {
			decoded, err := base64.StdEncoding.DecodeString(sw.Signature)
			if err != nil {
				return quorum.Commit{}, fmt.Errorf("conductor: decode commit signature %d: %w", i, err)
			}
			sig = decoded
		}
		sigs[i] = quorum.CommitSig{ValidatorIndex: sw.ValidatorIndex, Signature: sig, Absent: sw.Absent}
	}
	return quorum.Commit{
		Height:     w.Height,
		Round:      w.Round,
		BlockID:    blockID,
		Timestamp:  w.TimestampUnixNanos,
		Signatures: sigs,
	}, nil
}

type validatorWire struct {
	PubKey string `json:"pub_key"`
	Power  int64  `json:"power"`
}

type filteredBlockWire struct {
	Height                  uint64             `json:"height"`
	SequencerChainID        string             `json:"sequencer_chain_id"`
	BlockHash               string             `json:"block_hash"`
	TimestampUnixNanos      int64              `json:"timestamp_unix_nanos"`
	RollupTxs               []string           `json:"rollup_txs"`
	RollupTransactionsRoot  string             `json:"rollup_transactions_root"`
	RollupIdsRoot           string             `json:"rollup_ids_root"`
	RollupTransactionsProof inclusionProofWire `json:"rollup_transactions_proof"`
	RollupIdsProof          inclusionProofWire `json:"rollup_ids_proof"`
	Commit                  commitWire         `json:"commit"`
	LastCommit              commitWire         `json:"last_commit"`
	LastCommitHash          string             `json:"last_commit_hash"`
	Validators              []validatorWire    `json:"validators"`
}

// GetFilteredSequencerBlock implements SequencerSource.
func (s *JSONRPCSequencerSource) GetFilteredSequencerBlock(ctx context.Context, height uint64, rollupID []byte) (*FilteredSequencerBlock, error) {
	params := map[string]interface{}{
		"height":    height,
		"rollup_id": hex.EncodeToString(rollupID),
	}
	var wire filteredBlockWire
	if err := s.call(ctx, "sequencer.GetFilteredBlock", []interface{}{params}, &wire); err != nil {
		return nil, err
	}

	blockHash, err := decodeHash32(wire.BlockHash)
	if err != nil {
		return nil, err
	}
	txRoot, err := decodeHash32(wire.RollupTransactionsRoot)
	if err != nil {
		return nil, err
	}
	idsRoot, err := decodeHash32(wire.RollupIdsRoot)
	if err != nil {
		return nil, err
	}
	txProof, err := wire.RollupTransactionsProof.toProof()
	if err != nil {
		return nil, err
	}
	idsProof, err := wire.RollupIdsProof.toProof()
	if err != nil {
		return nil, err
	}

	rollupTxs := make([][]byte, len(wire.RollupTxs))
	for i, t := range wire.RollupTxs {
		tx, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("conductor: decode rollup tx %d: %w", i, err)
		}
		rollupTxs[i] = tx
	}

	commit, err := wire.Commit.toCommit()
	if err != nil {
		return nil, err
	}
	lastCommit, err := wire.LastCommit.toCommit()
	if err != nil {
		return nil, err
	}
	var lastCommitHash [32]byte
	if wire.LastCommitHash != "" {
		lastCommitHash, err = decodeHash32(wire.LastCommitHash)
		if err != nil {
			return nil, err
		}
	}

	validators := make([]authority.Validator, len(wire.Validators))
	for i, vw := range wire.Validators {
		pubKey, err := base64.StdEncoding.DecodeString(vw.PubKey)
		if err != nil {
			return nil, fmt.Errorf("conductor: decode validator pubkey %d: %w", i, err)
		}
		validators[i] = authority.Validator{PubKey: pubKey, Power: vw.Power}
	}

	return &FilteredSequencerBlock{
		Height:                  wire.Height,
		SequencerChainID:        wire.SequencerChainID,
		BlockHash:               blockHash,
		Timestamp:               time.Unix(0, wire.TimestampUnixNanos).UTC(),
		RollupTxs:               rollupTxs,
		RollupTransactionsRoot:  txRoot,
		RollupIdsRoot:           idsRoot,
		RollupTransactionsProof: txProof,
		RollupIdsProof:          idsProof,
		Commit:         commit,
		LastCommit:     lastCommit,
		LastCommitHash: lastCommitHash,
		Validators:     validators,
	}, nil
}
