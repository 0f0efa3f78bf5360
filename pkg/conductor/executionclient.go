// Copyright 2025 Certen Protocol

package conductor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JSONRPCExecutionClient implements ExecutionClient against a rollup
// execution node's JSON-RPC 2.0 endpoint, in the same thin client-
// wrapper shape as pkg/relayer's JSONRPCDABroadcaster: one *http.Client,
// one method per remote call, no code generation.
type JSONRPCExecutionClient struct {
	addr       string
	httpClient *http.Client
}

// NewJSONRPCExecutionClient dials the execution node's JSON-RPC
// endpoint at addr.
func NewJSONRPCExecutionClient(addr string) *JSONRPCExecutionClient {
	return &JSONRPCExecutionClient{addr: addr, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type execRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type execRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type execRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *execRPCError   `json:"error"`
}

// rpcErrorCode maps the execution node's numeric RPC error code onto
// this package's ErrorCode taxonomy.
func rpcErrorCode(code int) ErrorCode {
	switch code {
	case 7:
		return CodePermissionDenied
	case 11:
		return CodeOutOfRange
	case 9:
		return CodeFailedPrecondition
	case 14:
		return CodeUnavailable
	default:
		return CodeUnknown
	}
}

func (c *JSONRPCExecutionClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(execRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("conductor: encode execution rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("conductor: build execution rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ClientError{Code: CodeUnavailable, Err: fmt.Errorf("conductor: execution rpc call %s: %w", method, err)}
	}
	defer resp.Body.Close()

	var decoded execRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("conductor: decode execution rpc response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		return &ClientError{
			Code: rpcErrorCode(decoded.Error.Code),
			Err:  fmt.Errorf("conductor: execution rpc %s: %s", method, decoded.Error.Message),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

type blockWire struct {
	Number             uint64 `json:"number"`
	Hash               string `json:"hash"`
	ParentHash         string `json:"parent_hash"`
	TimestampUnixNanos int64  `json:"timestamp_unix_nanos"`
	SequencerBlockHash string `json:"sequencer_block_hash"`
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("conductor: decode hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("conductor: hash %q has %d bytes, want 32", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (w blockWire) toMetadata() (*ExecutedBlockMetadata, error) {
	hash, err := decodeHash32(w.Hash)
	if err != nil {
		return nil, err
	}
	parent, err := decodeHash32(w.ParentHash)
	if err != nil {
		return nil, err
	}
	seqHash, err := decodeHash32(w.SequencerBlockHash)
	if err != nil {
		return nil, err
	}
	return &ExecutedBlockMetadata{
		Number:             w.Number,
		Hash:               hash,
		ParentHash:         parent,
		Timestamp:          time.Unix(0, w.TimestampUnixNanos).UTC(),
		SequencerBlockHash: seqHash,
	}, nil
}

type sessionWire struct {
	SessionID  string `json:"session_id"`
	Parameters struct {
		RollupID                         string  `json:"rollup_id"`
		RollupStartBlockNumber           uint64  `json:"rollup_start_block_number"`
		RollupEndBlockNumber             *uint64 `json:"rollup_end_block_number"`
		SequencerChainID                 string  `json:"sequencer_chain_id"`
		SequencerStartBlockHeight        uint64  `json:"sequencer_start_block_height"`
		CelestiaChainID                  string  `json:"celestia_chain_id"`
		CelestiaSearchHeightMaxLookAhead uint64  `json:"celestia_search_height_max_look_ahead"`
	} `json:"parameters"`
	CommitmentState struct {
		Soft                       blockWire `json:"soft"`
		Firm                       blockWire `json:"firm"`
		LowestCelestiaSearchHeight uint64    `json:"lowest_celestia_search_height"`
	} `json:"commitment_state"`
}

func (w sessionWire) toSession() (*ExecutionSession, error) {
	soft, err := w.CommitmentState.Soft.toMetadata()
	if err != nil {
		return nil, err
	}
	firm, err := w.CommitmentState.Firm.toMetadata()
	if err != nil {
		return nil, err
	}
	rollupID, err := hex.DecodeString(w.Parameters.RollupID)
	if err != nil {
		return nil, fmt.Errorf("conductor: decode rollup id: %w", err)
	}
	return &ExecutionSession{
		SessionID: w.SessionID,
		Parameters: SessionParameters{
			RollupID:                         rollupID,
			RollupStartBlockNumber:           w.Parameters.RollupStartBlockNumber,
			RollupEndBlockNumber:             w.Parameters.RollupEndBlockNumber,
			SequencerChainID:                 w.Parameters.SequencerChainID,
			SequencerStartBlockHeight:        w.Parameters.SequencerStartBlockHeight,
			CelestiaChainID:                  w.Parameters.CelestiaChainID,
			CelestiaSearchHeightMaxLookAhead: w.Parameters.CelestiaSearchHeightMaxLookAhead,
		},
		CommitmentState: CommitmentState{
			Soft:                       *soft,
			Firm:                       *firm,
			LowestCelestiaSearchHeight: w.CommitmentState.LowestCelestiaSearchHeight,
		},
	}, nil
}

// CreateExecutionSession implements ExecutionClient.
func (c *JSONRPCExecutionClient) CreateExecutionSession(ctx context.Context) (*ExecutionSession, error) {
	var wire sessionWire
	if err := c.call(ctx, "execution.CreateExecutionSession", nil, &wire); err != nil {
		return nil, err
	}
	return wire.toSession()
}

// GetBlock implements ExecutionClient.
func (c *JSONRPCExecutionClient) GetBlock(ctx context.Context, id BlockIdentifier) (*ExecutedBlockMetadata, error) {
	params := map[string]interface{}{}
	if id.Number != nil {
		params["number"] = *id.Number
	}
	if id.Hash != nil {
		params["hash"] = hex.EncodeToString(id.Hash[:])
	}
	var wire blockWire
	if err := c.call(ctx, "execution.GetBlock", []interface{}{params}, &wire); err != nil {
		return nil, err
	}
	return wire.toMetadata()
}

// ExecuteBlock implements ExecutionClient.
func (c *JSONRPCExecutionClient) ExecuteBlock(ctx context.Context, sessionID string, prevBlockHash [32]byte, txs [][]byte, timestamp time.Time) (*ExecutedBlockMetadata, error) {
	encodedTxs := make([]string, len(txs))
	for i, tx := range txs {
		encodedTxs[i] = hex.EncodeToString(tx)
	}
	params := map[string]interface{}{
		"session_id":           sessionID,
		"prev_block_hash":      hex.EncodeToString(prevBlockHash[:]),
		"txs":                  encodedTxs,
		"timestamp_unix_nanos": timestamp.UnixNano(),
	}
	var wire blockWire
	if err := c.call(ctx, "execution.ExecuteBlock", []interface{}{params}, &wire); err != nil {
		return nil, err
	}
	return wire.toMetadata()
}

// UpdateCommitmentState implements ExecutionClient.
func (c *JSONRPCExecutionClient) UpdateCommitmentState(ctx context.Context, sessionID string, state CommitmentState) (*CommitmentState, error) {
	params := map[string]interface{}{
		"session_id": sessionID,
		"soft":       hex.EncodeToString(state.Soft.Hash[:]),
		"soft_number": state.Soft.Number,
		"firm":        hex.EncodeToString(state.Firm.Hash[:]),
		"firm_number": state.Firm.Number,
		"lowest_celestia_search_height": state.LowestCelestiaSearchHeight,
	}
	var wire struct {
		Soft                       blockWire `json:"soft"`
		Firm                       blockWire `json:"firm"`
		LowestCelestiaSearchHeight uint64    `json:"lowest_celestia_search_height"`
	}
	if err := c.call(ctx, "execution.UpdateCommitmentState", []interface{}{params}, &wire); err != nil {
		return nil, err
	}
	soft, err := wire.Soft.toMetadata()
	if err != nil {
		return nil, err
	}
	firm, err := wire.Firm.toMetadata()
	if err != nil {
		return nil, err
	}
	return &CommitmentState{Soft: *soft, Firm: *firm, LowestCelestiaSearchHeight: wire.LowestCelestiaSearchHeight}, nil
}
