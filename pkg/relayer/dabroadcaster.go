// Copyright 2025 Certen Protocol

package relayer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JSONRPCDABroadcaster implements DABroadcaster against a data-
// availability node's JSON-RPC 2.0 endpoint (celestia-node's blob/p2p
// namespaces): one *http.Client plus the remote address, one method
// per remote call, with the JSON-RPC 2.0 envelope built by hand.
type JSONRPCDABroadcaster struct {
	addr               string
	authToken          string
	sequencerNamespace []byte
	httpClient         *http.Client
}

// NewJSONRPCDABroadcaster builds a broadcaster dialing the DA node's
// JSON-RPC endpoint at addr with the given bearer auth token.
func NewJSONRPCDABroadcaster(addr, authToken string, sequencerNamespace []byte) *JSONRPCDABroadcaster {
	return &JSONRPCDABroadcaster{
		addr:               addr,
		authToken:          authToken,
		sequencerNamespace: sequencerNamespace,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
	}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  []interface{}   `json:"params"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *JSONRPCDABroadcaster) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("relayer: encode da rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.addr, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("relayer: build da rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relayer: da rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("relayer: decode da rpc response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("relayer: da rpc %s returned error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("relayer: unmarshal da rpc result for %s: %w", method, err)
	}
	return nil
}

// blobWireItem is one namespaced blob in blob.Submit's wire shape.
type blobWireItem struct {
	Namespace    string `json:"namespace"`
	Data         string `json:"data"`
	ShareVersion int    `json:"share_version"`
}

func encodeBlobWire(namespace, data []byte) blobWireItem {
	return blobWireItem{
		Namespace:    base64.StdEncoding.EncodeToString(namespace),
		Data:         base64.StdEncoding.EncodeToString(data),
		ShareVersion: 0,
	}
}

// SubmitBlobs packs the metadata header blob and every rollup group
// blob into one blob.Submit call, returning the celestia height the
// submission landed in.
func (b *JSONRPCDABroadcaster) SubmitBlobs(ctx context.Context, metadata MetadataBlob, groups []RollupGroupBlob) (uint64, error) {
	items := make([]blobWireItem, 0, len(groups)+1)
	items = append(items, encodeBlobWire(b.sequencerNamespace, metadata.Data))
	for _, g := range groups {
		items = append(items, encodeBlobWire(g.Namespace, g.Data))
	}

	var height uint64
	if err := b.call(ctx, "blob.Submit", []interface{}{items, nil}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// ReachablePeers implements DABroadcaster by asking the DA node's p2p
// module how many peers it currently holds a connection to.
func (b *JSONRPCDABroadcaster) ReachablePeers(ctx context.Context) (int, error) {
	var peers []string
	if err := b.call(ctx, "p2p.Peers", nil, &peers); err != nil {
		return 0, err
	}
	return len(peers), nil
}
