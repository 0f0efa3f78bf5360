// Copyright 2025 Certen Protocol

package conductor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JSONRPCDASource implements DASource against a data-availability
// node's JSON-RPC 2.0 endpoint, mirroring pkg/relayer's
// JSONRPCDABroadcaster client-wrapper shape so both daemons dial the
// same DA node surface consistently.
type JSONRPCDASource struct {
	addr       string
	authToken  string
	httpClient *http.Client
}

// NewJSONRPCDASource builds a DASource dialing the DA node's JSON-RPC
// endpoint at addr with the given bearer auth token.
func NewJSONRPCDASource(addr, authToken string) *JSONRPCDASource {
	return &JSONRPCDASource{
		addr:       addr,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *JSONRPCDASource) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("conductor: encode da rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.addr, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("conductor: build da rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &ClientError{Code: CodeUnavailable, Err: fmt.Errorf("conductor: da rpc call %s: %w", method, err)}
	}
	defer resp.Body.Close()

	var decoded jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("conductor: decode da rpc response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("conductor: da rpc %s returned error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

type headerWire struct {
	Height uint64 `json:"height"`
}

// NetworkHead implements DASource.
func (d *JSONRPCDASource) NetworkHead(ctx context.Context) (uint64, error) {
	var h headerWire
	if err := d.call(ctx, "header.NetworkHead", nil, &h); err != nil {
		return 0, err
	}
	return h.Height, nil
}

type blobWire struct {
	Namespace string `json:"namespace"`
	Data      string `json:"data"`
}

// GetAll implements DASource.
func (d *JSONRPCDASource) GetAll(ctx context.Context, height uint64, namespaces [][]byte) ([]Blob, error) {
	encodedNamespaces := make([]string, len(namespaces))
	for i, ns := range namespaces {
		encodedNamespaces[i] = base64.StdEncoding.EncodeToString(ns)
	}

	var wire []blobWire
	if err := d.call(ctx, "blob.GetAll", []interface{}{height, encodedNamespaces}, &wire); err != nil {
		return nil, err
	}

	out := make([]Blob, 0, len(wire))
	for _, w := range wire {
		ns, err := base64.StdEncoding.DecodeString(w.Namespace)
		if err != nil {
			return nil, fmt.Errorf("conductor: decode blob namespace: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return nil, fmt.Errorf("conductor: decode blob data: %w", err)
		}
		out = append(out, Blob{Namespace: ns, Data: data})
	}
	return out, nil
}
