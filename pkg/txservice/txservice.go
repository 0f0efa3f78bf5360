// Copyright 2025 Certen Protocol
//
// Package txservice serves the sequencer's transaction-facing API over
// HTTP/JSON: submit a signed transaction, query a transaction's
// status, and quote the fees a transaction body would be charged. It
// is the app-side face of the mempool for clients that do not speak
// ABCI.
package txservice

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/conduit-stack/sequencer/pkg/actions"
	"github.com/conduit-stack/sequencer/pkg/kv"
	"github.com/conduit-stack/sequencer/pkg/mempool"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

// maxRequestBody bounds a request body read; anything larger than a
// maximum-size transaction plus envelope slack is rejected early.
const maxRequestBody = transaction.DefaultMaxSize + 4096

// NonceReader resolves an account's current nonce from a state view;
// satisfied by accounts.Ledger via a small closure in the caller.
type NonceReader func(view kv.View, checked *transaction.CheckedTransaction) (uint32, error)

// Server handles the three transaction endpoints. Construct with New.
type Server struct {
	logger  *log.Logger
	mempool *mempool.Mempool
	builder *transaction.Builder
	store   *kv.Store
	deps    actions.Deps
	nonceOf NonceReader
	height  func() uint64
}

// New constructs a Server. height reports the latest committed block
// height for fee quotes.
func New(mp *mempool.Mempool, builder *transaction.Builder, store *kv.Store, deps actions.Deps, nonceOf NonceReader, height func() uint64) *Server {
	return &Server{
		logger:  log.New(os.Stdout, "[txservice] ", log.LstdFlags|log.Lmicroseconds),
		mempool: mp,
		builder: builder,
		store:   store,
		deps:    deps,
		nonceOf: nonceOf,
		height:  height,
	}
}

type submitRequest struct {
	// Tx is the hex-encoded signed transaction wire bytes.
	Tx string `json:"tx"`
}

type submitResponse struct {
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type statusResponse struct {
	TxHash   string `json:"tx_hash"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Height   uint64 `json:"height,omitempty"`
	ExecCode uint32 `json:"exec_code,omitempty"`
}

type feesResponse struct {
	BlockHeight uint64     `json:"block_height"`
	Fees        []feeEntry `json:"fees"`
}

type feeEntry struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// handleSubmit decodes, checks and inserts a signed transaction,
// reporting its mempool placement. A transaction already known is
// reported with duplicate=true rather than an error; a transaction
// that was removed while the request was in flight is a 404.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request: %v", err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %v", err)
		return
	}
	wire, err := hex.DecodeString(req.Tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, "decode tx hex: %v", err)
		return
	}

	snapshot := s.store.Snapshot()
	checked, err := s.builder.Build(wire, snapshot, s.deps)
	if err != nil {
		writeError(w, http.StatusBadRequest, "check transaction: %v", err)
		return
	}

	currentNonce, err := s.nonceOf(snapshot, checked)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read account nonce: %v", err)
		return
	}

	result := s.mempool.Insert(checked, currentNonce)
	resp := submitResponse{TxHash: hex.EncodeToString(checked.ID[:])}
	switch result {
	case mempool.InsertOK:
		resp.Status = mempool.StatePending
	case mempool.InsertParked:
		resp.Status = mempool.StateParked
	case mempool.InsertAlreadyPresent:
		resp.Duplicate = true
		resp.Status = s.mempool.TransactionStatus(checked.ID).State
	default:
		// Removed while the request was in flight, or rejected outright.
		st := s.mempool.TransactionStatus(checked.ID)
		if st.State == mempool.StateRemoved {
			writeError(w, http.StatusNotFound, "transaction removed: %s", st.Reason.Kind)
			return
		}
		writeError(w, http.StatusBadRequest, "insert rejected: %s", result)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports a transaction's disposition by its 32-byte id.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, "hash must be 32 hex-encoded bytes")
		return
	}
	var id [32]byte
	copy(id[:], raw)

	st := s.mempool.TransactionStatus(id)
	writeJSON(w, http.StatusOK, statusResponse{
		TxHash:   hash,
		Status:   st.State,
		Reason:   st.Reason.Kind,
		Message:  st.Reason.Message,
		Height:   st.Height,
		ExecCode: st.ExecCode,
	})
}

// handleFees quotes the fees a transaction body would be charged at
// the current fee schedules, by trace-prefixed denom.
func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request: %v", err)
		return
	}
	var body transaction.Body
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "decode transaction body: %v", err)
		return
	}

	snapshot := s.store.Snapshot()
	fees, err := s.builder.FeesByAsset(snapshot, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "compute fees: %v", err)
		return
	}

	resp := feesResponse{BlockHeight: s.height(), Fees: make([]feeEntry, 0, len(fees))}
	for _, f := range fees {
		resp.Fees = append(resp.Fees, feeEntry{Denom: f.Asset, Amount: f.Amount.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
			return
		}
		h(w, r)
	}
}

// Mux builds the http.Handler serving the three transaction endpoints.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transaction/submit", requireMethod(http.MethodPost, s.handleSubmit))
	mux.HandleFunc("/v1/transaction/status", requireMethod(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/v1/transaction/fees", requireMethod(http.MethodPost, s.handleFees))
	return mux
}

// ListenAndServe blocks serving the transaction endpoints on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Printf("transaction service listening on %s", addr)
	return http.ListenAndServe(addr, s.Mux())
}
