// Copyright 2025 Certen Protocol
//
// Package mempool implements the application-side mempool: per-account
// pending/parked containers with nonce-gap handling, a bounded CometBFT
// removal cache, and maintenance driven by committed state.
//
// Lock order is fixed: `all` before `pending` before `parked` before
// `removal_cache`. Every method that needs more than one lock acquires
// them in that order.
package mempool

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/transaction"
)

// DefaultTTL is the maximum time a transaction may sit in the mempool
// before eviction.
const DefaultTTL = 240 * time.Second

// DefaultParkedSizeLimit bounds the number of parked transactions held
// per account.
const DefaultParkedSizeLimit = 15

// RemovalReason names why a transaction left the mempool, echoed back
// to the external CometBFT mempool on the next recheck.
type RemovalReason struct {
	Kind    string
	Message string
}

const (
	ReasonExpired               = "Expired"
	ReasonNonceStale            = "NonceStale"
	ReasonLowerNonceInvalidated = "LowerNonceInvalidated"
	ReasonFailedPrepareProposal = "FailedPrepareProposal"
	ReasonFailedExecution       = "FailedExecution"
)

// Status is the outcome of a transaction-status query.
type Status struct {
	State    string // "Pending" | "Parked" | "Removed" | "Executed"
	Reason   RemovalReason
	Height   uint64
	ExecCode uint32
}

const (
	StatePending  = "Pending"
	StateParked   = "Parked"
	StateRemoved  = "Removed"
	StateExecuted = "Executed"
)

// InsertResult is the outcome of Insert.
type InsertResult int

const (
	InsertOK InsertResult = iota
	InsertAlreadyPresent
	InsertNonceTooLow
	InsertNonceTaken
	InsertParked
	InsertAccountSizeLimit
)

func (r InsertResult) String() string {
	switch r {
	case InsertOK:
		return "OK"
	case InsertAlreadyPresent:
		return "AlreadyPresent"
	case InsertNonceTooLow:
		return "NonceTooLow"
	case InsertNonceTaken:
		return "NonceTaken"
	case InsertParked:
		return "Parked"
	case InsertAccountSizeLimit:
		return "AccountSizeLimit"
	default:
		return "Unknown"
	}
}

// taggedTx is a signed tx enriched with the mempool's own bookkeeping;
// the checked transaction itself already carries the per-asset cost
// fingerprint (FeesByAsset, Movements) status queries read through.
type taggedTx struct {
	tx            *transaction.CheckedTransaction
	insertionTime time.Time
}

func (t *taggedTx) id() [32]byte { return t.tx.ID }
func (t *taggedTx) nonce() uint32 { return t.tx.Signed.Body.Nonce }

// accountQueue is one account's set of pending or parked transactions,
// keyed by nonce.
type accountQueue struct {
	byNonce map[uint32]*taggedTx
}

func newAccountQueue() *accountQueue {
	return &accountQueue{byNonce: make(map[uint32]*taggedTx)}
}

func (q *accountQueue) sortedNonces() []uint32 {
	out := make([]uint32, 0, len(q.byNonce))
	for n := range q.byNonce {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Mempool holds the pending and parked containers plus the removal
// cache. Construct with New; the zero value is not usable.
type Mempool struct {
	mu sync.RWMutex // guards `all` (the set of known tx ids -> account)

	pendingMu sync.RWMutex
	pending   map[string]*accountQueue // keyed by address raw bytes

	parkedMu sync.RWMutex
	parked   map[string]*accountQueue

	removalMu     sync.RWMutex
	removalCache  *lru.Cache[[32]byte, RemovalReason]

	all map[[32]byte]address.Address // tx id -> owning account, across both containers

	executed map[[32]byte]ExecResult

	parkedSizeLimit int
	ttl             time.Duration
}

// ExecResult records a transaction's execution outcome once included in
// a block, surfaced through TransactionStatus.
type ExecResult struct {
	Height uint64
	Code   uint32
	Log    string
}

// New returns an empty Mempool with the given parked-size cap and
// removal-cache capacity.
func New(parkedSizeLimit, removalCacheSize int) *Mempool {
	cache, _ := lru.New[[32]byte, RemovalReason](removalCacheSize)
	return &Mempool{
		pending:         make(map[string]*accountQueue),
		parked:          make(map[string]*accountQueue),
		removalCache:    cache,
		all:             make(map[[32]byte]address.Address),
		executed:        make(map[[32]byte]ExecResult),
		parkedSizeLimit: parkedSizeLimit,
		ttl:             DefaultTTL,
	}
}

func acctKey(a address.Address) string { return string(a.Bytes()) }

// Insert adds tx to the mempool, placing it in pending if its nonce is
// contiguous from currentNonce, or parked if there's a gap above it.
// Replacement of an existing nonce is forbidden.
func (m *Mempool) Insert(tx *transaction.CheckedTransaction, currentNonce uint32) InsertResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.parkedMu.Lock()
	defer m.parkedMu.Unlock()

	id := tx.ID
	if _, ok := m.all[id]; ok {
		return InsertAlreadyPresent
	}

	nonce := tx.Signed.Body.Nonce
	if nonce < currentNonce {
		return InsertNonceTooLow
	}

	key := acctKey(tx.Signer)
	pq := m.pending[key]
	if pq == nil {
		pq = newAccountQueue()
	}
	parkedQ := m.parked[key]
	if parkedQ == nil {
		parkedQ = newAccountQueue()
	}

	if _, taken := pq.byNonce[nonce]; taken {
		return InsertNonceTaken
	}
	if _, taken := parkedQ.byNonce[nonce]; taken {
		return InsertNonceTaken
	}

	entry := &taggedTx{tx: tx, insertionTime: time.Now()}

	// Contiguous from currentNonce through pending's existing run means
	// this nonce can go straight into pending.
	nextExpected := currentNonce + uint32(len(pq.byNonce))
	if nonce == nextExpected {
		pq.byNonce[nonce] = entry
		m.pending[key] = pq
		m.all[id] = tx.Signer
		m.promoteLocked(key, currentNonce)
		return InsertOK
	}

	if len(parkedQ.byNonce) >= m.parkedSizeLimit {
		return InsertAccountSizeLimit
	}
	parkedQ.byNonce[nonce] = entry
	m.parked[key] = parkedQ
	m.all[id] = tx.Signer
	return InsertParked
}

// promoteLocked moves contiguous parked successors into pending,
// creating the account's pending queue if the promotion starts from an
// empty one. Callers must already hold pendingMu and parkedMu.
func (m *Mempool) promoteLocked(key string, currentNonce uint32) {
	parkedQ := m.parked[key]
	if parkedQ == nil {
		return
	}
	pq := m.pending[key]
	for {
		next := currentNonce
		if pq != nil {
			next += uint32(len(pq.byNonce))
		}
		t, ok := parkedQ.byNonce[next]
		if !ok {
			break
		}
		if pq == nil {
			pq = newAccountQueue()
			m.pending[key] = pq
		}
		delete(parkedQ.byNonce, next)
		pq.byNonce[next] = t
	}
}

// BuilderQueueEntry is one transaction returned by BuilderQueue, in
// block-building order.
type BuilderQueueEntry struct {
	Tx    *transaction.CheckedTransaction
	Owner address.Address
}

// NonceGetter resolves an account's current on-chain nonce, used by
// BuilderQueue to compute each entry's (nonce - account.nonce) sort key.
type NonceGetter func(addr address.Address) (uint32, error)

// BuilderQueue returns a copy of all pending transactions sorted by
// (tx.nonce - account.nonce, insertion time), with ties broken by tx id.
func (m *Mempool) BuilderQueue(nonceOf NonceGetter) ([]BuilderQueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()

	type scored struct {
		entry BuilderQueueEntry
		rank  uint32
		ins   time.Time
	}
	var all []scored

	for _, q := range m.pending {
		if len(q.byNonce) == 0 {
			continue
		}
		var owner address.Address
		for _, t := range q.byNonce {
			owner = m.all[t.id()]
			break
		}
		current, err := nonceOf(owner)
		if err != nil {
			return nil, err
		}
		for nonce, t := range q.byNonce {
			all = append(all, scored{
				entry: BuilderQueueEntry{Tx: t.tx, Owner: owner},
				rank:  nonce - current,
				ins:   t.insertionTime,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].rank != all[j].rank {
			return all[i].rank < all[j].rank
		}
		if !all[i].ins.Equal(all[j].ins) {
			return all[i].ins.Before(all[j].ins)
		}
		return idLess(all[i].entry.Tx.ID, all[j].entry.Tx.ID)
	})

	out := make([]BuilderQueueEntry, len(all))
	for i, s := range all {
		out[i] = s.entry
	}
	return out, nil
}

func idLess(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ownerOf resolves a tagged tx's owning address from the all-map.
func (m *Mempool) ownerOf(key string, t *taggedTx) address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.all[t.id()]
}

// RemoveTxInvalid removes tx and marks it with reason; if tx was in
// pending, every higher-nonce entry for the same account (in either
// container) is also removed and marked LowerNonceInvalidated. If tx
// was only in parked, only it is removed.
func (m *Mempool) RemoveTxInvalid(owner address.Address, id [32]byte, nonce uint32, reason RemovalReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.parkedMu.Lock()
	defer m.parkedMu.Unlock()
	m.removalMu.Lock()
	defer m.removalMu.Unlock()

	key := acctKey(owner)
	pq := m.pending[key]
	parkedQ := m.parked[key]

	wasPending := pq != nil && func() bool { _, ok := pq.byNonce[nonce]; return ok }()

	if wasPending {
		delete(pq.byNonce, nonce)
		m.removalCache.Add(id, reason)
		delete(m.all, id)
		for n, t := range pq.byNonce {
			if n > nonce {
				delete(pq.byNonce, n)
				delete(m.all, t.id())
				m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonLowerNonceInvalidated})
			}
		}
		if parkedQ != nil {
			for n, t := range parkedQ.byNonce {
				if n > nonce {
					delete(parkedQ.byNonce, n)
					delete(m.all, t.id())
					m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonLowerNonceInvalidated})
				}
			}
		}
		return
	}

	if parkedQ != nil {
		if _, ok := parkedQ.byNonce[nonce]; ok {
			delete(parkedQ.byNonce, nonce)
			m.removalCache.Add(id, reason)
			delete(m.all, id)
		}
	}
}

// MaintenanceNonceGetter resolves an account's current on-chain nonce
// for use during RunMaintenance.
type MaintenanceNonceGetter func(addr address.Address) (uint32, error)

// RunMaintenance runs the post-commit sweep: drop stale nonces, evict
// expired transactions, promote
// contiguous parked entries, and record execution results.
func (m *Mempool) RunMaintenance(nonceOf MaintenanceNonceGetter, execResults map[[32]byte]ExecResult, height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.parkedMu.Lock()
	defer m.parkedMu.Unlock()
	m.removalMu.Lock()
	defer m.removalMu.Unlock()

	now := time.Now()

	for key, pq := range m.pending {
		owner := m.ownerRawForKey(key)
		current, err := nonceOf(owner)
		if err != nil {
			continue
		}
		for n, t := range pq.byNonce {
			if n < current {
				delete(pq.byNonce, n)
				delete(m.all, t.id())
				m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonNonceStale})
				continue
			}
			if now.Sub(t.insertionTime) > m.ttl {
				delete(pq.byNonce, n)
				delete(m.all, t.id())
				m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonExpired})
			}
		}
	}
	for key, parkedQ := range m.parked {
		owner := m.ownerRawForKey(key)
		current, err := nonceOf(owner)
		if err != nil {
			continue
		}
		for n, t := range parkedQ.byNonce {
			if n < current {
				delete(parkedQ.byNonce, n)
				delete(m.all, t.id())
				m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonNonceStale})
				continue
			}
			if now.Sub(t.insertionTime) > m.ttl {
				delete(parkedQ.byNonce, n)
				delete(m.all, t.id())
				m.removalCache.Add(t.id(), RemovalReason{Kind: ReasonExpired})
			}
		}
	}

	// Promotion walks parked accounts, not pending ones: an account
	// whose gap just closed may have nothing pending at all.
	for key := range m.parked {
		owner := m.ownerRawForKey(key)
		current, err := nonceOf(owner)
		if err != nil {
			continue
		}
		m.promoteLocked(key, current)
	}

	for id, res := range execResults {
		m.executed[id] = ExecResult{Height: height, Code: res.Code, Log: res.Log}
		delete(m.all, id)
	}
}

// ownerRawForKey recovers an address.Address from an account-queue key
// by scanning `all`; acceptable since maintenance runs infrequently
// relative to inserts and accounts are few relative to transactions.
func (m *Mempool) ownerRawForKey(key string) address.Address {
	for _, a := range m.all {
		if acctKey(a) == key {
			return a
		}
	}
	return address.Address{}
}

// TransactionStatus reports a transaction's current disposition.
func (m *Mempool) TransactionStatus(id [32]byte) Status {
	m.mu.RLock()
	owner, known := m.all[id]
	m.mu.RUnlock()

	if res, ok := m.executedResult(id); ok {
		return Status{State: StateExecuted, Height: res.Height, ExecCode: res.Code}
	}

	if known {
		m.pendingMu.RLock()
		pq := m.pending[acctKey(owner)]
		_, inPending := pendingHas(pq, id)
		m.pendingMu.RUnlock()
		if inPending {
			return Status{State: StatePending}
		}
		m.parkedMu.RLock()
		parkedQ := m.parked[acctKey(owner)]
		_, inParked := pendingHas(parkedQ, id)
		m.parkedMu.RUnlock()
		if inParked {
			return Status{State: StateParked}
		}
	}

	m.removalMu.RLock()
	reason, removed := m.removalCache.Get(id)
	m.removalMu.RUnlock()
	if removed {
		return Status{State: StateRemoved, Reason: reason}
	}
	return Status{State: StateRemoved, Reason: RemovalReason{Kind: "Unknown"}}
}

func (m *Mempool) executedResult(id [32]byte) (ExecResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.executed[id]
	return res, ok
}

func pendingHas(q *accountQueue, id [32]byte) (*taggedTx, bool) {
	if q == nil {
		return nil, false
	}
	for _, t := range q.byNonce {
		if t.id() == id {
			return t, true
		}
	}
	return nil, false
}
