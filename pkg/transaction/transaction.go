// Copyright 2025 Certen Protocol
//
// Package transaction implements the signed-transaction envelope and
// checked-transaction builder: a transaction body binds a chain id,
// nonce, and ordered action list; a signed
// transaction binds a verification key and signature to the encoded
// body; the transaction id is the content hash of the signed bytes.
//
// Actions are JSON-tagged by kind rather than using Go's gob or a
// binary tag scheme, matching how the rest of this module favors
// explicit Kind/tag string fields over reflection-driven encoding.
package transaction

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/actions"
	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/kv"
)

// Sentinel errors identifying why a transaction was rejected.
var (
	ErrInvalidSignature = errors.New("transaction: invalid signature")
	ErrExceedsMaxSize   = errors.New("transaction: exceeds max size")
	ErrInvalidChainID   = errors.New("transaction: chain id mismatch")
	ErrNonceTooLow      = errors.New("transaction: nonce too low")
	ErrNonceAtMax       = errors.New("transaction: nonce at maximum cannot be used")
	ErrEmptyActions     = errors.New("transaction: body has no actions")
)

// DefaultMaxSize bounds a signed transaction's encoded size; larger
// transactions are rejected outright.
const DefaultMaxSize = 256 * 1024

// Body is the unsigned transaction content: a chain id, a nonce, and an
// ordered list of actions.
type Body struct {
	ChainID string          `json:"chain_id"`
	Nonce   uint32          `json:"nonce"`
	Actions []actions.Action `json:"-"`
}

// wireAction is the tagged-by-kind JSON form an Action round-trips
// through: Kind selects the concrete Go type, Payload carries its
// fields.
type wireAction struct {
	Kind    asset.ActionKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

type wireBody struct {
	ChainID string       `json:"chain_id"`
	Nonce   uint32       `json:"nonce"`
	Actions []wireAction `json:"actions"`
}

// MarshalJSON encodes Body by tagging each action with its kind.
func (b Body) MarshalJSON() ([]byte, error) {
	wire := wireBody{ChainID: b.ChainID, Nonce: b.Nonce}
	for _, a := range b.Actions {
		payload, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("transaction: marshal action %s: %w", a.Kind(), err)
		}
		wire.Actions = append(wire.Actions, wireAction{Kind: a.Kind(), Payload: payload})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes Body, dispatching each tagged action to its
// concrete Go type by Kind.
func (b *Body) UnmarshalJSON(data []byte) error {
	var wire wireBody
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("transaction: unmarshal body: %w", err)
	}
	b.ChainID = wire.ChainID
	b.Nonce = wire.Nonce
	b.Actions = make([]actions.Action, 0, len(wire.Actions))
	for _, wa := range wire.Actions {
		a, err := decodeAction(wa.Kind, wa.Payload)
		if err != nil {
			return err
		}
		b.Actions = append(b.Actions, a)
	}
	return nil
}

func decodeAction(kind asset.ActionKind, payload json.RawMessage) (actions.Action, error) {
	switch kind {
	case asset.ActionTransfer:
		var v actions.Transfer
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionRollupDataSubmission:
		var v actions.RollupDataSubmission
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionIcs20Withdrawal:
		var v actions.Ics20Withdrawal
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionBridgeLock:
		var v actions.BridgeLock
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionBridgeUnlock:
		var v actions.BridgeUnlock
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionInitBridgeAccount:
		var v actions.InitBridgeAccount
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionBridgeSudoChange:
		var v actions.BridgeSudoChange
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionValidatorUpdate:
		var v actions.ValidatorUpdate
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionFeeChange:
		var v actions.FeeChange
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionSudoAddressChange:
		var v actions.SudoAddressChange
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionMarketMapCreate:
		var v actions.MarketMapCreate
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionMarketMapUpdate:
		var v actions.MarketMapUpdate
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionMarketMapRemove:
		var v actions.MarketMapRemove
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	case asset.ActionIbcRelayMessage:
		var v actions.IbcRelayMessage
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("transaction: unmarshal %s: %w", kind, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("transaction: unknown action kind %q", kind)
	}
}

// Signed binds a verification key and signature to an encoded Body.
type Signed struct {
	Body      Body
	PublicKey ed25519.PublicKey
	Signature []byte
}

type wireSigned struct {
	Body      json.RawMessage `json:"body"`
	PublicKey []byte          `json:"public_key"`
	Signature []byte          `json:"signature"`
}

// Sign encodes body and signs it with priv, returning the Signed
// transaction's wire bytes.
func Sign(body Body, priv ed25519.PrivateKey) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transaction: marshal body: %w", err)
	}
	sig := ed25519.Sign(priv, bodyBytes)
	wire := wireSigned{
		Body:      bodyBytes,
		PublicKey: []byte(priv.Public().(ed25519.PublicKey)),
		Signature: sig,
	}
	return json.Marshal(wire)
}

// Decode parses wire bytes into a Signed transaction without verifying
// anything; use VerifySignature or Build for the checked path.
func Decode(wireBytes []byte) (Signed, error) {
	var wire wireSigned
	if err := json.Unmarshal(wireBytes, &wire); err != nil {
		return Signed{}, fmt.Errorf("transaction: unmarshal envelope: %w", err)
	}
	var body Body
	if err := json.Unmarshal(wire.Body, &body); err != nil {
		return Signed{}, err
	}
	return Signed{Body: body, PublicKey: ed25519.PublicKey(wire.PublicKey), Signature: wire.Signature}, nil
}

// TxID returns the content hash of the signed wire bytes.
func TxID(wireBytes []byte) [32]byte {
	return sha256.Sum256(wireBytes)
}

// VerifySignature checks that Signature is a valid ed25519 signature by
// PublicKey over Body's canonical JSON encoding.
func (s Signed) VerifySignature() error {
	bodyBytes, err := json.Marshal(s.Body)
	if err != nil {
		return fmt.Errorf("transaction: marshal body: %w", err)
	}
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key size %d", ErrInvalidSignature, len(s.PublicKey))
	}
	if !ed25519.Verify(s.PublicKey, bodyBytes, s.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// AssetMovement is one entry of the asset-transfer fingerprint: the
// total amount of one asset moved by the
// transaction's actions, keyed by its IBC-prefixed hash.
type AssetMovement struct {
	Asset  asset.IBCPrefixed
	Amount sdkmath.Int
}

// CheckedTransaction is the result of the checked-transaction builder:
// a transaction verified and scratch-executed against a snapshot,
// ready to be (re)executed deterministically at block-execution time.
type CheckedTransaction struct {
	Signed      Signed
	WireBytes   []byte
	ID          [32]byte
	Signer      address.Address
	Movements   []AssetMovement
	FeesByAsset map[asset.IBCPrefixed]sdkmath.Int
}

// Builder constructs CheckedTransactions from signed wire bytes.
type Builder struct {
	ChainID       string
	AddressPrefix string
	MaxSize       int
	FeeSchedules  *asset.FeeSchedules
	Assets        *asset.Registry
	Accounts      *accounts.Ledger
}

// NewBuilder returns a Builder with DefaultMaxSize.
func NewBuilder(chainID, addressPrefix string, feeSchedules *asset.FeeSchedules) *Builder {
	return &Builder{
		ChainID:       chainID,
		AddressPrefix: addressPrefix,
		MaxSize:       DefaultMaxSize,
		FeeSchedules:  feeSchedules,
		Assets:        asset.NewRegistry(),
		Accounts:      accounts.NewLedger(),
	}
}

// Build runs the five-step checked-transaction construction against a
// read-only snapshot of chain state, producing a
// CheckedTransaction without mutating the real store; each action's
// CheckAndExecute runs against a scratch overlay forked off snapshot
// and then discarded.
func (b *Builder) Build(wireBytes []byte, snapshot kv.View, scratchDeps actions.Deps) (*CheckedTransaction, error) {
	scratch := kv.Fork(snapshot)
	checked, err := b.run(wireBytes, snapshot, scratch, scratchDeps, false)
	scratch.Discard()
	return checked, err
}

// Execute performs the same verification and per-action dispatch as
// Build, but against store directly rather than a throwaway fork, so
// its effects persist in the caller's overlay. Block execution uses
// this to apply a proposal's transactions for real, after
// ProcessProposal has already run Build against each one. upgraded
// reports whether the authority module's post-upgrade validator-set
// format is active at the block height being executed.
func (b *Builder) Execute(wireBytes []byte, store *kv.Overlay, deps actions.Deps, upgraded bool) (*CheckedTransaction, error) {
	return b.run(wireBytes, store, store, deps, upgraded)
}

// run implements the shared decode/verify/dispatch core; execView is
// where nonce lookups read from and execStore is where actions apply
// their effects. Build passes the snapshot as execView and a scratch
// fork of it as execStore, then discards the fork; Execute passes the
// real overlay for both so effects stick.
func (b *Builder) run(wireBytes []byte, execView kv.View, execStore actions.Store, deps actions.Deps, upgraded bool) (*CheckedTransaction, error) {
	if len(wireBytes) > b.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrExceedsMaxSize, len(wireBytes))
	}

	signed, err := Decode(wireBytes)
	if err != nil {
		return nil, err
	}
	if err := signed.VerifySignature(); err != nil {
		return nil, err
	}
	if signed.Body.ChainID != b.ChainID {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidChainID, signed.Body.ChainID, b.ChainID)
	}
	if len(signed.Body.Actions) == 0 {
		return nil, ErrEmptyActions
	}

	signer, err := address.FromEd25519(b.AddressPrefix, signed.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("transaction: derive signer address: %w", err)
	}

	accountNonce, err := b.Accounts.GetAccountNonce(execView, signer)
	if err != nil {
		return nil, err
	}
	if signed.Body.Nonce < accountNonce {
		return nil, fmt.Errorf("%w: tx nonce %d < account nonce %d", ErrNonceTooLow, signed.Body.Nonce, accountNonce)
	}
	// The final nonce value is unusable: executing it would need an
	// increment past the maximum, which must not wrap to zero.
	if signed.Body.Nonce == math.MaxUint32 {
		return nil, ErrNonceAtMax
	}

	movements := map[asset.IBCPrefixed]sdkmath.Int{}
	fees := map[asset.IBCPrefixed]sdkmath.Int{}

	for _, a := range signed.Body.Actions {
		if err := a.CheckStateless(); err != nil {
			return nil, err
		}
		size, err := actionSize(a)
		if err != nil {
			return nil, err
		}
		schedule := b.resolveFeeSchedule(execView, a.Kind())
		fee := schedule.Fee(size)

		ctx := actions.Context{
			Signer:   signer,
			ChainID:  signed.Body.ChainID,
			Upgraded: upgraded,
			Fee:      fee,
		}
		if err := a.CheckAndExecute(execStore, ctx, deps); err != nil {
			return nil, err
		}

		if !fee.IsZero() {
			if trace, ok := feeAssetOf(a); ok {
				feeAsset := asset.TraceToIBCPrefixed(trace)
				fees[feeAsset] = accumulate(fees, feeAsset, fee)
			}
		}
		if mv, ok := movementOf(a); ok {
			h := asset.TraceToIBCPrefixed(mv.trace)
			movements[h] = accumulate(movements, h, mv.amount)
		}
	}

	id := TxID(wireBytes)
	return &CheckedTransaction{
		Signed:      signed,
		WireBytes:   append([]byte(nil), wireBytes...),
		ID:          id,
		Signer:      signer,
		Movements:   flattenMovements(movements),
		FeesByAsset: fees,
	}, nil
}

func accumulate(m map[asset.IBCPrefixed]sdkmath.Int, key asset.IBCPrefixed, delta sdkmath.Int) sdkmath.Int {
	if cur, ok := m[key]; ok {
		return cur.Add(delta)
	}
	return delta
}

func flattenMovements(m map[asset.IBCPrefixed]sdkmath.Int) []AssetMovement {
	out := make([]AssetMovement, 0, len(m))
	for k, v := range m {
		out = append(out, AssetMovement{Asset: k, Amount: v})
	}
	return out
}

type movement struct {
	trace  string
	amount sdkmath.Int
}

// feeAssetOf extracts the trace-prefixed fee-asset denom each fee-payable
// action carries on its own FeeAsset field; the fee asset is a property
// of each action, not of the transaction as a whole.
func feeAssetOf(a actions.Action) (string, bool) {
	switch v := a.(type) {
	case actions.Transfer:
		return v.FeeAsset, true
	case actions.BridgeLock:
		return v.FeeAsset, true
	case actions.BridgeUnlock:
		return v.FeeAsset, true
	case actions.Ics20Withdrawal:
		return v.FeeAsset, true
	case actions.InitBridgeAccount:
		return v.FeeAsset, true
	case actions.BridgeSudoChange:
		return v.FeeAsset, true
	case actions.RollupDataSubmission:
		return v.FeeAsset, true
	default:
		return "", false
	}
}

// movementOf extracts the asset-transfer fingerprint entry for actions
// that move a single named asset by a single amount. Actions without a
// single clear movement (validator/market/IBC-relay actions) report ok=false.
func movementOf(a actions.Action) (movement, bool) {
	switch v := a.(type) {
	case actions.Transfer:
		return movement{trace: v.Asset, amount: v.Amount}, true
	case actions.BridgeLock:
		return movement{trace: v.Asset, amount: v.Amount}, true
	case actions.BridgeUnlock:
		return movement{trace: v.Asset, amount: v.Amount}, true
	case actions.Ics20Withdrawal:
		return movement{trace: v.Denom, amount: v.Amount}, true
	default:
		return movement{}, false
	}
}

// FeeEntry is one fee a transaction body would be charged, keyed by
// the trace-prefixed denom it is paid in.
type FeeEntry struct {
	Asset  string
	Amount sdkmath.Int
}

// FeesByAsset computes the fees Build would accrue for body's actions
// against view's persisted fee schedules, without verifying signatures
// or executing anything. Used by the transaction fee query.
func (b *Builder) FeesByAsset(view kv.View, body Body) ([]FeeEntry, error) {
	totals := map[string]sdkmath.Int{}
	var order []string
	for _, a := range body.Actions {
		feeAsset, ok := feeAssetOf(a)
		if !ok {
			continue
		}
		size, err := actionSize(a)
		if err != nil {
			return nil, err
		}
		fee := b.resolveFeeSchedule(view, a.Kind()).Fee(size)
		if fee.IsZero() {
			continue
		}
		if cur, seen := totals[feeAsset]; seen {
			totals[feeAsset] = cur.Add(fee)
		} else {
			totals[feeAsset] = fee
			order = append(order, feeAsset)
		}
	}
	out := make([]FeeEntry, 0, len(order))
	for _, denom := range order {
		out = append(out, FeeEntry{Asset: denom, Amount: totals[denom]})
	}
	return out, nil
}

func (b *Builder) resolveFeeSchedule(store asset.Reader, kind asset.ActionKind) asset.FeeSchedule {
	if persisted, found, err := b.Assets.GetFeeSchedule(store, kind); err == nil && found {
		return persisted
	}
	return b.FeeSchedules.Get(kind)
}

// actionSize returns the JSON-encoded byte size of an action, the size
// input the fee schedule's multiplier applies to.
func actionSize(a actions.Action) (int64, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("transaction: size action %s: %w", a.Kind(), err)
	}
	return int64(len(b)), nil
}
