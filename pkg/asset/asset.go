// Copyright 2025 Certen Protocol
//
// Package asset implements the fees-and-assets module: bidirectional
// trace-prefixed <-> IBC-prefixed
// denom mapping, a fee-asset allow list, and per-action fee schedules.
package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/conduit-stack/sequencer/pkg/kv"
)

// ErrAssetUnknown is returned when an IBC-prefixed denom has no recorded
// trace-prefixed mapping.
var ErrAssetUnknown = errors.New("asset: unknown IBC-prefixed asset")

// IBCPrefixed is the 32-byte hash form of an asset denom, used as the
// storage key and in escrow/fee-allow-list bookkeeping.
type IBCPrefixed [32]byte

// String hex-encodes the hash, matching how the original chain renders
// ibc/<hash> denoms.
func (h IBCPrefixed) String() string {
	return "ibc/" + hex.EncodeToString(h[:])
}

// TraceToIBCPrefixed computes the IBC-prefixed form of a trace-prefixed
// denom: sha256 of the trace string, matching the ICS20 denom-hash
// convention.
func TraceToIBCPrefixed(trace string) IBCPrefixed {
	return sha256.Sum256([]byte(trace))
}

const (
	keyIBCAssetPrefix  = "asset/ibc/"
	keyFeeAssetPrefix  = "asset/fee_allow/"
)

func ibcAssetKey(h IBCPrefixed) []byte {
	return []byte(keyIBCAssetPrefix + hex.EncodeToString(h[:]))
}

func feeAssetKey(h IBCPrefixed) []byte {
	return []byte(keyFeeAssetPrefix + hex.EncodeToString(h[:]))
}

// Registry reads and writes the asset mapping and fee-asset allow list
// against a kv.View/overlay. Every method takes the store explicitly so
// Registry itself stays stateless and safe to share across goroutines.
type Registry struct{}

// NewRegistry returns an asset Registry. It carries no state; it exists
// so call sites read the same way pkg/accounts and pkg/authority do
// ("asset.NewRegistry().PutIBCAsset(store,...)").
func NewRegistry() *Registry { return &Registry{} }

type assetRecord struct {
	Trace string `json:"trace"`
}

// PutIBCAsset records the trace-prefixed denom backing an IBC-prefixed
// hash, populated the first time a trace asset is seen.
func (Registry) PutIBCAsset(store Writer, trace string) (IBCPrefixed, error) {
	h := TraceToIBCPrefixed(trace)
	rec := assetRecord{Trace: trace}
	b, err := json.Marshal(rec)
	if err != nil {
		return h, fmt.Errorf("asset: marshal record: %w", err)
	}
	store.Put(ibcAssetKey(h), b)
	return h, nil
}

// HasIBCAsset reports whether h has a recorded trace-prefixed mapping.
func (Registry) HasIBCAsset(store Reader, h IBCPrefixed) (bool, error) {
	v, err := store.Get(ibcAssetKey(h))
	if err != nil {
		return false, fmt.Errorf("asset: get: %w", err)
	}
	return v != nil, nil
}

// MapIBCToTracePrefixedAsset resolves the trace-prefixed denom behind an
// IBC-prefixed hash.
func (Registry) MapIBCToTracePrefixedAsset(store Reader, h IBCPrefixed) (string, error) {
	v, err := store.Get(ibcAssetKey(h))
	if err != nil {
		return "", fmt.Errorf("asset: get: %w", err)
	}
	if v == nil {
		return "", fmt.Errorf("%w: %s", ErrAssetUnknown, h)
	}
	var rec assetRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return "", fmt.Errorf("asset: unmarshal record: %w", err)
	}
	return rec.Trace, nil
}

// PutAllowedFeeAsset adds h to the fee-asset allow list.
func (Registry) PutAllowedFeeAsset(store Writer, h IBCPrefixed) {
	store.Put(feeAssetKey(h), []byte{1})
}

// IsAllowedFeeAsset reports whether h may be used to pay fees.
func (Registry) IsAllowedFeeAsset(store Reader, h IBCPrefixed) (bool, error) {
	v, err := store.Get(feeAssetKey(h))
	if err != nil {
		return false, fmt.Errorf("asset: get: %w", err)
	}
	return v != nil, nil
}

// Reader is the read side of the kv view this package needs: satisfied
// by *kv.Store, *kv.Overlay, and *kv.Snapshot.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Writer is the write side: satisfied by *kv.Overlay.
type Writer interface {
	Put(key, value []byte)
}

var _ Reader = (*kv.Overlay)(nil)
var _ Reader = (*kv.Store)(nil)
var _ Reader = (*kv.Snapshot)(nil)
var _ Writer = (*kv.Overlay)(nil)

// ActionKind names the tagged action variants, used as
// the fee-schedule lookup key. It lives in pkg/asset (rather than
// pkg/actions) so the fee schedule has no dependency on the action
// package that, in turn, depends on pkg/asset for allow-list checks.
type ActionKind string

const (
	ActionTransfer             ActionKind = "Transfer"
	ActionRollupDataSubmission ActionKind = "RollupDataSubmission"
	ActionIcs20Withdrawal      ActionKind = "Ics20Withdrawal"
	ActionBridgeLock           ActionKind = "BridgeLock"
	ActionBridgeUnlock         ActionKind = "BridgeUnlock"
	ActionInitBridgeAccount    ActionKind = "InitBridgeAccount"
	ActionBridgeSudoChange     ActionKind = "BridgeSudoChange"
	ActionValidatorUpdate      ActionKind = "ValidatorUpdate"
	ActionFeeChange            ActionKind = "FeeChange"
	ActionSudoAddressChange    ActionKind = "SudoAddressChange"
	ActionMarketMapCreate      ActionKind = "MarketMapCreate"
	ActionMarketMapUpdate      ActionKind = "MarketMapUpdate"
	ActionMarketMapRemove      ActionKind = "MarketMapRemove"
	ActionIbcRelayMessage      ActionKind = "IbcRelayMessage"
)

// FeeSchedule is a per-action fee of base + multiplier*size.
type FeeSchedule struct {
	Base       sdkmath.Int
	Multiplier sdkmath.Int
}

// Fee computes the fee for an action of the given byte size.
func (f FeeSchedule) Fee(size int64) sdkmath.Int {
	return f.Base.Add(f.Multiplier.MulRaw(size))
}

// FeeSchedules is the in-memory per-action fee schedule table, used
// until an on-chain FeeChange overrides an entry.
type FeeSchedules struct {
	byKind map[ActionKind]FeeSchedule
}

// NewFeeSchedules builds a table with every known ActionKind defaulted
// to a zero fee; callers override entries with Set.
func NewFeeSchedules() *FeeSchedules {
	return &FeeSchedules{byKind: make(map[ActionKind]FeeSchedule)}
}

// Set installs the fee schedule for kind.
func (f *FeeSchedules) Set(kind ActionKind, schedule FeeSchedule) {
	f.byKind[kind] = schedule
}

// Get returns the fee schedule for kind, or the zero schedule (fee 0)
// if none was set.
func (f *FeeSchedules) Get(kind ActionKind) FeeSchedule {
	if s, ok := f.byKind[kind]; ok {
		return s
	}
	return FeeSchedule{Base: sdkmath.ZeroInt(), Multiplier: sdkmath.ZeroInt()}
}

const keyFeeSchedulePrefix = "fees/"

func feeScheduleKey(kind ActionKind) []byte {
	return []byte(keyFeeSchedulePrefix + string(kind))
}

type feeScheduleRecord struct {
	Base       string `json:"base"`
	Multiplier string `json:"multiplier"`
}

// PutFeeSchedule persists the fee schedule for kind under the "fees/*"
// key family, overriding whatever in-memory default
// FeeSchedules.Get would otherwise return. A FeeChange action writes
// here; the checked-transaction builder reads through GetFeeSchedule,
// falling back to the in-memory defaults only before any on-chain
// FeeChange has ever run.
func (Registry) PutFeeSchedule(store Writer, kind ActionKind, schedule FeeSchedule) error {
	rec := feeScheduleRecord{Base: schedule.Base.String(), Multiplier: schedule.Multiplier.String()}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("asset: marshal fee schedule: %w", err)
	}
	store.Put(feeScheduleKey(kind), b)
	return nil
}

// GetFeeSchedule reads the persisted fee schedule for kind, reporting
// found=false if none has ever been written.
func (Registry) GetFeeSchedule(store Reader, kind ActionKind) (schedule FeeSchedule, found bool, err error) {
	v, err := store.Get(feeScheduleKey(kind))
	if err != nil {
		return FeeSchedule{}, false, fmt.Errorf("asset: get fee schedule: %w", err)
	}
	if v == nil {
		return FeeSchedule{}, false, nil
	}
	var rec feeScheduleRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return FeeSchedule{}, false, fmt.Errorf("asset: unmarshal fee schedule: %w", err)
	}
	base, ok := sdkmath.NewIntFromString(rec.Base)
	if !ok {
		return FeeSchedule{}, false, fmt.Errorf("asset: corrupt fee schedule base %q", rec.Base)
	}
	mult, ok := sdkmath.NewIntFromString(rec.Multiplier)
	if !ok {
		return FeeSchedule{}, false, fmt.Errorf("asset: corrupt fee schedule multiplier %q", rec.Multiplier)
	}
	return FeeSchedule{Base: base, Multiplier: mult}, true, nil
}
