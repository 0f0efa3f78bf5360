// Copyright 2025 Certen Protocol
//
// Package actions implements the tagged action variants and their
// handlers: a two-phase CheckStateless/CheckAndExecute split,
// dispatched by action kind, with
// explicit balance-mutation ordering (escrow before burn, fee deduction
// before payload effects) and sentinel errors identifying the failure
// cause.
//
// Each action kind is one small struct implementing the Action
// interface; dispatch is by kind tag, never reflection.
package actions

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/authority"
	"github.com/conduit-stack/sequencer/pkg/bridge"
)

// Sentinel errors identifying why an action was rejected.
var (
	ErrInvalidChainID  = errors.New("actions: invalid chain id")
	ErrExceedsMaxSize  = errors.New("actions: exceeds max size")
	ErrMalformedAction = errors.New("actions: malformed action")
	ErrInternal        = errors.New("actions: internal error")
)

// Store is the read/write/delete view action handlers mutate state
// through; satisfied by *kv.Overlay.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte)
	Delete(key []byte)
}

// Context carries the per-transaction values an action needs that
// aren't part of the action itself: the signer, chain metadata, and
// the fee the checked-transaction builder already computed for this
// action. The fee asset itself is a parameter of each fee-payable
// action, not of Context.
type Context struct {
	Signer   address.Address
	ChainID  string
	Height   uint64
	Upgraded bool // whether the authority module's post-upgrade format is active
	Fee      sdkmath.Int
}

// Deps bundles the module registries action handlers read and write
// through. Each field carries no state of its own (see each package's
// Registry/Module/Ledger type); Deps exists so a single value threads
// through every handler call instead of five separate parameters.
type Deps struct {
	Accounts          *accounts.Ledger
	Assets            *asset.Registry
	Authority         *authority.Module
	Bridge            *bridge.Registry
	BlockUpdates      *authority.BlockUpdates
	MarketAuthorities []address.Address
	IBC               IBCEmitter
}

// IBCEmitter is the narrow interface Ics20Withdrawal and IbcRelayMessage
// hand off to once their own state mutations are done. The IBC
// component itself is an external collaborator and is not implemented
// here.
type IBCEmitter interface {
	EmitWithdrawalPacket(ctx Context, w Ics20Withdrawal) error
	EmitRelayMessage(ctx Context, packet []byte) error
}

// NoopIBCEmitter discards emissions; useful for tests and for running
// the sequencer without a wired IBC component.
type NoopIBCEmitter struct{}

func (NoopIBCEmitter) EmitWithdrawalPacket(Context, Ics20Withdrawal) error { return nil }
func (NoopIBCEmitter) EmitRelayMessage(Context, []byte) error              { return nil }

// Action is the tagged sum type over every action kind: one implementation
// per action kind, each with a pure stateless check and a stateful
// check-and-execute run inside the transaction's overlay.
type Action interface {
	Kind() asset.ActionKind
	CheckStateless() error
	CheckAndExecute(store Store, ctx Context, deps Deps) error
}

// resolveFeeAsset validates that feeAssetTrace is on the fee-asset
// allow list, a repeated first step across most handlers.
func resolveFeeAsset(store Store, deps Deps, feeAssetTrace string) (asset.IBCPrefixed, error) {
	h := asset.TraceToIBCPrefixed(feeAssetTrace)
	allowed, err := deps.Assets.IsAllowedFeeAsset(store, h)
	if err != nil {
		return h, err
	}
	if !allowed {
		return h, fmt.Errorf("actions: fee asset %q not allowed", feeAssetTrace)
	}
	return h, nil
}

func debitFee(store Store, deps Deps, ctx Context, payer address.Address, feeAssetTrace string) error {
	if ctx.Fee.IsNil() || ctx.Fee.IsZero() {
		return nil
	}
	feeAsset, err := resolveFeeAsset(store, deps, feeAssetTrace)
	if err != nil {
		return err
	}
	return deps.Accounts.DecreaseBalance(store, payer, feeAsset, ctx.Fee)
}

// --- Transfer ---

// Transfer moves amount of asset from the signer to To, then debits the
// fee from the signer.
type Transfer struct {
	To       address.Address
	Asset    string // trace-prefixed denom
	Amount   sdkmath.Int
	FeeAsset string // trace-prefixed denom the fee is paid in
}

func (Transfer) Kind() asset.ActionKind { return asset.ActionTransfer }

func (t Transfer) CheckStateless() error {
	if t.Amount.IsNil() || !t.Amount.IsPositive() {
		return fmt.Errorf("%w: transfer amount must be positive", ErrMalformedAction)
	}
	return nil
}

func (t Transfer) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	// Fee deduction comes before the payload effects so a signer who
	// cannot cover the fee never moves the principal.
	if err := debitFee(store, deps, ctx, ctx.Signer, t.FeeAsset); err != nil {
		return err
	}
	h, err := ensureAssetMapped(store, deps, t.Asset)
	if err != nil {
		return err
	}
	if err := deps.Accounts.DecreaseBalance(store, ctx.Signer, h, t.Amount); err != nil {
		return err
	}
	return deps.Accounts.IncreaseBalance(store, t.To, h, t.Amount)
}

// ensureAssetMapped records the trace<->IBC-prefixed mapping the first
// time a trace denom is seen.
func ensureAssetMapped(store Store, deps Deps, trace string) (asset.IBCPrefixed, error) {
	h := asset.TraceToIBCPrefixed(trace)
	has, err := deps.Assets.HasIBCAsset(store, h)
	if err != nil {
		return h, err
	}
	if !has {
		return deps.Assets.PutIBCAsset(store, trace)
	}
	return h, nil
}

// --- ValidatorUpdate ---

// ValidatorUpdate stages a validator-set change; the signer must be the
// sudo address.
type ValidatorUpdate struct {
	Validator authority.Validator
}

func (ValidatorUpdate) Kind() asset.ActionKind { return asset.ActionValidatorUpdate }

func (ValidatorUpdate) CheckStateless() error { return nil }

func (v ValidatorUpdate) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if err := deps.Authority.RequireSudo(store, ctx.Signer); err != nil {
		return err
	}
	if err := deps.Authority.ApplyValidatorUpdate(store, ctx.Upgraded, v.Validator); err != nil {
		return err
	}
	deps.BlockUpdates.Stage(v.Validator)
	return nil
}

// --- SudoAddressChange ---

// SudoAddressChange reassigns the chain's sudo address; the signer must
// be the current sudo address.
type SudoAddressChange struct {
	NewSudoAddress address.Address
}

func (SudoAddressChange) Kind() asset.ActionKind { return asset.ActionSudoAddressChange }

func (SudoAddressChange) CheckStateless() error { return nil }

func (s SudoAddressChange) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if err := deps.Authority.RequireSudo(store, ctx.Signer); err != nil {
		return err
	}
	deps.Authority.PutSudoAddress(store, s.NewSudoAddress)
	return nil
}

// --- FeeChange ---

// FeeChange overrides the persisted fee schedule for one action kind;
// the signer must be the sudo address.
type FeeChange struct {
	TargetKind asset.ActionKind
	Schedule   asset.FeeSchedule
}

func (FeeChange) Kind() asset.ActionKind { return asset.ActionFeeChange }

func (f FeeChange) CheckStateless() error {
	if f.Schedule.Base.IsNil() || f.Schedule.Multiplier.IsNil() {
		return fmt.Errorf("%w: fee schedule fields must be set", ErrMalformedAction)
	}
	return nil
}

func (f FeeChange) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if err := deps.Authority.RequireSudo(store, ctx.Signer); err != nil {
		return err
	}
	return deps.Assets.PutFeeSchedule(store, f.TargetKind, f.Schedule)
}

// --- InitBridgeAccount ---

// InitBridgeAccount registers the signer as a bridge account.
type InitBridgeAccount struct {
	RollupID          []byte
	SudoAddress       address.Address
	WithdrawerAddress address.Address
	FeeAsset          string
}

func (InitBridgeAccount) Kind() asset.ActionKind { return asset.ActionInitBridgeAccount }

func (i InitBridgeAccount) CheckStateless() error {
	if len(i.RollupID) == 0 {
		return fmt.Errorf("%w: rollup id must be set", ErrMalformedAction)
	}
	return nil
}

func (i InitBridgeAccount) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	already, err := deps.Bridge.IsBridgeAccount(store, ctx.Signer)
	if err != nil {
		return err
	}
	if already {
		return fmt.Errorf("actions: %s is already a bridge account", ctx.Signer)
	}
	if err := debitFee(store, deps, ctx, ctx.Signer, i.FeeAsset); err != nil {
		return err
	}
	deps.Bridge.PutBridgeAccountRollupID(store, ctx.Signer, i.RollupID)
	deps.Bridge.PutBridgeAccountSudoAddress(store, ctx.Signer, i.SudoAddress)
	deps.Bridge.PutBridgeAccountWithdrawerAddress(store, ctx.Signer, i.WithdrawerAddress)
	return nil
}

// --- BridgeSudoChange ---

// BridgeSudoChange reassigns a bridge account's sudo address; the
// signer must be the bridge's current sudo address.
type BridgeSudoChange struct {
	BridgeAddress  address.Address
	NewSudoAddress address.Address
	FeeAsset       string
}

func (BridgeSudoChange) Kind() asset.ActionKind { return asset.ActionBridgeSudoChange }

func (BridgeSudoChange) CheckStateless() error { return nil }

func (b BridgeSudoChange) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	sudo, err := deps.Bridge.GetBridgeAccountSudoAddress(store, b.BridgeAddress)
	if err != nil {
		return err
	}
	if !sudo.Equal(ctx.Signer) {
		return fmt.Errorf("actions: signer is not the bridge account's sudo address")
	}
	if err := debitFee(store, deps, ctx, ctx.Signer, b.FeeAsset); err != nil {
		return err
	}
	deps.Bridge.PutBridgeAccountSudoAddress(store, b.BridgeAddress, b.NewSudoAddress)
	return nil
}

// --- BridgeLock ---

// BridgeLock deposits funds from the signer into a bridge account. The
// signer's fee is debited first, then the amount moves from the signer
// to the bridge.
type BridgeLock struct {
	BridgeAddress address.Address
	Asset         string
	Amount        sdkmath.Int
	FeeAsset      string
}

func (BridgeLock) Kind() asset.ActionKind { return asset.ActionBridgeLock }

func (b BridgeLock) CheckStateless() error {
	if b.Amount.IsNil() || !b.Amount.IsPositive() {
		return fmt.Errorf("%w: bridge lock amount must be positive", ErrMalformedAction)
	}
	return nil
}

func (b BridgeLock) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if err := debitFee(store, deps, ctx, ctx.Signer, b.FeeAsset); err != nil {
		return err
	}
	h, err := ensureAssetMapped(store, deps, b.Asset)
	if err != nil {
		return err
	}
	if err := deps.Accounts.DecreaseBalance(store, ctx.Signer, h, b.Amount); err != nil {
		return err
	}
	return deps.Accounts.IncreaseBalance(store, b.BridgeAddress, h, b.Amount)
}

// --- BridgeUnlock ---

// BridgeUnlock releases funds from a bridge account to To; the signer
// must be the bridge's registered withdrawer.
type BridgeUnlock struct {
	BridgeAddress address.Address
	To            address.Address
	Asset         string
	Amount        sdkmath.Int
	FeeAsset      string
}

func (BridgeUnlock) Kind() asset.ActionKind { return asset.ActionBridgeUnlock }

func (b BridgeUnlock) CheckStateless() error {
	if b.Amount.IsNil() || !b.Amount.IsPositive() {
		return fmt.Errorf("%w: bridge unlock amount must be positive", ErrMalformedAction)
	}
	return nil
}

func (b BridgeUnlock) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	withdrawer, err := deps.Bridge.GetBridgeAccountWithdrawerAddress(store, b.BridgeAddress)
	if err != nil {
		return err
	}
	if !withdrawer.Equal(ctx.Signer) {
		return fmt.Errorf("actions: signer is not the bridge account's withdrawer")
	}
	if err := debitFee(store, deps, ctx, b.BridgeAddress, b.FeeAsset); err != nil {
		return err
	}
	h, err := ensureAssetMapped(store, deps, b.Asset)
	if err != nil {
		return err
	}
	if err := deps.Accounts.DecreaseBalance(store, b.BridgeAddress, h, b.Amount); err != nil {
		return err
	}
	return deps.Accounts.IncreaseBalance(store, b.To, h, b.Amount)
}

// --- Ics20Withdrawal ---

// Ics20WithdrawalMemo is the parsed form of the bridge withdrawal memo.
type Ics20WithdrawalMemo struct {
	Memo                    string
	RollupBlockNumber       uint64
	RollupReturnAddress     []byte
	RollupWithdrawalEventID string
}

// Ics20Withdrawal withdraws funds out over IBC, optionally on behalf of
// a bridge account.
type Ics20Withdrawal struct {
	Amount        sdkmath.Int
	Denom         string // trace-prefixed
	TimeoutTime   uint64
	ReturnAddress address.Address
	BridgeAddress *address.Address
	Memo          *Ics20WithdrawalMemo
	SourcePort    string
	SourceChannel string
	FeeAsset      string
}

func (Ics20Withdrawal) Kind() asset.ActionKind { return asset.ActionIcs20Withdrawal }

func (w Ics20Withdrawal) CheckStateless() error {
	if w.Amount.IsNil() || !w.Amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrMalformedAction)
	}
	if w.TimeoutTime == 0 {
		return fmt.Errorf("%w: timeout_time must be nonzero", ErrMalformedAction)
	}
	if w.BridgeAddress != nil {
		if w.Memo == nil {
			return fmt.Errorf("%w: bridge withdrawal requires a memo", ErrMalformedAction)
		}
		if w.Memo.RollupBlockNumber == 0 {
			return fmt.Errorf("%w: memo rollup_block_number must be positive", ErrMalformedAction)
		}
		if l := len(w.Memo.RollupReturnAddress); l == 0 || l > 256 {
			return fmt.Errorf("%w: memo rollup_return_address must be 1..=256 bytes", ErrMalformedAction)
		}
		if l := len(w.Memo.RollupWithdrawalEventID); l == 0 || l > 256 {
			return fmt.Errorf("%w: memo rollup_withdrawal_event_id must be 1..=256 bytes", ErrMalformedAction)
		}
	}
	return nil
}

func (w Ics20Withdrawal) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if err := debitFee(store, deps, ctx, ctx.Signer, w.FeeAsset); err != nil {
		return err
	}

	var debitFrom address.Address

	if w.BridgeAddress != nil {
		withdrawer, err := deps.Bridge.GetBridgeAccountWithdrawerAddress(store, *w.BridgeAddress)
		if err != nil {
			return err
		}
		if !withdrawer.Equal(ctx.Signer) {
			return fmt.Errorf("actions: signer is not the bridge account's withdrawer")
		}
		if err := deps.Bridge.PutWithdrawalEventRollupBlockNumber(store, *w.BridgeAddress, w.Memo.RollupWithdrawalEventID, w.Memo.RollupBlockNumber); err != nil {
			return err
		}
		debitFrom = *w.BridgeAddress
	} else {
		isBridge, err := deps.Bridge.IsBridgeAccount(store, ctx.Signer)
		if err != nil {
			return err
		}
		if isBridge {
			return fmt.Errorf("actions: a bridge account must set bridge_address on its own withdrawal")
		}
		debitFrom = ctx.Signer
	}

	h, err := ensureAssetMapped(store, deps, w.Denom)
	if err != nil {
		return err
	}
	if err := deps.Accounts.DecreaseBalance(store, debitFrom, h, w.Amount); err != nil {
		return err
	}

	if isOurs(w.Denom, w.SourcePort, w.SourceChannel) {
		escrowAddr, escrowErr := escrowPseudoAddress(w.SourceChannel)
		if escrowErr != nil {
			return escrowErr
		}
		if err := deps.Accounts.IncreaseBalance(store, escrowAddr, h, w.Amount); err != nil {
			return err
		}
	}

	return deps.IBC.EmitWithdrawalPacket(ctx, w)
}

// isOurs reports whether denom's trace prefix does NOT lead with
// (sourcePort, sourceChannel), i.e. it originates on this chain, so
// the withdrawal escrows rather than simply burns.
func isOurs(denom, sourcePort, sourceChannel string) bool {
	wantPrefix := sourcePort + "/" + sourceChannel + "/"
	return len(denom) < len(wantPrefix) || denom[:len(wantPrefix)] != wantPrefix
}

// escrowPseudoAddress derives a stable per-channel address to hold
// escrowed balances under, the same way the accounts ledger holds any
// other balance, by (address, asset) key, without introducing a
// second storage layout just for escrow.
func escrowPseudoAddress(channel string) (address.Address, error) {
	raw := make([]byte, address.Size)
	copy(raw, []byte("escrow/"+channel))
	return address.New("escrow", raw)
}

// --- MarketMap ---

const keyMarketMapLastUpdatedHeight = "marketmap/last_updated_height"

func marketMapKey(marketKey string) []byte {
	return []byte("marketmap/market/" + marketKey)
}

func isMarketAuthority(deps Deps, signer address.Address) bool {
	for _, a := range deps.MarketAuthorities {
		if a.Equal(signer) {
			return true
		}
	}
	return false
}

func putLastUpdatedHeight(store Store, height uint64) {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(height >> (56 - 8*i))
	}
	store.Put([]byte(keyMarketMapLastUpdatedHeight), b)
}

// MarketMapCreate creates or overwrites one market definition; the
// signer must be a market authority.
type MarketMapCreate struct {
	Key     string
	Payload []byte
}

func (MarketMapCreate) Kind() asset.ActionKind { return asset.ActionMarketMapCreate }

func (c MarketMapCreate) CheckStateless() error {
	if c.Key == "" {
		return fmt.Errorf("%w: market key must be set", ErrMalformedAction)
	}
	return nil
}

func (c MarketMapCreate) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if !isMarketAuthority(deps, ctx.Signer) {
		return fmt.Errorf("actions: signer is not a market authority")
	}
	store.Put(marketMapKey(c.Key), c.Payload)
	putLastUpdatedHeight(store, ctx.Height)
	return nil
}

// MarketMapUpdate updates an existing market definition; same
// authorization as MarketMapCreate.
type MarketMapUpdate struct {
	Key     string
	Payload []byte
}

func (MarketMapUpdate) Kind() asset.ActionKind { return asset.ActionMarketMapUpdate }

func (u MarketMapUpdate) CheckStateless() error {
	if u.Key == "" {
		return fmt.Errorf("%w: market key must be set", ErrMalformedAction)
	}
	return nil
}

func (u MarketMapUpdate) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if !isMarketAuthority(deps, ctx.Signer) {
		return fmt.Errorf("actions: signer is not a market authority")
	}
	store.Put(marketMapKey(u.Key), u.Payload)
	putLastUpdatedHeight(store, ctx.Height)
	return nil
}

// MarketMapRemove removes a set of markets; unknown keys are silently
// skipped, making the action idempotent.
type MarketMapRemove struct {
	Keys []string
}

func (MarketMapRemove) Kind() asset.ActionKind { return asset.ActionMarketMapRemove }

func (MarketMapRemove) CheckStateless() error { return nil }

func (r MarketMapRemove) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	if !isMarketAuthority(deps, ctx.Signer) {
		return fmt.Errorf("actions: signer is not a market authority")
	}
	for _, k := range r.Keys {
		store.Delete(marketMapKey(k))
	}
	putLastUpdatedHeight(store, ctx.Height)
	return nil
}

// --- RollupDataSubmission ---

// RollupDataSubmission carries opaque rollup payload bytes destined for
// a canonical data item in the block; it has no state
// mutation of its own beyond the fee debit.
type RollupDataSubmission struct {
	RollupID []byte
	Data     []byte
	FeeAsset string
}

func (RollupDataSubmission) Kind() asset.ActionKind { return asset.ActionRollupDataSubmission }

func (r RollupDataSubmission) CheckStateless() error {
	if len(r.RollupID) == 0 {
		return fmt.Errorf("%w: rollup id must be set", ErrMalformedAction)
	}
	return nil
}

func (r RollupDataSubmission) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	return debitFee(store, deps, ctx, ctx.Signer, r.FeeAsset)
}

// --- IbcRelayMessage ---

// IbcRelayMessage forwards an opaque IBC packet to the IBC component.
type IbcRelayMessage struct {
	Packet []byte
}

func (IbcRelayMessage) Kind() asset.ActionKind { return asset.ActionIbcRelayMessage }

func (m IbcRelayMessage) CheckStateless() error {
	if len(m.Packet) == 0 {
		return fmt.Errorf("%w: packet must be set", ErrMalformedAction)
	}
	return nil
}

func (m IbcRelayMessage) CheckAndExecute(store Store, ctx Context, deps Deps) error {
	return deps.IBC.EmitRelayMessage(ctx, m.Packet)
}
