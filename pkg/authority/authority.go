// Copyright 2025 Certen Protocol
//
// Package authority implements the authority module: the sudo
// address, the validator set, and the
// per-block staged validator updates handed back to consensus at
// end-of-block.
//
// Upgrade-aware storage: before the chain's validator-set migration
// height, the validator set lives as one aggregated record; at and
// after that height, it lives as per-validator records plus a count, and
// a one-time migration rewrites the former into the latter the first
// time the module is touched at or past the upgrade height.
package authority

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conduit-stack/sequencer/pkg/address"
)

// ErrUnauthorized is returned when a caller other than the sudo address
// attempts a sudo-gated operation.
var ErrUnauthorized = errors.New("authority: unauthorized")

// ErrValidatorMissing is returned when an update targets a validator
// that doesn't exist in the current set.
var ErrValidatorMissing = errors.New("authority: validator missing")

// ErrCannotRemoveOnlyValidator guards against ValidatorUpdate leaving
// the chain with zero validators.
var ErrCannotRemoveOnlyValidator = errors.New("authority: cannot remove the only validator")

const (
	keySudoAddress       = "authority/sudo_address"
	keyValidatorsAggPre  = "authority/validators_aggregate"
	keyValidatorPrefix   = "authority/validator/"
	keyValidatorCount    = "authority/validator_count"
	keyMigrationMarker   = "authority/migrated"
)

func validatorKey(pubKey []byte) []byte {
	return []byte(keyValidatorPrefix + hex.EncodeToString(pubKey))
}

// Validator is a single CometBFT-style validator entry: an ed25519
// public key and its voting power. Power 0 in a ValidatorUpdate means
// "remove this validator".
type Validator struct {
	PubKey []byte `json:"pub_key"`
	Power  int64  `json:"power"`
}

// Reader is the read side of the kv view this package needs.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Writer is the write side this package needs.
type Writer interface {
	Put(key, value []byte)
}

// ReadWriter combines Reader and Writer, satisfied by *kv.Overlay.
type ReadWriter interface {
	Reader
	Writer
}

// Module reads and writes sudo/validator state. Like the other modules
// it carries no state of its own; BlockUpdates (below) carries the
// ephemeral per-block staging queue instead.
type Module struct{}

// NewModule returns an authority Module.
func NewModule() *Module { return &Module{} }

// GetSudoAddress returns the chain's sudo address.
func (Module) GetSudoAddress(store Reader) (address.Address, error) {
	v, err := store.Get([]byte(keySudoAddress))
	if err != nil {
		return address.Address{}, fmt.Errorf("authority: get sudo address: %w", err)
	}
	if v == nil {
		return address.Address{}, fmt.Errorf("authority: sudo address not set")
	}
	return address.Decode(string(v))
}

// PutSudoAddress sets the chain's sudo address.
func (Module) PutSudoAddress(store Writer, addr address.Address) {
	store.Put([]byte(keySudoAddress), []byte(addr.String()))
}

// RequireSudo returns ErrUnauthorized if signer isn't the sudo address.
func (m Module) RequireSudo(store Reader, signer address.Address) error {
	sudo, err := m.GetSudoAddress(store)
	if err != nil {
		return err
	}
	if !sudo.Equal(signer) {
		return fmt.Errorf("%w: signer %s is not the sudo address", ErrUnauthorized, signer)
	}
	return nil
}

// --- pre-upgrade: single aggregated validator-set record ---

func (Module) loadAggregate(store Reader) ([]Validator, error) {
	v, err := store.Get([]byte(keyValidatorsAggPre))
	if err != nil {
		return nil, fmt.Errorf("authority: get aggregate validator set: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	var set []Validator
	if err := json.Unmarshal(v, &set); err != nil {
		return nil, fmt.Errorf("authority: unmarshal aggregate validator set: %w", err)
	}
	return set, nil
}

func (Module) storeAggregate(store Writer, set []Validator) error {
	b, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("authority: marshal aggregate validator set: %w", err)
	}
	store.Put([]byte(keyValidatorsAggPre), b)
	return nil
}

// --- post-upgrade: per-validator records + a count ---

func (Module) getCount(store Reader) (uint32, error) {
	v, err := store.Get([]byte(keyValidatorCount))
	if err != nil {
		return 0, fmt.Errorf("authority: get validator count: %w", err)
	}
	if len(v) == 0 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(v), nil
}

func (Module) putCount(store Writer, count uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, count)
	store.Put([]byte(keyValidatorCount), b)
}

func (Module) getValidatorPostUpgrade(store Reader, pubKey []byte) (*Validator, error) {
	v, err := store.Get(validatorKey(pubKey))
	if err != nil {
		return nil, fmt.Errorf("authority: get validator: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	var val Validator
	if err := json.Unmarshal(v, &val); err != nil {
		return nil, fmt.Errorf("authority: unmarshal validator: %w", err)
	}
	return &val, nil
}

func (Module) putValidatorPostUpgrade(store Writer, val Validator) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("authority: marshal validator: %w", err)
	}
	store.Put(validatorKey(val.PubKey), b)
	return nil
}

func (Module) removeValidatorPostUpgrade(store interface {
	Writer
	Delete(key []byte)
}, pubKey []byte) {
	store.Delete(validatorKey(pubKey))
}

// GetValidatorCount returns the number of validators, reading from
// whichever storage format is active.
func (m Module) GetValidatorCount(store Reader, upgraded bool) (uint32, error) {
	if upgraded {
		return m.getCount(store)
	}
	set, err := m.loadAggregate(store)
	if err != nil {
		return 0, err
	}
	return uint32(len(set)), nil
}

// IsMigrated reports whether the one-time pre-to-post-upgrade migration
// has already run.
func (Module) IsMigrated(store Reader) (bool, error) {
	v, err := store.Get([]byte(keyMigrationMarker))
	if err != nil {
		return false, fmt.Errorf("authority: get migration marker: %w", err)
	}
	return v != nil, nil
}

// MigrateAtUpgradeHeight rewrites the aggregated pre-upgrade validator
// set into per-validator records plus a count, exactly once. It is safe
// to call on every block at or past the upgrade height; subsequent
// calls are no-ops once IsMigrated is true.
func (m Module) MigrateAtUpgradeHeight(store ReadWriter) error {
	migrated, err := m.IsMigrated(store)
	if err != nil {
		return err
	}
	if migrated {
		return nil
	}
	set, err := m.loadAggregate(store)
	if err != nil {
		return err
	}
	for _, v := range set {
		if err := m.putValidatorPostUpgrade(store, v); err != nil {
			return err
		}
	}
	m.putCount(store, uint32(len(set)))
	store.Put([]byte(keyMigrationMarker), []byte{1})
	return nil
}

// ApplyValidatorUpdate applies a single validator update to whichever
// storage format is active, enforcing that the update never removes
// the only validator or a nonexistent one.
func (m Module) ApplyValidatorUpdate(store interface {
	ReadWriter
	Delete(key []byte)
}, upgraded bool, update Validator) error {
	if upgraded {
		return m.applyPostUpgrade(store, update)
	}
	return m.applyPreUpgrade(store, update)
}

func (m Module) applyPreUpgrade(store ReadWriter, update Validator) error {
	set, err := m.loadAggregate(store)
	if err != nil {
		return err
	}
	idx := indexOf(set, update.PubKey)

	if update.Power == 0 {
		if idx < 0 {
			return fmt.Errorf("%w: %x", ErrValidatorMissing, update.PubKey)
		}
		if len(set) == 1 {
			return ErrCannotRemoveOnlyValidator
		}
		set = append(set[:idx], set[idx+1:]...)
		return m.storeAggregate(store, set)
	}

	if idx >= 0 {
		set[idx].Power = update.Power
	} else {
		set = append(set, update)
	}
	return m.storeAggregate(store, set)
}

func (m Module) applyPostUpgrade(store interface {
	ReadWriter
	Delete(key []byte)
}, update Validator) error {
	existing, err := m.getValidatorPostUpgrade(store, update.PubKey)
	if err != nil {
		return err
	}
	count, err := m.getCount(store)
	if err != nil {
		return err
	}

	if update.Power == 0 {
		if existing == nil {
			return fmt.Errorf("%w: %x", ErrValidatorMissing, update.PubKey)
		}
		if count <= 1 {
			return ErrCannotRemoveOnlyValidator
		}
		m.removeValidatorPostUpgrade(store, update.PubKey)
		m.putCount(store, count-1)
		return nil
	}

	if existing == nil {
		count++
	}
	if err := m.putValidatorPostUpgrade(store, update); err != nil {
		return err
	}
	m.putCount(store, count)
	return nil
}

func indexOf(set []Validator, pubKey []byte) int {
	for i, v := range set {
		if hex.EncodeToString(v.PubKey) == hex.EncodeToString(pubKey) {
			return i
		}
	}
	return -1
}

// BlockUpdates is the ephemeral per-block staging queue for validator
// updates: every ValidatorUpdate action appends here during block
// execution, and the end-of-block phase drains it into the ABCI
// response and clears it on commit. It holds no
// persisted state; a fresh BlockUpdates is used per height.
type BlockUpdates struct {
	staged []Validator
}

// NewBlockUpdates returns an empty per-block staging queue.
func NewBlockUpdates() *BlockUpdates {
	return &BlockUpdates{}
}

// Stage appends an update to the queue.
func (b *BlockUpdates) Stage(update Validator) {
	b.staged = append(b.staged, update)
}

// Drain returns the staged updates and clears the queue.
func (b *BlockUpdates) Drain() []Validator {
	out := b.staged
	b.staged = nil
	return out
}
