// Copyright 2025 Certen Protocol
//
// Package bridge implements the bridge module: bridge account
// registry (rollup id, sudo, withdrawer) and
// dedup of withdrawal events by (bridge_address, rollup_event_id).
package bridge

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/conduit-stack/sequencer/pkg/address"
)

// ErrBridgeAccountNotFound is returned when a bridge lookup targets an
// address with no registered bridge account.
var ErrBridgeAccountNotFound = errors.New("bridge: account not found")

// ErrDuplicateWithdrawalEvent is returned when a withdrawal event has
// already been recorded for a bridge account.
var ErrDuplicateWithdrawalEvent = errors.New("bridge: duplicate withdrawal event")

const (
	keyRollupIDPrefix    = "bridge/rollup_id/"
	keySudoPrefix        = "bridge/sudo/"
	keyWithdrawerPrefix  = "bridge/withdrawer/"
	keyWithdrawalEventPrefix = "bridge/withdrawal_event/"
)

func rollupIDKey(bridgeAddr address.Address) []byte {
	return []byte(keyRollupIDPrefix + hex.EncodeToString(bridgeAddr.Bytes()))
}

func sudoKey(bridgeAddr address.Address) []byte {
	return []byte(keySudoPrefix + hex.EncodeToString(bridgeAddr.Bytes()))
}

func withdrawerKey(bridgeAddr address.Address) []byte {
	return []byte(keyWithdrawerPrefix + hex.EncodeToString(bridgeAddr.Bytes()))
}

func withdrawalEventKey(bridgeAddr address.Address, eventID string) []byte {
	return []byte(keyWithdrawalEventPrefix + hex.EncodeToString(bridgeAddr.Bytes()) + "/" + eventID)
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

// Registry reads and writes bridge account records. It carries no
// state of its own.
type Registry struct{}

// NewRegistry returns a bridge Registry.
func NewRegistry() *Registry { return &Registry{} }

// PutBridgeAccountRollupID registers bridgeAddr as a bridge account for
// rollupID.
func (Registry) PutBridgeAccountRollupID(store Writer, bridgeAddr address.Address, rollupID []byte) {
	store.Put(rollupIDKey(bridgeAddr), rollupID)
}

// GetBridgeAccountRollupID returns the rollup id a bridge account was
// registered under.
func (Registry) GetBridgeAccountRollupID(store Reader, bridgeAddr address.Address) ([]byte, error) {
	v, err := store.Get(rollupIDKey(bridgeAddr))
	if err != nil {
		return nil, fmt.Errorf("bridge: get rollup id: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrBridgeAccountNotFound, bridgeAddr)
	}
	return v, nil
}

// IsBridgeAccount reports whether addr has a registered rollup id.
func (Registry) IsBridgeAccount(store Reader, addr address.Address) (bool, error) {
	v, err := store.Get(rollupIDKey(addr))
	if err != nil {
		return false, fmt.Errorf("bridge: get rollup id: %w", err)
	}
	return v != nil, nil
}

// PutBridgeAccountSudoAddress sets the sudo address for a bridge account.
func (Registry) PutBridgeAccountSudoAddress(store Writer, bridgeAddr, sudoAddr address.Address) {
	store.Put(sudoKey(bridgeAddr), []byte(sudoAddr.String()))
}

// GetBridgeAccountSudoAddress returns the sudo address for a bridge account.
func (Registry) GetBridgeAccountSudoAddress(store Reader, bridgeAddr address.Address) (address.Address, error) {
	v, err := store.Get(sudoKey(bridgeAddr))
	if err != nil {
		return address.Address{}, fmt.Errorf("bridge: get sudo address: %w", err)
	}
	if v == nil {
		return address.Address{}, fmt.Errorf("%w: %s", ErrBridgeAccountNotFound, bridgeAddr)
	}
	return address.Decode(string(v))
}

// PutBridgeAccountWithdrawerAddress sets the authorized withdrawer for a
// bridge account.
func (Registry) PutBridgeAccountWithdrawerAddress(store Writer, bridgeAddr, withdrawerAddr address.Address) {
	store.Put(withdrawerKey(bridgeAddr), []byte(withdrawerAddr.String()))
}

// GetBridgeAccountWithdrawerAddress returns the authorized withdrawer
// for a bridge account.
func (Registry) GetBridgeAccountWithdrawerAddress(store Reader, bridgeAddr address.Address) (address.Address, error) {
	v, err := store.Get(withdrawerKey(bridgeAddr))
	if err != nil {
		return address.Address{}, fmt.Errorf("bridge: get withdrawer address: %w", err)
	}
	if v == nil {
		return address.Address{}, fmt.Errorf("%w: %s", ErrBridgeAccountNotFound, bridgeAddr)
	}
	return address.Decode(string(v))
}

// PutWithdrawalEventRollupBlockNumber records that (bridgeAddr, eventID)
// occurred at rollupBlockNumber, rejecting a repeat of an event already
// seen and citing the previously recorded block number.
func (Registry) PutWithdrawalEventRollupBlockNumber(store ReadWriter, bridgeAddr address.Address, eventID string, rollupBlockNumber uint64) error {
	key := withdrawalEventKey(bridgeAddr, eventID)
	existing, err := store.Get(key)
	if err != nil {
		return fmt.Errorf("bridge: get withdrawal event: %w", err)
	}
	if existing != nil {
		prev := binary.BigEndian.Uint64(existing)
		return fmt.Errorf("%w: (%s, %s) already recorded at rollup block %d", ErrDuplicateWithdrawalEvent, bridgeAddr, eventID, prev)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, rollupBlockNumber)
	store.Put(key, b)
	return nil
}
