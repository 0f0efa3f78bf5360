// Copyright 2025 Certen Protocol
//
// Package accounts implements the accounts module: per-address nonces
// and per-(address,asset)
// balances with checked increase/decrease.
package accounts

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/conduit-stack/sequencer/pkg/address"
	"github.com/conduit-stack/sequencer/pkg/asset"
)

// ErrInsufficientFunds is returned when DecreaseBalance would underflow
// an account's balance.
var ErrInsufficientFunds = errors.New("accounts: insufficient funds")

const (
	keyNoncePrefix   = "account/nonce/"
	keyBalancePrefix = "account/balance/"
)

func nonceKey(addr address.Address) []byte {
	return []byte(keyNoncePrefix + hex.EncodeToString(addr.Bytes()))
}

func balanceKey(addr address.Address, h asset.IBCPrefixed) []byte {
	return []byte(keyBalancePrefix + hex.EncodeToString(addr.Bytes()) + "/" + hex.EncodeToString(h[:]))
}

// Reader is the read side of the kv view this package needs.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Writer is the write side this package needs.
type Writer interface {
	Put(key, value []byte)
}

// Ledger reads and writes nonces and balances against a kv view. Like
// asset.Registry, it carries no state of its own.
type Ledger struct{}

// NewLedger returns an accounts Ledger.
func NewLedger() *Ledger { return &Ledger{} }

// GetAccountNonce returns addr's current nonce, defaulting to 0 if
// never set.
func (Ledger) GetAccountNonce(store Reader, addr address.Address) (uint32, error) {
	v, err := store.Get(nonceKey(addr))
	if err != nil {
		return 0, fmt.Errorf("accounts: get nonce: %w", err)
	}
	if len(v) == 0 {
		return 0, nil
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("accounts: corrupt nonce record for %s", addr)
	}
	return binary.BigEndian.Uint32(v), nil
}

// PutAccountNonce sets addr's nonce.
func (Ledger) PutAccountNonce(store Writer, addr address.Address, nonce uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, nonce)
	store.Put(nonceKey(addr), b)
}

// GetAccountBalance returns addr's balance of the given asset,
// defaulting to zero.
func (Ledger) GetAccountBalance(store Reader, addr address.Address, h asset.IBCPrefixed) (sdkmath.Int, error) {
	v, err := store.Get(balanceKey(addr, h))
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("accounts: get balance: %w", err)
	}
	if len(v) == 0 {
		return sdkmath.ZeroInt(), nil
	}
	var balance sdkmath.Int
	if err := balance.Unmarshal(v); err != nil {
		return sdkmath.Int{}, fmt.Errorf("accounts: unmarshal balance: %w", err)
	}
	return balance, nil
}

func (Ledger) putAccountBalance(store Writer, addr address.Address, h asset.IBCPrefixed, balance sdkmath.Int) error {
	b, err := balance.Marshal()
	if err != nil {
		return fmt.Errorf("accounts: marshal balance: %w", err)
	}
	store.Put(balanceKey(addr, h), b)
	return nil
}

// IncreaseBalance credits addr's balance of asset h by amount.
func (l Ledger) IncreaseBalance(store ReadWriter, addr address.Address, h asset.IBCPrefixed, amount sdkmath.Int) error {
	current, err := l.GetAccountBalance(store, addr, h)
	if err != nil {
		return err
	}
	return l.putAccountBalance(store, addr, h, current.Add(amount))
}

// DecreaseBalance debits addr's balance of asset h by amount, returning
// ErrInsufficientFunds if that would underflow.
func (l Ledger) DecreaseBalance(store ReadWriter, addr address.Address, h asset.IBCPrefixed, amount sdkmath.Int) error {
	current, err := l.GetAccountBalance(store, addr, h)
	if err != nil {
		return err
	}
	if current.LT(amount) {
		return fmt.Errorf("%w: account %s has %s of %s, need %s", ErrInsufficientFunds, addr, current, h, amount)
	}
	return l.putAccountBalance(store, addr, h, current.Sub(amount))
}

// ReadWriter is the combined read/write view IncreaseBalance and
// DecreaseBalance need: satisfied by *kv.Overlay.
type ReadWriter interface {
	Reader
	Writer
}
