// Copyright 2025 Certen Protocol

package kv

import (
	dbm "github.com/cometbft/cometbft-db"
)

// DBBackend adapts a cometbft-db dbm.DB into the KV interface Store
// commits against. It is the durable leaf of the overlay hierarchy.
type DBBackend struct {
	db dbm.DB
}

// NewDBBackend wraps db as a KV backend.
func NewDBBackend(db dbm.DB) *DBBackend {
	return &DBBackend{db: db}
}

// Get implements KV.Get.
func (b *DBBackend) Get(key []byte) ([]byte, error) {
	v, err := b.db.Get(key)
	if err != nil {
		return nil, err
	}
	// v may be nil if the key doesn't exist; callers treat nil as "not present".
	return v, nil
}

// Set implements KV.Set using a synchronous write so a returned Commit
// is durable before the ABCI Commit response is sent.
func (b *DBBackend) Set(key, value []byte) error {
	return b.db.SetSync(key, value)
}

// Delete implements KV.Delete.
func (b *DBBackend) Delete(key []byte) error {
	return b.db.DeleteSync(key)
}

// Iterate implements KV.Iterate over [start, end).
func (b *DBBackend) Iterate(start, end []byte, fn func(key, value []byte) error) error {
	it, err := b.db.Iterator(start, end)
	if err != nil {
		return err
	}
	defer it.Close()
	for; it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}
