// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package settings

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/stagesense/internal/logging"
)

// BadgerPersistence stores settings documents in an embedded BadgerDB.
type BadgerPersistence struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the settings database at path.
func OpenBadger(path string) (*BadgerPersistence, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is noisy; we log state changes ourselves

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings db at %s: %w", path, err)
	}
	logging.Debug().Str("path", path).Msg("settings db opened")
	return &BadgerPersistence{db: db}, nil
}

// Load returns the stored document, or (nil, nil) when the key is absent.
func (p *BadgerPersistence) Load(key string) ([]byte, error) {
	var data []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

// Save writes the document.
func (p *BadgerPersistence) Save(key string, data []byte) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (p *BadgerPersistence) Close() error {
	return p.db.Close()
}
