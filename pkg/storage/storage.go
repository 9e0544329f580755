// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key is not present in the database.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value interface the frequency state store persists
// through. Implementations must be safe for concurrent use.
type Database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Close() error
}

// New creates a database backend of the given type.
// Supported types: "memory", "badger". Badger is the default.
func New(dbType string, path string) (Database, error) {
	switch dbType {
	case "memory":
		return NewMemDB(), nil
	case "badger", "":
		return NewBadgerDB(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", dbType)
	}
}
