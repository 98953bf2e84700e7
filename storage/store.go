// Package storage provides the durable key/value port used by wallet
// connection persistence, with LevelDB, shared directory and in-memory backends.
package storage

import (
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is a minimal durable key/value store. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}
