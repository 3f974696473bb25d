// Package docstore provides the generic blob-document persistence primitive:
// named JSON documents read and written whole. Everything above it (workspace
// collections, indexes) is layered on this contract.
package docstore

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Read when no document exists under the key.
// Callers translate it into their own not-found taxonomy.
var ErrNotExist = errors.New("docstore: document does not exist")

// Store is the blob-document contract. Implementations persist opaque byte
// values under string keys; one logical collection per key.
type Store interface {
	// Read returns the document stored under key, or ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores value under key, replacing any existing document.
	Write(ctx context.Context, key string, value []byte) error

	// Delete removes the document under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all existing document keys.
	List(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
