// Package storage provides object storage backends for snapshot archival.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStore abstracts object storage.
// Implementations include S3 and the local filesystem for testing.
type ObjectStore interface {
	// Put writes an object at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key. Returns ErrObjectNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all object keys under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error
}
