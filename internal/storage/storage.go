// Package storage abstracts artifact object storage.
package storage

import "context"

// Storage uploads rendered artifacts and returns their public URL.
type Storage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Close() error
}
