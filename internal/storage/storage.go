// Package storage defines where raw payloads of binary documents are kept so
// an external parser can pick them up after a crawl.
package storage

import "context"

// BlobStore persists one object and returns a URI that locates it.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}
