// Package storage abstracts where schema index snapshots live between runs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can cheaply confirm they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate keys under a prefix.
// Keys come back store-relative and sorted.
type Lister interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

type Locator interface {
	Location() string
}

// Location describes where a store keeps its objects, for logs.
func Location(store ObjectStore) string {
	if l, ok := store.(Locator); ok {
		return l.Location()
	}
	return fmt.Sprintf("%T", store)
}

// Ping checks a store that supports it and treats the rest as reachable.
func Ping(ctx context.Context, store ObjectStore) error {
	if store == nil {
		return errors.New("object store is not configured")
	}
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func PutBytes(ctx context.Context, store ObjectStore, key string, body []byte, contentType string) (ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), PutOptions{ContentType: contentType})
}

// ReadAll fetches a whole object. Snapshot objects are small enough to buffer.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return body, nil
}
