// Package storage describes the object store that holds warehouse
// snapshots and result exports. Keys are relative to the store's prefix.
package storage

import (
	"context"
	"errors"
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

// Reader serves parquet snapshots to the DuckDB warehouse.
type Reader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Writer receives exported results.
type Writer interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
}

type ObjectStore interface {
	Reader
	Writer
}
