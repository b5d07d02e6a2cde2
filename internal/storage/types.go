package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("storage key is empty")
)

// Store is the persistence API used by the dedup ledger and the stores.
type Store interface {
	// Get returns (nil, false, nil) when the key has never been written.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "postgres", "redis".
// An empty driver means "memory".
type Config struct {
	Driver      string
	Path        string        // file: directory; sqlite: database file
	DSN         string        // postgres DSN or redis address
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeyPrefix   string        // redis only
	Password    string        // redis only
	DB          int           // redis only
}
