package calls

import (
	"context"
	"time"
)

// Backend is the raw key/value capability behind Store.
//
// Implementations must honor TTL on Set and Update. Update is a
// read-modify-write on an existing key only: it returns ErrMiss when the key
// is absent and never creates it.
type Backend interface {
	Name() string

	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) ([]byte, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Scan returns the values of every live key with the given prefix.
	Scan(ctx context.Context, prefix string) ([][]byte, error)
}
