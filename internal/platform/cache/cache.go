// Package cache holds derived, disposable data such as generated slot lists.
// Entries are grouped into namespaces; invalidating a namespace bumps its
// generation so every older entry becomes unreachable at once.
package cache

import (
	"context"
	"time"
)

// Key addresses one cached value.
type Key struct {
	Namespace  string
	Generation int64
	Name       string
}

// Cache is a generation-versioned lookaside cache. Readers must fetch the
// generation before reading the source of truth and store under that same
// generation, so a concurrent Invalidate orphans whatever they write.
type Cache interface {
	Generation(ctx context.Context, namespace string) (int64, error)
	Get(ctx context.Context, key Key, dst interface{}) (bool, error)
	Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, namespace string) error
}

// Noop never stores anything. Used when no Redis is configured.
type Noop struct{}

func (Noop) Generation(context.Context, string) (int64, error) { return 0, nil }
func (Noop) Get(context.Context, Key, interface{}) (bool, error) { return false, nil }
func (Noop) Set(context.Context, Key, interface{}, time.Duration) error { return nil }
func (Noop) Invalidate(context.Context, string) error { return nil }
