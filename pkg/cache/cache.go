package cache

import "context"

// Cacher defines the caching interface used by the request client.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// NullCache is a Cacher that never stores anything. Used when the
// archive database is disabled.
type NullCache struct{}

func (NullCache) GetCache(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (NullCache) SetCache(ctx context.Context, key string, val []byte) error {
	return nil
}
