// Package secrets provides the SecretResolver interface and built-in
// implementations used to inject credentials into node configs at
// execution time.
package secrets

import (
	"context"
	"sync"
	"time"
)

// SecretResolver resolves a named secret reference to a map of key/value
// pairs that are merged into the node config before execution.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (map[string]interface{}, error)
}

// NoopResolver always returns an empty map (secrets disabled / testing).
type NoopResolver struct{}

// Resolve implements SecretResolver by returning an empty credential set.
func (r *NoopResolver) Resolve(_ context.Context, _ string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// cachedSecret is one entry in a CachingResolver's memo table.
type cachedSecret struct {
	value     map[string]interface{}
	expiresAt time.Time
}

// CachingResolver wraps another SecretResolver and memoizes successful
// resolutions for ttl, so a flow with many nodes sharing one secret_ref (or
// a busy webhook trigger re-running the same flow) doesn't hit the secret
// store's decrypt path on every node execution. Resolve errors are never
// cached, so a transient store outage self-heals on the next call.
type CachingResolver struct {
	inner SecretResolver
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cachedSecret
}

// NewCachingResolver wraps inner with a TTL memo cache. A non-positive ttl
// disables caching (every call passes through to inner).
func NewCachingResolver(inner SecretResolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{inner: inner, ttl: ttl, entries: make(map[string]cachedSecret)}
}

// Resolve returns the cached value for ref when still fresh, otherwise
// delegates to the wrapped resolver and caches a successful result. The
// returned map is a copy, so callers merging it into a node config cannot
// mutate the cached entry.
func (c *CachingResolver) Resolve(ctx context.Context, ref string) (map[string]interface{}, error) {
	if c.ttl <= 0 {
		return c.inner.Resolve(ctx, ref)
	}

	c.mu.Lock()
	entry, ok := c.entries[ref]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return cloneSecretValue(entry.value), nil
	}

	value, err := c.inner.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[ref] = cachedSecret{value: cloneSecretValue(value), expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops any cached entry for ref, forcing the next Resolve to
// hit the wrapped resolver. Callers should invalidate after an Upsert/Delete
// against the same ref so rotated credentials take effect immediately.
func (c *CachingResolver) Invalidate(ref string) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
}

func cloneSecretValue(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
