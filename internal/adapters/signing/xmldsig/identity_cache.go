package xmldsig

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"3tcapital/ecfcore/internal/core/signing"
	"3tcapital/ecfcore/internal/infrastructure/cache"
)

// loadTimeout bounds one shared container load. The load outlives the
// request that started it, so it cannot rely on that request's deadline.
const loadTimeout = 30 * time.Second

// IdentityCache loads each tenant's identity from the certificate store once
// and keeps the decoded key in memory for the configured TTL. Failed loads
// are not cached.
type IdentityCache struct {
	store   signing.CertificateStore
	entries *cache.TenantCache[*signing.Identity]
	loads   singleflight.Group
	now     func() time.Time
	log     *slog.Logger

	// generations counts invalidations per tenant. A load only stores its
	// result if no invalidation happened since it started.
	mu          sync.Mutex
	generations map[int64]uint64
}

// NewIdentityCache wraps store. A ttl of zero keeps identities until
// Invalidate is called.
func NewIdentityCache(store signing.CertificateStore, ttl time.Duration, log *slog.Logger) *IdentityCache {
	return &IdentityCache{
		store:       store,
		entries:     cache.NewTenantCache[*signing.Identity](ttl),
		now:         time.Now,
		log:         log,
		generations: make(map[int64]uint64),
	}
}

// Identity returns the tenant's signing identity. Concurrent callers for the
// same tenant share one load; a caller whose ctx ends stops waiting without
// failing the others.
func (c *IdentityCache) Identity(ctx context.Context, tenantID int64) (*signing.Identity, error) {
	if id, ok := c.entries.Get(tenantID); ok {
		return id, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	result := c.loads.DoChan(strconv.FormatInt(tenantID, 10), func() (any, error) {
		return c.load(loadCtx, tenantID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*signing.Identity), nil
	}
}

func (c *IdentityCache) load(ctx context.Context, tenantID int64) (*signing.Identity, error) {
	generation := c.generation(tenantID)

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	container, err := c.store.Container(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	id, err := LoadIdentity(container.Data, container.Password)
	if err != nil {
		c.log.Warn("signing identity could not be loaded",
			"tenant_id", tenantID,
			"container", container,
			"error", err)
		return nil, err
	}
	if c.now().After(id.ExpiresAt()) {
		c.log.Warn("signing certificate has expired",
			"tenant_id", tenantID,
			"identity", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[tenantID] != generation {
		c.log.Info("signing identity invalidated during load, not cached", "tenant_id", tenantID)
		return id, nil
	}
	c.entries.Set(tenantID, id)
	c.log.Info("signing identity loaded", "tenant_id", tenantID, "identity", id)
	return id, nil
}

func (c *IdentityCache) generation(tenantID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[tenantID]
}

// Invalidate forgets the tenant's identity so the next call reloads it. A
// load already in flight finishes for its own callers but is not cached.
func (c *IdentityCache) Invalidate(tenantID int64) {
	c.mu.Lock()
	c.generations[tenantID]++
	c.entries.Delete(tenantID)
	c.mu.Unlock()
	c.loads.Forget(strconv.FormatInt(tenantID, 10))
}
