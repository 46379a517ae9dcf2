package cache

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TenantCache keeps one value per tenant with a TTL. It is safe for
// concurrent use.
type TenantCache[V any] struct {
	items *gocache.Cache
	ttl   time.Duration
}

// NewTenantCache creates a cache whose entries live for ttl unless Set says
// otherwise. A ttl of zero or less keeps entries until deleted.
func NewTenantCache[V any](ttl time.Duration) *TenantCache[V] {
	if ttl <= 0 {
		return &TenantCache[V]{items: gocache.New(gocache.NoExpiration, 0), ttl: 0}
	}
	return &TenantCache[V]{items: gocache.New(ttl, 2*ttl), ttl: ttl}
}

// Get returns the tenant's value if present and not expired.
func (c *TenantCache[V]) Get(tenantID int64) (V, bool) {
	var zero V
	raw, ok := c.items.Get(key(tenantID))
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores the tenant's value with the default TTL.
func (c *TenantCache[V]) Set(tenantID int64, v V) {
	c.items.Set(key(tenantID), v, gocache.DefaultExpiration)
}

// SetWithTTL stores the tenant's value for ttl. A non-positive ttl removes
// the entry instead of storing an already expired value.
func (c *TenantCache[V]) SetWithTTL(tenantID int64, v V, ttl time.Duration) {
	if ttl <= 0 {
		c.items.Delete(key(tenantID))
		return
	}
	c.items.Set(key(tenantID), v, ttl)
}

// Delete drops the tenant's value.
func (c *TenantCache[V]) Delete(tenantID int64) {
	c.items.Delete(key(tenantID))
}

// Len is the number of stored entries, expired ones included until cleanup.
func (c *TenantCache[V]) Len() int {
	return c.items.ItemCount()
}

func key(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}
