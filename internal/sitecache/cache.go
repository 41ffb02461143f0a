// Package sitecache memoises website lookups for the ingestion path.
package sitecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/sitepulse/internal/domain"
)

type entry struct {
	site    domain.Website
	expires time.Time
}

// Directory is a read-through cache in front of another WebsiteDirectory.
// Concurrent misses for one domain share a single backend query; failures
// (including not-found) are never cached.
type Directory struct {
	next domain.WebsiteDirectory
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	items map[string]entry
}

func New(next domain.WebsiteDirectory, ttl time.Duration) *Directory {
	return &Directory{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]entry),
	}
}

func (d *Directory) WebsiteByDomain(ctx context.Context, name string) (domain.Website, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if d.ttl <= 0 {
		return d.next.WebsiteByDomain(ctx, key)
	}

	d.mu.RLock()
	e, ok := d.items[key]
	d.mu.RUnlock()
	if ok && d.now().Before(e.expires) {
		return e.site, nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		site, err := d.next.WebsiteByDomain(ctx, key)
		if err != nil {
			return domain.Website{}, err
		}
		d.mu.Lock()
		d.items[key] = entry{site: site, expires: d.now().Add(d.ttl)}
		d.mu.Unlock()
		return site, nil
	})
	if err != nil {
		return domain.Website{}, err
	}
	return v.(domain.Website), nil
}
