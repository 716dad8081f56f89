package certify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DirectoryTTL is how long fetched directory metadata stays valid. Stale
// entries are refreshed before use, never served as a fallback, because CA
// endpoints occasionally rotate.
const DirectoryTTL = 10 * time.Minute

// DirectoryCache caches CA directory metadata per directory URL. One cache
// is constructed per process and may be shared between Manager instances.
// Concurrent callers observing a stale or absent entry share a single
// in-flight refresh instead of racing to fetch independently.
type DirectoryCache struct {
	client ACMEClient
	now    func() time.Time
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]directoryEntry
}

type directoryEntry struct {
	directory *Directory
	fetchedAt time.Time
}

// DirectoryCacheOption configures a DirectoryCache during initialization.
type DirectoryCacheOption func(*DirectoryCache)

// WithDirectoryClock replaces the time source. Primarily useful for tests
// exercising TTL expiry without sleeping.
func WithDirectoryClock(now func() time.Time) DirectoryCacheOption {
	return func(c *DirectoryCache) {
		c.now = now
	}
}

// NewDirectoryCache creates a directory cache backed by the given client.
func NewDirectoryCache(client ACMEClient, opts ...DirectoryCacheOption) *DirectoryCache {
	c := &DirectoryCache{
		client:  client,
		now:     time.Now,
		entries: make(map[string]directoryEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Directory returns the cached directory for caURL while the entry is
// younger than DirectoryTTL, refreshing it otherwise. A failed refresh
// propagates the client's error; the stale entry is not served.
func (c *DirectoryCache) Directory(ctx context.Context, caURL string) (*Directory, error) {
	if dir, ok := c.cached(caURL); ok {
		return dir, nil
	}

	v, err, _ := c.group.Do(caURL, func() (any, error) {
		// A waiter that lost the race may start a new flight right after
		// the previous one stored a fresh entry.
		if dir, ok := c.cached(caURL); ok {
			return dir, nil
		}

		dir, err := c.client.GetDirectory(ctx, caURL)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[caURL] = directoryEntry{directory: dir, fetchedAt: c.now()}
		c.mu.Unlock()

		return dir, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh acme directory %s: %w", caURL, err)
	}

	return v.(*Directory), nil
}

func (c *DirectoryCache) cached(caURL string) (*Directory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[caURL]
	if !ok || c.now().Sub(entry.fetchedAt) >= DirectoryTTL {
		return nil, false
	}
	return entry.directory, true
}
