package target

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
)

type cacheEntry struct {
	desc   models.Descriptor
	client Client
}

// Cache keeps one open Client per instance id.
type Cache struct {
	dial Dialer

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a connection cache. A nil dialer uses Dial.
func NewCache(dial Dialer) *Cache {
	if dial == nil {
		dial = Dial
	}
	return &Cache{dial: dial, entries: make(map[string]cacheEntry)}
}

// Get returns the cached client for inst, dialing a new one when none exists
// or when the instance's descriptor changed since it was cached.
func (c *Cache) Get(ctx context.Context, inst models.Instance) (Client, error) {
	desc := inst.Descriptor()

	c.mu.Lock()
	entry, ok := c.entries[inst.ID]
	if ok && entry.desc == desc {
		c.mu.Unlock()
		return entry.client, nil
	}
	delete(c.entries, inst.ID)
	c.mu.Unlock()

	if ok {
		closeQuietly(entry.client)
	}

	client, err := c.dial(ctx, desc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, raced := c.entries[inst.ID]; raced && existing.desc == desc {
		closeQuietly(client)
		return existing.client, nil
	}
	c.entries[inst.ID] = cacheEntry{desc: desc, client: client}
	return client, nil
}

// Evict closes and forgets the client for id.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()

	if ok {
		closeQuietly(entry.client)
	}
}

// IDs returns the instance ids that currently hold a client.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every cached client.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := entry.client.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeQuietly(c Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}
