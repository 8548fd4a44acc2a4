package subscription

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator remembers recently seen message keys of one endpoint
type Deduplicator struct {
	cache *lru.Cache[string, struct{}]
}

// NewDeduplicator creates a Deduplicator holding up to size keys
func NewDeduplicator(size int) (*Deduplicator, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Deduplicator{cache: cache}, nil
}

// IsDuplicate reports whether key was seen before and records it otherwise
func (d *Deduplicator) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	seen, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return seen
}

// Clear forgets every key
func (d *Deduplicator) Clear() {
	d.cache.Purge()
}

// Len returns the number of remembered keys
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}
