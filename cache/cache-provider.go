package cache

import (
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("cache store not found")

// CacheProvider is an interface for a cache provider.
// It holds any number of named stores. Each store maps keys to
// []byte values, which represent HTTP responses.
// Operating on store-specific keys or key prefixes is what allows the
// stores of many versions to live in the same provider.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// CreateStore creates the named store if it does not exist yet.
	CreateStore(name string) error
	// HasStore checks if the named store exists.
	HasStore(name string) (bool, error)
	// DeleteStore removes the named store and all of its entries.
	// It returns false if the store did not exist.
	DeleteStore(name string) (bool, error)
	// StoreNames returns the names of all stores in creation order.
	StoreNames() ([]string, error)
	// All returns all cache entries of the store that have the specific key prefix.
	All(store, prefix string) ([]CacheEntry, error)
	// Put stores the given entry, replacing any entry with the same key.
	// It returns ErrStoreNotFound if the store does not exist.
	Put(store string, ce CacheEntry) error
	// Purge removes the cache entry for the given key.
	// It returns false if there was no such entry.
	Purge(store, key string) (bool, error)
	// AllKeys calls the given callback for each key of the store.
	// It calls the callback in order to enable very large lists of keys to be
	// processable (provider implementation might use paging, for instance).
	AllKeys(store string, cb func(string)) error
	// Close releases the resources held by the provider.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
