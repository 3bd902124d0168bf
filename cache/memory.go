package cache

import (
	"fmt"
	"strings"
	"sync"
)

type memStore struct {
	entries map[string]CacheEntry
	// keys in insertion order
	keys []string
}

type MemCache struct {
	mutex  *sync.RWMutex
	stores map[string]*memStore
	// store names in creation order
	names *[]string
}

func NewMemCache() MemCache {
	return MemCache{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]*memStore),
		names:  &[]string{},
	}
}

func (m MemCache) CreateStore(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = &memStore{entries: make(map[string]CacheEntry)}
		*m.names = append(*m.names, name)
	}
	return nil
}

func (m MemCache) HasStore(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

func (m MemCache) DeleteStore(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		return false, nil
	}
	delete(m.stores, name)
	*m.names = remove(*m.names, name)
	return true, nil
}

func (m MemCache) StoreNames() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, len(*m.names))
	copy(names, *m.names)
	return names, nil
}

func (m MemCache) All(store, prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]CacheEntry, 0)
	s, ok := m.stores[store]
	if !ok {
		return entries, nil
	}
	for _, key := range s.keys {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, s.entries[key])
		}
	}
	return entries, nil
}

func (m MemCache) Put(store string, ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.stores[store]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, store)
	}
	if _, ok := s.entries[ce.Key]; ok {
		s.keys = remove(s.keys, ce.Key)
	}
	s.entries[ce.Key] = ce
	s.keys = append(s.keys, ce.Key)
	return nil
}

func (m MemCache) Purge(store, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.stores[store]
	if !ok {
		return false, nil
	}
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	s.keys = remove(s.keys, key)
	return true, nil
}

func (m MemCache) AllKeys(store string, cb func(string)) error {
	m.mutex.RLock()
	s, ok := m.stores[store]
	var keys []string
	if ok {
		keys = make([]string, len(s.keys))
		copy(keys, s.keys)
	}
	m.mutex.RUnlock()
	// callback runs unlocked, it may call back into the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}

func remove(list []string, item string) []string {
	for i, v := range list {
		if v == item {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
