package cache

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	cachekey "github.com/bassam-ai/offline-cache/pkg/cache-key"
	serializer "github.com/bassam-ai/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMethodNotCacheable is returned when storing a response to a non-GET request.
	ErrMethodNotCacheable = errors.New("request method not cacheable")
	// ErrResponseNotCacheable is returned for partial and `Vary: *` responses.
	ErrResponseNotCacheable = errors.New("response not cacheable")
	// ErrVaryMiss is returned by Match when responses are stored for the
	// request URI but none of them was stored for the request header fields.
	ErrVaryMiss = errors.New("no stored variant matches the request")
)

// Storage gives access to all named stores of a provider.
// Stores are created on first open and live until deleted.
type Storage struct {
	provider CacheProvider
	log      zerolog.Logger
}

type StorageOption func(*Storage)

// WithLogger sets the logger of the storage. The global zerolog logger is used by default.
func WithLogger(logger zerolog.Logger) StorageOption {
	return func(s *Storage) {
		s.log = logger
	}
}

func NewStorage(provider CacheProvider, opts ...StorageOption) *Storage {
	s := &Storage{provider: provider, log: log.Logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns the named store, creating it if needed.
func (s *Storage) Open(name string) (*Store, error) {
	if err := s.provider.CreateStore(name); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return s.store(name), nil
}

// Lookup returns the named store if it exists, or ErrStoreNotFound.
// Writes through the returned store fail with ErrStoreNotFound once the
// store is deleted, they never bring it back.
func (s *Storage) Lookup(name string) (*Store, error) {
	ok, err := s.provider.HasStore(name)
	if err != nil {
		return nil, fmt.Errorf("lookup store %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	return s.store(name), nil
}

func (s *Storage) store(name string) *Store {
	return &Store{name: name, provider: s.provider, log: s.log}
}

func (s *Storage) Has(name string) (bool, error) {
	return s.provider.HasStore(name)
}

// Delete removes the named store with all of its entries.
// It returns false if there was no such store.
func (s *Storage) Delete(name string) (bool, error) {
	deleted, err := s.provider.DeleteStore(name)
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	return deleted, nil
}

// Keys returns the names of all stores in creation order.
func (s *Storage) Keys() ([]string, error) {
	return s.provider.StoreNames()
}

// Match looks the request up in every store, in creation order,
// and returns the first stored response.
// If no store has a response but one has the URI stored with other
// header fields, the error is ErrVaryMiss.
func (s *Storage) Match(r *http.Request) (serializer.TimedResponse, bool, error) {
	names, err := s.provider.StoreNames()
	if err != nil {
		return serializer.TimedResponse{}, false, err
	}
	varyMiss := false
	for _, name := range names {
		res, ok, err := s.store(name).Match(r)
		if errors.Is(err, ErrVaryMiss) {
			varyMiss = true
			continue
		}
		if err != nil || ok {
			return res, ok, err
		}
	}
	if varyMiss {
		return serializer.TimedResponse{}, false, ErrVaryMiss
	}
	return serializer.TimedResponse{}, false, nil
}

func (s *Storage) Close() error {
	return s.provider.Close()
}

// Store is a single named store.
type Store struct {
	name     string
	provider CacheProvider
	log      zerolog.Logger
}

func (s *Store) Name() string {
	return s.name
}

// Match returns the stored response for the request, if any.
// Only GET requests can match. ErrVaryMiss is returned if responses are
// stored for the URI but none for the header fields of the request.
func (s *Store) Match(r *http.Request) (serializer.TimedResponse, bool, error) {
	if r.Method != http.MethodGet {
		return serializer.TimedResponse{}, false, nil
	}
	prefix := cachekey.KeyPrefix(r)
	entries, err := s.provider.All(s.name, prefix)
	if err != nil {
		return serializer.TimedResponse{}, false, fmt.Errorf("match %s in %s: %w", prefix, s.name, err)
	}
	varyMiss := false
	for _, e := range entries {
		if !cachekey.Matches(e.Key, r) {
			varyMiss = true
			continue
		}
		res, err := serializer.BytesToStoredResponse(e.Bytes)
		if err != nil {
			// in case we have a corrupted cache entry, we delete it and keep looking
			s.log.Error().Err(err).Str("store", s.name).Str("key", e.Key).Msg("Could not read from cache")
			s.provider.Purge(s.name, e.Key)
			continue
		}
		res.Response.Request = r
		return res, true, nil
	}
	if varyMiss {
		return serializer.TimedResponse{}, false, ErrVaryMiss
	}
	return serializer.TimedResponse{}, false, nil
}

// Put stores the response under the request key, replacing the previous
// response for the same request. The response body stays readable.
func (s *Store) Put(r *http.Request, sRes serializer.TimedResponse) error {
	if r.Method != http.MethodGet {
		return fmt.Errorf("%w: %s", ErrMethodNotCacheable, r.Method)
	}
	res := sRes.Response
	if res.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("%w: partial content", ErrResponseNotCacheable)
	}
	if cachekey.VaryAll(res.Header) {
		return fmt.Errorf("%w: Vary *", ErrResponseNotCacheable)
	}
	responseBytes, err := serializer.StoredResponseToBytes(sRes)
	if err != nil {
		return fmt.Errorf("serialize response: %w", err)
	}

	prefix := cachekey.KeyPrefix(r)
	key := cachekey.AddVaryKeys(prefix, r, res)
	// drop variants that this response replaces
	if entries, err := s.provider.All(s.name, prefix); err == nil {
		for _, e := range entries {
			if e.Key != key && cachekey.Matches(e.Key, r) {
				s.provider.Purge(s.name, e.Key)
			}
		}
	}

	err = s.provider.Put(s.name, CacheEntry{
		Key:      key,
		StoredAt: time.Now(),
		Bytes:    responseBytes,
	})
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", key, s.name, err)
	}
	s.log.Trace().Str("store", s.name).Str("key", key).Msg("Cache write")
	return nil
}

// Delete removes the stored response(s) for the request.
func (s *Store) Delete(r *http.Request) (bool, error) {
	entries, err := s.provider.All(s.name, cachekey.KeyPrefix(r))
	if err != nil {
		return false, err
	}
	deleted := false
	for _, e := range entries {
		if cachekey.Matches(e.Key, r) {
			ok, err := s.provider.Purge(s.name, e.Key)
			if err != nil {
				return deleted, err
			}
			deleted = deleted || ok
		}
	}
	return deleted, nil
}

// Size returns the number of entries and their total size in bytes.
func (s *Store) Size() (int, int64, error) {
	entries, err := s.provider.All(s.name, "")
	if err != nil {
		return 0, 0, err
	}
	var size int64
	for _, e := range entries {
		size += int64(len(e.Bytes))
	}
	return len(entries), size, nil
}

// Keys returns the requests of all stored responses, in insertion order.
func (s *Store) Keys() ([]*http.Request, error) {
	requests := make([]*http.Request, 0)
	var keyErr error
	err := s.provider.AllKeys(s.name, func(key string) {
		req, err := cachekey.RequestFromKey(key)
		if err != nil {
			keyErr = err
			return
		}
		requests = append(requests, req)
	})
	if err == nil {
		err = keyErr
	}
	return requests, err
}
