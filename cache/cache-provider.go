package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidName is returned when a cache name cannot be stored by a provider.
	ErrInvalidName = errors.New("invalid cache name")
	// ErrNotFound is returned when writing to a cache that has been deleted.
	ErrNotFound = errors.New("cache not found")
)

// Storage is a collection of named caches.
// Each named cache is an independently deletable key-value store of
// serialized HTTP responses. Deleting a name removes all of its entries.
//
// Implementations must be thread-safe!
// A single Put, PutAll, Match or Delete must never be observed half-done.
type Storage interface {
	// Open returns the cache with the given name, creating it if needed.
	Open(name string) (Cache, error)
	// Has reports whether a cache with the given name exists.
	Has(name string) (bool, error)
	// Delete removes the named cache and all its entries.
	// It returns false if no such cache existed.
	Delete(name string) (bool, error)
	// Names returns the names of all caches in creation order.
	Names() ([]string, error)
	// Match looks up key in every cache, in creation order,
	// and returns the first entry found.
	Match(key string) (Entry, bool, error)
	// Close releases the resources held by the storage.
	Close() error
}

// Cache is a single named cache inside a Storage.
type Cache interface {
	Name() string
	// Match returns the entry stored under key, if any.
	Match(key string) (Entry, bool, error)
	// Put stores the entry, overwriting any previous entry with the same key.
	Put(entry Entry) error
	// PutAll stores all entries or none of them.
	PutAll(entries []Entry) error
	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys calls the given callback for each key in the cache.
	Keys(cb func(string)) error
	// Count returns the number of entries in the cache.
	Count() (int, error)
}

type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

func validName(name string) bool {
	return name != "" && !strings.ContainsRune(name, 0)
}

// MemStorage keeps all caches in process memory.
// Entries do not survive a restart; use it for tests and ephemeral setups.
type MemStorage struct {
	mutex  *sync.RWMutex
	caches map[string]*memCache
	seq    *int
}

type memCache struct {
	created int
	entries map[string]Entry
}

func NewMemStorage() MemStorage {
	seq := 0
	return MemStorage{
		mutex:  &sync.RWMutex{},
		caches: make(map[string]*memCache),
		seq:    &seq,
	}
}

func (m MemStorage) Open(name string) (Cache, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.caches[name]; !ok {
		*m.seq++
		m.caches[name] = &memCache{created: *m.seq, entries: make(map[string]Entry)}
	}
	return memCacheHandle{m: m, name: name}, nil
}

func (m MemStorage) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.caches[name]
	return ok, nil
}

func (m MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.caches[name]
	delete(m.caches, name)
	return ok, nil
}

func (m MemStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.namesLocked(), nil
}

func (m MemStorage) namesLocked() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.caches[names[i]].created < m.caches[names[j]].created
	})
	return names
}

func (m MemStorage) Match(key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, name := range m.namesLocked() {
		if e, ok := m.caches[name].entries[key]; ok {
			return copyEntry(e), true, nil
		}
	}
	return Entry{}, false, nil
}

func (m MemStorage) Close() error {
	return nil
}

// memCacheHandle looks its cache up on every call,
// so a handle to a deleted cache reads as empty
// and writes through it fail with ErrNotFound.
type memCacheHandle struct {
	m    MemStorage
	name string
}

func (h memCacheHandle) Name() string {
	return h.name
}

func (h memCacheHandle) Match(key string) (Entry, bool, error) {
	h.m.mutex.RLock()
	defer h.m.mutex.RUnlock()
	c, ok := h.m.caches[h.name]
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (h memCacheHandle) Put(entry Entry) error {
	return h.PutAll([]Entry{entry})
}

func (h memCacheHandle) PutAll(entries []Entry) error {
	h.m.mutex.Lock()
	defer h.m.mutex.Unlock()
	c, ok := h.m.caches[h.name]
	if !ok {
		return ErrNotFound
	}
	for _, e := range entries {
		c.entries[e.Key] = copyEntry(e)
	}
	return nil
}

func (h memCacheHandle) Delete(key string) error {
	h.m.mutex.Lock()
	defer h.m.mutex.Unlock()
	if c, ok := h.m.caches[h.name]; ok {
		delete(c.entries, key)
	}
	return nil
}

func (h memCacheHandle) Keys(cb func(string)) error {
	h.m.mutex.RLock()
	c, ok := h.m.caches[h.name]
	keys := make([]string, 0)
	if ok {
		for key := range c.entries {
			keys = append(keys, key)
		}
	}
	h.m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (h memCacheHandle) Count() (int, error) {
	h.m.mutex.RLock()
	defer h.m.mutex.RUnlock()
	if c, ok := h.m.caches[h.name]; ok {
		return len(c.entries), nil
	}
	return 0, nil
}

func copyEntry(e Entry) Entry {
	b := make([]byte, len(e.Bytes))
	copy(b, e.Bytes)
	e.Bytes = b
	return e
}
