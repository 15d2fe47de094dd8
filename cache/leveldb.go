package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// key layout:
//
//	c:<name>            -> cacheMeta
//	e:<name>\x00<key>   -> Entry
//	s:seq               -> last issued cache sequence number
const (
	cachePrefix = "c:"
	entryPrefix = "e:"
	seqKey      = "s:seq"
)

type cacheMeta struct {
	Seq int64
}

type LevelDBStorage struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

// NewLevelDBStorage opens (or creates) a LevelDB database in the given directory.
func NewLevelDBStorage(path string) (LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBStorage{}, err
	}
	return newLevelDBStorage(db), nil
}

// NewLevelDBMemStorage opens a LevelDB database backed by memory only.
func NewLevelDBMemStorage() (LevelDBStorage, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return LevelDBStorage{}, err
	}
	return newLevelDBStorage(db), nil
}

func newLevelDBStorage(db *leveldb.DB) LevelDBStorage {
	return LevelDBStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func entryKey(name, key string) []byte {
	return []byte(entryPrefix + name + "\x00" + key)
}

func (l LevelDBStorage) Open(name string) (Cache, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	if ok, err := l.db.Has([]byte(cachePrefix+name), nil); err != nil {
		return nil, err
	} else if ok {
		return levelDBCache{l: l, name: name}, nil
	}
	var seq int64
	if b, err := l.db.Get([]byte(seqKey), nil); err == nil {
		if err := decodeGob(b, &seq); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return nil, err
	}
	seq++
	seqBytes, err := encodeGob(seq)
	if err != nil {
		return nil, err
	}
	metaBytes, err := encodeGob(cacheMeta{Seq: seq})
	if err != nil {
		return nil, err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(seqKey), seqBytes)
	batch.Put([]byte(cachePrefix+name), metaBytes)
	if err := l.db.Write(batch, nil); err != nil {
		return nil, err
	}
	return levelDBCache{l: l, name: name}, nil
}

func (l LevelDBStorage) Has(name string) (bool, error) {
	return l.db.Has([]byte(cachePrefix+name), nil)
}

func (l LevelDBStorage) Delete(name string) (bool, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	ok, err := l.db.Has([]byte(cachePrefix+name), nil)
	if err != nil || !ok {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(cachePrefix + name))
	it := l.db.NewIterator(util.BytesPrefix(entryKey(name, "")), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	return true, l.db.Write(batch, nil)
}

func (l LevelDBStorage) Names() ([]string, error) {
	type named struct {
		name string
		seq  int64
	}
	caches := make([]named, 0)
	it := l.db.NewIterator(util.BytesPrefix([]byte(cachePrefix)), nil)
	defer it.Release()
	for it.Next() {
		var meta cacheMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			return nil, err
		}
		caches = append(caches, named{
			name: strings.TrimPrefix(string(it.Key()), cachePrefix),
			seq:  meta.Seq,
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(caches, func(i, j int) bool { return caches[i].seq < caches[j].seq })
	names := make([]string, len(caches))
	for i, c := range caches {
		names[i] = c.name
	}
	return names, nil
}

func (l LevelDBStorage) Match(key string) (Entry, bool, error) {
	names, err := l.Names()
	if err != nil {
		return Entry{}, false, err
	}
	for _, name := range names {
		if e, ok, err := l.get(name, key); err != nil || ok {
			return e, ok, err
		}
	}
	return Entry{}, false, nil
}

func (l LevelDBStorage) Close() error {
	return l.db.Close()
}

func (l LevelDBStorage) get(name, key string) (Entry, bool, error) {
	b, err := l.db.Get(entryKey(name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := decodeGob(b, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

type levelDBCache struct {
	l    LevelDBStorage
	name string
}

func (c levelDBCache) Name() string {
	return c.name
}

func (c levelDBCache) Match(key string) (Entry, bool, error) {
	return c.l.get(c.name, key)
}

func (c levelDBCache) Put(entry Entry) error {
	return c.PutAll([]Entry{entry})
}

func (c levelDBCache) PutAll(entries []Entry) error {
	c.l.writeMutex.Lock()
	defer c.l.writeMutex.Unlock()
	if ok, err := c.l.db.Has([]byte(cachePrefix+c.name), nil); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	batch := new(leveldb.Batch)
	for _, e := range entries {
		b, err := encodeGob(e)
		if err != nil {
			return err
		}
		batch.Put(entryKey(c.name, e.Key), b)
	}
	return c.l.db.Write(batch, nil)
}

func (c levelDBCache) Delete(key string) error {
	c.l.writeMutex.Lock()
	defer c.l.writeMutex.Unlock()
	return c.l.db.Delete(entryKey(c.name, key), nil)
}

func (c levelDBCache) Keys(cb func(string)) error {
	prefix := entryKey(c.name, "")
	keys := make([]string, 0)
	it := c.l.db.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (c levelDBCache) Count() (int, error) {
	n := 0
	err := c.Keys(func(string) { n++ })
	return n, err
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
