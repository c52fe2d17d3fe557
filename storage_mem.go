package promdb

import (
	"bytes"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
)

const memBucketSep = "\x00"

var errMemClosed = errors.New("memory storage closed")
var errMemReadOnly = errors.New("memory tx not writable")

// memStorage is a transient engine for tests and ephemeral databases.
// Committed bucket maps are never mutated; writers copy buckets on first
// write and publish a new map on commit, so readers need no copying.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errMemClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, errMemClosed
		}
		s.writer = true
	}
	tx := &memTx{base: s, writable: writable, buckets: s.buckets}
	if writable {
		tx.buckets = make(map[string]*memBucket, len(s.buckets))
		for k, b := range s.buckets {
			tx.buckets[k] = b
		}
		tx.owned = make(map[*memBucket]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[*memBucket]bool // buckets copied by this tx, safe to mutate
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return &memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errMemReadOnly
	}
	for _, key := range []string{memBucketKey(name, ""), memBucketKey(name, sub)} {
		if tx.buckets[key] == nil {
			b := &memBucket{}
			tx.buckets[key] = b
			tx.owned[b] = true
		}
	}
	return &memBucketHandle{tx: tx, key: memBucketKey(name, sub)}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return errMemReadOnly
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	if sub == "" {
		prefix := name + memBucketSep
		for k := range tx.buckets {
			if strings.HasPrefix(k, prefix) {
				delete(tx.buckets, k)
			}
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errMemReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	defer tx.closeLocked()
	if tx.base.closed {
		return errMemClosed
	}
	tx.base.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Size() int64 { return 0 }

// mutable returns a bucket this tx may modify in place.
func (tx *memTx) mutable(key string) *memBucket {
	b := tx.buckets[key]
	if !tx.owned[b] {
		b = b.clone()
		tx.buckets[key] = b
		tx.owned[b] = true
	}
	return b
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

func (b *memBucket) find(key []byte) (int, bool) {
	i := sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
	return i, i < len(b.items) && bytes.Equal(b.items[i].key, key)
}

// memBucketHandle resolves its bucket on every call because a write may
// replace the tx's copy.
type memBucketHandle struct {
	tx  *memTx
	key string
}

func (h *memBucketHandle) bucket() *memBucket {
	return h.tx.buckets[h.key]
}

func (h *memBucketHandle) Get(key []byte) []byte {
	b := h.bucket()
	if i, ok := b.find(key); ok {
		return b.items[i].value
	}
	return nil
}

func (h *memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return errMemReadOnly
	}
	b := h.tx.mutable(h.key)
	kv := memKV{key: slices.Clone(key), value: slices.Clone(value)}
	if i, ok := b.find(key); ok {
		b.items[i] = kv
	} else {
		b.items = slices.Insert(b.items, i, kv)
	}
	return nil
}

func (h *memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return errMemReadOnly
	}
	if _, ok := h.bucket().find(key); !ok {
		return nil
	}
	b := h.tx.mutable(h.key)
	i, _ := b.find(key)
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h *memBucketHandle) Cursor() storageCursor {
	return &memCursor{h: h, pos: -1}
}

func (h *memBucketHandle) Stats() bucketStats {
	var inuse int64
	items := h.bucket().items
	for _, kv := range items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{KeyN: len(items), LeafInuse: inuse, LeafAlloc: inuse}
}

func (h *memBucketHandle) KeyCount() int { return len(h.bucket().items) }

type memCursor struct {
	h   *memBucketHandle
	pos int
}

func (c *memCursor) at(pos int) ([]byte, []byte) {
	items := c.h.bucket().items
	c.pos = pos
	if pos < 0 || pos >= len(items) {
		return nil, nil
	}
	return items[pos].key, items[pos].value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(len(c.h.bucket().items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.h.bucket().find(seek)
	return c.at(i)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	limit := append([]byte(nil), prefix...)
	if !inc(limit) {
		return c.Last()
	}
	i, _ := c.h.bucket().find(limit)
	return c.at(i - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos <= 0 {
		c.pos = -1
		return nil, nil
	}
	return c.at(c.pos - 1)
}
