package promdb

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// ObjectStore is a store as seen through one transaction.
type ObjectStore struct {
	tx    *Tx
	state *storeState
}

func (s *ObjectStore) Tx() *Tx { return s.tx }
func (s *ObjectStore) Name() string { return s.state.Name }
func (s *ObjectStore) KeyPath() KeyPath { return s.state.KeyPath }
func (s *ObjectStore) AutoIncrement() bool { return s.state.AutoIncrement }
func (s *ObjectStore) IndexNames() []string { return s.state.indexNames() }

func (s *ObjectStore) check(op string) error {
	if err := s.tx.checkActive(op); err != nil {
		return err
	}
	if s.tx.cat.store(s.state.Name) != s.state {
		return (&Error{Code: CodeInvalidState, Op: op, Msg: "store has been deleted"}).in(s.state.Name, "")
	}
	return nil
}

func (s *ObjectStore) checkWritable(op string) error {
	if err := s.check(op); err != nil {
		return err
	}
	if err := s.tx.checkWritable(op); err != nil {
		return inStore(err, s.state.Name, "")
	}
	return nil
}

func (s *ObjectStore) buckets() (root, data storageBucket, err error) {
	name := storeBucketName(s.state.Name)
	root = s.tx.stx.Bucket(name, "")
	data = s.tx.stx.Bucket(name, dataBucket)
	if root == nil || data == nil {
		return nil, nil, (&Error{Code: CodeUnknown, Msg: "store buckets are missing"}).in(s.state.Name, "")
	}
	return root, data, nil
}

func (s *ObjectStore) indexBucket(is *indexState) (storageBucket, error) {
	b := s.tx.stx.Bucket(storeBucketName(s.state.Name), indexBucketName(is.Ordinal))
	if b == nil {
		return nil, (&Error{Code: CodeUnknown, Msg: fmt.Sprintf("bucket of index #%d is missing", is.Ordinal)}).in(s.state.Name, is.Name)
	}
	return b, nil
}

func (s *ObjectStore) target(query any) string {
	switch q := query.(type) {
	case nil:
		return s.state.Name
	case *KeyRange:
		return s.state.Name + "/" + q.String()
	default:
		return s.state.Name + "/" + formatKey(query)
	}
}

// inStore annotates an *Error with the store it happened in.
func inStore(err error, store, index string) error {
	if e, ok := err.(*Error); ok && e.Store == "" && !isSentinel(e) {
		e.in(store, index)
	}
	return err
}

func isSentinel(e *Error) bool {
	switch e {
	case ErrConstraint, ErrData, ErrNotFound, ErrReadOnly, ErrTransactionInactive,
		ErrVersion, ErrInvalidState, ErrInvalidAccess, ErrAbort, ErrClosed:
		return true
	}
	return false
}

// Get looks up the first record matching a key or a *KeyRange. The result
// is a *Record, or nil when nothing matches.
func (s *ObjectStore) Get(query any) (*Request, error) {
	r, err := s.queryRange("GET", query, true)
	if err != nil {
		return nil, err
	}
	return s.tx.request("GET", s.target(query), func() (any, error) {
		c, err := s.cursor(r, Forward, nil)
		if err != nil {
			return nil, err
		}
		if !c.Next() {
			return nil, c.Err()
		}
		return c.Value(), nil
	})
}

// GetKey resolves with the primary key of the first match, or nil.
func (s *ObjectStore) GetKey(query any) (*Request, error) {
	r, err := s.queryRange("GETKEY", query, true)
	if err != nil {
		return nil, err
	}
	return s.tx.request("GETKEY", s.target(query), func() (any, error) {
		c, err := s.cursor(r, Forward, nil)
		if err != nil {
			return nil, err
		}
		if !c.Next() {
			return nil, c.Err()
		}
		return c.PrimaryKey(), nil
	})
}

func (s *ObjectStore) queryRange(op string, query any, required bool) (*KeyRange, error) {
	if err := s.check(op); err != nil {
		return nil, err
	}
	if required && query == nil {
		return nil, (&Error{Code: CodeData, Op: op, Msg: "a key or key range is required"}).in(s.state.Name, "")
	}
	r, err := toRange(query)
	if err != nil {
		return nil, inStore(err, s.state.Name, "")
	}
	if _, err := r.encode(false); err != nil {
		return nil, inStore(err, s.state.Name, "")
	}
	return r, nil
}

// Put stores record, replacing an existing one. key must be nil for stores
// with a key path. The result is the record's primary key.
func (s *ObjectStore) Put(record, key any) (*Request, error) {
	return s.write("PUT", record, key, false)
}

// Add is like Put but fails with a ConstraintError when the key exists.
func (s *ObjectStore) Add(record, key any) (*Request, error) {
	return s.write("ADD", record, key, true)
}

func (s *ObjectStore) write(op string, record, key any, noOverwrite bool) (*Request, error) {
	if err := s.checkWritable(op); err != nil {
		return nil, err
	}
	target := s.state.Name
	if key != nil {
		target = s.target(key)
	}
	return s.tx.request(op, target, func() (any, error) {
		pk, err := s.put(record, key, noOverwrite)
		return pk, inStore(err, s.state.Name, "")
	})
}

type indexUpdate struct {
	is      *indexState
	b       storageBucket
	adds    [][]byte
	removes [][]byte
}

func (s *ObjectStore) put(record, key any, noOverwrite bool) (any, error) {
	st := s.state
	kp := st.KeyPath
	if kp != nil && key != nil {
		return nil, &Error{Code: CodeData, Msg: "store uses in-line keys, an explicit key is not allowed"}
	}
	raw, doc, err := prepareRecord(record)
	if err != nil {
		return nil, err
	}
	root, data, err := s.buckets()
	if err != nil {
		return nil, err
	}

	var pk any
	var generated bool
	switch {
	case kp != nil:
		if v, ok := kp.extract(doc); ok {
			pk = v
		} else if st.AutoIncrement {
			generated = true
		} else {
			return nil, &Error{Code: CodeData, Msg: fmt.Sprintf("record has no key at %v", kp)}
		}
	case key != nil:
		pk = key
	case st.AutoIncrement:
		generated = true
	default:
		return nil, &Error{Code: CodeData, Msg: "store uses out-of-line keys and has no key generator, a key is required"}
	}

	var seq, oldSeq uint64
	if st.AutoIncrement {
		seq = readSeq(root)
		oldSeq = seq
	}
	if generated {
		if seq > maxSafeInteger {
			return nil, &Error{Code: CodeConstraint, Msg: "key generator exhausted"}
		}
		pk = int64(seq)
		seq++
		if kp != nil {
			if doc, err = kp.inject(doc, pk); err != nil {
				return nil, err
			}
			if raw, err = encodeMsgpack(doc); err != nil {
				return nil, &Error{Code: CodeData, Msg: "record cannot be stored", Err: err}
			}
		}
	}

	epk, err := encodeKey(pk)
	if err != nil {
		return nil, err
	}
	pk = must(decodeWholeKey(epk))
	if st.AutoIncrement && !generated {
		if f, ok := keyNumber(pk); ok && f >= float64(seq) {
			seq = uint64(math.Min(math.Floor(f)+1, maxSafeInteger+1))
		}
	}

	old := data.Get(epk)
	if old != nil && noOverwrite {
		return nil, (&Error{Code: CodeConstraint, Msg: "key already exists"}).withKey(pk)
	}
	var oldDoc any
	if old != nil {
		if oldDoc, err = decodeGeneric(old); err != nil {
			return nil, err
		}
	}

	updates := make([]indexUpdate, 0, len(st.Indexes))
	for _, is := range st.Indexes {
		b, err := s.indexBucket(is)
		if err != nil {
			return nil, err
		}
		u := indexUpdate{is: is, b: b, adds: is.indexKeys(doc)}
		if oldDoc != nil {
			u.removes = is.indexKeys(oldDoc)
		}
		if is.Unique {
			for _, ik := range u.adds {
				if err := checkUnique(b, ik, epk); err != nil {
					return nil, err.in(st.Name, is.Name)
				}
			}
		}
		updates = append(updates, u)
	}

	if seq != oldSeq {
		if err := writeSeq(root, seq); err != nil {
			return nil, err
		}
	}
	for _, u := range updates {
		for _, ik := range u.removes {
			if err := u.b.Delete(indexEntryKey(ik, epk)); err != nil {
				return nil, err
			}
		}
		for _, ik := range u.adds {
			if err := u.b.Put(indexEntryKey(ik, epk), epk); err != nil {
				return nil, err
			}
		}
	}
	if err := data.Put(epk, raw); err != nil {
		return nil, err
	}
	return pk, nil
}

func keyNumber(key any) (float64, bool) {
	switch v := key.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func indexEntryKey(ik, epk []byte) []byte {
	out := make([]byte, 0, len(ik)+len(epk))
	return append(append(out, ik...), epk...)
}

func checkUnique(b storageBucket, ik, epk []byte) *Error {
	c := b.Cursor()
	for k, v := c.Seek(ik); k != nil && bytes.HasPrefix(k, ik); k, v = c.Next() {
		if !bytes.Equal(v, epk) {
			return (&Error{Code: CodeConstraint, Msg: "unique index already has this key"}).withKey(keyString(ik))
		}
	}
	return nil
}

// Delete removes the record with the given key, or every record in a
// *KeyRange. Deleting a missing key is not an error.
func (s *ObjectStore) Delete(query any) (*Request, error) {
	if err := s.checkWritable("DELETE"); err != nil {
		return nil, err
	}
	r, err := s.queryRange("DELETE", query, true)
	if err != nil {
		return nil, err
	}
	return s.tx.request("DELETE", s.target(query), func() (any, error) {
		_, err := s.deleteRange(r)
		return nil, err
	})
}

func (s *ObjectStore) deleteRange(r *KeyRange) (int, error) {
	c, err := s.cursor(r, Forward, nil)
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for c.Next() {
		keys = append(keys, bytes.Clone(c.k))
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	for _, epk := range keys {
		if err := s.deleteRecord(c.data, epk); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *ObjectStore) deleteRecord(data storageBucket, epk []byte) error {
	old := data.Get(epk)
	if old == nil {
		return nil
	}
	oldDoc, err := decodeGeneric(old)
	if err != nil {
		return err
	}
	for _, is := range s.state.Indexes {
		b, err := s.indexBucket(is)
		if err != nil {
			return err
		}
		for _, ik := range is.indexKeys(oldDoc) {
			if err := b.Delete(indexEntryKey(ik, epk)); err != nil {
				return err
			}
		}
	}
	return data.Delete(epk)
}

// Clear deletes every record. The key generator keeps its value.
func (s *ObjectStore) Clear() (*Request, error) {
	if err := s.checkWritable("CLEAR"); err != nil {
		return nil, err
	}
	return s.tx.request("CLEAR", s.state.Name, func() (any, error) {
		name := storeBucketName(s.state.Name)
		subs := []string{dataBucket}
		for _, is := range s.state.Indexes {
			subs = append(subs, indexBucketName(is.Ordinal))
		}
		for _, sub := range subs {
			if err := s.tx.stx.DeleteBucket(name, sub); err != nil && err != ErrBucketNotFound {
				return nil, err
			}
			if _, err := s.tx.stx.CreateBucket(name, sub); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// Count resolves with the number of records matching query; nil counts all.
func (s *ObjectStore) Count(query any) (*Request, error) {
	r, err := s.queryRange("COUNT", query, false)
	if err != nil {
		return nil, err
	}
	return s.tx.request("COUNT", s.target(query), func() (any, error) {
		return s.count(r, nil)
	})
}

func (s *ObjectStore) count(r *KeyRange, is *indexState) (int, error) {
	if r == nil {
		b, err := s.bucketFor(is)
		if err != nil {
			return 0, err
		}
		return b.KeyCount(), nil
	}
	c, err := s.cursor(r, Forward, is)
	if err != nil {
		return 0, err
	}
	var n int
	for c.Next() {
		n++
	}
	return n, c.Err()
}

// GetAll resolves with the matching records in key order, at most limit of
// them unless limit is 0.
func (s *ObjectStore) GetAll(query any, limit int) (*Request, error) {
	r, err := s.queryRange("GETALL", query, false)
	if err != nil {
		return nil, err
	}
	return s.tx.request("GETALL", s.target(query), func() (any, error) {
		c, err := s.cursor(r, Forward, nil)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, limit, (*Cursor).Value)
	})
}

// GetAllKeys resolves with the matching primary keys in key order.
func (s *ObjectStore) GetAllKeys(query any, limit int) (*Request, error) {
	r, err := s.queryRange("GETALLKEYS", query, false)
	if err != nil {
		return nil, err
	}
	return s.tx.request("GETALLKEYS", s.target(query), func() (any, error) {
		c, err := s.cursor(r, Forward, nil)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, limit, (*Cursor).PrimaryKey)
	})
}

func collectCursor[T any](c *Cursor, limit int, fn func(c *Cursor) T) ([]T, error) {
	out := []T{}
	for (limit <= 0 || len(out) < limit) && c.Next() {
		out = append(out, fn(c))
	}
	return out, c.Err()
}

// OpenCursor iterates over the whole store in ascending key order.
func (s *ObjectStore) OpenCursor() (*Cursor, error) {
	return s.OpenCursorRange(nil, Forward)
}

func (s *ObjectStore) OpenCursorRange(r *KeyRange, dir Direction) (*Cursor, error) {
	if err := s.check("openCursor"); err != nil {
		return nil, err
	}
	return s.cursor(r, dir, nil)
}

func (s *ObjectStore) bucketFor(is *indexState) (storageBucket, error) {
	if is != nil {
		return s.indexBucket(is)
	}
	_, data, err := s.buckets()
	return data, err
}

func (s *ObjectStore) cursor(r *KeyRange, dir Direction, is *indexState) (*Cursor, error) {
	rng, err := r.encode(dir == Reverse)
	if err != nil {
		return nil, inStore(err, s.state.Name, "")
	}
	_, data, err := s.buckets()
	if err != nil {
		return nil, err
	}
	b := data
	if is != nil {
		if b, err = s.indexBucket(is); err != nil {
			return nil, err
		}
	}
	return &Cursor{tx: s.tx, store: s, index: is, rng: rng, bcur: b.Cursor(), data: data}, nil
}

func (s *ObjectStore) Index(name string) (*Index, error) {
	if err := s.check("index"); err != nil {
		return nil, err
	}
	is := s.state.index(name)
	if is == nil {
		return nil, (&Error{Code: CodeNotFound, Op: "index", Msg: "no such index"}).in(s.state.Name, name)
	}
	return &Index{store: s, state: is}, nil
}

// CreateIndex adds an index and fills it from the existing records. Only
// allowed during an upgrade.
func (s *ObjectStore) CreateIndex(name string, keyPath KeyPath, opts IndexOptions) (*Index, error) {
	const op = "createIndex"
	if err := s.check(op); err != nil {
		return nil, err
	}
	if err := s.tx.checkVersionChange(op); err != nil {
		return nil, inStore(err, s.state.Name, name)
	}
	if name == "" {
		return nil, (&Error{Code: CodeInvalidAccess, Op: op, Msg: "empty index name"}).in(s.state.Name, "")
	}
	if s.state.index(name) != nil {
		return nil, (&Error{Code: CodeConstraint, Op: op, Msg: "index already exists"}).in(s.state.Name, name)
	}
	id := IndexDescriptor{Name: name, KeyPath: keyPath, Options: opts}
	if err := id.validate(); err != nil {
		return nil, inStore(err, s.state.Name, name)
	}

	is := s.state.addIndex(name, keyPath, opts)
	s.tx.catDirty = true
	if _, err := s.tx.stx.CreateBucket(storeBucketName(s.state.Name), indexBucketName(is.Ordinal)); err != nil {
		s.tx.abortWith(err)
		return nil, err
	}
	if err := s.backfill(is); err != nil {
		err = inStore(err, s.state.Name, name)
		s.tx.abortWith(err)
		return nil, err
	}
	return &Index{store: s, state: is}, nil
}

func (s *ObjectStore) backfill(is *indexState) error {
	start := time.Now()
	_, data, err := s.buckets()
	if err != nil {
		return err
	}
	b, err := s.indexBucket(is)
	if err != nil {
		return err
	}
	var rows, entries int
	c := data.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		doc, err := decodeGeneric(v)
		if err != nil {
			return err
		}
		rows++
		for _, ik := range is.indexKeys(doc) {
			if is.Unique {
				if err := checkUnique(b, ik, k); err != nil {
					return err
				}
			}
			if err := b.Put(indexEntryKey(ik, k), k); err != nil {
				return err
			}
			entries++
		}
	}
	if rows > 0 {
		s.tx.conn.logger.Info("promdb: built index", append(s.tx.logAttrs(), "store", s.state.Name, "index", is.Name, "records", rows, "entries", entries, "ms", time.Since(start).Milliseconds())...)
	}
	return nil
}

// DeleteIndex drops an index. Only allowed during an upgrade.
func (s *ObjectStore) DeleteIndex(name string) error {
	const op = "deleteIndex"
	if err := s.check(op); err != nil {
		return err
	}
	if err := s.tx.checkVersionChange(op); err != nil {
		return inStore(err, s.state.Name, name)
	}
	is := s.state.index(name)
	if is == nil {
		return (&Error{Code: CodeNotFound, Op: op, Msg: "no such index"}).in(s.state.Name, name)
	}
	err := s.tx.stx.DeleteBucket(storeBucketName(s.state.Name), indexBucketName(is.Ordinal))
	if err != nil && err != ErrBucketNotFound {
		s.tx.abortWith(err)
		return err
	}
	s.state.removeIndex(name)
	s.tx.catDirty = true
	return nil
}
