package promdb

import (
	"errors"
	"strings"
	"testing"
)

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type generatedUser struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

func TestObjectStore_KeyGenerator(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{
			{Name: "items", Key: KeySpec{AutoIncrement: true}},
		}))
		update(t, conn, "items", func(s *ObjectStore) {
			rec := map[string]any{"v": 1}
			deepEqual(t, must(must(s.Put(rec, nil)).Wait()), any(int64(1)))
			deepEqual(t, must(must(s.Put(rec, nil)).Wait()), any(int64(2)))
			deepEqual(t, must(must(s.Put(rec, 10)).Wait()), any(int64(10)))
			deepEqual(t, must(must(s.Put(rec, nil)).Wait()), any(int64(11)))
			// lower numbers and non-numbers leave the generator alone
			deepEqual(t, must(must(s.Put(rec, 5.5)).Wait()), any(5.5))
			deepEqual(t, must(must(s.Put(rec, "k")).Wait()), any("k"))
			deepEqual(t, must(must(s.Put(rec, nil)).Wait()), any(int64(12)))
			deepEqual(t, must(must(s.Put(rec, 20.5)).Wait()), any(20.5))
			deepEqual(t, must(must(s.Put(rec, nil)).Wait()), any(int64(21)))
		})
		// the generator value is persisted
		update(t, conn, "items", func(s *ObjectStore) {
			deepEqual(t, must(must(s.Add(map[string]any{}, nil)).Wait()), any(int64(22)))
		})
	})
}

func TestObjectStore_InlineKeys(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{
			{Name: "users", Key: KeySpec{KeyPath: Path("id"), AutoIncrement: true}},
			{Name: "nested", Key: KeySpec{KeyPath: Path("meta.id"), AutoIncrement: true}},
			{Name: "pairs", Key: KeySpec{KeyPath: Paths("a", "b")}},
		}))
		update(t, conn, "users", func(s *ObjectStore) {
			deepEqual(t, must(must(s.Add(map[string]any{"name": "first"}, nil)).Wait()), any(int64(1)))
			deepEqual(t, must(must(s.Put(&User{ID: 7, Name: "seven"}, nil)).Wait()), any(int64(7)))
			deepEqual(t, must(must(s.Put(map[string]any{"name": "next"}, nil)).Wait()), any(int64(8)))

			rec := must(must(s.Get(1)).Wait()).(*Record)
			deepEqual(t, must(As[User](rec)), &User{ID: 1, Name: "first"})

			// omitempty leaves the key to the generator, a plain zero ID is a key
			deepEqual(t, must(must(s.Add(&generatedUser{Name: "gen"}, nil)).Wait()), any(int64(9)))
			rec = must(must(s.Get(9)).Wait()).(*Record)
			deepEqual(t, must(As[generatedUser](rec)), &generatedUser{ID: 9, Name: "gen"})
			deepEqual(t, must(must(s.Put(&User{Name: "zero"}, nil)).Wait()), any(int64(0)))
			deepEqual(t, must(must(s.Put(map[string]any{"name": "after"}, nil)).Wait()), any(int64(10)))

			_, err := s.Put(&User{ID: 3}, 3)
			if !errors.Is(err, ErrData) {
				t.Fatalf("explicit key on an in-line store = %v, wanted DataError", err)
			}
			if !s.Tx().Active() {
				t.Fatalf("argument error aborted the transaction")
			}
		})
		update(t, conn, "nested", func(s *ObjectStore) {
			deepEqual(t, must(must(s.Put(map[string]any{"x": "y"}, nil)).Wait()), any(int64(1)))
			m := must(must(must(s.Get(1)).Wait()).(*Record).Map())
			if meta, ok := m["meta"].(map[string]any); !ok || meta["id"] == nil {
				t.Fatalf("generated key was not injected: %v", m)
			}
		})
		update(t, conn, "pairs", func(s *ObjectStore) {
			deepEqual(t, must(must(s.Put(map[string]any{"a": "x", "b": 2}, nil)).Wait()), any([]any{"x", int64(2)}))
			isnonnil(t, must(must(s.Get([]any{"x", 2})).Wait()).(*Record))

			_, err := s.Put(map[string]any{"a": "x"}, nil)
			if !errors.Is(err, ErrData) {
				t.Fatalf("record without a key = %v, wanted DataError", err)
			}
		})
	})
}

func TestObjectStore_KeyRules(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{{Name: "kv"}}))

		tx := must(conn.Transaction([]string{"kv"}, ReadWrite))
		s := must(tx.ObjectStore("kv"))
		if _, err := s.Put("v", nil); !errors.Is(err, ErrData) {
			t.Fatalf("Put without a key = %v, wanted DataError", err)
		}
		if _, err := s.Put("v", true); !errors.Is(err, ErrData) {
			t.Fatalf("Put with a bool key = %v, wanted DataError", err)
		}
		if _, err := s.Get(nil); !errors.Is(err, ErrData) {
			t.Fatalf("Get(nil) = %v, wanted DataError", err)
		}
		if _, err := s.Put(func() {}, 1); !errors.Is(err, ErrData) {
			t.Fatalf("Put(func) = %v, wanted DataError", err)
		}
		must(s.Put("one", 1))

		req, err := s.Add("again", 1)
		if !errors.Is(err, ErrConstraint) {
			t.Fatalf("Add(existing) = %v, wanted ConstraintError", err)
		}
		if _, rerr := req.Wait(); !errors.Is(rerr, ErrConstraint) {
			t.Fatalf("request result = %v, wanted ConstraintError", rerr)
		}
		if tx.Active() {
			t.Fatalf("failed request did not abort the transaction")
		}
		if _, err := s.Get(1); !errors.Is(err, ErrTransactionInactive) {
			t.Fatalf("Get after abort = %v, wanted TransactionInactiveError", err)
		}
		if err := tx.Commit(); !errors.Is(err, ErrAbort) {
			t.Fatalf("Commit after abort = %v, wanted AbortError", err)
		}

		// nothing from the aborted transaction is visible
		rtx := must(conn.Transaction([]string{"kv"}, ReadOnly))
		rs := must(rtx.ObjectStore("kv"))
		deepEqual(t, must(must(rs.Count(nil)).Wait()), any(0))
		if _, err := rs.Put("v", 2); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("Put in ReadOnly = %v, wanted ReadOnlyError", err)
		}
		if _, err := rs.Clear(); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("Clear in ReadOnly = %v, wanted ReadOnlyError", err)
		}
		ensure(rtx.Commit())
	})
}

func TestObjectStore_UniqueIndex(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{{
			Name:    "users",
			Key:     KeySpec{KeyPath: Path("id")},
			Indexes: []IndexDescriptor{{Name: "email", KeyPath: Path("email"), Options: IndexOptions{Unique: true}}},
		}}))
		update(t, conn, "users", func(s *ObjectStore) {
			must(s.Put(&User{ID: 1, Email: "a@example.com"}, nil))
			must(s.Put(&User{ID: 2, Email: "b@example.com"}, nil))
			// rewriting the same record keeps its entry
			must(s.Put(&User{ID: 1, Name: "A", Email: "a@example.com"}, nil))
		})

		tx := must(conn.Transaction([]string{"users"}, ReadWrite))
		_, err := must(tx.ObjectStore("users")).Put(&User{ID: 3, Email: "a@example.com"}, nil)
		var e *Error
		if !errors.As(err, &e) || e.Code != CodeConstraint || e.Index != "email" {
			t.Fatalf("duplicate unique key = %v, wanted ConstraintError on users.email", err)
		}
		if tx.Active() {
			t.Fatalf("constraint violation did not abort the transaction")
		}

		update(t, conn, "users", func(s *ObjectStore) {
			must(s.Put(&User{ID: 1, Email: "c@example.com"}, nil))
			must(s.Put(&User{ID: 3, Email: "a@example.com"}, nil))
			idx := must(s.Index("email"))
			deepEqual(t, must(must(idx.GetKey("a@example.com")).Wait()), any(int64(3)))
			deepEqual(t, must(must(idx.GetKey("c@example.com")).Wait()), any(int64(1)))
			deepEqual(t, must(must(idx.Count(nil)).Wait()), any(3))
		})
	})
}

func TestObjectStore_MultiEntryIndex(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{{
			Name: "posts",
			Key:  KeySpec{KeyPath: Path("id")},
			Indexes: []IndexDescriptor{
				{Name: "tag", KeyPath: Path("tags"), Options: IndexOptions{MultiEntry: true}},
				{Name: "tagList", KeyPath: Path("tags")},
			},
		}}))
		update(t, conn, "posts", func(s *ObjectStore) {
			must(s.Put(map[string]any{"id": 1, "tags": []string{"a", "b", "a"}}, nil))
			must(s.Put(map[string]any{"id": 2, "tags": []any{"b", "c", true}}, nil))
			must(s.Put(map[string]any{"id": 3}, nil))
		})
		view(t, conn, "posts", func(s *ObjectStore) {
			tag := must(s.Index("tag"))
			deepEqual(t, must(must(tag.Count(nil)).Wait()), any(4))
			deepEqual(t, must(must(tag.GetAllKeys("b", 0)).Wait()), any([]any{int64(1), int64(2)}))
			deepEqual(t, must(must(tag.GetKey("c")).Wait()), any(int64(2)))
			recs := must(must(tag.GetAll(Only("a"), 0)).Wait()).([]*Record)
			deepEqual(t, len(recs), 1)

			// without multiEntry an array is one key; true makes record 2 unindexable
			list := must(s.Index("tagList"))
			deepEqual(t, must(must(list.Count(nil)).Wait()), any(1))
			deepEqual(t, must(must(list.GetKey([]any{"a", "b", "a"})).Wait()), any(int64(1)))
		})
		update(t, conn, "posts", func(s *ObjectStore) {
			must(s.Delete(1))
			must(s.Put(map[string]any{"id": 2, "tags": []string{"d"}}, nil))
			tag := must(s.Index("tag"))
			deepEqual(t, must(must(tag.GetAllKeys(nil, 0)).Wait()), any([]any{int64(2)}))
			deepEqual(t, must(must(tag.Get("b")).Wait()), nil)
		})
	})
}

func TestObjectStore_RangesAndCursors(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{{
			Name: "nums",
			Indexes: []IndexDescriptor{
				{Name: "parity", KeyPath: Paths("parity", "n")},
				{Name: "group", KeyPath: Path("parity")},
			},
		}}))
		update(t, conn, "nums", func(s *ObjectStore) {
			for n := 1; n <= 5; n++ {
				parity := "odd"
				if n%2 == 0 {
					parity = "even"
				}
				must(s.Put(map[string]any{"n": n, "parity": parity}, n))
			}
		})
		view(t, conn, "nums", func(s *ObjectStore) {
			keys := func(query any, limit int) any {
				return must(must(s.GetAllKeys(query, limit)).Wait())
			}
			deepEqual(t, keys(Bound(2, 4, false, true), 0), any([]any{int64(2), int64(3)}))
			deepEqual(t, keys(LowerBound(3, true), 0), any([]any{int64(4), int64(5)}))
			deepEqual(t, keys(UpperBound(2, false), 0), any([]any{int64(1), int64(2)}))
			deepEqual(t, keys(KeyRange{Lower: 4}, 0), any([]any{int64(4), int64(5)}))
			deepEqual(t, keys(nil, 2), any([]any{int64(1), int64(2)}))
			deepEqual(t, keys(3, 0), any([]any{int64(3)}))
			deepEqual(t, keys("3", 0), any([]any{}))
			deepEqual(t, must(must(s.Count(Bound(2, 5, true, true))).Wait()), any(2))

			rec := must(must(s.Get(LowerBound(3, true))).Wait()).(*Record)
			deepEqual(t, must(rec.Map())["parity"], any("even"))

			deepEqual(t, cursorKeys(s.OpenCursorRange(nil, Reverse)), []any{int64(5), int64(4), int64(3), int64(2), int64(1)})
			deepEqual(t, cursorKeys(s.OpenCursorRange(Bound(2, 4, true, false), Reverse)), []any{int64(4), int64(3)})
			deepEqual(t, cursorKeys(s.OpenCursorRange(Bound(2, 4, false, true), Reverse)), []any{int64(3), int64(2)})

			if _, err := s.GetAllKeys(Bound(3, 2, false, false), 0); !errors.Is(err, ErrData) {
				t.Fatalf("empty range = %v, wanted DataError", err)
			}
			if _, err := s.GetAllKeys(Bound(3, 3, true, false), 0); !errors.Is(err, ErrData) {
				t.Fatalf("open single-key range = %v, wanted DataError", err)
			}

			parity := must(s.Index("parity"))
			c := must(parity.OpenCursorRange(Bound([]any{"odd"}, []any{"odd", 9}, false, false), Reverse))
			var pks []any
			for c.Next() {
				pks = append(pks, c.PrimaryKey())
				if c.Value() == nil {
					t.Fatalf("index cursor has no value at %v", c.Key())
				}
			}
			ensure(c.Err())
			deepEqual(t, pks, []any{int64(5), int64(3), int64(1)})
			deepEqual(t, c.Direction(), Reverse)

			group := must(s.Index("group"))
			deepEqual(t, cursorKeys(group.OpenCursorRange(Only("odd"), Reverse)), []any{"odd", "odd", "odd"})
			deepEqual(t, cursorPrimaryKeys(group.OpenCursorRange(Only("odd"), Reverse)), []any{int64(5), int64(3), int64(1)})
			deepEqual(t, cursorPrimaryKeys(group.OpenCursorRange(UpperBound("odd", true), Forward)), []any{int64(2), int64(4)})
			deepEqual(t, cursorPrimaryKeys(group.OpenCursorRange(LowerBound("even", true), Reverse)), []any{int64(5), int64(3), int64(1)})
		})
		update(t, conn, "nums", func(s *ObjectStore) {
			must(s.Delete(Bound(2, 3, false, false)))
			deepEqual(t, must(must(s.GetAllKeys(nil, 0)).Wait()), any([]any{int64(1), int64(4), int64(5)}))
			deepEqual(t, must(must(must(s.Index("group")).Count("even")).Wait()), any(1))

			must(s.Clear())
			deepEqual(t, must(must(s.Count(nil)).Wait()), any(0))
			deepEqual(t, must(must(must(s.Index("parity")).Count(nil)).Wait()), any(0))
		})
	})
}

func TestTx_Lifecycle(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := openTestConn(t, host, createDeclared([]StoreDescriptor{{Name: "a"}, {Name: "b"}}))

		if _, err := conn.Transaction(nil, ReadOnly); !errors.Is(err, ErrInvalidAccess) {
			t.Fatalf("empty scope = %v, wanted InvalidAccessError", err)
		}
		if _, err := conn.Transaction([]string{"a"}, Mode(42)); !errors.Is(err, ErrInvalidAccess) {
			t.Fatalf("bad mode = %v, wanted InvalidAccessError", err)
		}
		if _, err := conn.Transaction([]string{"a", "zzz"}, ReadOnly); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown store = %v, wanted NotFoundError", err)
		}

		tx := must(conn.Transaction([]string{"b", "a", "b"}, ReadWrite))
		deepEqual(t, tx.ObjectStoreNames(), []string{"a", "b"})
		deepEqual(t, tx.Mode(), ReadWrite)
		if _, err := tx.ObjectStore("c"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("store outside scope = %v, wanted NotFoundError", err)
		}
		if s1, s2 := must(tx.ObjectStore("a")), must(tx.ObjectStore("a")); s1 != s2 {
			t.Fatalf("ObjectStore returned different handles for one store")
		}
		if _, err := must(tx.ObjectStore("a")).CreateIndex("x", Path("x"), IndexOptions{}); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("CreateIndex outside an upgrade = %v, wanted InvalidStateError", err)
		}

		pending := must(must(tx.ObjectStore("a")).Put("v", 1))
		if desc := conn.DescribeOpenTxns(); !containsAll(desc, tx.ID(), "readwrite") {
			t.Fatalf("DescribeOpenTxns() = %q, wanted it to list %s", desc, tx.ID())
		}
		ensure(tx.Commit())
		wait(t, tx.Complete())
		deepEqual(t, must(pending.Wait()), any(int64(1)))
		deepEqual(t, conn.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")

		if _, err := tx.ObjectStore("a"); !errors.Is(err, ErrTransactionInactive) {
			t.Fatalf("ObjectStore after commit = %v, wanted TransactionInactiveError", err)
		}
		if err := tx.Commit(); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("second Commit = %v, wanted InvalidStateError", err)
		}
		tx.Abort()
		if tx.Err() != nil {
			t.Fatalf("Abort after commit set Err() = %v", tx.Err())
		}

		tx = must(conn.Transaction([]string{"a"}, ReadWrite))
		must(must(tx.ObjectStore("a")).Put("w", 2))
		tx.Abort()
		if _, err := tx.Complete().Wait(); !errors.Is(err, ErrAbort) {
			t.Fatalf("Complete after Abort = %v, wanted AbortError", err)
		}
		view(t, conn, "a", func(s *ObjectStore) {
			deepEqual(t, must(must(s.GetAllKeys(nil, 0)).Wait()), any([]any{int64(1)}))
		})

		ensure(conn.Close())
		if _, err := conn.Transaction([]string{"a"}, ReadOnly); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("Transaction after Close = %v, wanted InvalidStateError", err)
		}
	})
}

func TestUpgrade_IndexLifecycle(t *testing.T) {
	forEachHost(t, func(t *testing.T, host *Host) {
		conn := must(openConn(host, "idx", 1, func(up *Upgrade) error {
			s, err := up.CreateObjectStore("users", KeySpec{KeyPath: Path("id")})
			if err != nil {
				return err
			}
			must(s.Put(&User{ID: 1, Name: "ann", Email: "x@example.com"}, nil))
			must(s.Put(&User{ID: 2, Name: "bob", Email: "x@example.com"}, nil))
			return nil
		}, Options{}))
		ensure(conn.Close())

		conn = must(openConn(host, "idx", 2, func(up *Upgrade) error {
			s := must(up.ObjectStore("users"))
			if _, err := s.CreateIndex("name", Path("name"), IndexOptions{Unique: true}); err != nil {
				return err
			}
			if _, err := s.CreateIndex("name", Path("name"), IndexOptions{}); !errors.Is(err, ErrConstraint) {
				t.Errorf("duplicate CreateIndex = %v, wanted ConstraintError", err)
			}
			_, err := up.CreateObjectStore("users", KeySpec{})
			if !errors.Is(err, ErrConstraint) {
				t.Errorf("duplicate CreateObjectStore = %v, wanted ConstraintError", err)
			}
			_, err = up.CreateObjectStore("tmp", KeySpec{})
			return err
		}, Options{}))
		view(t, conn, "users", func(s *ObjectStore) {
			deepEqual(t, s.IndexNames(), []string{"name"})
			deepEqual(t, must(must(must(s.Index("name")).GetKey("bob")).Wait()), any(int64(2)))
		})
		deepEqual(t, conn.ObjectStoreNames(), []string{"tmp", "users"})
		ensure(conn.Close())

		_, err := openConn(host, "idx", 3, func(up *Upgrade) error {
			_, err := must(up.ObjectStore("users")).CreateIndex("email", Path("email"), IndexOptions{Unique: true})
			return err
		}, Options{})
		if !errors.Is(err, ErrConstraint) {
			t.Fatalf("unique backfill over duplicates = %v, wanted ConstraintError", err)
		}

		conn = must(openConn(host, "idx", 3, func(up *Upgrade) error {
			byName := must(must(must(up.ObjectStore("users")).Index("name")).OpenCursor())
			deepEqual(t, byName.Next(), true)
			if err := must(up.ObjectStore("users")).DeleteIndex("name"); err != nil {
				return err
			}
			// cursors stop once their index or store is gone
			if byName.Next() || !errors.Is(byName.Err(), ErrInvalidState) {
				t.Errorf("index cursor after DeleteIndex: err = %v, wanted InvalidStateError", byName.Err())
			}
			tmp := must(up.ObjectStore("tmp"))
			must(tmp.Put("t", 1))
			tmpCur := must(tmp.OpenCursor())
			deepEqual(t, tmpCur.Next(), true)
			if err := must(up.ObjectStore("users")).DeleteIndex("name"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second DeleteIndex = %v, wanted NotFoundError", err)
			}
			idx := must(must(up.ObjectStore("users")).CreateIndex("email", Path("email"), IndexOptions{}))
			deepEqual(t, must(must(idx.Count(nil)).Wait()), any(2))
			if err := up.DeleteObjectStore("tmp"); err != nil {
				return err
			}
			if tmpCur.Next() || !errors.Is(tmpCur.Err(), ErrInvalidState) {
				t.Errorf("store cursor after DeleteObjectStore: err = %v, wanted InvalidStateError", tmpCur.Err())
			}
			return nil
		}, Options{}))
		t.Cleanup(func() { conn.Close() })
		deepEqual(t, conn.Version(), uint64(3))
		deepEqual(t, conn.ObjectStoreNames(), []string{"users"})
		view(t, conn, "users", func(s *ObjectStore) {
			deepEqual(t, s.IndexNames(), []string{"email"})
			deepEqual(t, must(must(must(s.Index("email")).GetAllKeys("x@example.com", 0)).Wait()), any([]any{int64(1), int64(2)}))
		})

		stats := must(conn.Stats("users"))
		deepEqual(t, stats.Records, 2)
		deepEqual(t, stats.IndexEntries, 2)
	})
}

func openTestConn(t testing.TB, host *Host, upgrade UpgradeFunc) *Conn {
	t.Helper()
	conn, err := openConn(host, "test", 1, upgrade, Options{})
	if err != nil {
		t.Fatalf("** %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func update(t testing.TB, conn *Conn, store string, fn func(s *ObjectStore)) {
	t.Helper()
	runStore(t, conn, store, ReadWrite, fn)
}

func view(t testing.TB, conn *Conn, store string, fn func(s *ObjectStore)) {
	t.Helper()
	runStore(t, conn, store, ReadOnly, fn)
}

func runStore(t testing.TB, conn *Conn, store string, mode Mode, fn func(s *ObjectStore)) {
	t.Helper()
	err := conn.run([]string{store}, mode, func(tx *Tx) error {
		s, err := tx.ObjectStore(store)
		if err != nil {
			return err
		}
		fn(s)
		return nil
	})
	if err != nil {
		t.Fatalf("** %v", err)
	}
}

func cursorKeys(c *Cursor, err error) []any {
	return drainCursor(c, err, (*Cursor).Key)
}

func cursorPrimaryKeys(c *Cursor, err error) []any {
	return drainCursor(c, err, (*Cursor).PrimaryKey)
}

func drainCursor(c *Cursor, err error, fn func(c *Cursor) any) []any {
	ensure(err)
	out := []any{}
	for c.Next() {
		out = append(out, fn(c))
	}
	ensure(c.Err())
	return out
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
