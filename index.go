package promdb

// Index is a secondary index as seen through one transaction. Index entries
// are derived from records on every write and cannot be written directly.
type Index struct {
	store *ObjectStore
	state *indexState
}

func (idx *Index) Name() string { return idx.state.Name }
func (idx *Index) KeyPath() KeyPath { return idx.state.KeyPath }
func (idx *Index) Unique() bool { return idx.state.Unique }
func (idx *Index) MultiEntry() bool { return idx.state.MultiEntry }
func (idx *Index) ObjectStore() *ObjectStore { return idx.store }
func (idx *Index) FullName() string { return idx.store.state.Name + "." + idx.state.Name }

func (idx *Index) check(op string) error {
	if err := idx.store.check(op); err != nil {
		return err
	}
	if idx.store.state.index(idx.state.Name) != idx.state {
		return (&Error{Code: CodeInvalidState, Op: op, Msg: "index has been deleted"}).in(idx.store.state.Name, idx.state.Name)
	}
	return nil
}

func (idx *Index) queryRange(op string, query any, required bool) (*KeyRange, error) {
	if err := idx.check(op); err != nil {
		return nil, err
	}
	r, err := idx.store.queryRange(op, query, required)
	if err != nil {
		return nil, inStore(err, idx.store.state.Name, idx.state.Name)
	}
	return r, nil
}

func (idx *Index) target(query any) string {
	return idx.store.state.Name + "." + idx.state.Name + idx.store.target(query)[len(idx.store.state.Name):]
}

// Get resolves with the first record whose index key matches query, or nil.
func (idx *Index) Get(query any) (*Request, error) {
	r, err := idx.queryRange("GET", query, true)
	if err != nil {
		return nil, err
	}
	return idx.store.tx.request("GET", idx.target(query), func() (any, error) {
		c, err := idx.store.cursor(r, Forward, idx.state)
		if err != nil {
			return nil, err
		}
		if !c.Next() {
			return nil, c.Err()
		}
		if rec := c.Value(); rec != nil {
			return rec, nil
		}
		return nil, nil
	})
}

// GetKey resolves with the primary key of the first match, or nil.
func (idx *Index) GetKey(query any) (*Request, error) {
	r, err := idx.queryRange("GETKEY", query, true)
	if err != nil {
		return nil, err
	}
	return idx.store.tx.request("GETKEY", idx.target(query), func() (any, error) {
		c, err := idx.store.cursor(r, Forward, idx.state)
		if err != nil {
			return nil, err
		}
		if !c.Next() {
			return nil, c.Err()
		}
		return c.PrimaryKey(), nil
	})
}

// Count counts index entries, so a multi-entry index may count a record
// more than once.
func (idx *Index) Count(query any) (*Request, error) {
	r, err := idx.queryRange("COUNT", query, false)
	if err != nil {
		return nil, err
	}
	return idx.store.tx.request("COUNT", idx.target(query), func() (any, error) {
		return idx.store.count(r, idx.state)
	})
}

// GetAll resolves with the matching records in index key order.
func (idx *Index) GetAll(query any, limit int) (*Request, error) {
	r, err := idx.queryRange("GETALL", query, false)
	if err != nil {
		return nil, err
	}
	return idx.store.tx.request("GETALL", idx.target(query), func() (any, error) {
		c, err := idx.store.cursor(r, Forward, idx.state)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, limit, (*Cursor).Value)
	})
}

// GetAllKeys resolves with the primary keys of the matching records in
// index key order.
func (idx *Index) GetAllKeys(query any, limit int) (*Request, error) {
	r, err := idx.queryRange("GETALLKEYS", query, false)
	if err != nil {
		return nil, err
	}
	return idx.store.tx.request("GETALLKEYS", idx.target(query), func() (any, error) {
		c, err := idx.store.cursor(r, Forward, idx.state)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, limit, (*Cursor).PrimaryKey)
	})
}

func (idx *Index) OpenCursor() (*Cursor, error) {
	return idx.OpenCursorRange(nil, Forward)
}

func (idx *Index) OpenCursorRange(r *KeyRange, dir Direction) (*Cursor, error) {
	if err := idx.check("openCursor"); err != nil {
		return nil, err
	}
	return idx.store.cursor(r, dir, idx.state)
}
