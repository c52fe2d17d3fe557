package promdb

// Queryable is what an accessor reads through: a store or one of its
// indexes.
type Queryable interface {
	Get(query any) (*Request, error)
	GetKey(query any) (*Request, error)
	OpenCursor() (*Cursor, error)
	OpenCursorRange(r *KeyRange, dir Direction) (*Cursor, error)
}

var (
	_ Queryable = (*ObjectStore)(nil)
	_ Queryable = (*Index)(nil)
)

// View picks what an accessor queries inside a transaction.
type View func(tx *Tx, store string) (Queryable, error)

// StoreView queries the store by primary key.
func StoreView(tx *Tx, store string) (Queryable, error) {
	s, err := tx.ObjectStore(store)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IndexView queries the store through the named index.
func IndexView(index string) View {
	return func(tx *Tx, store string) (Queryable, error) {
		s, err := tx.ObjectStore(store)
		if err != nil {
			return nil, err
		}
		idx, err := s.Index(index)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
}

// Accessor runs single-request transactions against one store. Reads go
// through its View; writes always target the store itself.
type Accessor struct {
	db    *DB
	store string
	view  View
}

func NewAccessor(db *DB, store string, view View) *Accessor {
	if view == nil {
		view = StoreView
	}
	return &Accessor{db: db, store: store, view: view}
}

func (a *Accessor) DB() *DB       { return a.db }
func (a *Accessor) Store() string { return a.store }

func (a *Accessor) scope() []string { return []string{a.store} }

// Get resolves with the first record matching key through the view, or nil.
func (a *Accessor) Get(key any) *Future[*Record] {
	return runTx(a.db, a.scope(), ReadOnly, func(tx *Tx) (*Record, error) {
		q, err := a.view(tx, a.store)
		if err != nil {
			return nil, err
		}
		req, err := q.Get(key)
		if err != nil {
			return nil, err
		}
		v, err := req.Wait()
		rec, _ := v.(*Record)
		return rec, err
	})
}

// GetKey resolves with the primary key of the first match, or nil.
func (a *Accessor) GetKey(key any) *Future[any] {
	return runTx(a.db, a.scope(), ReadOnly, func(tx *Tx) (any, error) {
		q, err := a.view(tx, a.store)
		if err != nil {
			return nil, err
		}
		req, err := q.GetKey(key)
		if err != nil {
			return nil, err
		}
		return req.Wait()
	})
}

func (a *Accessor) Put(record, key any) *Future[any] {
	return a.write(record, key, (*ObjectStore).Put)
}

func (a *Accessor) Add(record, key any) *Future[any] {
	return a.write(record, key, (*ObjectStore).Add)
}

func (a *Accessor) write(record, key any, op func(s *ObjectStore, record, key any) (*Request, error)) *Future[any] {
	return runTx(a.db, a.scope(), ReadWrite, func(tx *Tx) (any, error) {
		s, err := tx.ObjectStore(a.store)
		if err != nil {
			return nil, err
		}
		req, err := op(s, record, key)
		if err != nil {
			return nil, err
		}
		return req.Wait()
	})
}

// Delete removes the record matching key through the view. Nothing matching
// is not an error.
func (a *Accessor) Delete(key any) *Future[struct{}] {
	return runTx(a.db, a.scope(), ReadWrite, func(tx *Tx) (struct{}, error) {
		q, err := a.view(tx, a.store)
		if err != nil {
			return struct{}{}, err
		}
		req, err := q.GetKey(key)
		if err != nil {
			return struct{}{}, err
		}
		pk, err := req.Wait()
		if err != nil || pk == nil {
			return struct{}{}, err
		}
		s, err := tx.ObjectStore(a.store)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := s.Delete(pk); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// GetAll resolves with every record in view key order.
func (a *Accessor) GetAll() *Future[[]*Record] {
	return runTx(a.db, a.scope(), ReadOnly, func(tx *Tx) ([]*Record, error) {
		c, err := a.openCursor(tx)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, 0, (*Cursor).Value)
	})
}

// GetAllKeys resolves with every cursor key in view key order: primary
// keys for a store view, index keys for an index view.
func (a *Accessor) GetAllKeys() *Future[[]any] {
	return runTx(a.db, a.scope(), ReadOnly, func(tx *Tx) ([]any, error) {
		c, err := a.openCursor(tx)
		if err != nil {
			return nil, err
		}
		return collectCursor(c, 0, (*Cursor).Key)
	})
}

func (a *Accessor) openCursor(tx *Tx) (*Cursor, error) {
	q, err := a.view(tx, a.store)
	if err != nil {
		return nil, err
	}
	return q.OpenCursor()
}
