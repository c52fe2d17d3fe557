package promdb

import (
	"log"
	"log/slog"
	"slices"
	"sync"
)

type Options struct {
	// Logf receives verbose per-request traces; log.Printf when nil.
	Logf    func(format string, args ...any)
	Verbose bool
	// Logger receives lifecycle events; slog.Default() when nil.
	Logger *slog.Logger
}

func (opt Options) logf() func(format string, args ...any) {
	if opt.Logf != nil {
		return opt.Logf
	}
	return log.Printf
}

func (opt Options) logger() *slog.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return slog.Default()
}

// DB is a handle to a database whose connection is opened in the
// background. Every operation waits for the connection first, so a DB can
// be used right after Open returns.
type DB struct {
	name string
	host *Host
	opt  Options

	mu        sync.Mutex
	conn      *Future[*Conn]
	accessors map[string]*Accessor
}

// Operation issues requests against the transaction of ExecTransaction. It
// may return nil, a *Request, or any other value to report as its result.
type Operation func(tx *Tx) (any, error)

// Open starts opening name at version (0 means the current version, or 1
// for a new database), running upgrade if the database is older.
func Open(host *Host, name string, version uint64, upgrade UpgradeFunc, opt Options) *DB {
	db := &DB{
		name:      name,
		host:      host,
		opt:       opt,
		accessors: make(map[string]*Accessor),
	}
	db.conn = spawn(func() (*Conn, error) {
		return openConn(host, name, version, upgrade, opt)
	})
	return db
}

func (db *DB) Name() string { return db.name }

// GetDB returns the connection future. After Cleanup it is rejected with
// ErrClosed.
func (db *DB) GetDB() *Future[*Conn] {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return Rejected[*Conn](ErrClosed)
	}
	return db.conn
}

// Cleanup waits for the connection, closes it and detaches the handle.
func (db *DB) Cleanup() *Future[struct{}] {
	db.mu.Lock()
	connf := db.conn
	db.conn = nil
	db.mu.Unlock()
	if connf == nil {
		return Rejected[struct{}](ErrClosed)
	}
	return spawn(func() (struct{}, error) {
		conn, err := connf.Wait()
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, conn.Close()
	})
}

func (db *DB) attach(name string, a *Accessor) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accessors[name] = a
}

// Accessor returns an accessor attached by a Builder, or nil.
func (db *DB) Accessor(name string) *Accessor {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.accessors[name]
}

func (db *DB) AccessorNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.accessors))
	for name := range db.accessors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Store returns an accessor for the named store.
func (db *DB) Store(store string) *Accessor {
	return NewAccessor(db, store, StoreView)
}

func (db *DB) Get(store string, key any) *Future[*Record] {
	return db.Store(store).Get(key)
}

// Put resolves with the record's key once the transaction has committed.
func (db *DB) Put(store string, record, key any) *Future[any] {
	return db.Store(store).Put(record, key)
}

// Add resolves with the record's key once the transaction has committed.
func (db *DB) Add(store string, record, key any) *Future[any] {
	return db.Store(store).Add(record, key)
}

func (db *DB) Delete(store string, key any) *Future[struct{}] {
	return db.Store(store).Delete(key)
}

func (db *DB) GetAll(store string) *Future[[]*Record] {
	return db.Store(store).GetAll()
}

func (db *DB) GetAllKeys(store string) *Future[[]any] {
	return db.Store(store).GetAllKeys()
}

// ExecTransaction runs ops in order inside one transaction over storeNames
// and resolves with their results in the same order. The first failing
// operation aborts the transaction; operations after it are not invoked and
// every result still pending is rejected with an AbortError.
func (db *DB) ExecTransaction(ops []Operation, storeNames []string, mode Mode) *Future[[]any] {
	connf := db.GetDB()
	return spawn(func() ([]any, error) {
		conn, err := connf.Wait()
		if err != nil {
			return nil, err
		}
		tx, err := conn.Transaction(storeNames, mode)
		if err != nil {
			return nil, err
		}

		results := make([]*Future[any], len(ops))
		for i := range results {
			results[i] = newFuture[any]()
			tx.resolveOnComplete(results[i], nil)
		}

		var failure error
	loop:
		for i, op := range ops {
			if tx.finished {
				break
			}
			res, err := safelyCall(op, tx)
			if err != nil {
				results[i].reject(err)
				failure = err
				break
			}
			switch r := res.(type) {
			case nil:
				results[i].resolve(nil)
			case *Request:
				if r == nil {
					results[i].resolve(nil)
					continue
				}
				v, err := r.Wait()
				if err != nil {
					results[i].reject(err)
					failure = err
					break loop
				}
				results[i].resolve(v)
			default:
				results[i].resolve(res)
			}
		}

		if failure != nil {
			tx.abortWith(failure)
			return nil, failure
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return All(results).Wait()
	})
}

// runTx runs fn in its own transaction once the connection is open, and
// settles the returned future after the transaction has finished.
func runTx[T any](db *DB, storeNames []string, mode Mode, fn func(tx *Tx) (T, error)) *Future[T] {
	connf := db.GetDB()
	return spawn(func() (T, error) {
		var result T
		conn, err := connf.Wait()
		if err != nil {
			return result, err
		}
		err = conn.run(storeNames, mode, func(tx *Tx) error {
			var err error
			result, err = fn(tx)
			return err
		})
		return result, err
	})
}
