package promdb

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
)

type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	versionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case versionChange:
		return "versionchange"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Tx is a unit of atomicity scoped to a fixed set of stores. It must only
// be used by one goroutine at a time. Every Tx must end with Commit or Abort.
type Tx struct {
	id    uuid.UUID
	conn  *Conn
	stx   storageTx
	mode  Mode
	scope []string

	cat      *catalog
	catDirty bool
	stores   map[string]*ObjectStore

	finished bool
	err      error
	pending  []pendingResult
	complete *Future[struct{}]

	startTime time.Time
	stack     string
}

type pendingResult struct {
	fut *Future[any]
	val any
}

func (c *Conn) newTx(stx storageTx, mode Mode, scope []string, cat *catalog) *Tx {
	tx := &Tx{
		id:        uuid.New(),
		conn:      c,
		stx:       stx,
		mode:      mode,
		scope:     scope,
		cat:       cat,
		stores:    make(map[string]*ObjectStore),
		complete:  newFuture[struct{}](),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
		c.addTx(tx)
	}
	return tx
}

func (tx *Tx) ID() string { return tx.id.String() }
func (tx *Tx) Mode() Mode { return tx.mode }
func (tx *Tx) Conn() *Conn { return tx.conn }
func (tx *Tx) Active() bool { return !tx.finished }

// Err returns the reason the transaction was aborted, if it was.
func (tx *Tx) Err() error { return tx.err }

// Complete settles when the transaction commits or aborts.
func (tx *Tx) Complete() *Future[struct{}] { return tx.complete }

func (tx *Tx) ObjectStoreNames() []string {
	if tx.mode == versionChange {
		return tx.cat.storeNames()
	}
	return slices.Clone(tx.scope)
}

func (tx *Tx) ObjectStore(name string) (*ObjectStore, error) {
	if err := tx.checkActive("objectStore"); err != nil {
		return nil, err
	}
	if s := tx.stores[name]; s != nil && s.state == tx.cat.store(name) {
		return s, nil
	}
	if tx.mode != versionChange && !slices.Contains(tx.scope, name) {
		return nil, (&Error{Code: CodeNotFound, Op: "objectStore", Msg: "store is not in the transaction scope"}).in(name, "")
	}
	ss := tx.cat.store(name)
	if ss == nil {
		return nil, (&Error{Code: CodeNotFound, Op: "objectStore", Msg: "no such store"}).in(name, "")
	}
	s := &ObjectStore{tx: tx, state: ss}
	tx.stores[name] = s
	return s, nil
}

func (tx *Tx) checkActive(op string) error {
	if tx.finished {
		return &Error{Code: CodeTransactionInactive, Op: op, Msg: "transaction has finished", Err: tx.err}
	}
	return nil
}

func (tx *Tx) checkWritable(op string) error {
	if err := tx.checkActive(op); err != nil {
		return err
	}
	if tx.mode == ReadOnly {
		return &Error{Code: CodeReadOnly, Op: op, Msg: "transaction is read-only"}
	}
	return nil
}

func (tx *Tx) checkVersionChange(op string) error {
	if err := tx.checkActive(op); err != nil {
		return err
	}
	if tx.mode != versionChange {
		return &Error{Code: CodeInvalidState, Op: op, Msg: "only allowed during an upgrade"}
	}
	return nil
}

// resolveOnComplete resolves f with v once the transaction commits, or
// rejects it if the transaction aborts first.
func (tx *Tx) resolveOnComplete(f *Future[any], v any) {
	if tx.finished {
		if tx.err != nil {
			f.reject(tx.err)
		} else {
			f.resolve(v)
		}
		return
	}
	tx.pending = append(tx.pending, pendingResult{f, v})
}

// Commit makes the transaction's changes durable. On failure the
// transaction is aborted and the returned error is an AbortError.
//
// The upgrade transaction commits when the upgrade function returns, so
// committing it from inside the function is an InvalidStateError.
func (tx *Tx) Commit() error {
	if tx.finished {
		if tx.err != nil {
			return tx.err
		}
		return &Error{Code: CodeInvalidState, Op: "commit", Msg: "transaction already committed"}
	}
	if tx.mode == versionChange {
		return &Error{Code: CodeInvalidState, Op: "commit", Msg: "the upgrade transaction commits when the upgrade returns"}
	}
	return tx.commit()
}

func (tx *Tx) commit() error {
	if tx.mode == ReadOnly {
		if err := tx.stx.Rollback(); err != nil {
			tx.abortWith(err)
			return tx.err
		}
		tx.finish(nil)
		return nil
	}
	if tx.catDirty {
		if err := tx.cat.save(tx.stx); err != nil {
			tx.abortWith(err)
			return tx.err
		}
	}
	size := tx.stx.Size()
	if err := tx.stx.Commit(); err != nil {
		tx.abortWith(err)
		return tx.err
	}
	tx.conn.lastSize.Store(size)
	if tx.mode == versionChange {
		tx.conn.refresh(tx.cat)
	}
	tx.finish(nil)
	return nil
}

// Abort rolls the transaction back. Aborting a finished transaction does
// nothing. Aborting the upgrade transaction fails the open.
func (tx *Tx) Abort() {
	tx.abortWith(&Error{Code: CodeAbort, Op: "abort", Msg: "transaction aborted by caller"})
}

func (tx *Tx) abortWith(cause error) {
	if tx.finished {
		return
	}
	tx.err = abortError(cause)
	if err := tx.stx.Rollback(); err != nil {
		tx.conn.logger.Warn("promdb: rollback failed", "db", tx.conn.name, "tx", tx.ID(), "err", err)
	}
	tx.conn.logger.Debug("promdb: transaction aborted", "db", tx.conn.name, "tx", tx.ID(), "mode", tx.mode.String(), "err", cause)
	tx.finish(tx.err)
}

func abortError(cause error) error {
	var e *Error
	if errors.As(cause, &e) && e.Code == CodeAbort {
		return cause
	}
	return &Error{Code: CodeAbort, Op: "tx", Msg: "transaction aborted", Err: cause}
}

func (tx *Tx) finish(err error) {
	tx.finished = true
	if trackTxns {
		tx.conn.removeTx(tx)
	}
	pending := tx.pending
	tx.pending = nil
	for _, p := range pending {
		if err != nil {
			p.fut.reject(err)
		} else {
			p.fut.resolve(p.val)
		}
	}
	if err != nil {
		tx.complete.reject(err)
	} else {
		tx.complete.resolve(struct{}{})
	}
}

func (tx *Tx) logAttrs() []any {
	return []any{slog.String("db", tx.conn.name), slog.String("tx", tx.ID())}
}
