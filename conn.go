package promdb

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const trackTxns = true

// Conn is an open connection to a versioned database.
type Conn struct {
	name    string
	host    *Host
	st      storage
	logf    func(format string, args ...any)
	verbose bool
	logger  *slog.Logger

	mu         sync.Mutex
	version    uint64
	storeNames []string
	closed     bool

	lastSize   atomic.Int64
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

// UpgradeFunc creates and alters stores when a database is opened at a
// higher version than it has. It runs inside a single version-change
// transaction; returning an error or panicking rolls the upgrade back.
type UpgradeFunc func(up *Upgrade) error

func openConn(host *Host, name string, version uint64, upgrade UpgradeFunc, opt Options) (*Conn, error) {
	st, err := host.acquire(name)
	if err != nil {
		return nil, openErr(name, err)
	}
	c := &Conn{
		name:    name,
		host:    host,
		st:      st,
		logf:    opt.logf(),
		verbose: opt.Verbose,
		logger:  opt.logger(),
	}

	cat, err := c.readCatalog()
	if err == nil && version == 0 {
		version = max(cat.Version, 1)
	}
	if err == nil && version < cat.Version {
		err = &Error{Code: CodeVersion, Op: "open", Msg: fmt.Sprintf("requested version %d is less than the existing version %d", version, cat.Version)}
	}
	if err == nil && version > cat.Version {
		cat, err = c.upgrade(version, upgrade)
	}
	if err != nil {
		if rerr := host.release(name); rerr != nil {
			c.logger.Warn("promdb: close after failed open", "db", name, "err", rerr)
		}
		return nil, openErr(name, err)
	}
	c.refresh(cat)
	c.logger.Debug("promdb: opened", "db", name, "version", cat.Version, "stores", len(cat.Stores))
	return c, nil
}

func (c *Conn) readCatalog() (*catalog, error) {
	stx, err := c.st.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer stx.Rollback()
	return loadCatalog(stx)
}

func (c *Conn) upgrade(version uint64, fn UpgradeFunc) (*catalog, error) {
	stx, err := c.st.BeginTx(true)
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(stx)
	if err != nil {
		stx.Rollback()
		return nil, err
	}
	// another connection may have upgraded since the version check
	if version < cat.Version {
		stx.Rollback()
		return nil, &Error{Code: CodeVersion, Op: "open", Msg: fmt.Sprintf("requested version %d is less than the existing version %d", version, cat.Version)}
	} else if version == cat.Version {
		stx.Rollback()
		return cat, nil
	}

	start := time.Now()
	old := cat.Version
	tx := c.newTx(stx, versionChange, nil, cat)
	if fn != nil {
		up := &Upgrade{tx: tx, oldVersion: old, newVersion: version}
		_, err = safelyCall(func(up *Upgrade) (struct{}, error) {
			return struct{}{}, fn(up)
		}, up)
		if err != nil {
			tx.abortWith(err)
			return nil, tx.err
		}
	}
	if tx.finished {
		return nil, tx.err
	}
	tx.cat.Version = version
	tx.catDirty = true
	if err := tx.commit(); err != nil {
		return nil, err
	}
	c.logger.Info("promdb: upgraded", "db", c.name, "from", old, "to", version, "ms", time.Since(start).Milliseconds())
	return tx.cat, nil
}

func (c *Conn) refresh(cat *catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = cat.Version
	c.storeNames = cat.storeNames()
}

func (c *Conn) Name() string { return c.name }

func (c *Conn) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Conn) ObjectStoreNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.storeNames)
}

func (c *Conn) Size() int64 {
	return c.lastSize.Load()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Transaction starts a transaction over the named stores. A ReadWrite
// transaction waits for any other writer on the same database to finish.
func (c *Conn) Transaction(storeNames []string, mode Mode) (*Tx, error) {
	if mode != ReadOnly && mode != ReadWrite {
		return nil, &Error{Code: CodeInvalidAccess, Op: "transaction", Msg: fmt.Sprintf("invalid mode %v", mode)}
	}
	if len(storeNames) == 0 {
		return nil, &Error{Code: CodeInvalidAccess, Op: "transaction", Msg: "empty scope"}
	}
	if c.isClosed() {
		return nil, &Error{Code: CodeInvalidState, Op: "transaction", Msg: "connection is closed"}
	}

	scope := slices.Clone(storeNames)
	slices.Sort(scope)
	scope = slices.Compact(scope)

	stx, err := c.st.BeginTx(mode != ReadOnly)
	if err != nil {
		return nil, &Error{Code: CodeUnknown, Op: "transaction", Err: err}
	}
	cat, err := loadCatalog(stx)
	if err != nil {
		stx.Rollback()
		return nil, &Error{Code: CodeUnknown, Op: "transaction", Err: err}
	}
	for _, name := range scope {
		if cat.store(name) == nil {
			stx.Rollback()
			return nil, (&Error{Code: CodeNotFound, Op: "transaction", Msg: "no such store"}).in(name, "")
		}
	}
	if mode == ReadOnly {
		c.ReadCount.Add(1)
	} else {
		c.WriteCount.Add(1)
	}
	return c.newTx(stx, mode, scope, cat), nil
}

// run executes fn in a new transaction and commits unless fn fails.
func (c *Conn) run(storeNames []string, mode Mode, fn func(tx *Tx) error) error {
	tx, err := c.Transaction(storeNames, mode)
	if err != nil {
		return err
	}
	_, err = safelyCall(func(tx *Tx) (struct{}, error) {
		return struct{}{}, fn(tx)
	}, tx)
	if err != nil {
		tx.abortWith(err)
		return err
	}
	return tx.Commit()
}

// Close releases the connection. It waits for transactions still running
// on the underlying engine.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.logger.Debug("promdb: closed", "db", c.name)
	return c.host.release(c.name)
}

func (c *Conn) addTx(tx *Tx) {
	c.txnsLock.Lock()
	defer c.txnsLock.Unlock()
	c.txns = append(c.txns, tx)
}

func (c *Conn) removeTx(tx *Tx) {
	c.txnsLock.Lock()
	defer c.txnsLock.Unlock()

	found := slices.Index(c.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}
	n := len(c.txns)
	c.txns[found] = c.txns[n-1]
	c.txns[n-1] = nil
	c.txns = c.txns[:n-1]
}

func (c *Conn) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	c.txnsLock.Lock()
	txns := slices.Clone(c.txns)
	c.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms\n", tx.ID(), tx.mode, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms:\n%s", tx.ID(), tx.mode, ms, tx.stack)
		}
	}
	return buf.String()
}
