package promdb

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const boltFileExt = ".db"

// Host owns a set of named databases backed by one engine. Connections to
// the same name share a single open storage.
type Host struct {
	dir  string
	bopt BoltOptions
	mem  bool

	mu  sync.Mutex
	dbs map[string]*hostEntry
}

type hostEntry struct {
	st   storage
	refs int
}

// NewBoltHost keeps every database in its own Bolt file under dir.
func NewBoltHost(dir string, opt BoltOptions) (*Host, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("promdb: %w", err)
	}
	return &Host{dir: dir, bopt: opt, dbs: make(map[string]*hostEntry)}, nil
}

// NewMemoryHost keeps databases in memory. A database outlives its
// connections until DeleteDatabase is called.
func NewMemoryHost() *Host {
	return &Host{mem: true, dbs: make(map[string]*hostEntry)}
}

func (h *Host) IsMemory() bool { return h.mem }

func (h *Host) path(name string) string {
	return filepath.Join(h.dir, url.PathEscape(name)+boltFileExt)
}

func (h *Host) acquire(name string) (storage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.dbs[name]
	if e == nil {
		var st storage
		if h.mem {
			st = newMemStorage()
		} else {
			var err error
			st, err = openBoltStorage(h.path(name), h.bopt)
			if err != nil {
				return nil, err
			}
		}
		e = &hostEntry{st: st}
		h.dbs[name] = e
	}
	e.refs++
	return e.st, nil
}

func (h *Host) release(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.dbs[name]
	if e == nil || e.refs == 0 {
		panic(fmt.Sprintf("promdb: release of database %q that is not open", name))
	}
	e.refs--
	if e.refs > 0 || h.mem {
		return nil
	}
	delete(h.dbs, name)
	return e.st.Close()
}

// DeleteDatabase removes a database. It fails with InvalidStateError while
// any connection to it is open; deleting a missing database is not an error.
func (h *Host) DeleteDatabase(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e := h.dbs[name]; e != nil {
		if e.refs > 0 {
			return &Error{Code: CodeInvalidState, Op: "delete database", Msg: fmt.Sprintf("%q has %d open connection(s)", name, e.refs)}
		}
		delete(h.dbs, name)
		if err := e.st.Close(); err != nil {
			return err
		}
	}
	if h.mem {
		return nil
	}
	err := os.Remove(h.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DatabaseNames lists the databases the host knows about, sorted.
func (h *Host) DatabaseNames() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	if h.mem {
		for name := range h.dbs {
			names = append(names, name)
		}
	} else {
		entries, err := os.ReadDir(h.dir)
		if err != nil {
			return nil, err
		}
		for _, ent := range entries {
			base, ok := strings.CutSuffix(ent.Name(), boltFileExt)
			if !ok || ent.IsDir() {
				continue
			}
			name, err := url.PathUnescape(base)
			if err != nil {
				continue
			}
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
