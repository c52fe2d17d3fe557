package promdb

import (
	"context"
	"slices"
	"sync"
)

// Registry exposes built databases by name for debugging. Entries are
// published once and never removed.
type Registry struct {
	mu  sync.Mutex
	dbs map[string]*DB
}

func NewRegistry() *Registry {
	return &Registry{dbs: make(map[string]*DB)}
}

// Publish registers db under its name, replacing an earlier entry.
func (r *Registry) Publish(db *DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbs[db.Name()] = db
}

func (r *Registry) Lookup(name string) *DB {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dbs[name]
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dump renders the contents of a published database.
func (r *Registry) Dump(ctx context.Context, name string, f DumpFlags) (string, error) {
	db := r.Lookup(name)
	if db == nil {
		return "", &Error{Code: CodeNotFound, Op: "dump", Msg: "no database named " + name}
	}
	conn, err := db.GetDB().Await(ctx)
	if err != nil {
		return "", err
	}
	return conn.Dump(f)
}
