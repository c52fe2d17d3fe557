package promdb

import (
	"errors"
	"fmt"
	"slices"
)

// Builder collects store and index declarations and builds a DB whose
// upgrade creates them. Builder methods never fail; declaration errors are
// reported by rejecting the connection of the built DB.
type Builder struct {
	name     string
	version  uint64
	upgrade  UpgradeFunc
	stores   []StoreDescriptor
	opt      Options
	registry *Registry
	errs     []error
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) SetVersion(v uint64) *Builder {
	b.version = v
	return b
}

// SetDoUpgrade replaces the synthesized upgrade. Accessors are still
// attached for every declared store and index.
func (b *Builder) SetDoUpgrade(fn UpgradeFunc) *Builder {
	b.upgrade = fn
	return b
}

func (b *Builder) AddObjectStore(sd StoreDescriptor) *Builder {
	if err := sd.validate(); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if slices.ContainsFunc(b.stores, func(o StoreDescriptor) bool { return o.Name == sd.Name }) {
		b.errs = append(b.errs, fmt.Errorf("duplicate store %s", sd.Name))
		return b
	}
	sd.Indexes = slices.Clone(sd.Indexes)
	b.stores = append(b.stores, sd)
	return b
}

func (b *Builder) SetOptions(opt Options) *Builder {
	b.opt = opt
	return b
}

// SetDebug publishes the built DB in reg under its name.
func (b *Builder) SetDebug(reg *Registry) *Builder {
	b.registry = reg
	return b
}

func (b *Builder) Name() string { return b.name }

func (b *Builder) Stores() []StoreDescriptor {
	return slices.Clone(b.stores)
}

// Build opens the database and attaches an accessor per store, plus one
// per index named by AccessorName.
func (b *Builder) Build(host *Host) *DB {
	stores := slices.Clone(b.stores)
	var db *DB
	if len(b.errs) > 0 {
		db = &DB{
			name:      b.name,
			host:      host,
			opt:       b.opt,
			accessors: make(map[string]*Accessor),
			conn:      Rejected[*Conn](&OpenError{Name: b.name, Code: CodeData, Err: errors.Join(b.errs...)}),
		}
	} else {
		upgrade := b.upgrade
		if upgrade == nil {
			upgrade = createDeclared(stores)
		}
		db = Open(host, b.name, b.version, upgrade, b.opt)
	}

	for _, sd := range stores {
		db.attach(sd.Name, NewAccessor(db, sd.Name, StoreView))
		for _, id := range sd.Indexes {
			db.attach(AccessorName(sd.Name, id.Name), NewAccessor(db, sd.Name, IndexView(id.Name)))
		}
	}
	if b.registry != nil {
		b.registry.Publish(db)
	}
	return db
}

// createDeclared creates the declared stores and indexes in declaration
// order, skipping those that already exist.
func createDeclared(stores []StoreDescriptor) UpgradeFunc {
	return func(up *Upgrade) error {
		for _, sd := range stores {
			var s *ObjectStore
			var err error
			if up.HasObjectStore(sd.Name) {
				s, err = up.ObjectStore(sd.Name)
			} else {
				s, err = up.CreateObjectStore(sd.Name, sd.Key)
			}
			if err != nil {
				return err
			}
			for _, id := range sd.Indexes {
				if slices.Contains(s.IndexNames(), id.Name) {
					continue
				}
				if _, err := s.CreateIndex(id.Name, id.KeyPath, id.Options); err != nil {
					return err
				}
			}
		}
		return nil
	}
}
