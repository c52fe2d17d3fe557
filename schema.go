package promdb

import (
	"fmt"
)

// KeySpec describes how a store obtains primary keys.
//
// With both KeyPath and AutoIncrement set, a key is generated only when the
// record has nothing at the key path. Struct records need `omitempty` on the
// key field for that, otherwise a zero ID is stored as the key 0.
type KeySpec struct {
	KeyPath       KeyPath `yaml:"keyPath,omitempty"`
	AutoIncrement bool    `yaml:"autoIncrement,omitempty"`
}

func (ks KeySpec) validate() error {
	if err := ks.KeyPath.validate(); err != nil {
		return err
	}
	if ks.AutoIncrement && ks.KeyPath != nil && (ks.KeyPath.IsCompound() || ks.KeyPath[0] == "") {
		return &Error{Code: CodeInvalidAccess, Msg: fmt.Sprintf("auto-increment store cannot use key path %v", ks.KeyPath)}
	}
	return nil
}

type IndexOptions struct {
	Unique     bool `yaml:"unique,omitempty"`
	MultiEntry bool `yaml:"multiEntry,omitempty"`
}

// StoreDescriptor declares a store and its indexes. Descriptors are
// immutable once handed to a Builder.
type StoreDescriptor struct {
	Name    string            `yaml:"name"`
	Key     KeySpec           `yaml:"key"`
	Indexes []IndexDescriptor `yaml:"indexes,omitempty"`
}

type IndexDescriptor struct {
	Name    string       `yaml:"name"`
	KeyPath KeyPath      `yaml:"keyPath"`
	Options IndexOptions `yaml:"options,omitempty"`
}

func (sd *StoreDescriptor) validate() error {
	if sd.Name == "" {
		return fmt.Errorf("store declaration without a name")
	}
	if err := sd.Key.validate(); err != nil {
		return fmt.Errorf("store %s: %w", sd.Name, err)
	}
	seen := make(map[string]bool, len(sd.Indexes))
	for _, id := range sd.Indexes {
		if id.Name == "" {
			return fmt.Errorf("store %s: index declaration without a name", sd.Name)
		}
		if seen[id.Name] {
			return fmt.Errorf("store %s: duplicate index %s", sd.Name, id.Name)
		}
		seen[id.Name] = true
		if err := id.validate(); err != nil {
			return fmt.Errorf("store %s: index %s: %w", sd.Name, id.Name, err)
		}
	}
	return nil
}

func (id *IndexDescriptor) validate() error {
	if id.KeyPath == nil {
		return &Error{Code: CodeData, Msg: "index requires a key path"}
	}
	if err := id.KeyPath.validate(); err != nil {
		return err
	}
	if id.Options.MultiEntry && id.KeyPath.IsCompound() {
		return &Error{Code: CodeInvalidAccess, Msg: "multi-entry index cannot use a compound key path"}
	}
	return nil
}

// AccessorName is the name of the index accessor attached by a Builder,
// e.g. todosByName for index name on store todos.
func AccessorName(store, index string) string {
	return store + "By" + capitalize(index)
}
