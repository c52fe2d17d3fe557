package promdb

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// schemaFile is the YAML form of store declarations:
//
//	version: 2
//	stores:
//	  - name: todos
//	    key: {keyPath: id, autoIncrement: true}
//	    indexes:
//	      - name: name
//	        keyPath: title
//	        options: {unique: true}
type schemaFile struct {
	Version uint64            `yaml:"version,omitempty"`
	Stores  []StoreDescriptor `yaml:"stores"`
}

func parseSchemaYAML(data []byte) (*schemaFile, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("store declarations: %w", err)
	}
	return &sf, nil
}

// AddObjectStoresYAML declares every store listed in a YAML document. A
// top-level version, when present, sets the builder's version.
func (b *Builder) AddObjectStoresYAML(data []byte) *Builder {
	sf, err := parseSchemaYAML(data)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if sf.Version != 0 {
		b.version = sf.Version
	}
	for _, sd := range sf.Stores {
		b.AddObjectStore(sd)
	}
	return b
}

// MarshalStoresYAML renders declarations in the form AddObjectStoresYAML
// accepts.
func MarshalStoresYAML(version uint64, stores []StoreDescriptor) ([]byte, error) {
	return yaml.Marshal(schemaFile{Version: version, Stores: stores})
}
