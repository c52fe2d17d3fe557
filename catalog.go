package promdb

import (
	"encoding/binary"
	"slices"
	"strconv"
	"time"
)

// Engine layout:
//
//	_meta/catalog          msgpack catalog
//	s_<store>/_seq         key generator, 8-byte big endian
//	s_<store>/data/<pk>    msgpack record
//	s_<store>/i_<ord>/<ik><pk> = <pk>
const (
	metaBucket = "_meta"
	dataBucket = "data"
)

var (
	catalogKey = []byte("catalog")
	seqKey     = []byte("_seq")
)

func storeBucketName(store string) string {
	return "s_" + store
}

func indexBucketName(ord uint64) string {
	return "i_" + strconv.FormatUint(ord, 10)
}

type catalog struct {
	Version uint64        `msgpack:"v"`
	Stores  []*storeState `msgpack:"s"`
}

type storeState struct {
	Name             string        `msgpack:"n"`
	KeyPath          KeyPath       `msgpack:"kp"`
	AutoIncrement    bool          `msgpack:"ai,omitempty"`
	Indexes          []*indexState `msgpack:"i"`
	LastIndexOrdinal uint64        `msgpack:"li"`
	Created          time.Time     `msgpack:"t"`
}

type indexState struct {
	Name       string  `msgpack:"n"`
	KeyPath    KeyPath `msgpack:"kp"`
	Unique     bool    `msgpack:"u,omitempty"`
	MultiEntry bool    `msgpack:"m,omitempty"`
	Ordinal    uint64  `msgpack:"o"`
}

func loadCatalog(stx storageTx) (*catalog, error) {
	cat := new(catalog)
	b := stx.Bucket(metaBucket, "")
	if b == nil {
		return cat, nil
	}
	raw := b.Get(catalogKey)
	if raw == nil {
		return cat, nil
	}
	if err := decodeMsgpack(raw, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (cat *catalog) save(stx storageTx) error {
	raw, err := encodeMsgpack(cat)
	if err != nil {
		return err
	}
	b, err := stx.CreateBucket(metaBucket, "")
	if err != nil {
		return err
	}
	return b.Put(catalogKey, raw)
}

func (cat *catalog) store(name string) *storeState {
	for _, ss := range cat.Stores {
		if ss.Name == name {
			return ss
		}
	}
	return nil
}

func (cat *catalog) storeNames() []string {
	names := make([]string, len(cat.Stores))
	for i, ss := range cat.Stores {
		names[i] = ss.Name
	}
	slices.Sort(names)
	return names
}

func (cat *catalog) removeStore(name string) {
	cat.Stores = slices.DeleteFunc(cat.Stores, func(ss *storeState) bool { return ss.Name == name })
}

func (ss *storeState) index(name string) *indexState {
	for _, is := range ss.Indexes {
		if is.Name == name {
			return is
		}
	}
	return nil
}

func (ss *storeState) indexNames() []string {
	names := make([]string, len(ss.Indexes))
	for i, is := range ss.Indexes {
		names[i] = is.Name
	}
	slices.Sort(names)
	return names
}

// addIndex assigns the next ordinal; ordinals are never reused, so a
// dropped index's leftovers can never be mistaken for a new index.
func (ss *storeState) addIndex(name string, kp KeyPath, opts IndexOptions) *indexState {
	ss.LastIndexOrdinal++
	is := &indexState{
		Name:       name,
		KeyPath:    kp,
		Unique:     opts.Unique,
		MultiEntry: opts.MultiEntry,
		Ordinal:    ss.LastIndexOrdinal,
	}
	ss.Indexes = append(ss.Indexes, is)
	return is
}

func (ss *storeState) removeIndex(name string) {
	ss.Indexes = slices.DeleteFunc(ss.Indexes, func(is *indexState) bool { return is.Name == name })
}

// indexKeys returns the encoded index keys of a record in its generic form.
// A record whose key path value is missing or not a valid key is not indexed.
func (is *indexState) indexKeys(doc any) [][]byte {
	v, ok := is.KeyPath.extract(doc)
	if !ok {
		return nil
	}
	if arr, isArr := v.([]any); isArr && is.MultiEntry {
		var out [][]byte
		for _, el := range arr {
			ik, err := encodeKey(el)
			if err != nil {
				continue
			}
			if !slices.ContainsFunc(out, func(b []byte) bool { return string(b) == string(ik) }) {
				out = append(out, ik)
			}
		}
		return out
	}
	ik, err := encodeKey(v)
	if err != nil {
		return nil
	}
	return [][]byte{ik}
}

func readSeq(root storageBucket) uint64 {
	raw := root.Get(seqKey)
	if len(raw) != 8 {
		return 1
	}
	return binary.BigEndian.Uint64(raw)
}

func writeSeq(root storageBucket, next uint64) error {
	return root.Put(seqKey, binary.BigEndian.AppendUint64(nil, next))
}
