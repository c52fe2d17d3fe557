package promdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpStoreHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndexes
	DumpIndexEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders every store of the database in a read-only transaction.
func (c *Conn) Dump(f DumpFlags) (string, error) {
	names := c.ObjectStoreNames()
	if len(names) == 0 {
		return "", nil
	}
	var buf strings.Builder
	err := c.run(names, ReadOnly, func(tx *Tx) error {
		for _, name := range names {
			s, err := tx.ObjectStore(name)
			if err != nil {
				return err
			}
			if err := s.dump(&buf, f); err != nil {
				return err
			}
		}
		return nil
	})
	return buf.String(), err
}

func (s *ObjectStore) dump(w *strings.Builder, f DumpFlags) error {
	prefix := s.state.Name
	st, err := s.Stats()
	if err != nil {
		return err
	}

	if f.Contains(DumpStoreHeaders) {
		fmt.Fprintln(w, dumpSep1)
		var auto string
		if s.state.AutoIncrement {
			auto = ", autoincrement"
		}
		fmt.Fprintf(w, "%s (%d records, key %v%s)\n", prefix, st.Records, s.state.KeyPath, auto)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_entries = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, st.IndexEntries, st.DataSize, st.DataAlloc, st.IndexSize, st.IndexAlloc, st.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c, err := s.cursor(nil, Forward, nil)
		if err != nil {
			return err
		}
		var pos int
		for c.Next() {
			pos++
			fmt.Fprintf(w, "%s.%d: %s = %s\n", prefix, pos, formatKey(c.Key()), c.Value())
		}
		if err := c.Err(); err != nil {
			return err
		}
	}

	if f.Contains(DumpIndexes) {
		for _, is := range s.state.Indexes {
			if err := s.dumpIndex(w, prefix, f, is); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ObjectStore) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, is *indexState) error {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + is.Name

	var opts string
	if is.Unique {
		opts += " UNIQUE"
	}
	if is.MultiEntry {
		opts += " MULTI"
	}
	fmt.Fprintf(w, "%s (0x%x) on %v%s\n", prefix, is.Ordinal, is.KeyPath, opts)

	if f.Contains(DumpIndexEntries) {
		c, err := s.cursor(nil, Forward, is)
		if err != nil {
			return err
		}
		var pos int
		for c.Next() {
			pos++
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, formatKey(c.Key()), formatKey(c.PrimaryKey()))
		}
		return c.Err()
	}
	return nil
}
