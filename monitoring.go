package promdb

import (
	"fmt"
)

type StoreStats struct {
	Records      int
	IndexEntries int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (ss *StoreStats) TotalSize() int64 {
	return ss.DataSize + ss.IndexSize
}

func (ss *StoreStats) TotalAlloc() int64 {
	return ss.DataAlloc + ss.IndexAlloc
}

// Stats reports engine-level sizes. The memory engine only tracks counts
// and payload sizes.
func (s *ObjectStore) Stats() (StoreStats, error) {
	if err := s.check("stats"); err != nil {
		return StoreStats{}, err
	}
	_, data, err := s.buckets()
	if err != nil {
		return StoreStats{}, err
	}
	bs := data.Stats()
	result := StoreStats{
		Records:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
	for _, is := range s.state.Indexes {
		b, err := s.indexBucket(is)
		if err != nil {
			return result, err
		}
		bs = b.Stats()
		result.IndexEntries += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result, nil
}

func (c *Conn) Stats(store string) (StoreStats, error) {
	var result StoreStats
	err := c.run([]string{store}, ReadOnly, func(tx *Tx) error {
		s, err := tx.ObjectStore(store)
		if err != nil {
			return err
		}
		result, err = s.Stats()
		return err
	})
	return result, err
}

func loggableResult(v any) string {
	switch v := v.(type) {
	case nil:
		return "<none>"
	case *Record:
		return v.String()
	case []*Record:
		return fmt.Sprintf("%d records", len(v))
	case []any:
		return fmt.Sprintf("%d keys", len(v))
	case int:
		return fmt.Sprint(v)
	default:
		return formatKey(v)
	}
}
