package promdb

import "errors"

// ErrBucketNotFound is returned when deleting a bucket that does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage is the host engine a database lives in. Host opens one per
// database name; see storage_bolt.go and storage_mem.go.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

// storageTx is one engine transaction. Connections map every Tx onto
// exactly one storageTx, so promdb atomicity is the engine's atomicity.
//
// Buckets are addressed by a root name plus an optional nested name: stores
// use root s_<store> with nested data and i_<ordinal> buckets.
type storageTx interface {
	Writable() bool

	// Bucket returns nil when the bucket is missing.
	Bucket(name, sub string) storageBucket
	// CreateBucket creates the root bucket as needed and is a no-op for an
	// existing bucket.
	CreateBucket(name, sub string) (storageBucket, error)
	// DeleteBucket with an empty sub drops the root bucket and everything
	// nested in it.
	DeleteBucket(name, sub string) error

	Commit() error
	// Rollback may be called more than once, and after Commit.
	Rollback() error

	// Size is the size of the underlying file, or 0.
	Size() int64
}

type storageBucket interface {
	// Get returns nil for a missing key. The slice is only valid until the
	// transaction ends.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error

	// Cursor must not be used across Put or Delete on the same bucket.
	Cursor() storageCursor

	Stats() bucketStats
	// KeyCount sees the transaction's own writes, unlike Stats.
	KeyCount() int
}

// bucketStats feeds StoreStats. The memory engine only fills KeyN and the
// leaf sizes.
type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor walks a bucket in byte order. Every method returns a nil key
// once it moves past either end.
type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek positions at the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	// SeekLast positions at the last key that is <= prefix or starts with
	// prefix. Reverse scans start here.
	SeekLast(prefix []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)
}
