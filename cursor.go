package promdb

import (
	"bytes"
	"fmt"
)

type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "prev"
	}
	return "next"
}

// KeyRange restricts a query to keys between two bounds. A nil bound is
// unbounded on that side; a nil *KeyRange matches every key.
type KeyRange struct {
	Lower     any
	Upper     any
	LowerOpen bool
	UpperOpen bool
}

func Only(key any) *KeyRange {
	return &KeyRange{Lower: key, Upper: key}
}

func LowerBound(key any, open bool) *KeyRange {
	return &KeyRange{Lower: key, LowerOpen: open}
}

func UpperBound(key any, open bool) *KeyRange {
	return &KeyRange{Upper: key, UpperOpen: open}
}

func Bound(lower, upper any, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

func (r *KeyRange) String() string {
	if r == nil {
		return "*"
	}
	lb, ub := "[", "]"
	if r.LowerOpen {
		lb = "("
	}
	if r.UpperOpen {
		ub = ")"
	}
	l, u := "-inf", "+inf"
	if r.Lower != nil {
		l = formatKey(r.Lower)
	}
	if r.Upper != nil {
		u = formatKey(r.Upper)
	}
	return lb + l + "," + u + ub
}

// Includes reports whether key lies inside the range.
func (r *KeyRange) Includes(key any) (bool, error) {
	raw, err := encodeKey(key)
	if err != nil {
		return false, err
	}
	rng, err := r.encode(false)
	if err != nil {
		return false, err
	}
	return rng.contains(raw), nil
}

func (r *KeyRange) encode(reverse bool) (rawRange, error) {
	rng := rawRange{Reverse: reverse, LowerInc: true, UpperInc: true}
	if r == nil {
		return rng, nil
	}
	var err error
	if r.Lower != nil {
		rng.Lower, err = encodeKey(r.Lower)
		if err != nil {
			return rng, err
		}
		rng.LowerInc = !r.LowerOpen
	}
	if r.Upper != nil {
		rng.Upper, err = encodeKey(r.Upper)
		if err != nil {
			return rng, err
		}
		rng.UpperInc = !r.UpperOpen
	}
	if rng.Lower != nil && rng.Upper != nil {
		cmp := bytes.Compare(rng.Lower, rng.Upper)
		if cmp > 0 || (cmp == 0 && (r.LowerOpen || r.UpperOpen)) {
			return rng, &Error{Code: CodeData, Msg: fmt.Sprintf("empty key range %v", r)}
		}
	}
	return rng, nil
}

// toRange converts a query argument: nil matches everything, a *KeyRange is
// used as is, anything else is a single key.
func toRange(query any) (*KeyRange, error) {
	switch q := query.(type) {
	case nil:
		return nil, nil
	case *KeyRange:
		return q, nil
	case KeyRange:
		return &q, nil
	default:
		if _, err := encodeKey(query); err != nil {
			return nil, err
		}
		return Only(query), nil
	}
}

// Cursor iterates over a store or an index in key order. Call Next before
// reading the first entry. A Cursor is only usable while its transaction is
// active.
type Cursor struct {
	tx    *Tx
	store *ObjectStore
	index *indexState
	rng   rawRange
	bcur  storageCursor
	data  storageBucket

	started bool
	k, v    []byte
	key     any
	pk      any
	err     error
}

func (c *Cursor) Direction() Direction {
	if c.rng.Reverse {
		return Reverse
	}
	return Forward
}

func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.check(); err != nil {
		c.err = err
		c.k, c.v = nil, nil
		c.key, c.pk = nil, nil
		return false
	}
	logger := c.tx.conn.logger
	if c.started {
		c.k, c.v = c.rng.next(c.bcur, logger)
	} else {
		c.started = true
		c.k, c.v = c.rng.start(c.bcur, logger)
	}
	c.key, c.pk = nil, nil
	if c.k == nil {
		return false
	}

	var err error
	if c.index == nil {
		c.key, err = decodeWholeKey(c.k)
		c.pk = c.key
	} else {
		var n int
		n, err = keyLen(c.k)
		if err == nil {
			c.key, err = decodeWholeKey(c.k[:n])
		}
		if err == nil {
			c.pk, err = decodeWholeKey(c.v)
		}
	}
	if err != nil {
		c.err = err
		c.k, c.v = nil, nil
		return false
	}
	return true
}

// check fails once the transaction ends or the cursor's store or index is
// deleted by the upgrade that opened it.
func (c *Cursor) check() error {
	if err := c.store.check("cursor"); err != nil {
		return err
	}
	if c.index != nil && c.store.state.index(c.index.Name) != c.index {
		return (&Error{Code: CodeInvalidState, Op: "cursor", Msg: "index has been deleted"}).in(c.store.state.Name, c.index.Name)
	}
	return nil
}

// Key is the store key, or the index key for an index cursor.
func (c *Cursor) Key() any { return c.key }

// PrimaryKey is the key of the record the cursor points at.
func (c *Cursor) PrimaryKey() any { return c.pk }

// Value loads the record the cursor points at.
func (c *Cursor) Value() *Record {
	if c.k == nil {
		return nil
	}
	if c.index == nil {
		return newRecord(c.v)
	}
	raw := c.data.Get(c.v)
	if raw == nil {
		return nil
	}
	return newRecord(raw)
}

func (c *Cursor) Err() error { return c.err }
