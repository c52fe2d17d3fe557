package promdb

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// rawRange is a range of encoded keys. Bounds match by prefix, so a bound
// given as an encoded index key covers every index entry for that key
// regardless of the primary key appended to it.
type rawRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func (r *rawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		switch {
		case r.Upper == nil:
			k, v = bcur.Last()
		case r.UpperInc:
			k, v = bcur.SeekLast(r.Upper)
		default:
			// the first key >= upper is the first one inside the excluded group
			if k, _ = bcur.Seek(r.Upper); k == nil {
				k, v = bcur.Last()
			} else {
				k, v = bcur.Prev()
			}
		}
	} else {
		if r.Lower == nil {
			k, v = bcur.First()
		} else {
			k, v = bcur.Seek(r.Lower)
			for !r.LowerInc && k != nil && bytes.HasPrefix(k, r.Lower) {
				k, v = bcur.Next()
			}
		}
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "START", hexAttr("lower", r.Lower), hexAttr("upper", r.Upper), hexAttr("key", k))
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "STEP", slog.Bool("reverse", r.Reverse), hexAttr("key", k))
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

// match checks the bound the scan is moving towards.
func (r *rawRange) match(k []byte, logger *slog.Logger) bool {
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			if bytes.HasPrefix(k, lower) {
				return r.LowerInc
			}
			if bytes.Compare(k, lower) < 0 {
				if debugLogRawScans {
					logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on lower", hexAttr("lower", lower), hexAttr("key", k))
				}
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			if bytes.HasPrefix(k, upper) {
				return r.UpperInc
			}
			if bytes.Compare(k, upper) > 0 {
				if debugLogRawScans {
					logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on upper", hexAttr("upper", upper), hexAttr("key", k))
				}
				return false
			}
		}
	}
	return true
}

// contains reports whether an encoded key lies inside the range.
func (r *rawRange) contains(k []byte) bool {
	if r.Lower != nil {
		if bytes.HasPrefix(k, r.Lower) {
			if !r.LowerInc {
				return false
			}
		} else if bytes.Compare(k, r.Lower) < 0 {
			return false
		}
	}
	if r.Upper != nil {
		if bytes.HasPrefix(k, r.Upper) {
			if !r.UpperInc {
				return false
			}
		} else if bytes.Compare(k, r.Upper) > 0 {
			return false
		}
	}
	return true
}
