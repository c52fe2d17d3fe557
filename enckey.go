package promdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Key encoding is order-preserving and prefix-free: comparing two encoded
// keys with bytes.Compare gives the key order, and no encoded key is a
// prefix of another. Index entries rely on the latter to concatenate the
// index key and the primary key.
const (
	keyEnd       byte = 0x00
	keyTagNumber byte = 0x10
	keyTagDate   byte = 0x20
	keyTagString byte = 0x30
	keyTagBinary byte = 0x40
	keyTagArray  byte = 0x50

	keyEscape byte = 0xFF
	keyStrEnd byte = 0x01

	maxSafeInteger = 1 << 53
)

var (
	minKeyTime = time.Unix(0, math.MinInt64)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

func invalidKey(key any, format string, args ...any) *Error {
	return (&Error{Code: CodeData, Msg: "invalid key: " + fmt.Sprintf(format, args...)}).withKey(key)
}

func encodeKey(key any) ([]byte, error) {
	return appendKey(nil, key)
}

func appendKey(buf []byte, key any) ([]byte, error) {
	switch v := key.(type) {
	case nil:
		return nil, invalidKey(key, "nil")
	case int:
		return appendKeyNumber(buf, float64(v)), nil
	case int8:
		return appendKeyNumber(buf, float64(v)), nil
	case int16:
		return appendKeyNumber(buf, float64(v)), nil
	case int32:
		return appendKeyNumber(buf, float64(v)), nil
	case int64:
		return appendKeyNumber(buf, float64(v)), nil
	case uint:
		return appendKeyNumber(buf, float64(v)), nil
	case uint8:
		return appendKeyNumber(buf, float64(v)), nil
	case uint16:
		return appendKeyNumber(buf, float64(v)), nil
	case uint32:
		return appendKeyNumber(buf, float64(v)), nil
	case uint64:
		return appendKeyNumber(buf, float64(v)), nil
	case float32:
		return appendKeyFloat(buf, key, float64(v))
	case float64:
		return appendKeyFloat(buf, key, v)
	case time.Time:
		if v.Before(minKeyTime) || v.After(maxKeyTime) {
			return nil, invalidKey(key, "date out of range")
		}
		buf = append(buf, keyTagDate)
		return binary.BigEndian.AppendUint64(buf, uint64(v.UnixNano())^(1<<63)), nil
	case string:
		buf = append(buf, keyTagString)
		return appendKeyBytes(buf, v), nil
	case []byte:
		buf = append(buf, keyTagBinary)
		return appendKeyBytes(buf, v), nil
	case []any:
		var err error
		buf = append(buf, keyTagArray)
		for _, el := range v {
			buf, err = appendKey(buf, el)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, keyEnd), nil
	}

	rv := reflect.ValueOf(key)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var err error
		buf = append(buf, keyTagArray)
		for i, n := 0, rv.Len(); i < n; i++ {
			buf, err = appendKey(buf, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
		}
		return append(buf, keyEnd), nil
	case reflect.String:
		buf = append(buf, keyTagString)
		return appendKeyBytes(buf, rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendKeyNumber(buf, float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return appendKeyNumber(buf, float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return appendKeyFloat(buf, key, rv.Float())
	}
	return nil, invalidKey(key, "unsupported type %T", key)
}

func appendKeyFloat(buf []byte, key any, f float64) ([]byte, error) {
	if math.IsNaN(f) {
		return nil, invalidKey(key, "NaN")
	}
	return appendKeyNumber(buf, f), nil
}

func appendKeyNumber(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // -0
	}
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf = append(buf, keyTagNumber)
	return binary.BigEndian.AppendUint64(buf, bits)
}

func appendKeyBytes[S string | []byte](buf []byte, s S) []byte {
	for i := 0; i < len(s); i++ {
		b := s[i]
		buf = append(buf, b)
		if b == keyEnd {
			buf = append(buf, keyEscape)
		}
	}
	return append(buf, keyEnd, keyStrEnd)
}

// decodeKey decodes one key from the front of data and returns the rest.
func decodeKey(data []byte) (any, []byte, error) {
	return decodeKeyAt(data, 0)
}

func decodeKeyAt(data []byte, off int) (any, []byte, error) {
	rem := data[off:]
	if len(rem) == 0 {
		return nil, nil, formatErrf(data, off, nil, "missing key")
	}
	tag := rem[0]
	off++
	switch tag {
	case keyTagNumber:
		if len(data)-off < 8 {
			return nil, nil, formatErrf(data, off, nil, "truncated number key")
		}
		bits := binary.BigEndian.Uint64(data[off:])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		off += 8
		if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
			return int64(f), data[off:], nil
		}
		return f, data[off:], nil
	case keyTagDate:
		if len(data)-off < 8 {
			return nil, nil, formatErrf(data, off, nil, "truncated date key")
		}
		n := int64(binary.BigEndian.Uint64(data[off:]) ^ (1 << 63))
		return time.Unix(0, n).UTC(), data[off+8:], nil
	case keyTagString, keyTagBinary:
		b, end, err := decodeKeyBytes(data, off)
		if err != nil {
			return nil, nil, err
		}
		if tag == keyTagString {
			return string(b), data[end:], nil
		}
		return b, data[end:], nil
	case keyTagArray:
		arr := []any{}
		for {
			if off >= len(data) {
				return nil, nil, formatErrf(data, off, nil, "unterminated array key")
			}
			if data[off] == keyEnd {
				return arr, data[off+1:], nil
			}
			el, rest, err := decodeKeyAt(data, off)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, el)
			off = len(data) - len(rest)
		}
	default:
		return nil, nil, formatErrf(data, off-1, nil, "invalid key tag 0x%02x", tag)
	}
}

func decodeKeyBytes(data []byte, off int) ([]byte, int, error) {
	var out []byte
	for i := off; i < len(data); i++ {
		b := data[i]
		if b != keyEnd {
			out = append(out, b)
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case keyEscape:
			out = append(out, keyEnd)
			i++
		case keyStrEnd:
			if out == nil {
				out = []byte{}
			}
			return out, i + 2, nil
		default:
			return nil, 0, formatErrf(data, i+1, nil, "invalid byte 0x%02x after 0x00 in key string", data[i+1])
		}
	}
	return nil, 0, formatErrf(data, off, nil, "unterminated key string")
}

// keyLen returns the length of the encoded key at the front of data.
func keyLen(data []byte) (int, error) {
	_, rest, err := decodeKey(data)
	if err != nil {
		return 0, err
	}
	return len(data) - len(rest), nil
}

func decodeWholeKey(data []byte) (any, error) {
	key, rest, err := decodeKey(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, formatErrf(data, len(data)-len(rest), nil, "trailing bytes after key")
	}
	return key, nil
}

// NormalizeKey validates key and converts it into the canonical form keys
// are returned in: int64 or float64, time.Time in UTC, string, []byte, []any.
func NormalizeKey(key any) (any, error) {
	raw, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	return decodeWholeKey(raw)
}

// CompareKeys returns -1, 0 or 1 according to the key order: numbers sort
// before dates, dates before strings, strings before binary, and binary
// before arrays.
func CompareKeys(a, b any) (int, error) {
	ra, err := encodeKey(a)
	if err != nil {
		return 0, err
	}
	rb, err := encodeKey(b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ra, rb), nil
}

// keyString renders an encoded key for logs and dumps.
func keyString(raw []byte) string {
	key, err := decodeWholeKey(raw)
	if err != nil {
		return "<invalid " + hexstr(raw) + ">"
	}
	return formatKey(key)
}

func formatKey(key any) string {
	switch v := key.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []byte:
		return "0x" + hexstr(v)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, el := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(formatKey(el))
		}
		buf.WriteByte(']')
		return buf.String()
	default:
		return fmt.Sprint(v)
	}
}
