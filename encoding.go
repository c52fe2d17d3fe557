package promdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Records and the catalog are stored as MsgPack with sorted map keys. Struct
// fields without a msgpack tag fall back to their json tag.
const fallbackStructTag = "json"

func encodeMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag(fallbackStructTag)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decodeMsgpack(data []byte, v any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	dec.SetCustomStructTag(fallbackStructTag)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return formatErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// decodeGeneric decodes into the form key paths are evaluated against:
// map[string]any, []any, time.Time, []byte, strings and numbers.
func decodeGeneric(data []byte) (any, error) {
	var doc any
	if err := decodeMsgpack(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// prepareRecord encodes a record for storage and returns its generic form.
func prepareRecord(record any) ([]byte, any, error) {
	if rec, ok := record.(*Record); ok {
		if rec == nil {
			return nil, nil, &Error{Code: CodeData, Msg: "nil record"}
		}
		doc, err := rec.Value()
		return rec.raw, doc, err
	}
	raw, err := encodeMsgpack(record)
	if err != nil {
		return nil, nil, &Error{Code: CodeData, Msg: "record cannot be stored", Err: err}
	}
	doc, err := decodeGeneric(raw)
	if err != nil {
		return nil, nil, &Error{Code: CodeData, Msg: "record cannot be stored", Err: err}
	}
	return raw, doc, nil
}

// Record is a stored value. It stays valid after its transaction ends.
type Record struct {
	raw []byte

	once   sync.Once
	doc    any
	docErr error
}

func newRecord(raw []byte) *Record {
	return &Record{raw: bytes.Clone(raw)}
}

func (r *Record) Bytes() []byte {
	return r.raw
}

// Decode unmarshals the record into v, which must be a pointer.
func (r *Record) Decode(v any) error {
	return decodeMsgpack(r.raw, v)
}

// Value returns the record's generic form.
func (r *Record) Value() (any, error) {
	r.once.Do(func() {
		r.doc, r.docErr = decodeGeneric(r.raw)
	})
	return r.doc, r.docErr
}

func (r *Record) Map() (map[string]any, error) {
	doc, err := r.Value()
	if err != nil {
		return nil, err
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is %T, not a map", doc)
	}
	return m, nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	doc, err := r.Value()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (r *Record) String() string {
	if r == nil {
		return "<none>"
	}
	raw, err := r.MarshalJSON()
	if err != nil {
		return "<invalid " + hexstr(r.raw) + ">"
	}
	return string(raw)
}

// As decodes rec into a new T. An absent record gives nil.
func As[T any](rec *Record) (*T, error) {
	if rec == nil {
		return nil, nil
	}
	v := new(T)
	if err := rec.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}
