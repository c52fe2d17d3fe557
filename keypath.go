package promdb

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyPath locates a key inside a record. A nil KeyPath means keys are kept
// out of line. A single element is a dotted path into the record, with ""
// meaning the record itself; several elements produce an array key made of
// every path's value.
type KeyPath []string

func Path(p string) KeyPath { return KeyPath{p} }

func Paths(ps ...string) KeyPath { return KeyPath(ps) }

func (kp KeyPath) IsInline() bool   { return kp != nil }
func (kp KeyPath) IsCompound() bool { return len(kp) > 1 }

func (kp KeyPath) String() string {
	switch len(kp) {
	case 0:
		if kp == nil {
			return "<out-of-line>"
		}
		return "[]"
	case 1:
		return kp[0]
	default:
		return "[" + strings.Join(kp, ",") + "]"
	}
}

func (kp KeyPath) validate() error {
	if kp == nil {
		return nil
	}
	if len(kp) == 0 {
		return &Error{Code: CodeData, Msg: "empty compound key path"}
	}
	for _, p := range kp {
		if p == "" {
			if len(kp) > 1 {
				return &Error{Code: CodeData, Msg: "empty path inside compound key path"}
			}
			continue
		}
		for _, seg := range strings.Split(p, ".") {
			if seg == "" {
				return &Error{Code: CodeData, Msg: fmt.Sprintf("invalid key path %q", p)}
			}
		}
	}
	return nil
}

// UnmarshalYAML accepts either a scalar path or a sequence of paths.
func (kp *KeyPath) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*kp = KeyPath{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		if ss == nil {
			ss = []string{}
		}
		*kp = KeyPath(ss)
		return nil
	default:
		return fmt.Errorf("line %d: key path must be a string or a list of strings", node.Line)
	}
}

// extract evaluates the key path against a generic record. found is false
// when some path does not resolve; the result is not validated as a key.
func (kp KeyPath) extract(doc any) (any, bool) {
	if len(kp) == 1 {
		return lookupPath(doc, kp[0])
	}
	arr := make([]any, len(kp))
	for i, p := range kp {
		v, ok := lookupPath(doc, p)
		if !ok {
			return nil, false
		}
		arr[i] = v
	}
	return arr, true
}

func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, doc != nil
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// inject writes key at a single dotted path, creating intermediate maps.
func (kp KeyPath) inject(doc any, key any) (any, error) {
	if len(kp) != 1 || kp[0] == "" {
		return nil, &Error{Code: CodeData, Msg: fmt.Sprintf("cannot inject a generated key at %v", kp)}
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &Error{Code: CodeData, Msg: fmt.Sprintf("cannot inject a generated key into %T", doc)}
	}
	segs := strings.Split(kp[0], ".")
	m := root
	for _, seg := range segs[:len(segs)-1] {
		switch next := m[seg].(type) {
		case map[string]any:
			m = next
		case nil:
			child := make(map[string]any)
			m[seg] = child
			m = child
		default:
			return nil, &Error{Code: CodeData, Msg: fmt.Sprintf("cannot inject a generated key at %v: %q is %T", kp, seg, next)}
		}
	}
	m[segs[len(segs)-1]] = key
	return root, nil
}

// MarshalYAML renders a single path as a scalar.
func (kp KeyPath) MarshalYAML() (any, error) {
	if len(kp) == 1 {
		return kp[0], nil
	}
	return []string(kp), nil
}
