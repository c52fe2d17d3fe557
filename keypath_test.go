package promdb

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestKeyPath_Extract(t *testing.T) {
	doc := map[string]any{
		"id":    "u1",
		"title": "hello",
		"meta":  map[string]any{"owner": map[string]any{"id": int64(7)}},
		"tags":  []any{"a", "b"},
		"empty": nil,
	}
	tests := []struct {
		kp       KeyPath
		expected any
		found    bool
	}{
		{Path("id"), "u1", true},
		{Path("meta.owner.id"), int64(7), true},
		{Path("tags"), []any{"a", "b"}, true},
		{Path("missing"), nil, false},
		{Path("empty"), nil, false},
		{Path("title.length"), nil, false},
		{Paths("id", "meta.owner.id"), []any{"u1", int64(7)}, true},
		{Paths("id", "missing"), nil, false},
	}
	for _, tt := range tests {
		got, found := tt.kp.extract(doc)
		if found != tt.found {
			t.Errorf("%v.extract found = %v, wanted %v", tt.kp, found, tt.found)
			continue
		}
		deepEqual(t, got, tt.expected)
	}

	got, found := Path("").extract("scalar")
	if !found || got != "scalar" {
		t.Errorf("empty path extract = (%v, %v), wanted (scalar, true)", got, found)
	}
}

func TestKeyPath_Inject(t *testing.T) {
	doc := map[string]any{"title": "a"}
	out, err := Path("meta.id").inject(doc, int64(3))
	if err != nil {
		t.Fatalf("inject failed: %v", err)
	}
	deepEqual(t, out, any(map[string]any{"title": "a", "meta": map[string]any{"id": int64(3)}}))

	_, err = Path("title.id").inject(map[string]any{"title": "a"}, int64(1))
	if !errors.Is(err, ErrData) {
		t.Errorf("inject through a string = %v, wanted DataError", err)
	}
	_, err = Paths("a", "b").inject(map[string]any{}, int64(1))
	if !errors.Is(err, ErrData) {
		t.Errorf("inject at a compound path = %v, wanted DataError", err)
	}
	_, err = Path("id").inject("scalar", int64(1))
	if !errors.Is(err, ErrData) {
		t.Errorf("inject into a scalar = %v, wanted DataError", err)
	}
}

func TestKeyPath_Validate(t *testing.T) {
	valid := []KeyPath{nil, Path(""), Path("a"), Path("a.b"), Paths("a", "b.c")}
	for _, kp := range valid {
		if err := kp.validate(); err != nil {
			t.Errorf("%v.validate() = %v, wanted nil", kp, err)
		}
	}
	invalid := []KeyPath{{}, Path("a..b"), Path(".a"), Paths("a", "")}
	for _, kp := range invalid {
		if err := kp.validate(); err == nil {
			t.Errorf("%#v.validate() = nil, wanted error", kp)
		}
	}
}

func TestKeyPath_String(t *testing.T) {
	tests := []struct {
		kp       KeyPath
		expected string
	}{
		{nil, "<out-of-line>"},
		{KeyPath{}, "[]"},
		{Path("a.b"), "a.b"},
		{Paths("a", "b"), "[a,b]"},
	}
	for _, tt := range tests {
		if got := tt.kp.String(); got != tt.expected {
			t.Errorf("String() = %q, wanted %q", got, tt.expected)
		}
	}
}

func TestKeyPath_YAML(t *testing.T) {
	var v struct {
		A KeyPath `yaml:"a"`
		B KeyPath `yaml:"b"`
		C KeyPath `yaml:"c"`
	}
	err := yaml.Unmarshal([]byte("a: id\nb: [x, y.z]\n"), &v)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	deepEqual(t, v.A, Path("id"))
	deepEqual(t, v.B, Paths("x", "y.z"))
	if v.C != nil {
		t.Errorf("missing key path = %#v, wanted nil", v.C)
	}

	err = yaml.Unmarshal([]byte("a: {x: 1}\n"), &v)
	if err == nil || !strings.Contains(err.Error(), "key path must be") {
		t.Errorf("Unmarshal(map) = %v, wanted key path error", err)
	}

	out := string(must(yaml.Marshal(map[string]KeyPath{"one": Path("id"), "two": Paths("a", "b")})))
	if !strings.Contains(out, "one: id\n") || !strings.Contains(out, "two:\n") {
		t.Errorf("Marshal = %q", out)
	}
}
