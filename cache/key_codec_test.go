package cache_test

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "collapse whitespace", query: "  SELECT *\n\tFROM  users  ", want: "SELECT * FROM users"},
		{name: "string literal kept", query: "SELECT 'a  b'  FROM t", want: "SELECT 'a  b' FROM t"},
		{name: "doubled quote", query: "SELECT 'it''s   x'   FROM t", want: "SELECT 'it''s   x' FROM t"},
		{name: "quoted identifier kept", query: `SELECT "a  b"  FROM t`, want: `SELECT "a  b" FROM t`},
		{name: "line comment keeps its newline", query: "SELECT 1 -- note\n  , 2", want: "SELECT 1 -- note\n, 2"},
		{name: "block comment kept", query: "SELECT /*  x  */  1", want: "SELECT /*  x  */ 1"},
		{name: "backslash disables collapsing", query: "SELECT E'a\\'  b'  FROM t", want: "SELECT E'a\\'  b'  FROM t"},
		{name: "dollar quote disables collapsing", query: "SELECT $$a  b$$  FROM t", want: "SELECT $$a  b$$  FROM t"},
		{name: "positional params still collapse", query: "SELECT  $1,  $2", want: "SELECT $1, $2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cache.NormalizeQuery(tt.query); got != tt.want {
				t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestKeyCodec_Deterministic(t *testing.T) {
	codec := cache.NewDefaultKeyCodec()
	ts := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	id := uuid.MustParse("0b9f3c3c-4d0e-4d8b-9a53-0d4f4f1f6a11")

	args := []any{7, "bob", []byte{1, 2}, ts, map[string]int{"b": 2, "a": 1}, id, sql.NullString{String: "x", Valid: true}}

	k1, err := codec.MakeKey("SELECT * FROM users WHERE id = $1", args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := codec.MakeKey("SELECT *  FROM users\nWHERE id = $1", args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Errorf("expected equal keys for whitespace variants:\n%s\n%s", k1, k2)
	}
	if k1.Digest() != k2.Digest() {
		t.Error("expected equal digests for equal keys")
	}
}

func TestKeyCodec_Distinct(t *testing.T) {
	codec := cache.NewDefaultKeyCodec()
	query := "SELECT * FROM t WHERE a = $1"

	cases := []struct {
		name string
		args []any
	}{
		{name: "int", args: []any{1}},
		{name: "int64", args: []any{int64(1)}},
		{name: "string", args: []any{"1"}},
		{name: "two args", args: []any{"1", ""}},
		{name: "joined arg", args: []any{"1|"}},
		{name: "nil", args: []any{nil}},
		{name: "no args", args: nil},
		{name: "bytes", args: []any{[]byte("1")}},
		{name: "slice", args: []any{[]int{1}}},
		{name: "float", args: []any{1.0}},
		{name: "bool", args: []any{true}},
		{name: "other zone", args: []any{time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("x", 7200))}},
		{name: "utc", args: []any{time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}},
	}

	seen := map[cache.Key]string{}
	for _, c := range cases {
		key, err := codec.MakeKey(query, c.args...)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if prev, ok := seen[key]; ok {
			t.Errorf("%s collides with %s: %s", c.name, prev, key)
		}
		seen[key] = c.name
	}

	other, err := codec.MakeKey("SELECT * FROM t WHERE b = $1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := seen[other]; ok {
		t.Error("expected different query text to produce a different key")
	}
}

func TestKeyCodec_LongArgumentsAreNotTruncated(t *testing.T) {
	codec := cache.NewDefaultKeyCodec()
	long := make([]byte, 4096)
	other := make([]byte, 4096)
	other[4095] = 1

	k1, _ := codec.MakeKey("SELECT $1", long)
	k2, _ := codec.MakeKey("SELECT $1", other)
	if k1 == k2 {
		t.Error("expected keys to differ in the last byte of a long argument")
	}
}

type hidden struct {
	visible int
}

type exported struct {
	Name string
	Tags []string
}

func TestKeyCodec_Uncacheable(t *testing.T) {
	codec := cache.NewDefaultKeyCodec()

	tests := []struct {
		name string
		arg  any
	}{
		{name: "func", arg: func() {}},
		{name: "channel", arg: make(chan int)},
		{name: "unexported fields", arg: hidden{visible: 1}},
		{name: "nested func", arg: []any{1, func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.MakeKey("SELECT $1", tt.arg)
			if !errors.Is(err, cache.ErrUncacheable) {
				t.Errorf("expected ErrUncacheable, got %v", err)
			}
		})
	}
}

func TestKeyCodec_StructsAndPointers(t *testing.T) {
	codec := cache.NewDefaultKeyCodec()

	a, err := codec.MakeKey("SELECT $1", exported{Name: "a", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := codec.MakeKey("SELECT $1", exported{Name: "a", Tags: []string{"y"}})
	if a == b {
		t.Error("expected struct fields to be part of the key")
	}

	n := 3
	p, err := codec.MakeKey("SELECT $1", &n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := 3
	q, _ := codec.MakeKey("SELECT $1", &m)
	if p != q {
		t.Error("expected pointers to equal values to share a key")
	}

	var nilPtr *int
	if _, err := codec.MakeKey("SELECT $1", nilPtr); err != nil {
		t.Errorf("expected nil pointer to be encodable, got %v", err)
	}

	var nilValuer *uuid.NullUUID
	if _, err := codec.MakeKey("SELECT $1", nilValuer); err != nil {
		t.Errorf("expected nil Valuer pointer to be encodable, got %v", err)
	}
}
