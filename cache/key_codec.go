package cache

import (
	"database/sql/driver"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Key identifies a cached read. It holds the normalized query text and every
// argument encoding in full, so distinct (query, args) pairs never collide.
type Key string

// String returns the key text.
func (k Key) String() string {
	return string(k)
}

// Digest returns a short fingerprint of the key for log lines and span
// attributes. It is never used for lookups.
func (k Key) Digest() string {
	return strconv.FormatUint(xxhash.Sum64String(string(k)), 16)
}

// KeyCodec derives cache keys from a parameterized query and its arguments.
// Equal (query, args) pairs must produce equal keys; pairs a database could
// answer differently must never share one.
type KeyCodec interface {
	MakeKey(query string, args ...any) (Key, error)
}

type defaultKeyCodec struct{}

// NewDefaultKeyCodec returns the built-in KeyCodec. Query text has runs of
// whitespace outside quotes and comments collapsed; arguments are encoded
// with their Go type and a length prefix.
func NewDefaultKeyCodec() KeyCodec {
	return defaultKeyCodec{}
}

// MakeKey builds the key for query and args. Arguments that cannot be encoded
// deterministically (funcs, channels, structs with hidden state) return
// ErrUncacheable.
func (defaultKeyCodec) MakeKey(query string, args ...any) (Key, error) {
	var b strings.Builder
	writeField(&b, "q", NormalizeQuery(query))
	b.WriteString(strconv.Itoa(len(args)))
	b.WriteByte('|')

	for i, arg := range args {
		if err := encodeArg(&b, reflect.ValueOf(arg), 0); err != nil {
			return "", errors.Wrapf(err, "argument %d", i+1)
		}
	}
	return Key(b.String()), nil
}

// NormalizeQuery trims query and collapses whitespace runs to one space
// outside string literals, quoted identifiers and comments. Queries with
// backslashes or dollar quoting are only trimmed, since their literal
// boundaries cannot be found without a dialect-aware scanner.
func NormalizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if !safeToCollapse(query) {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	pendingSpace := false

	for i := 0; i < len(query); {
		c := query[i]
		if isSpace(c) {
			pendingSpace = true
			i++
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}

		end := i + 1
		switch {
		case c == '\'' || c == '"' || c == '`':
			end = closingQuote(query, i+1, c)
		case c == '[':
			end = closingQuote(query, i+1, ']')
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			end = strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query)
			} else {
				end += i + 1
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			end = strings.Index(query[i+2:], "*/")
			if end < 0 {
				end = len(query)
			} else {
				end += i + 4
			}
		}
		b.WriteString(query[i:end])
		i = end
		if query[end-1] == '\n' {
			// A line comment ends at its newline; what follows starts fresh.
			for i < len(query) && isSpace(query[i]) {
				i++
			}
		}
	}
	return b.String()
}

func safeToCollapse(query string) bool {
	if strings.IndexByte(query, '\\') >= 0 {
		return false
	}
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			continue
		}
		if i+1 >= len(query) || query[i+1] < '0' || query[i+1] > '9' {
			return false
		}
	}
	return true
}

// closingQuote returns the index just past the quote closing a section that
// starts at from. Doubled quotes are escapes. An unterminated section runs
// to the end of the query.
func closingQuote(query string, from int, quote byte) int {
	for i := from; i < len(query); i++ {
		if query[i] != quote {
			continue
		}
		if quote != ']' && i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(query)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func writeField(b *strings.Builder, tag, payload string) {
	b.WriteString(tag)
	b.WriteByte('(')
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteByte(':')
	b.WriteString(payload)
	b.WriteByte(')')
}

var (
	valuerType        = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

func encodeArg(b *strings.Builder, rv reflect.Value, depth int) error {
	if depth > maxDepth {
		return errors.Wrap(ErrUncacheable, "argument nested too deeply")
	}
	if !rv.IsValid() {
		writeField(b, "nil", "")
		return nil
	}

	rt := rv.Type()
	tag := rt.String()

	if rt == timeType {
		writeField(b, tag, rv.Interface().(time.Time).Format(time.RFC3339Nano))
		return nil
	}

	if rt.Implements(valuerType) && rv.CanInterface() {
		v, err := driverValue(rv.Interface().(driver.Valuer))
		if err != nil {
			return errors.Wrapf(ErrUncacheable, "%s.Value: %v", tag, err)
		}
		b.WriteString("valuer:")
		b.WriteString(tag)
		return encodeArg(b, reflect.ValueOf(v), depth+1)
	}

	switch rt.Kind() {
	case reflect.Bool:
		writeField(b, tag, strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeField(b, tag, strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		writeField(b, tag, strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		writeField(b, tag, strconv.FormatFloat(rv.Float(), 'g', -1, 32))
	case reflect.Float64:
		writeField(b, tag, strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	case reflect.Complex64:
		writeField(b, tag, strconv.FormatComplex(rv.Complex(), 'g', -1, 64))
	case reflect.Complex128:
		writeField(b, tag, strconv.FormatComplex(rv.Complex(), 'g', -1, 128))
	case reflect.String:
		writeField(b, tag, rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			writeField(b, tag, "nil")
			return nil
		}
		b.WriteString("*")
		return encodeArg(b, rv.Elem(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			writeField(b, tag, "nil")
			return nil
		}
		if rt.Elem().Kind() == reflect.Uint8 {
			writeField(b, tag, hex.EncodeToString(rv.Bytes()))
			return nil
		}
		return encodeList(b, tag, rv, depth)
	case reflect.Array:
		return encodeList(b, tag, rv, depth)
	case reflect.Map:
		return encodeMap(b, tag, rv, depth)
	case reflect.Struct:
		return encodeStruct(b, tag, rv, depth)
	default:
		return errors.Wrapf(ErrUncacheable, "unsupported argument type %s", tag)
	}
	return nil
}

func encodeList(b *strings.Builder, tag string, rv reflect.Value, depth int) error {
	b.WriteString(tag)
	b.WriteByte('[')
	b.WriteString(strconv.Itoa(rv.Len()))
	b.WriteByte(':')
	for i := 0; i < rv.Len(); i++ {
		if err := encodeArg(b, rv.Index(i), depth+1); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func encodeMap(b *strings.Builder, tag string, rv reflect.Value, depth int) error {
	if rv.IsNil() {
		writeField(b, tag, "nil")
		return nil
	}

	type pair struct{ k, v string }
	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb, vb strings.Builder
		if err := encodeArg(&kb, iter.Key(), depth+1); err != nil {
			return err
		}
		if err := encodeArg(&vb, iter.Value(), depth+1); err != nil {
			return err
		}
		pairs = append(pairs, pair{kb.String(), vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	b.WriteString(tag)
	b.WriteByte('{')
	b.WriteString(strconv.Itoa(len(pairs)))
	b.WriteByte(':')
	for _, p := range pairs {
		b.WriteString(p.k)
		b.WriteString(p.v)
	}
	b.WriteByte('}')
	return nil
}

func encodeStruct(b *strings.Builder, tag string, rv reflect.Value, depth int) error {
	t := rv.Type()
	if rv.CanInterface() {
		switch {
		case t.Implements(textMarshalerType):
			text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
			if err != nil {
				return errors.Wrapf(ErrUncacheable, "%s.MarshalText: %v", tag, err)
			}
			writeField(b, tag, string(text))
			return nil
		case t.Implements(jsonMarshalerType):
			data, err := rv.Interface().(json.Marshaler).MarshalJSON()
			if err != nil {
				return errors.Wrapf(ErrUncacheable, "%s.MarshalJSON: %v", tag, err)
			}
			writeField(b, tag, string(data))
			return nil
		}
	}

	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			return errors.Wrapf(ErrUncacheable, "%s has unexported field %s", tag, t.Field(i).Name)
		}
	}

	b.WriteString(tag)
	b.WriteByte('{')
	for i := 0; i < t.NumField(); i++ {
		b.WriteString(t.Field(i).Name)
		b.WriteByte('=')
		if err := encodeArg(b, rv.Field(i), depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}
