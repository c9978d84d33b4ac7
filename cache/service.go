package cache

import (
	"context"
	"database/sql/driver"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// RawExecutor is the database access layer the cache sits in front of.
// Callers choose Read or Write explicitly; the statement text is never used
// to route between the two.
type RawExecutor interface {
	Query(ctx context.Context, query string, args ...any) (RowSet, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// RowSet is the materialized result of a read query.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r RowSet) Len() int {
	return len(r.Rows)
}

// Clone returns a deep copy of the row set. Values that cannot be copied
// without sharing memory (pointers, funcs, channels) fail with ErrUncacheable.
func (r RowSet) Clone() (RowSet, error) {
	out := RowSet{}
	if r.Columns != nil {
		out.Columns = append([]string(nil), r.Columns...)
	}
	if r.Rows == nil {
		return out, nil
	}

	out.Rows = make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		if row == nil {
			continue
		}
		cp := make([]any, len(row))
		for j, v := range row {
			c, err := cloneValue(v)
			if err != nil {
				return RowSet{}, errors.Wrapf(err, "row %d column %d", i, j)
			}
			cp[j] = c
		}
		out.Rows[i] = cp
	}
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

func cloneValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, time.Time:
		return v, nil
	case []byte:
		if t == nil {
			return t, nil
		}
		return append([]byte{}, t...), nil
	}

	rv := reflect.ValueOf(v)
	c, err := cloneReflect(rv, 0)
	if err != nil {
		return nil, err
	}
	return c.Interface(), nil
}

func cloneReflect(rv reflect.Value, depth int) (reflect.Value, error) {
	if depth > maxDepth {
		return reflect.Value{}, errors.Wrap(ErrUncacheable, "value nested too deeply")
	}

	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return rv, nil
	case reflect.Slice:
		if rv.IsNil() {
			return rv, nil
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			c, err := cloneReflect(rv.Index(i), depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(c)
		}
		return out, nil
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			c, err := cloneReflect(rv.Index(i), depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(c)
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return rv, nil
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			c, err := cloneReflect(iter.Value(), depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(iter.Key(), c)
		}
		return out, nil
	case reflect.Interface:
		if rv.IsNil() {
			return rv, nil
		}
		c, err := cloneReflect(rv.Elem(), depth+1)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(c)
		return out, nil
	case reflect.Struct:
		if rv.Type() == timeType || plainStruct(rv.Type(), 0) {
			return rv, nil
		}
	}
	return reflect.Value{}, errors.Wrapf(ErrUncacheable, "cannot copy value of type %s", rv.Type())
}

// plainStruct reports whether a struct holds no references, so a value copy
// shares no memory with the original.
func plainStruct(t reflect.Type, depth int) bool {
	if depth > maxDepth {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		ft := t.Field(i).Type
		switch ft.Kind() {
		case reflect.Bool, reflect.String,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		case reflect.Struct:
			if ft != timeType && !plainStruct(ft, depth+1) {
				return false
			}
		case reflect.Array:
			et := ft.Elem()
			if et.Kind() == reflect.Struct {
				if !plainStruct(et, depth+1) {
					return false
				}
			} else if !scalarKind(et.Kind()) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// ExecutorFuncs adapts a pair of functions to RawExecutor.
type ExecutorFuncs struct {
	QueryFunc func(ctx context.Context, query string, args ...any) (RowSet, error)
	ExecFunc  func(ctx context.Context, query string, args ...any) (int64, error)
}

// Query calls QueryFunc.
func (f ExecutorFuncs) Query(ctx context.Context, query string, args ...any) (RowSet, error) {
	if f.QueryFunc == nil {
		return RowSet{}, errors.New("cache: ExecutorFuncs has no QueryFunc")
	}
	return f.QueryFunc(ctx, query, args...)
}

// Exec calls ExecFunc.
func (f ExecutorFuncs) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if f.ExecFunc == nil {
		return 0, errors.New("cache: ExecutorFuncs has no ExecFunc")
	}
	return f.ExecFunc(ctx, query, args...)
}

var _ RawExecutor = ExecutorFuncs{}

// driverValue resolves a driver.Valuer. A nil pointer receiver yields nil.
func driverValue(v driver.Valuer) (value driver.Value, err error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	return v.Value()
}
