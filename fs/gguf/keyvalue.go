package gguf

import (
	"reflect"
	"slices"
)

type KeyValue struct {
	Key string
	Value
}

func (kv KeyValue) Valid() bool {
	return kv.Key != "" && kv.Value.value != nil
}

// Value holds one decoded metadata value. Accessors convert between widths
// of the same kind and return the zero value for any other kind.
type Value struct {
	value any
}

func (v Value) Any() any { return v.value }

func value[T any](v Value, kinds ...reflect.Kind) (t T) {
	vv := reflect.ValueOf(v.value)
	if slices.Contains(kinds, vv.Kind()) {
		t = vv.Convert(reflect.TypeOf(t)).Interface().(T)
	}
	return
}

func values[T any](v Value, kinds ...reflect.Kind) (ts []T) {
	switch vv := reflect.ValueOf(v.value); vv.Kind() {
	case reflect.Slice:
		if slices.Contains(kinds, vv.Type().Elem().Kind()) {
			ts = make([]T, vv.Len())
			for i := range vv.Len() {
				ts[i] = vv.Index(i).Convert(reflect.TypeOf(ts[i])).Interface().(T)
			}
		}
	}
	return
}

var (
	signed   = []reflect.Kind{reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64}
	unsigned = []reflect.Kind{reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64}
	floating = []reflect.Kind{reflect.Float32, reflect.Float64}
)

func (v Value) Int() int64 { return value[int64](v, signed...) }

func (v Value) Ints() []int64 { return values[int64](v, signed...) }

func (v Value) Uint() uint64 { return value[uint64](v, unsigned...) }

func (v Value) Uints() []uint64 { return values[uint64](v, unsigned...) }

// Integer returns either kind of integer as int64, reporting whether the
// value was an integer at all.
func (v Value) Integer() (int64, bool) {
	switch reflect.ValueOf(v.value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), true
	}
	return 0, false
}

// Integers is Integer for arrays.
func (v Value) Integers() []int64 {
	if i64s := v.Ints(); i64s != nil {
		return i64s
	}

	u64s := v.Uints()
	if u64s == nil {
		return nil
	}

	i64s := make([]int64, len(u64s))
	for i, u := range u64s {
		i64s[i] = int64(u)
	}
	return i64s
}

func (v Value) Float() float64 { return value[float64](v, floating...) }

func (v Value) Floats() []float64 { return values[float64](v, floating...) }

func (v Value) Bool() bool { return value[bool](v, reflect.Bool) }

func (v Value) Bools() []bool { return values[bool](v, reflect.Bool) }

func (v Value) String() string { return value[string](v, reflect.String) }

func (v Value) Strings() []string { return values[string](v, reflect.String) }
