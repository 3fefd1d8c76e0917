package gguf

import (
	"iter"

	"github.com/qwenrun/qwenrun/fs"
)

// kv adapts file metadata to fs.Config. Defaults apply when a key is
// missing or holds a value of another kind.
type kv struct {
	f *File
}

var _ fs.Config = kv{}

func (c kv) Architecture() string {
	return c.f.KeyValue("general.architecture").String()
}

func (c kv) String(key string, defaultValue ...string) string {
	if v := c.f.KeyValue(key); v.Valid() {
		if _, ok := v.Any().(string); ok {
			return v.String()
		}
	}
	return first(defaultValue)
}

func (c kv) Uint(key string, defaultValue ...uint32) uint32 {
	if i, ok := c.f.KeyValue(key).Integer(); ok && i >= 0 {
		return uint32(i)
	}
	return first(defaultValue)
}

func (c kv) Float(key string, defaultValue ...float32) float32 {
	v := c.f.KeyValue(key)
	switch v.Any().(type) {
	case float32, float64:
		return float32(v.Float())
	}
	return first(defaultValue)
}

func (c kv) Bool(key string, defaultValue ...bool) bool {
	v := c.f.KeyValue(key)
	if b, ok := v.Any().(bool); ok {
		return b
	}
	return first(defaultValue)
}

func (c kv) Strings(key string, defaultValue ...[]string) []string {
	if s := c.f.KeyValue(key).Strings(); s != nil {
		return s
	}
	return first(defaultValue)
}

func (c kv) Ints(key string, defaultValue ...[]int32) []int32 {
	if i64s := c.f.KeyValue(key).Integers(); i64s != nil {
		i32s := make([]int32, len(i64s))
		for i, v := range i64s {
			i32s[i] = int32(v)
		}
		return i32s
	}
	return first(defaultValue)
}

func (c kv) Floats(key string, defaultValue ...[]float32) []float32 {
	if f64s := c.f.KeyValue(key).Floats(); f64s != nil {
		f32s := make([]float32, len(f64s))
		for i, v := range f64s {
			f32s[i] = float32(v)
		}
		return f32s
	}
	return first(defaultValue)
}

func (c kv) Len() int {
	return c.f.NumKeyValues()
}

func (c kv) Keys() iter.Seq[string] {
	return c.f.keyValues.Keys()
}

func (c kv) Value(key string) any {
	return c.f.KeyValue(key).Any()
}

func first[T any](ts []T) (t T) {
	if len(ts) > 0 {
		t = ts[0]
	}
	return
}
