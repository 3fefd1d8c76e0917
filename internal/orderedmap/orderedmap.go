// Package orderedmap provides a generic map that iterates in insertion order.
// It wraps github.com/wk8/go-ordered-map/v2 to encapsulate the dependency.
package orderedmap

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type Map[K comparable, V any] struct {
	om *orderedmap.OrderedMap[K, V]
}

// New creates an empty map with room for capacity entries.
func New[K comparable, V any](capacity int) *Map[K, V] {
	return &Map[K, V]{
		om: orderedmap.New[K, V](orderedmap.WithCapacity[K, V](capacity)),
	}
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	if m == nil || m.om == nil {
		var zero V
		return zero, false
	}
	return m.om.Get(key)
}

// Set stores value under key. An existing key keeps its position.
func (m *Map[K, V]) Set(key K, value V) {
	if m.om == nil {
		m.om = orderedmap.New[K, V]()
	}
	m.om.Set(key, value)
}

func (m *Map[K, V]) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// All iterates over entries in insertion order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil || m.om == nil {
			return
		}
		for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}
