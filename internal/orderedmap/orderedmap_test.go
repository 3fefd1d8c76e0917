package orderedmap

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInsertionOrder(t *testing.T) {
	m := New[string, int](4)
	m.Set("general.architecture", 1)
	m.Set("qwen3.block_count", 2)
	m.Set("tokenizer.ggml.tokens", 3)
	m.Set("qwen3.block_count", 4)

	if diff := cmp.Diff([]string{"general.architecture", "qwen3.block_count", "tokenizer.ggml.tokens"}, slices.Collect(m.Keys())); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}

	if v, ok := m.Get("qwen3.block_count"); !ok || v != 4 {
		t.Errorf(`Get("qwen3.block_count") = %d, %v, want 4, true`, v, ok)
	}

	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}
}

func TestNilMap(t *testing.T) {
	var m *Map[string, int]
	if _, ok := m.Get("missing"); ok {
		t.Error("Get on nil map reported a value")
	}

	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}

	for range m.All() {
		t.Error("All on nil map yielded an entry")
	}
}

func TestAllStopsEarly(t *testing.T) {
	m := New[int, int](0)
	for i := range 10 {
		m.Set(i, i*i)
	}

	var seen []int
	for k, v := range m.All() {
		if k == 3 {
			break
		}
		seen = append(seen, v)
	}

	if diff := cmp.Diff([]int{0, 1, 4}, seen); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
}
