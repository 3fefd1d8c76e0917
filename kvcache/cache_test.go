package kvcache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwenrun/qwenrun/types/errtypes"
)

func row(pos, layer, dim int) []float32 {
	r := make([]float32, dim)
	for i := range r {
		r[i] = float32(100*layer + 10*pos + i)
	}
	return r
}

func TestWriteRead(t *testing.T) {
	const layers, capacity, dim = 2, 4, 3
	c := NewCausalCache(layers, capacity, dim)

	for pos := range capacity {
		for layer := range layers {
			k := row(pos, layer, dim)
			v := row(pos, layer+5, dim)
			require.NoError(t, c.Write(layer, pos, k, v))
		}

		assert.Equal(t, pos+1, c.Len())
		for layer := range layers {
			keys, values, err := c.Read(layer, pos)
			require.NoError(t, err)
			require.Len(t, keys, (pos+1)*dim)
			require.Len(t, values, (pos+1)*dim)

			for p := 0; p <= pos; p++ {
				assert.Equal(t, row(p, layer, dim), keys[p*dim:(p+1)*dim])
				assert.Equal(t, row(p, layer+5, dim), values[p*dim:(p+1)*dim])
			}
		}
	}
}

func TestOverflow(t *testing.T) {
	c := NewCausalCache(1, 2, 2)
	require.NoError(t, c.Write(0, 1, []float32{1, 2}, []float32{3, 4}))

	err := c.Write(0, 2, []float32{5, 6}, []float32{7, 8})
	assert.ErrorIs(t, err, ErrContextOverflow)

	var overflow *errtypes.ContextOverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, 2, overflow.Position)
	assert.Equal(t, 2, overflow.Limit)

	// failed writes leave the cache untouched
	assert.Equal(t, 2, c.Len())
	keys, _, err := c.Read(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 2}, keys)

	assert.ErrorIs(t, c.CheckPosition(-1), ErrContextOverflow)
	assert.NoError(t, c.CheckPosition(0))
}

func TestWriteValidation(t *testing.T) {
	c := NewCausalCache(1, 2, 2)
	assert.Error(t, c.Write(1, 0, []float32{1, 2}, []float32{1, 2}))
	assert.Error(t, c.Write(0, 0, []float32{1}, []float32{1, 2}))
	assert.Equal(t, 0, c.Len())
}

func TestReset(t *testing.T) {
	c := NewCausalCache(1, 4, 1)
	for pos := range 3 {
		require.NoError(t, c.Write(0, pos, []float32{float32(pos)}, []float32{float32(pos)}))
	}

	keys, _, err := c.Read(0, 2)
	require.NoError(t, err)
	backing := &keys[0]

	c.Reset()
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Write(0, 0, []float32{9}, []float32{9}))
	keys, _, err = c.Read(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, keys)
	assert.Same(t, backing, &keys[0], "reset reallocated storage")
}

func TestReadIsBounded(t *testing.T) {
	c := NewCausalCache(1, 4, 2)
	for pos := range 3 {
		require.NoError(t, c.Write(0, pos, []float32{1, 2}, []float32{3, 4}))
	}

	keys, values, err := c.Read(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, cap(keys))
	assert.Equal(t, 4, cap(values))
}

func TestReadErrors(t *testing.T) {
	c := NewCausalCache(2, 4, 1)
	for pos := range 2 {
		require.NoError(t, c.Write(0, pos, []float32{1}, []float32{1}))
	}

	cases := []struct {
		name        string
		layer, upto int
	}{
		{"negative layer", -1, 0},
		{"layer past end", 2, 0},
		{"negative position", 0, -1},
		{"unwritten position", 0, 2},
		{"past capacity", 0, 4},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			keys, values, err := c.Read(tt.layer, tt.upto)
			assert.Error(t, err)
			assert.Nil(t, keys)
			assert.Nil(t, values)
		})
	}

	c.Reset()
	_, _, err := c.Read(0, 0)
	assert.Error(t, err)
}

func TestRewrite(t *testing.T) {
	c := NewCausalCache(1, 4, 1)
	for pos := range 4 {
		require.NoError(t, c.Write(0, pos, []float32{1}, []float32{1}))
	}

	require.NoError(t, c.Write(0, 1, []float32{2}, []float32{2}))
	assert.Equal(t, 2, c.Len())
}
