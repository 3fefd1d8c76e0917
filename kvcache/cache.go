package kvcache

import (
	"fmt"

	"github.com/qwenrun/qwenrun/types/errtypes"
)

var ErrContextOverflow = errtypes.ErrContextOverflow

// Cache holds the key and value projections of past positions for every
// layer of a single sequence. Storage for the full context is allocated up
// front and never reallocated; Reset only rewinds the length.
//
// A Cache is owned by one generation at a time and is not safe for
// concurrent use.
type Cache struct {
	numLayers, capacity, dim int

	keys, values [][]float32

	// length is the number of valid rows, shared by all layers
	length int
}

// NewCausalCache allocates numLayers pairs of capacity×dim buffers.
func NewCausalCache(numLayers, capacity, dim int) *Cache {
	c := &Cache{
		numLayers: numLayers,
		capacity:  capacity,
		dim:       dim,
		keys:      make([][]float32, numLayers),
		values:    make([][]float32, numLayers),
	}

	for i := range numLayers {
		c.keys[i] = make([]float32, capacity*dim)
		c.values[i] = make([]float32, capacity*dim)
	}

	return c
}

func (c *Cache) Layers() int { return c.numLayers }
func (c *Cache) Capacity() int { return c.capacity }
func (c *Cache) Dim() int { return c.dim }

// Len is one past the most recently written position.
func (c *Cache) Len() int { return c.length }

// CheckPosition reports whether pos can be written.
func (c *Cache) CheckPosition(pos int) error {
	if pos < 0 || pos >= c.capacity {
		return &errtypes.ContextOverflowError{Position: pos, Limit: c.capacity}
	}
	return nil
}

// Write stores the key and value rows for pos in layer. Rows past pos are
// no longer considered valid.
func (c *Cache) Write(layer, pos int, key, value []float32) error {
	if err := c.CheckPosition(pos); err != nil {
		return err
	}

	if layer < 0 || layer >= c.numLayers {
		return fmt.Errorf("kvcache: layer %d out of range [0, %d)", layer, c.numLayers)
	}

	if len(key) != c.dim || len(value) != c.dim {
		return fmt.Errorf("kvcache: key is %d and value is %d, want %d", len(key), len(value), c.dim)
	}

	copy(c.keys[layer][pos*c.dim:(pos+1)*c.dim], key)
	copy(c.values[layer][pos*c.dim:(pos+1)*c.dim], value)
	c.length = pos + 1
	return nil
}

// Read returns views of rows 0 through upto inclusive for layer. upto must
// have been written. The views alias the cache and are only valid until the
// next Write or Reset.
func (c *Cache) Read(layer, upto int) (keys, values []float32, err error) {
	if layer < 0 || layer >= c.numLayers {
		return nil, nil, fmt.Errorf("kvcache: layer %d out of range [0, %d)", layer, c.numLayers)
	}

	if upto < 0 || upto >= c.length {
		return nil, nil, fmt.Errorf("kvcache: read through position %d with %d positions written", upto, c.length)
	}

	n := (upto + 1) * c.dim
	return c.keys[layer][:n:n], c.values[layer][:n:n], nil
}

// Reset logically empties the cache for an unrelated sequence.
func (c *Cache) Reset() {
	c.length = 0
}
