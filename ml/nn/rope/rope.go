package rope

import "math"

const (
	// TypeNormal rotates adjacent pairs (2i, 2i+1).
	TypeNormal = 0
	// TypeNeoX rotates pairs split across the two halves (i, i+dim/2).
	TypeNeoX = 2
)

// Options contains optional parameters for RoPE function
type Options struct {
	Type  int
	Base  float32
	Scale float32
}

// WithTypeNeoX sets RoPE type to NeoX
func WithTypeNeoX() func(*Options) {
	return func(opts *Options) {
		opts.Type = TypeNeoX
	}
}

func WithTypeNormal() func(*Options) {
	return func(opts *Options) {
		opts.Type = TypeNormal
	}
}

// Frequencies returns base^(-2i/dim) for each of the dim/2 rotation pairs.
func (o Options) Frequencies(dim int) []float64 {
	freqs := make([]float64, dim/2)
	for i := range freqs {
		freqs[i] = math.Pow(float64(o.Base), -2*float64(i)/float64(dim))
	}
	return freqs
}

// Rotate applies the rotation for pos to a single head vector.
func (o Options) Rotate(v []float32, pos int, freqs []float64) {
	scale := float64(o.Scale)
	if scale == 0 {
		scale = 1
	}

	half := len(v) / 2
	for i, freq := range freqs {
		sin, cos := math.Sincos(float64(pos) * scale * freq)

		j, k := i, i+half
		if o.Type != TypeNeoX {
			j, k = 2*i, 2*i+1
		}

		x0, x1 := float64(v[j]), float64(v[k])
		v[j] = float32(x0*cos - x1*sin)
		v[k] = float32(x0*sin + x1*cos)
	}
}
