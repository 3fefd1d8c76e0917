package nn

import "github.com/qwenrun/qwenrun/ml/nn/rope"

// RoPE rotates query and key heads by position. The per pair frequencies
// depend only on the head width and base, so they are computed once.
type RoPE struct {
	HeadDim int

	opts  rope.Options
	freqs []float64
}

func NewRoPE(headDim int, base, scale float32, options ...func(*rope.Options)) *RoPE {
	opts := rope.Options{Base: base, Scale: scale}
	for _, option := range options {
		option(&opts)
	}

	return &RoPE{
		HeadDim: headDim,
		opts:    opts,
		freqs:   opts.Frequencies(headDim),
	}
}

// Forward rotates every HeadDim-wide slice of t in place for position pos.
func (r *RoPE) Forward(t []float32, pos int) {
	for h := 0; h+r.HeadDim <= len(t); h += r.HeadDim {
		r.opts.Rotate(t[h:h+r.HeadDim], pos, r.freqs)
	}
}
