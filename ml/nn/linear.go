package nn

import "github.com/qwenrun/qwenrun/ml"

// Linear is a bias-free projection from In to Out features stored row-major,
// one row per output feature.
type Linear struct {
	Weight  []float32
	In, Out int
}

func (m *Linear) Forward(p *ml.Pool, out, x []float32) {
	ml.MatVec(p, out, m.Weight, x, m.Out, m.In)
}
