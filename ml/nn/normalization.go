package nn

import "github.com/qwenrun/qwenrun/ml"

type RMSNorm struct {
	Weight []float32
}

func (m *RMSNorm) Forward(out, x []float32, eps float32) {
	ml.RMSNorm(out, x, m.Weight, eps)
}

// ForwardHeads normalizes each headDim-wide slice of x in place with the
// shared weight.
func (m *RMSNorm) ForwardHeads(x []float32, headDim int, eps float32) {
	for h := 0; h+headDim <= len(x); h += headDim {
		head := x[h : h+headDim]
		ml.RMSNorm(head, head, m.Weight, eps)
	}
}
