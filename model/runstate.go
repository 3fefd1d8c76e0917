package model

// RunState is scratch space for a single forward step. Its contents carry
// no meaning between steps; it is reused to avoid allocating per token and
// belongs to one sequence at a time.
type RunState struct {
	// X is the residual stream.
	X []float32
	// XB and XB2 hold the normalized input and sub-block output, both Dim wide.
	XB, XB2 []float32

	Q, K, V []float32
	// AttnOut is the concatenation of the attention heads.
	AttnOut []float32
	// Att holds SeqLen scores for each query head.
	Att []float32

	// HB and HB2 are the gate and up projections of the feed-forward block.
	HB, HB2 []float32

	Logits []float32
}

func NewRunState(c Config) *RunState {
	return &RunState{
		X:       make([]float32, c.Dim),
		XB:      make([]float32, c.Dim),
		XB2:     make([]float32, c.Dim),
		Q:       make([]float32, c.QDim()),
		K:       make([]float32, c.KVDim()),
		V:       make([]float32, c.KVDim()),
		AttnOut: make([]float32, c.QDim()),
		Att:     make([]float32, c.NumHeads*c.SeqLen),
		HB:      make([]float32, c.HiddenDim),
		HB2:     make([]float32, c.HiddenDim),
		Logits:  make([]float32, c.VocabSize),
	}
}
