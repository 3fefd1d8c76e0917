package sample

import "gonum.org/v1/gonum/floats"

type greedy struct {
	transforms []Transform
}

// Greedy picks the largest transformed logit. Ties go to the lowest index.
func Greedy(transforms ...Transform) Sampler {
	return greedy{transforms: transforms}
}

func (s greedy) Sample(logits []float32) (int32, error) {
	logits64, err := apply(logits, s.transforms)
	if err != nil {
		return -1, err
	}

	return int32(floats.MaxIdx(logits64)), nil
}
