package sample

import (
	"cmp"
	"math"
	"slices"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/qwenrun/qwenrun/types/errtypes"
)

type Temperature float64

func (t Temperature) Apply(logits []float64) ([]float64, error) {
	if !(t > 0) {
		return nil, &errtypes.InvalidPolicyError{Param: "temperature", Value: float64(t), Reason: "must be greater than 0"}
	}

	// subtracting max logit to avoid under/overflow
	maxLogit := slices.Max(logits)
	for i := range logits {
		logits[i] = (logits[i] - maxLogit) / float64(t)
	}

	return logits, nil
}

type logitMap struct {
	index int
	logit float64
}

func logitMapComparator(a, b logitMap) int {
	return cmp.Or(-cmp.Compare(a.logit, b.logit), cmp.Compare(a.index, b.index))
}

// TopK keeps the k largest logits. Among equal logits the lower index is
// kept.
type TopK int

func (k TopK) Apply(logits []float64) ([]float64, error) {
	if k <= 0 {
		return nil, &errtypes.InvalidPolicyError{Param: "top_k", Value: float64(k), Reason: "must be greater than 0"}
	}
	if int(k) >= len(logits) {
		return logits, nil
	}

	q := pq.NewWith(logitMapComparator)
	for i, logit := range logits {
		q.Enqueue(logitMap{index: i, logit: logit})
	}

	valid := make([]bool, len(logits))
	for range k {
		logitMap, _ := q.Dequeue()
		valid[logitMap.index] = true
	}

	for i := range logits {
		if !valid[i] {
			logits[i] = math.Inf(-1)
		}
	}

	return logits, nil
}

// TopP keeps the most likely logits until their cumulative probability
// reaches p. p = 1 keeps everything.
type TopP float64

func (p TopP) Apply(logits []float64) ([]float64, error) {
	if !(p > 0 && p <= 1) {
		return nil, &errtypes.InvalidPolicyError{Param: "top_p", Value: float64(p), Reason: "must be in (0, 1]"}
	}
	if p == 1 {
		return logits, nil
	}

	probs := softmax(logits)
	indices := make([]int, len(probs))
	for i := range indices {
		indices[i] = i
	}

	// sort in descending order
	slices.SortStableFunc(indices, func(i, j int) int {
		return cmp.Compare(probs[j], probs[i])
	})

	var cumSum float64
	for i, idx := range indices {
		cumSum += probs[idx]
		if cumSum >= float64(p) {
			for _, idx := range indices[i+1:] {
				logits[idx] = math.Inf(-1)
			}
			break
		}
	}
	return logits, nil
}
