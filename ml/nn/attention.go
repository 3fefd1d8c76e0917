package nn

import (
	"fmt"
	"math"

	"github.com/qwenrun/qwenrun/ml"
	"github.com/qwenrun/qwenrun/ml/nn/attention"
)

// KVHead maps a query head to the key/value head it reads under grouped
// query attention. With numHeads == numKVHeads it is the identity.
func KVHead(h, numHeads, numKVHeads int) int {
	return h / (numHeads / numKVHeads)
}

// Attention computes softmax(q·kᵀ·scale)·v for a single query position.
//
// Parameters:
//   - query: numHeads×headDim query for the current position
//   - keys, values: n cached rows of numKVHeads×headDim, oldest first
//   - scores: scratch of at least numHeads×n
//   - out: numHeads×headDim result
//
// Only the n rows passed in are attended to, so causality follows from the
// caller passing rows up to and including the current position.
func Attention(p *ml.Pool, out, query, keys, values, scores []float32, n, numHeads, numKVHeads, headDim int, options ...func(*attention.Options)) {
	opts := attention.Options{Scale: float32(1 / math.Sqrt(float64(headDim)))}
	for _, option := range options {
		option(&opts)
	}

	kvDim := numKVHeads * headDim
	if len(query) != numHeads*headDim || len(out) != numHeads*headDim {
		panic(fmt.Sprintf("nn: attention query is %d, out is %d, want %d", len(query), len(out), numHeads*headDim))
	}
	if len(keys) < n*kvDim || len(values) < n*kvDim || len(scores) < numHeads*n {
		panic(fmt.Sprintf("nn: attention over %d positions needs %d cached values and %d scores", n, n*kvDim, numHeads*n))
	}

	p.Split(numHeads, 1, func(start, end int) {
		for h := start; h < end; h++ {
			q := query[h*headDim : (h+1)*headDim]
			o := out[h*headDim : (h+1)*headDim]
			att := scores[h*n : (h+1)*n]
			kvOffset := KVHead(h, numHeads, numKVHeads) * headDim

			for t := range n {
				k := keys[t*kvDim+kvOffset : t*kvDim+kvOffset+headDim]
				att[t] = ml.Dot(q, k) * opts.Scale
			}

			ml.Softmax(att)

			clear(o)
			for t := range n {
				ml.Axpy(att[t], values[t*kvDim+kvOffset:t*kvDim+kvOffset+headDim], o)
			}
		}
	})
}
