package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// rows of a projection handled by one task
const matVecGrain = 16

func vector(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// MatVec computes out = w·x where w is a row-major rows×cols matrix.
// Each output row is produced by exactly one task so results do not depend
// on the pool width.
func MatVec(p *Pool, out, w, x []float32, rows, cols int) {
	if len(w) != rows*cols || len(x) != cols || len(out) != rows {
		panic(fmt.Sprintf("ml: MatVec shape mismatch: w=%d x=%d out=%d for %dx%d", len(w), len(x), len(out), rows, cols))
	}

	p.Split(rows, matVecGrain, func(start, end int) {
		a := blas32.General{
			Rows:   end - start,
			Cols:   cols,
			Stride: cols,
			Data:   w[start*cols : end*cols],
		}
		blas32.Gemv(blas.NoTrans, 1, a, vector(x), 0, vector(out[start:end]))
	})
}

func Dot(a, b []float32) float32 {
	return blas32.Dot(vector(a), vector(b))
}

// Axpy computes y += alpha*x.
func Axpy(alpha float32, x, y []float32) {
	blas32.Axpy(alpha, vector(x), vector(y))
}

// Add computes dst += src.
func Add(dst, src []float32) {
	Axpy(1, src, dst)
}

// RMSNorm writes x / sqrt(mean(x²) + eps) * w to out. out may alias x.
func RMSNorm(out, x, w []float32, eps float32) {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}

	scale := float32(1 / math.Sqrt(ss/float64(len(x))+float64(eps)))
	for i, v := range x {
		out[i] = v * scale * w[i]
	}
}

// Softmax normalizes x in place, subtracting the maximum before
// exponentiating.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}

	maxv := x[0]
	for _, v := range x[1:] {
		maxv = max(maxv, v)
	}

	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - maxv)))
		sum += x[i]
	}

	for i := range x {
		x[i] /= sum
	}
}

func SILU(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

// SwiGLU computes gate = silu(gate) * up in place.
func SwiGLU(gate, up []float32) {
	for i, g := range gate {
		gate[i] = SILU(g) * up[i]
	}
}
