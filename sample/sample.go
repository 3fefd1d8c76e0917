package sample

import (
	"errors"
	"math"
	"slices"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/qwenrun/qwenrun/types/errtypes"
)

var ErrInvalidPolicy = errtypes.ErrInvalidPolicy

// Transform rewrites float64 logits in place, returning the result.
// Excluded tokens are set to -Inf.
type Transform interface {
	Apply([]float64) ([]float64, error)
}

type Sampler interface {
	Sample([]float32) (int32, error)
}

// softmax returns the probabilities of logits, subtracting the maximum
// before exponentiating.
func softmax(logits []float64) []float64 {
	maxLogit := slices.Max(logits)

	var sum float64
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	floats.Scale(1/sum, probs)
	return probs
}

func apply(logits []float32, transforms []Transform) ([]float64, error) {
	if len(logits) == 0 {
		return nil, errors.New("sample: no logits provided to sample")
	}

	logits64 := make([]float64, len(logits))
	for i, v := range logits {
		logits64[i] = float64(v)
	}

	var err error
	for _, t := range transforms {
		logits64, err = t.Apply(logits64)
		if err != nil {
			return nil, err
		}
	}

	return logits64, nil
}

type weighted struct {
	src        rand.Source
	transforms []Transform
}

// Weighted draws from the softmax of the transformed logits. A nil seed
// uses the global source; otherwise draws are reproducible for the seed.
func Weighted(seed *int64, transforms ...Transform) Sampler {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(uint64(*seed))
	}
	return weighted{src: src, transforms: transforms}
}

func (s weighted) Sample(logits []float32) (int32, error) {
	logits64, err := apply(logits, s.transforms)
	if err != nil {
		return -1, err
	}

	logitsCopy := make([]float64, 0, len(logits64))
	indices := make([]int, 0, len(logits64))
	for i, logit := range logits64 {
		if !math.IsInf(logit, -1) && !math.IsNaN(logit) {
			logitsCopy = append(logitsCopy, logit)
			indices = append(indices, i)
		}
	}

	if len(logitsCopy) == 0 {
		return -1, errors.New("sample: no valid logits found for weighted sampling")
	}

	probs := softmax(logitsCopy)
	w := sampleuv.NewWeighted(probs, s.src)
	if idx, ok := w.Take(); ok {
		return int32(indices[idx]), nil
	}
	return -1, errors.New("sample: weighted sampler failed, no valid token found")
}

// Policy selects a decoding strategy and its parameters.
type Policy struct {
	// Greedy picks the most likely token; the other fields are ignored.
	Greedy bool

	// Temperature divides the logits and must be positive.
	Temperature float64

	// TopK keeps the k most likely tokens. Zero or less keeps all of them.
	TopK int

	// TopP keeps the smallest set of tokens whose probability reaches p.
	// It must be in (0, 1]; 1 keeps all tokens.
	TopP float64

	// Seed makes draws reproducible when set.
	Seed *int64
}

// DefaultPolicy is the stochastic policy used when no options are given.
func DefaultPolicy() Policy {
	return Policy{Temperature: 0.6, TopK: 20, TopP: 0.95}
}

func (p Policy) Validate() error {
	if p.Greedy {
		return nil
	}

	if !(p.Temperature > 0) || math.IsInf(p.Temperature, 0) {
		return &errtypes.InvalidPolicyError{Param: "temperature", Value: p.Temperature, Reason: "must be greater than 0"}
	}

	if !(p.TopP > 0 && p.TopP <= 1) {
		return &errtypes.InvalidPolicyError{Param: "top_p", Value: p.TopP, Reason: "must be in (0, 1]"}
	}

	return nil
}

// New returns the sampler for p. Stochastic policies apply top-k, then
// temperature, then top-p.
func New(p Policy) (Sampler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if p.Greedy {
		return Greedy(), nil
	}

	var transforms []Transform
	if p.TopK > 0 {
		transforms = append(transforms, TopK(p.TopK))
	}

	transforms = append(transforms, Temperature(p.Temperature))

	if p.TopP < 1 {
		transforms = append(transforms, TopP(p.TopP))
	}

	return Weighted(p.Seed, transforms...), nil
}
