package qwen3

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/agnivade/levenshtein"

	"github.com/qwenrun/qwenrun/fs"
	"github.com/qwenrun/qwenrun/model"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

// category is a per-layer tensor kind. All layers' tensors of one category
// share a single arena.
type category int

const (
	attnNorm category = iota
	attnQ
	attnQNorm
	attnK
	attnKNorm
	attnV
	attnOutput
	ffnNorm
	ffnGate
	ffnUp
	ffnDown

	numCategories
)

var categoryNames = [numCategories]string{
	attnNorm:   "attn_norm",
	attnQ:      "attn_q",
	attnQNorm:  "attn_q_norm",
	attnK:      "attn_k",
	attnKNorm:  "attn_k_norm",
	attnV:      "attn_v",
	attnOutput: "attn_output",
	ffnNorm:    "ffn_norm",
	ffnGate:    "ffn_gate",
	ffnUp:      "ffn_up",
	ffnDown:    "ffn_down",
}

func (c category) String() string {
	return categoryNames[c]
}

// TensorName is the name of the category's tensor in layer i.
func (c category) TensorName(i int) string {
	return "blk." + strconv.Itoa(i) + "." + c.String() + ".weight"
}

// shape returns the per-layer rows and columns. Vectors have one row.
func (c category) shape(cfg model.Config) (rows, cols int) {
	switch c {
	case attnNorm, ffnNorm:
		return 1, cfg.Dim
	case attnQNorm, attnKNorm:
		return 1, cfg.HeadDim
	case attnQ:
		return cfg.QDim(), cfg.Dim
	case attnK, attnV:
		return cfg.KVDim(), cfg.Dim
	case attnOutput:
		return cfg.Dim, cfg.QDim()
	case ffnGate, ffnUp:
		return cfg.HiddenDim, cfg.Dim
	case ffnDown:
		return cfg.Dim, cfg.HiddenDim
	default:
		panic("qwen3: unknown category " + strconv.Itoa(int(c)))
	}
}

// Weights holds every parameter of the model as float32. Matrices are
// row-major with one row per output feature. Weights are never written
// after LoadWeights returns and may be shared freely.
type Weights struct {
	config model.Config

	TokenEmbedding []float32
	OutputNorm     []float32
	// Output aliases TokenEmbedding when the classifier is tied.
	Output []float32

	arenas [numCategories][]float32
}

// LayerView is layer i's slice of each arena.
type LayerView struct {
	AttentionNorm []float32
	Query         []float32
	QueryNorm     []float32
	Key           []float32
	KeyNorm       []float32
	Value         []float32
	Output        []float32

	MLPNorm []float32
	Gate    []float32
	Up      []float32
	Down    []float32
}

func (w *Weights) slice(c category, i int) []float32 {
	rows, cols := c.shape(w.config)
	n := rows * cols
	return w.arenas[c][i*n : (i+1)*n : (i+1)*n]
}

func (w *Weights) Layer(i int) LayerView {
	if i < 0 || i >= w.config.NumLayers {
		panic(fmt.Sprintf("qwen3: layer %d out of range [0, %d)", i, w.config.NumLayers))
	}

	return LayerView{
		AttentionNorm: w.slice(attnNorm, i),
		Query:         w.slice(attnQ, i),
		QueryNorm:     w.slice(attnQNorm, i),
		Key:           w.slice(attnK, i),
		KeyNorm:       w.slice(attnKNorm, i),
		Value:         w.slice(attnV, i),
		Output:        w.slice(attnOutput, i),
		MLPNorm:       w.slice(ffnNorm, i),
		Gate:          w.slice(ffnGate, i),
		Up:            w.slice(ffnUp, i),
		Down:          w.slice(ffnDown, i),
	}
}

// Tied reports whether the classifier shares the token embedding.
func (w *Weights) Tied() bool {
	return len(w.Output) > 0 && &w.Output[0] == &w.TokenEmbedding[0]
}

// LoadWeights reads every tensor the model needs from src and checks it
// against c. Any missing or misshapen tensor fails with a
// *errtypes.LoadError. progress, if not nil, is called with the fraction of
// tensors loaded.
func LoadWeights(src fs.TensorSource, c model.Config, progress func(float32)) (*Weights, error) {
	w := Weights{config: c}

	l := loader{src: src, total: 3 + c.NumLayers*int(numCategories), progress: progress}

	var err error
	if w.TokenEmbedding, err = l.load("token_embd.weight", c.VocabSize, c.Dim); err != nil {
		return nil, err
	}

	if w.OutputNorm, err = l.load("output_norm.weight", 1, c.Dim); err != nil {
		return nil, err
	}

	for cat := range numCategories {
		rows, cols := cat.shape(c)
		w.arenas[cat] = make([]float32, c.NumLayers*rows*cols)
		for i := range c.NumLayers {
			if err := l.loadInto(w.slice(cat, i), cat.TensorName(i), rows, cols); err != nil {
				return nil, err
			}
		}
	}

	if _, ok := src.Shape("output.weight"); ok {
		if w.Output, err = l.load("output.weight", c.VocabSize, c.Dim); err != nil {
			return nil, err
		}
	} else {
		w.Output = w.TokenEmbedding
		l.done()
	}

	return &w, nil
}

type loader struct {
	src fs.TensorSource

	loaded, total int
	progress      func(float32)
}

func (l *loader) done() {
	l.loaded++
	if l.progress != nil {
		l.progress(float32(l.loaded) / float32(l.total))
	}
}

func (l *loader) load(name string, rows, cols int) ([]float32, error) {
	dst := make([]float32, rows*cols)
	if err := l.loadInto(dst, name, rows, cols); err != nil {
		return nil, err
	}
	return dst, nil
}

// loadInto copies the named tensor into dst after checking its shape is
// {cols} for vectors or {cols, rows} for matrices.
func (l *loader) loadInto(dst []float32, name string, rows, cols int) error {
	shape, ok := l.src.Shape(name)
	if !ok {
		return &errtypes.LoadError{
			Tensor:     name,
			Expected:   rows * cols,
			Reason:     "tensor not found",
			Suggestion: suggest(name, l.src.TensorNames()),
		}
	}

	want := []uint64{uint64(cols), uint64(rows)}
	if rows == 1 {
		want = want[:1]
	}

	var actual uint64 = 1
	for _, n := range shape {
		actual *= n
	}

	if actual != uint64(rows*cols) {
		return &errtypes.LoadError{Tensor: name, Expected: rows * cols, Actual: int(actual)}
	}

	if !slices.Equal(shape, want) {
		return &errtypes.LoadError{
			Tensor:   name,
			Expected: rows * cols,
			Actual:   int(actual),
			Reason:   fmt.Sprintf("shape %v does not match %v", shape, want),
		}
	}

	values, err := l.src.Tensor(name)
	if errors.Is(err, fs.ErrTensorNotFound) {
		return &errtypes.LoadError{Tensor: name, Expected: rows * cols, Reason: "tensor not found"}
	} else if err != nil {
		return &errtypes.LoadError{Tensor: name, Expected: rows * cols, Reason: err.Error()}
	}

	if len(values) != len(dst) {
		return &errtypes.LoadError{Tensor: name, Expected: len(dst), Actual: len(values)}
	}

	copy(dst, values)
	l.done()
	return nil
}

// suggest returns the candidate closest to name, if it is close enough to
// be a plausible misspelling.
func suggest(name string, candidates []string) string {
	var best string
	bestDistance := len(name)/3 + 1
	for _, candidate := range candidates {
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best
}
