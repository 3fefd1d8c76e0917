package fs

import (
	"errors"
	"iter"
	"log/slog"
)

var ErrTensorNotFound = errors.New("tensor not found")

// Config exposes scalar and array metadata of a model file. Keys without
// a "general." or "tokenizer." prefix are resolved under the architecture.
type Config interface {
	Architecture() string
	String(string, ...string) string
	Uint(string, ...uint32) uint32
	Float(string, ...float32) float32
	Bool(string, ...bool) bool

	Strings(string, ...[]string) []string
	Ints(string, ...[]int32) []int32
	Floats(string, ...[]float32) []float32

	Len() int
	Keys() iter.Seq[string]
	Value(key string) any
}

// TensorSource returns named tensors decoded to float32, regardless of how
// they are stored.
type TensorSource interface {
	// Tensor returns the values of the named tensor, or an error wrapping
	// ErrTensorNotFound.
	Tensor(name string) ([]float32, error)

	// Shape returns the dimensions of the named tensor, innermost first.
	Shape(name string) ([]uint64, bool)

	TensorNames() []string
}

type Model struct {
	KV      Config
	Tensors TensorSource
}

func (m Model) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("architecture", m.KV.Architecture()),
		slog.Int("tensors", len(m.Tensors.TensorNames())),
	)
}
