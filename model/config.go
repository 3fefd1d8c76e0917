package model

import (
	"log/slog"

	"github.com/qwenrun/qwenrun/ml/nn"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

// Config holds the hyperparameters that fix the shape of a decoder-only
// transformer. It is built once at load time and never modified.
type Config struct {
	Dim        int
	HiddenDim  int
	NumLayers  int
	NumHeads   int
	NumKVHeads int
	// HeadDim is independent of Dim/NumHeads.
	HeadDim   int
	VocabSize int
	// SeqLen bounds the number of cached positions.
	SeqLen int

	Eps       float32
	RopeBase  float32
	RopeScale float32
}

func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"dim", c.Dim},
		{"hidden_dim", c.HiddenDim},
		{"n_layers", c.NumLayers},
		{"n_heads", c.NumHeads},
		{"n_kv_heads", c.NumKVHeads},
		{"head_dim", c.HeadDim},
		{"vocab_size", c.VocabSize},
		{"seq_len", c.SeqLen},
	} {
		if f.value <= 0 {
			return &errtypes.ConfigError{Field: f.name, Reason: "must be positive"}
		}
	}

	if c.NumHeads%c.NumKVHeads != 0 {
		return &errtypes.ConfigError{Field: "n_kv_heads", Reason: "must divide n_heads"}
	}

	if c.HeadDim%2 != 0 {
		return &errtypes.ConfigError{Field: "head_dim", Reason: "must be even for rotary encoding"}
	}

	if c.Eps < 0 {
		return &errtypes.ConfigError{Field: "eps", Reason: "must not be negative"}
	}

	if c.RopeBase <= 0 {
		return &errtypes.ConfigError{Field: "rope_base", Reason: "must be positive"}
	}

	return nil
}

// GroupSize is the number of query heads sharing one key/value head.
func (c Config) GroupSize() int {
	return c.NumHeads / c.NumKVHeads
}

// KVHead returns the key/value head read by query head h.
func (c Config) KVHead(h int) int {
	return nn.KVHead(h, c.NumHeads, c.NumKVHeads)
}

// QDim is the width of the concatenated query heads.
func (c Config) QDim() int {
	return c.NumHeads * c.HeadDim
}

// KVDim is the width of one cached key or value row.
func (c Config) KVDim() int {
	return c.NumKVHeads * c.HeadDim
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("dim", c.Dim),
		slog.Int("hidden_dim", c.HiddenDim),
		slog.Int("n_layers", c.NumLayers),
		slog.Int("n_heads", c.NumHeads),
		slog.Int("n_kv_heads", c.NumKVHeads),
		slog.Int("head_dim", c.HeadDim),
		slog.Int("vocab_size", c.VocabSize),
		slog.Int("seq_len", c.SeqLen),
	)
}
