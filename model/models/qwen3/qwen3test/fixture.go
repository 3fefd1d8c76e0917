// Package qwen3test builds a tiny qwen3 model file for tests.
//
// The model has two layers over a 16 letter vocabulary ('a' through 'n',
// then <|endoftext|> and <|im_end|>). Greedy decoding of "dh" produces "i"
// followed by end of sequence.
package qwen3test

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qwenrun/qwenrun/fs/gguf"
	"github.com/qwenrun/qwenrun/model"
)

const (
	Dim       = 8
	HiddenDim = 16
	Layers    = 2
	Heads     = 2
	KVHeads   = 1
	HeadDim   = 4
	Vocab     = 16
	SeqLen    = 8

	EOS   = 14
	IMEnd = 15
)

// Synthetic fills n values from a smooth deterministic pattern. Norm
// weights stay close to one.
func Synthetic(n, seed int, norm bool) []float32 {
	values := make([]float32, n)
	for i := range values {
		v := math.Sin(float64(i)*0.37 + float64(seed))
		if norm {
			values[i] = float32(1 + 0.1*v)
		} else {
			values[i] = float32(0.5 * v)
		}
	}
	return values
}

// Tensors lists the model tensors. Seeds follow list order starting at one.
func Tensors() []*gguf.Tensor {
	var ts []*gguf.Tensor
	add := func(name string, norm bool, shape ...uint64) {
		n := uint64(1)
		for _, d := range shape {
			n *= d
		}
		ts = append(ts, gguf.F32(name, Synthetic(int(n), len(ts)+1, norm), shape...))
	}

	add("token_embd.weight", false, Dim, Vocab)
	add("output_norm.weight", true, Dim)
	for i := range Layers {
		blk := "blk." + strconv.Itoa(i) + "."
		add(blk+"attn_norm.weight", true, Dim)
		add(blk+"attn_q.weight", false, Dim, Heads*HeadDim)
		add(blk+"attn_q_norm.weight", true, HeadDim)
		add(blk+"attn_k.weight", false, Dim, KVHeads*HeadDim)
		add(blk+"attn_k_norm.weight", true, HeadDim)
		add(blk+"attn_v.weight", false, Dim, KVHeads*HeadDim)
		add(blk+"attn_output.weight", false, Heads*HeadDim, Dim)
		add(blk+"ffn_norm.weight", true, Dim)
		add(blk+"ffn_gate.weight", false, Dim, HiddenDim)
		add(blk+"ffn_up.weight", false, Dim, HiddenDim)
		add(blk+"ffn_down.weight", false, HiddenDim, Dim)
	}
	return ts
}

// KV returns the model metadata. Callers may modify the result.
func KV() gguf.KV {
	tokens := make([]string, Vocab)
	types := make([]int32, Vocab)
	for i := range tokens {
		tokens[i] = string(rune('a' + i))
		types[i] = model.TOKEN_TYPE_NORMAL
	}
	tokens[EOS], types[EOS] = "<|endoftext|>", model.TOKEN_TYPE_CONTROL
	tokens[IMEnd], types[IMEnd] = "<|im_end|>", model.TOKEN_TYPE_CONTROL

	return gguf.KV{
		"general.architecture":             "qwen3",
		"embedding_length":                 uint32(Dim),
		"feed_forward_length":              uint32(HiddenDim),
		"block_count":                      uint32(Layers),
		"attention.head_count":             uint32(Heads),
		"attention.head_count_kv":          uint32(KVHeads),
		"attention.key_length":             uint32(HeadDim),
		"context_length":                   uint32(SeqLen),
		"attention.layer_norm_rms_epsilon": float32(1e-6),
		"rope.freq_base":                   float32(10000),
		"tokenizer.ggml.model":             "gpt2",
		"tokenizer.ggml.pre":               "qwen2",
		"tokenizer.ggml.tokens":            tokens,
		"tokenizer.ggml.token_type":        types,
		"tokenizer.ggml.eos_token_id":      uint32(EOS),
	}
}

// Write writes kv and ts to a file in a test temporary directory and
// returns its path.
func Write(t testing.TB, kv gguf.KV, ts []*gguf.Tensor) string {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "model.gguf"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, gguf.WriteGGUF(f, kv, ts))
	return f.Name()
}

// WriteModel writes the unmodified model and returns its path.
func WriteModel(t testing.TB) string {
	t.Helper()
	return Write(t, KV(), Tensors())
}
