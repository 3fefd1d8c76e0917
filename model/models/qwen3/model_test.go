package qwen3

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwenrun/qwenrun/fs/gguf"
	"github.com/qwenrun/qwenrun/kvcache"
	"github.com/qwenrun/qwenrun/ml"
	"github.com/qwenrun/qwenrun/model"
	"github.com/qwenrun/qwenrun/model/models/qwen3/qwen3test"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

const (
	testDim       = qwen3test.Dim
	testHiddenDim = qwen3test.HiddenDim
	testLayers    = qwen3test.Layers
	testHeads     = qwen3test.Heads
	testKVHeads   = qwen3test.KVHeads
	testHeadDim   = qwen3test.HeadDim
	testVocab     = qwen3test.Vocab
	testSeqLen    = qwen3test.SeqLen
)

func loadFixture(t *testing.T, params model.Params) *Model {
	t.Helper()
	m, err := model.New(qwen3test.WriteModel(t), params)
	require.NoError(t, err)
	return m.(*Model)
}

func argmax(logits []float32) int32 {
	var best int
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best)
}

func TestForwardGolden(t *testing.T) {
	// reference computed in float64 for the fixture weights
	wantLogits := []float32{
		0.085669, -0.562742, 1.021309, -1.446291, 1.823710, -2.141156, 2.388189, -2.556686,
		2.641105, -2.638670, 2.549462, -2.376414, 2.125216, -1.804130, 1.423715, -0.996480,
	}
	wantTokens := []int32{8, 14, 2}

	for _, workers := range []int{1, 4} {
		t.Run("workers="+strconv.Itoa(workers), func(t *testing.T) {
			m := loadFixture(t, model.Params{Pool: ml.NewPool(workers)})
			cache := model.NewCache(m)
			state := model.NewRunState(m.Config())

			var logits []float32
			var pos int
			for _, token := range []int32{3, 7} {
				var err error
				logits, err = m.Forward(token, pos, cache, state)
				require.NoError(t, err)
				pos++
			}

			assert.InDeltaSlice(t, wantLogits, logits, 1e-4)

			var got []int32
			for range wantTokens {
				next := argmax(logits)
				got = append(got, next)

				var err error
				logits, err = m.Forward(next, pos, cache, state)
				require.NoError(t, err)
				pos++
			}

			assert.Equal(t, wantTokens, got)
		})
	}
}

func run(t *testing.T, m *Model, cache *kvcache.Cache, tokens []int32) []float32 {
	t.Helper()
	state := model.NewRunState(m.Config())

	var logits []float32
	for pos, token := range tokens {
		var err error
		logits, err = m.Forward(token, pos, cache, state)
		require.NoError(t, err)
	}
	return slices.Clone(logits)
}

func TestForwardDeterministic(t *testing.T) {
	m := loadFixture(t, model.Params{})
	tokens := []int32{3, 7, 1, 12}

	a := run(t, m, model.NewCache(m), tokens)
	b := run(t, m, model.NewCache(m), tokens)
	assert.Equal(t, a, b)

	// a reset cache behaves like a fresh one
	cache := model.NewCache(m)
	run(t, m, cache, []int32{9, 9, 9})
	cache.Reset()
	assert.Equal(t, a, run(t, m, cache, tokens))
}

func TestForwardCausality(t *testing.T) {
	m := loadFixture(t, model.Params{})
	tokens := []int32{3, 7, 5}
	want := run(t, m, model.NewCache(m), tokens)

	cache := model.NewCache(m)
	run(t, m, cache, tokens[:2])

	garbage := make([]float32, cache.Dim())
	for i := range garbage {
		garbage[i] = 1e3 * float32(i+1)
	}
	for layer := range cache.Layers() {
		for pos := 3; pos < cache.Capacity(); pos++ {
			require.NoError(t, cache.Write(layer, pos, garbage, garbage))
		}
	}

	got, err := m.Forward(tokens[2], 2, cache, model.NewRunState(m.Config()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestForwardCacheLength(t *testing.T) {
	m := loadFixture(t, model.Params{})
	cache := model.NewCache(m)
	state := model.NewRunState(m.Config())

	for pos, token := range []int32{3, 7, 5, 0} {
		_, err := m.Forward(token, pos, cache, state)
		require.NoError(t, err)
		assert.Equal(t, pos+1, cache.Len())

		for layer := range cache.Layers() {
			keys, values, err := cache.Read(layer, pos)
			require.NoError(t, err)
			assert.Len(t, keys, (pos+1)*m.Config().KVDim())
			assert.Len(t, values, (pos+1)*m.Config().KVDim())
		}
	}
}

func snapshot(t *testing.T, cache *kvcache.Cache) [][]float32 {
	t.Helper()
	var s [][]float32
	for layer := range cache.Layers() {
		keys, values, err := cache.Read(layer, cache.Len()-1)
		require.NoError(t, err)
		s = append(s, slices.Clone(keys), slices.Clone(values))
	}
	return s
}

func TestForwardOverflow(t *testing.T) {
	m := loadFixture(t, model.Params{})
	cache := model.NewCache(m)
	state := model.NewRunState(m.Config())

	tokens := make([]int32, testSeqLen)
	for i := range tokens {
		tokens[i] = int32(i)
	}
	run(t, m, cache, tokens)

	before := snapshot(t, cache)
	_, err := m.Forward(1, testSeqLen, cache, state)
	require.ErrorIs(t, err, kvcache.ErrContextOverflow)

	var overflow *errtypes.ContextOverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, testSeqLen, overflow.Position)
	assert.Equal(t, testSeqLen, overflow.Limit)

	assert.Equal(t, testSeqLen, cache.Len())
	assert.Equal(t, before, snapshot(t, cache))
}

func TestForwardInvalidInput(t *testing.T) {
	m := loadFixture(t, model.Params{})
	cache := model.NewCache(m)
	state := model.NewRunState(m.Config())

	for _, token := range []int32{-1, testVocab} {
		_, err := m.Forward(token, 0, cache, state)
		require.ErrorIs(t, err, errtypes.ErrInvalidToken)
		assert.Equal(t, 0, cache.Len())
	}

	_, err := m.Forward(1, -1, cache, state)
	assert.ErrorIs(t, err, errtypes.ErrContextOverflow)

	_, err = m.Forward(1, 2, cache, state)
	assert.ErrorContains(t, err, "skips past cached length")

	_, err = m.Forward(1, 0, kvcache.NewCausalCache(1, testSeqLen, 4), state)
	assert.ErrorContains(t, err, "cache has 1 layers")
	assert.Equal(t, 0, cache.Len())
}

func TestWeights(t *testing.T) {
	m := loadFixture(t, model.Params{})
	w := m.Weights()
	ts := qwen3test.Tensors()

	assert.True(t, w.Tied())
	assert.Equal(t, qwen3test.Synthetic(testVocab*testDim, 1, false), w.TokenEmbedding)

	// seeds of layer 1 start after the two global tensors and layer 0
	view := w.Layer(1)
	assert.Equal(t, qwen3test.Synthetic(testDim, 3+int(numCategories), true), view.AttentionNorm)
	assert.Equal(t, qwen3test.Synthetic(testHeads*testHeadDim*testDim, 4+int(numCategories), false), view.Query)
	assert.Equal(t, qwen3test.Synthetic(testDim*testHiddenDim, 13+int(numCategories), false), view.Down)
	assert.Len(t, ts, 2+testLayers*int(numCategories))

	assert.Panics(t, func() { w.Layer(testLayers) })
}

func TestLoadWeightsUntied(t *testing.T) {
	output := qwen3test.Synthetic(testVocab*testDim, 99, false)
	ts := append(qwen3test.Tensors(), gguf.F32("output.weight", output, testDim, testVocab))

	var progress []float32
	m, err := model.New(qwen3test.Write(t, qwen3test.KV(), ts), model.Params{
		Progress: func(f float32) { progress = append(progress, f) },
	})
	require.NoError(t, err)

	w := m.(*Model).Weights()
	assert.False(t, w.Tied())
	assert.Equal(t, output, w.Output)

	require.Len(t, progress, len(ts))
	assert.InDelta(t, 1.0, progress[len(progress)-1], 1e-6)
	assert.True(t, slices.IsSorted(progress))
}

func TestLoadWeightsErrors(t *testing.T) {
	replace := func(name string, tensor *gguf.Tensor) []*gguf.Tensor {
		ts := qwen3test.Tensors()
		for i := range ts {
			if ts[i].Name == name {
				ts[i] = tensor
			}
		}
		return ts
	}

	// with returns the fixture metadata with key set to value, or removed
	// when value is nil
	with := func(key string, value any) gguf.KV {
		kv := qwen3test.KV()
		if value == nil {
			delete(kv, key)
		} else {
			kv[key] = value
		}
		return kv
	}

	cases := []struct {
		name       string
		file       string
		kv         gguf.KV
		tensors    []*gguf.Tensor
		tensor     string
		expected   int
		actual     int
		reason     string
		suggestion string
	}{
		{
			name:   "bad file",
			file:   "GGML\x03\x00\x00\x00",
			reason: "invalid model file",
		},
		{
			name:    "unknown architecture",
			kv:      with("general.architecture", "qwen9"),
			tensors: qwen3test.Tensors(),
			tensor:  "general.architecture",
			reason:  `unsupported model architecture "qwen9"`,
		},
		{
			name:    "no tokenizer",
			kv:      with("tokenizer.ggml.tokens", nil),
			tensors: qwen3test.Tensors(),
			tensor:  "tokenizer.ggml.tokens",
			reason:  "model has no tokenizer",
		},
		{
			name:       "missing",
			tensors:    replace("output_norm.weight", gguf.F32("output_nrm.weight", make([]float32, testDim), testDim)),
			tensor:     "output_norm.weight",
			expected:   testDim,
			reason:     "tensor not found",
			suggestion: "output_nrm.weight",
		},
		{
			name:     "size",
			tensors:  replace("blk.1.attn_k.weight", gguf.F32("blk.1.attn_k.weight", make([]float32, 2*testDim), testDim, 2)),
			tensor:   "blk.1.attn_k.weight",
			expected: testKVHeads * testHeadDim * testDim,
			actual:   2 * testDim,
		},
		{
			name:     "transposed",
			tensors:  replace("blk.0.ffn_gate.weight", gguf.F32("blk.0.ffn_gate.weight", make([]float32, testHiddenDim*testDim), testHiddenDim, testDim)),
			tensor:   "blk.0.ffn_gate.weight",
			expected: testHiddenDim * testDim,
			actual:   testHiddenDim * testDim,
			reason:   "shape [16 8] does not match [8 16]",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "bad.gguf")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
			} else {
				kv := tt.kv
				if kv == nil {
					kv = qwen3test.KV()
				}
				path = qwen3test.Write(t, kv, tt.tensors)
			}

			_, err := model.New(path, model.Params{})
			require.ErrorIs(t, err, errtypes.ErrLoad)

			var le *errtypes.LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.tensor, le.Tensor)
			assert.Equal(t, tt.expected, le.Expected)
			assert.Equal(t, tt.actual, le.Actual)
			assert.Equal(t, tt.reason, le.Reason)
			assert.Equal(t, tt.suggestion, le.Suggestion)
		})
	}
}

func TestConfigFromGGUF(t *testing.T) {
	cases := []struct {
		name          string
		edit          func(gguf.KV)
		contextLength uint
		check         func(*testing.T, model.Config)
	}{
		{
			name: "fixture",
			check: func(t *testing.T, c model.Config) {
				assert.Equal(t, model.Config{
					Dim:        testDim,
					HiddenDim:  testHiddenDim,
					NumLayers:  testLayers,
					NumHeads:   testHeads,
					NumKVHeads: testKVHeads,
					HeadDim:    testHeadDim,
					VocabSize:  testVocab,
					SeqLen:     testSeqLen,
					Eps:        1e-6,
					RopeBase:   10000,
					RopeScale:  1,
				}, c)
			},
		},
		{
			name:          "context capped",
			contextLength: 4,
			check: func(t *testing.T, c model.Config) {
				assert.Equal(t, 4, c.SeqLen)
			},
		},
		{
			name:          "context not raised",
			contextLength: 4096,
			check: func(t *testing.T, c model.Config) {
				assert.Equal(t, testSeqLen, c.SeqLen)
			},
		},
		{
			name: "defaults",
			edit: func(kv gguf.KV) {
				delete(kv, "attention.key_length")
				delete(kv, "rope.freq_base")
				delete(kv, "attention.layer_norm_rms_epsilon")
			},
			check: func(t *testing.T, c model.Config) {
				assert.Equal(t, testDim/testHeads, c.HeadDim)
				assert.InDelta(t, 1e6, c.RopeBase, 1)
				assert.InDelta(t, 1e-6, c.Eps, 1e-12)
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			kv := qwen3test.KV()
			if tt.edit != nil {
				tt.edit(kv)
			}

			f, err := gguf.Open(qwen3test.Write(t, kv, qwen3test.Tensors()))
			require.NoError(t, err)
			defer f.Close()

			c, err := ConfigFromGGUF(f.Config(), f, tt.contextLength)
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestConfigFromGGUFInvalid(t *testing.T) {
	kv := qwen3test.KV()
	kv["attention.head_count_kv"] = uint32(3)

	_, err := model.New(qwen3test.Write(t, kv, qwen3test.Tensors()), model.Params{})
	require.ErrorIs(t, err, errtypes.ErrConfig)

	var ce *errtypes.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "n_kv_heads", ce.Field)
}

func TestStopTokens(t *testing.T) {
	m := loadFixture(t, model.Params{})
	assert.Equal(t, []int32{14, 15}, m.StopTokens())

	ids, err := m.Encode("abc<|im_end|>", false)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 15}, ids)
}

func TestForwardConcurrent(t *testing.T) {
	m := loadFixture(t, model.Params{Pool: ml.NewPool(2)})
	tokens := []int32{3, 7, 5, 1}
	want := run(t, m, model.NewCache(m), tokens)

	results := make([][]float32, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache := model.NewCache(m)
			state := model.NewRunState(m.Config())
			for pos, token := range tokens {
				logits, err := m.Forward(token, pos, cache, state)
				if err != nil {
					return
				}
				results[i] = slices.Clone(logits)
			}
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
