package qwen3

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/qwenrun/qwenrun/fs"
	"github.com/qwenrun/qwenrun/kvcache"
	"github.com/qwenrun/qwenrun/logutil"
	"github.com/qwenrun/qwenrun/ml"
	"github.com/qwenrun/qwenrun/ml/nn"
	"github.com/qwenrun/qwenrun/ml/nn/attention"
	"github.com/qwenrun/qwenrun/ml/nn/rope"
	"github.com/qwenrun/qwenrun/model"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

type Options struct {
	model.Config

	attentionScale float32
	rope           *nn.RoPE
}

func (o *Options) applyRotaryPositionEmbeddings(states []float32, pos int) {
	o.rope.Forward(states, pos)
}

type Attention struct {
	Query     *nn.Linear
	QueryNorm *nn.RMSNorm
	Key       *nn.Linear
	KeyNorm   *nn.RMSNorm
	Value     *nn.Linear
	Output    *nn.Linear
}

// Forward reads the normalized input from s.XB and leaves the projected
// attention output in s.XB2. The current position's keys and values are
// written to cache before attending, so the token attends to itself.
func (sa *Attention) Forward(p *ml.Pool, layer, pos int, cache *kvcache.Cache, s *model.RunState, opts *Options) error {
	sa.Query.Forward(p, s.Q, s.XB)
	sa.Key.Forward(p, s.K, s.XB)
	sa.Value.Forward(p, s.V, s.XB)

	sa.QueryNorm.ForwardHeads(s.Q, opts.HeadDim, opts.Eps)
	sa.KeyNorm.ForwardHeads(s.K, opts.HeadDim, opts.Eps)

	opts.applyRotaryPositionEmbeddings(s.Q, pos)
	opts.applyRotaryPositionEmbeddings(s.K, pos)

	if err := cache.Write(layer, pos, s.K, s.V); err != nil {
		return err
	}

	keys, values, err := cache.Read(layer, pos)
	if err != nil {
		return err
	}

	nn.Attention(p, s.AttnOut, s.Q, keys, values, s.Att, pos+1,
		opts.NumHeads, opts.NumKVHeads, opts.HeadDim,
		attention.WithScale(opts.attentionScale))

	sa.Output.Forward(p, s.XB2, s.AttnOut)
	return nil
}

type MLP struct {
	Gate *nn.Linear
	Up   *nn.Linear
	Down *nn.Linear
}

func (mlp *MLP) Forward(p *ml.Pool, s *model.RunState) {
	mlp.Gate.Forward(p, s.HB, s.XB)
	mlp.Up.Forward(p, s.HB2, s.XB)
	ml.SwiGLU(s.HB, s.HB2)
	mlp.Down.Forward(p, s.XB2, s.HB)
}

type Layer struct {
	AttentionNorm *nn.RMSNorm
	*Attention

	MLPNorm *nn.RMSNorm
	*MLP
}

func newLayer(v LayerView, c model.Config) Layer {
	return Layer{
		AttentionNorm: &nn.RMSNorm{Weight: v.AttentionNorm},
		Attention: &Attention{
			Query:     &nn.Linear{Weight: v.Query, In: c.Dim, Out: c.QDim()},
			QueryNorm: &nn.RMSNorm{Weight: v.QueryNorm},
			Key:       &nn.Linear{Weight: v.Key, In: c.Dim, Out: c.KVDim()},
			KeyNorm:   &nn.RMSNorm{Weight: v.KeyNorm},
			Value:     &nn.Linear{Weight: v.Value, In: c.Dim, Out: c.KVDim()},
			Output:    &nn.Linear{Weight: v.Output, In: c.QDim(), Out: c.Dim},
		},
		MLPNorm: &nn.RMSNorm{Weight: v.MLPNorm},
		MLP: &MLP{
			Gate: &nn.Linear{Weight: v.Gate, In: c.Dim, Out: c.HiddenDim},
			Up:   &nn.Linear{Weight: v.Up, In: c.Dim, Out: c.HiddenDim},
			Down: &nn.Linear{Weight: v.Down, In: c.HiddenDim, Out: c.Dim},
		},
	}
}

func (d *Layer) Forward(p *ml.Pool, layer, pos int, cache *kvcache.Cache, s *model.RunState, opts *Options) error {
	d.AttentionNorm.Forward(s.XB, s.X, opts.Eps)
	if err := d.Attention.Forward(p, layer, pos, cache, s, opts); err != nil {
		return err
	}
	ml.Add(s.X, s.XB2)

	d.MLPNorm.Forward(s.XB, s.X, opts.Eps)
	d.MLP.Forward(p, s)
	ml.Add(s.X, s.XB2)
	return nil
}

type Model struct {
	model.BytePairEncoding

	weights *Weights

	TokenEmbedding *nn.Embedding
	OutputNorm     *nn.RMSNorm
	Output         *nn.Linear

	Layers []Layer

	*Options

	pool *ml.Pool
}

var _ model.Model = (*Model)(nil)

func (m *Model) Config() model.Config {
	return m.Options.Config
}

// Weights returns the parameters shared by every sequence using m.
func (m *Model) Weights() *Weights {
	return m.weights
}

// Forward runs one token at pos through every layer and returns the
// vocabulary logits, which alias state.Logits. Positions must be written in
// order: pos may rewrite an earlier position but never skip past the cached
// length. Out-of-range positions and tokens fail before the cache is
// touched.
func (m *Model) Forward(token int32, pos int, cache *kvcache.Cache, state *model.RunState) ([]float32, error) {
	if pos >= m.SeqLen {
		return nil, &errtypes.ContextOverflowError{Position: pos, Limit: m.SeqLen}
	}

	if err := cache.CheckPosition(pos); err != nil {
		return nil, err
	}

	if token < 0 || int(token) >= m.VocabSize {
		return nil, &errtypes.InvalidTokenError{Token: token, VocabSize: m.VocabSize}
	}

	if cache.Layers() != m.NumLayers || cache.Dim() != m.KVDim() {
		return nil, fmt.Errorf("qwen3: cache has %d layers of width %d, want %d of width %d", cache.Layers(), cache.Dim(), m.NumLayers, m.KVDim())
	}

	if pos > cache.Len() {
		return nil, fmt.Errorf("qwen3: position %d skips past cached length %d", pos, cache.Len())
	}

	logutil.Trace("forward", "token", token, "pos", pos)

	m.TokenEmbedding.Forward(state.X, token)
	for i := range m.Layers {
		if err := m.Layers[i].Forward(m.pool, i, pos, cache, state, m.Options); err != nil {
			return nil, err
		}
	}

	m.OutputNorm.Forward(state.X, state.X, m.Eps)
	m.Output.Forward(m.pool, state.Logits, state.X)
	return state.Logits, nil
}

// StopTokens returns the end of sequence ids and the chat turn
// terminators present in the vocabulary.
func (m *Model) StopTokens() []int32 {
	vocab := m.Vocabulary()
	stops := slices.Clone(vocab.EOS)
	for _, s := range []string{"<|im_end|>", "<|endoftext|>"} {
		if id, ok := vocab.ID(s); ok && !slices.Contains(stops, id) {
			stops = append(stops, id)
		}
	}
	return stops
}

// ConfigFromGGUF derives the model shape from metadata. contextLength, if
// not zero, caps the context length stored in the model.
func ConfigFromGGUF(c fs.Config, ts fs.TensorSource, contextLength uint) (model.Config, error) {
	cfg := model.Config{
		Dim:        int(c.Uint("embedding_length")),
		HiddenDim:  int(c.Uint("feed_forward_length")),
		NumLayers:  int(c.Uint("block_count")),
		NumHeads:   int(c.Uint("attention.head_count")),
		NumKVHeads: int(c.Uint("attention.head_count_kv")),
		SeqLen:     int(c.Uint("context_length")),
		Eps:        c.Float("attention.layer_norm_rms_epsilon", 1e-6),
		RopeBase:   c.Float("rope.freq_base", 1e6),
		RopeScale:  c.Float("rope.scaling.factor", 1),
	}

	if cfg.NumHeads > 0 {
		cfg.HeadDim = int(c.Uint("attention.key_length", uint32(cfg.Dim/cfg.NumHeads)))
	}

	cfg.NumKVHeads = cmp.Or(cfg.NumKVHeads, cfg.NumHeads)

	cfg.VocabSize = len(c.Strings("tokenizer.ggml.tokens"))
	if shape, ok := ts.Shape("token_embd.weight"); ok && len(shape) == 2 {
		// padded vocabularies have more embedding rows than tokens
		cfg.VocabSize = max(cfg.VocabSize, int(shape[1]))
	}

	if contextLength > 0 && (cfg.SeqLen == 0 || int(contextLength) < cfg.SeqLen) {
		cfg.SeqLen = int(contextLength)
	}

	if cfg.RopeScale <= 0 {
		cfg.RopeScale = 1
	}

	return cfg, cfg.Validate()
}

// New builds a model from its metadata and weights.
func New(f fs.Model, p model.Params) (model.Model, error) {
	cfg, err := ConfigFromGGUF(f.KV, f.Tensors, p.ContextLength)
	if err != nil {
		return nil, err
	}

	w, err := LoadWeights(f.Tensors, cfg, p.Progress)
	if err != nil {
		return nil, err
	}

	m := newModel(w, p.Pool)

	m.BytePairEncoding, err = model.NewBytePairEncodingFromConfig(f.KV)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// newModel wires the layers over w. The model has no tokenizer.
func newModel(w *Weights, pool *ml.Pool) *Model {
	cfg := w.config
	m := &Model{
		weights:        w,
		TokenEmbedding: &nn.Embedding{Weight: w.TokenEmbedding, Dim: cfg.Dim},
		OutputNorm:     &nn.RMSNorm{Weight: w.OutputNorm},
		Output:         &nn.Linear{Weight: w.Output, In: cfg.Dim, Out: cfg.VocabSize},
		Layers:         make([]Layer, cfg.NumLayers),
		Options: &Options{
			Config:         cfg,
			attentionScale: float32(1 / math.Sqrt(float64(cfg.HeadDim))),
			rope:           nn.NewRoPE(cfg.HeadDim, cfg.RopeBase, 1./cfg.RopeScale, rope.WithTypeNeoX()),
		},
		pool: pool,
	}

	for i := range m.Layers {
		m.Layers[i] = newLayer(w.Layer(i), cfg)
	}

	return m
}

func init() {
	model.Register("qwen3", New)
}
