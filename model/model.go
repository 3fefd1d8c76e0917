package model

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/qwenrun/qwenrun/fs"
	"github.com/qwenrun/qwenrun/fs/gguf"
	"github.com/qwenrun/qwenrun/kvcache"
	"github.com/qwenrun/qwenrun/logutil"
	"github.com/qwenrun/qwenrun/ml"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

// Model implements a specific model architecture. Forward computes the
// logits for one token at pos, writing that position's keys and values to
// cache. The returned slice aliases state.Logits.
//
// A Model is read-only after construction and may be shared by concurrent
// sequences as long as each owns its cache and state.
type Model interface {
	Config() Config
	Forward(token int32, pos int, cache *kvcache.Cache, state *RunState) ([]float32, error)
}

// Params control how a model is loaded.
type Params struct {
	// Pool runs the data-parallel kernels of a forward step. A nil pool
	// runs them inline.
	Pool *ml.Pool

	// ContextLength caps the model's context length. Zero keeps it.
	ContextLength uint

	// Progress is called with the fraction of weights loaded.
	Progress func(float32)
}

var models = make(map[string]func(fs.Model, Params) (Model, error))

// Register registers a model constructor for the given architecture
func Register(name string, f func(fs.Model, Params) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// New loads the model at modelPath. Weights are decoded into memory, so the
// file is closed before New returns.
func New(modelPath string, params Params) (Model, error) {
	f, err := gguf.Open(modelPath)
	if err != nil {
		return nil, &errtypes.LoadError{Reason: "invalid model file", Err: err}
	}
	defer f.Close()

	return newModel(fs.Model{KV: f.Config(), Tensors: f}, params)
}

func newModel(m fs.Model, params Params) (Model, error) {
	arch := m.KV.Architecture()
	fn, ok := models[arch]
	if !ok {
		return nil, &errtypes.LoadError{
			Tensor: "general.architecture",
			Reason: fmt.Sprintf("unsupported model architecture %q", arch),
		}
	}

	start := time.Now()
	slog.Debug("loading model", "model", m)
	mm, err := fn(m, params)
	if err != nil {
		return nil, err
	}

	slog.Info("model loaded", "architecture", arch, "config", mm.Config(), logutil.Since("duration", start))
	return mm, nil
}

// NewCache allocates a key/value cache sized for m.
func NewCache(m Model) *kvcache.Cache {
	c := m.Config()
	return kvcache.NewCausalCache(c.NumLayers, c.SeqLen, c.KVDim())
}

// NewTextProcessor reads only the tokenizer of the model at path.
func NewTextProcessor(path string) (TextProcessor, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, &errtypes.LoadError{Reason: "invalid model file", Err: err}
	}
	defer f.Close()

	bpe, err := NewBytePairEncodingFromConfig(f.Config())
	if err != nil {
		return nil, err
	}

	return bpe, nil
}

// NewBytePairEncodingFromConfig builds a byte-level BPE tokenizer from the
// tokenizer.ggml.* metadata.
func NewBytePairEncodingFromConfig(c fs.Config) (BytePairEncoding, error) {
	if name := c.String("tokenizer.ggml.model"); name != "" && name != "gpt2" {
		return BytePairEncoding{}, &errtypes.LoadError{
			Tensor: "tokenizer.ggml.model",
			Reason: fmt.Sprintf("unsupported tokenizer %q", name),
		}
	}

	vocab := NewVocabulary(c)
	if vocab.Size() == 0 {
		return BytePairEncoding{}, &errtypes.LoadError{
			Tensor: "tokenizer.ggml.tokens",
			Reason: "model has no tokenizer",
		}
	}

	return NewBytePairEncoding(vocab, Pretokenizer(c.String("tokenizer.ggml.pre"))...), nil
}

// NewVocabulary reads the vocabulary stored under tokenizer.ggml.
func NewVocabulary(c fs.Config) *Vocabulary {
	v := &Vocabulary{
		Values: c.Strings("tokenizer.ggml.tokens"),
		Types:  c.Ints("tokenizer.ggml.token_type"),
		Merges: c.Strings("tokenizer.ggml.merges"),
		AddBOS: c.Bool("tokenizer.ggml.add_bos_token", false),
	}

	if c.Value("tokenizer.ggml.bos_token_id") != nil {
		v.BOS = []int32{int32(c.Uint("tokenizer.ggml.bos_token_id"))}
	}

	if c.Value("tokenizer.ggml.eos_token_id") != nil {
		v.EOS = []int32{int32(c.Uint("tokenizer.ggml.eos_token_id"))}
	}

	for _, id := range c.Ints("tokenizer.ggml.eos_token_ids") {
		if !slices.Contains(v.EOS, id) {
			v.EOS = append(v.EOS, id)
		}
	}

	return v
}

// Pretokenizer returns the split patterns for a tokenizer.ggml.pre name.
// Unknown names use the GPT-2 default.
func Pretokenizer(name string) []string {
	switch name {
	case "qwen2":
		return []string{Qwen2Pretokenizer}
	default:
		return nil
	}
}
