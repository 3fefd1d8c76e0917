// Package runner drives a model through prompt prefill and token by token
// decoding.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/qwenrun/qwenrun/kvcache"
	"github.com/qwenrun/qwenrun/logutil"
	"github.com/qwenrun/qwenrun/metrics"
	"github.com/qwenrun/qwenrun/model"
	"github.com/qwenrun/qwenrun/sample"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

var (
	ErrEmptyPrompt = errors.New("runner: prompt is empty")
	ErrConsumed    = errors.New("runner: token stream already consumed")
)

type State int

const (
	// StateIdle means nothing has been written to the cache for the
	// current generation.
	StateIdle State = iota
	StatePrefill
	StateDecode
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrefill:
		return "prefill"
	case StateDecode:
		return "decode"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	// MaxTokens bounds the number of generated tokens. Zero or less
	// generates until a stop token or the end of the context.
	MaxTokens int

	// StopTokens end generation. They are not emitted.
	StopTokens []int32

	Sampler sample.Sampler
}

// Sequence owns the cache and scratch state of one generation at a time.
// The model itself is shared, so any number of sequences may run
// concurrently over the same model.
type Sequence struct {
	id string

	model   model.Model
	cache   *kvcache.Cache
	state   *model.RunState
	metrics *metrics.Metrics

	st  State
	pos int
}

func NewSequence(m model.Model, mm *metrics.Metrics) *Sequence {
	return &Sequence{
		id:      uuid.NewString(),
		model:   m,
		cache:   model.NewCache(m),
		state:   model.NewRunState(m.Config()),
		metrics: mm,
	}
}

func (s *Sequence) ID() string { return s.id }

func (s *Sequence) State() State { return s.st }

// Position is the number of tokens in the cache for the current generation.
func (s *Sequence) Position() int { return s.pos }

func (s *Sequence) step(token int32, phase metrics.Phase) ([]float32, error) {
	start := time.Now()
	logits, err := s.model.Forward(token, s.pos, s.cache, s.state)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveStep(phase, time.Since(start))
	s.pos++
	return logits, nil
}

// Generate returns a stream of generated tokens. The cache is reset when
// the stream is first ranged over; the prompt is then fed through the
// model and tokens are sampled one at a time until a stop token, the
// MaxTokens limit or the end of the context. Each token is computed only
// when the caller asks for it, so breaking out of the loop stops
// generation.
//
// An error is yielded once and ends the stream. Tokens already yielded
// remain valid. The stream can be ranged over only once.
func (s *Sequence) Generate(ctx context.Context, prompt []int32, opts Options) iter.Seq2[int32, error] {
	var used bool
	return func(yield func(int32, error) bool) {
		if used {
			yield(-1, ErrConsumed)
			return
		}
		used = true

		s.cache.Reset()
		s.pos = 0
		s.st = StateIdle

		logger := slog.With("request", s.id)
		fail := func(err error) {
			s.st = StateError
			logger.Debug("generation failed", "pos", s.pos, "error", err)
			yield(-1, err)
		}

		if len(prompt) == 0 {
			fail(ErrEmptyPrompt)
			return
		}

		if opts.Sampler == nil {
			fail(errors.New("runner: no sampler"))
			return
		}

		seqLen := s.model.Config().SeqLen
		if len(prompt) > seqLen {
			fail(&errtypes.ContextOverflowError{Position: len(prompt) - 1, Limit: seqLen})
			return
		}

		start := time.Now()
		s.st = StatePrefill

		var logits []float32
		for _, token := range prompt {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			var err error
			logits, err = s.step(token, metrics.PhasePrefill)
			if err != nil {
				fail(err)
				return
			}
		}

		logger.Debug("prefill done", "tokens", len(prompt), logutil.Since("duration", start))
		s.st = StateDecode

		var generated int
		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			token, err := opts.Sampler.Sample(logits)
			if err != nil {
				fail(err)
				return
			}

			if slices.Contains(opts.StopTokens, token) {
				logutil.Trace("stop token", "request", s.id, "token", token)
				break
			}

			generated++
			if !yield(token, nil) {
				break
			}

			if opts.MaxTokens > 0 && generated >= opts.MaxTokens {
				break
			}

			// no room to feed the token back
			if s.pos >= seqLen {
				break
			}

			logits, err = s.step(token, metrics.PhaseDecode)
			if err != nil {
				fail(err)
				return
			}
		}

		s.st = StateDone
		logger.Debug("generation done", "prompt", len(prompt), "generated", generated, logutil.Since("duration", start))
	}
}
