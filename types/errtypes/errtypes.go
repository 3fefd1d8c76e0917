// Package errtypes contains custom error types
package errtypes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLoad            = errors.New("load error")
	ErrConfig          = errors.New("invalid model config")
	ErrContextOverflow = errors.New("context overflow")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidPolicy   = errors.New("invalid sampling policy")
	ErrTokenizer       = errors.New("tokenizer error")
)

// LoadError reports a model file, tensor or metadata entry that could not
// be turned into a model. Tensor names the tensor or metadata key and is
// empty when the file itself is unreadable. Expected and Actual are element
// counts and are zero when the failure is not a size mismatch.
type LoadError struct {
	Tensor     string
	Expected   int
	Actual     int
	Reason     string
	Suggestion string
	Err        error
}

func (e *LoadError) Error() string {
	var sb strings.Builder
	if e.Tensor != "" {
		fmt.Fprintf(&sb, "failed to load %q", e.Tensor)
	} else {
		sb.WriteString("failed to load model")
	}

	switch {
	case e.Reason != "":
		fmt.Fprintf(&sb, ": %s", e.Reason)
	case e.Expected != e.Actual:
		fmt.Fprintf(&sb, ": expected %d elements, got %d", e.Expected, e.Actual)
	}

	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}

	if e.Suggestion != "" {
		fmt.Fprintf(&sb, " (did you mean %q?)", e.Suggestion)
	}

	return sb.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid model config %q: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// ContextOverflowError is returned when a position does not fit in the
// context window. The sequence can be restarted from position zero.
type ContextOverflowError struct {
	Position int
	Limit    int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: position %d exceeds context length %d", e.Position, e.Limit)
}

func (e *ContextOverflowError) Is(target error) bool { return target == ErrContextOverflow }

type InvalidTokenError struct {
	Token     int32
	VocabSize int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token %d: vocabulary size is %d", e.Token, e.VocabSize)
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

type InvalidPolicyError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid sampling policy: %s=%v %s", e.Param, e.Value, e.Reason)
}

func (e *InvalidPolicyError) Is(target error) bool { return target == ErrInvalidPolicy }

// TokenizerError wraps a failure from the tokenizer without altering it.
type TokenizerError struct {
	Op  string
	Err error
}

func (e *TokenizerError) Error() string {
	return fmt.Sprintf("tokenizer %s: %v", e.Op, e.Err)
}

func (e *TokenizerError) Unwrap() error { return e.Err }

func (e *TokenizerError) Is(target error) bool { return target == ErrTokenizer }
