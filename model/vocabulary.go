package model

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

const (
	TOKEN_TYPE_NORMAL = iota + 1
	TOKEN_TYPE_UNKNOWN
	TOKEN_TYPE_CONTROL
	TOKEN_TYPE_USER_DEFINED
	TOKEN_TYPE_UNUSED
	TOKEN_TYPE_BYTE
)

type Special int32

const (
	SpecialBOS Special = iota
	SpecialEOS
)

// Vocabulary is a byte level BPE vocabulary as stored under tokenizer.ggml.
// Lookup tables are built on first use, after which the exported fields
// must not change.
type Vocabulary struct {
	Values []string
	Types  []int32
	Merges []string

	BOS, EOS []int32
	AddBOS   bool

	once     sync.Once
	ids      map[string]int32
	ranks    map[[2]string]int
	specials []string
}

func (v *Vocabulary) index() {
	v.once.Do(func() {
		v.ids = make(map[string]int32, len(v.Values))
		for i, value := range v.Values {
			if _, ok := v.ids[value]; !ok {
				v.ids[value] = int32(i)
			}

			if i < len(v.Types) && (v.Types[i] == TOKEN_TYPE_CONTROL || v.Types[i] == TOKEN_TYPE_USER_DEFINED) {
				v.specials = append(v.specials, value)
			}
		}

		// longest first so a special token is never split by a shorter one
		slices.SortStableFunc(v.specials, func(a, b string) int {
			return len(b) - len(a)
		})

		v.ranks = make(map[[2]string]int, len(v.Merges))
		for rank, merge := range v.Merges {
			left, right, ok := strings.Cut(merge, " ")
			if !ok {
				slog.Warn("skipping malformed merge", "rank", rank, "merge", merge)
				continue
			}

			if _, ok := v.ranks[[2]string{left, right}]; !ok {
				v.ranks[[2]string{left, right}] = rank
			}
		}
	})
}

// ID returns the id of an exact vocabulary entry.
func (v *Vocabulary) ID(piece string) (int32, bool) {
	v.index()
	id, ok := v.ids[piece]
	return id, ok
}

// Rank returns the priority of merging left and right. Lower ranks merge
// first.
func (v *Vocabulary) Rank(left, right string) (int, bool) {
	v.index()
	rank, ok := v.ranks[[2]string{left, right}]
	return rank, ok
}

// Specials lists control and user defined tokens, which are matched
// verbatim before pretokenization.
func (v *Vocabulary) Specials() []string {
	v.index()
	return v.specials
}

func (v *Vocabulary) Size() int {
	return len(v.Values)
}

func (v *Vocabulary) Piece(id int32) string {
	return v.Values[id]
}

func (v *Vocabulary) Is(id int32, special Special) bool {
	switch special {
	case SpecialBOS:
		return slices.Contains(v.BOS, id)
	case SpecialEOS:
		return slices.Contains(v.EOS, id)
	}

	return false
}

// withBOS prepends the beginning of sequence token when the vocabulary
// asks for one and ids does not already start with it.
func (v *Vocabulary) withBOS(ids []int32) []int32 {
	if !v.AddBOS || len(v.BOS) == 0 {
		return ids
	}

	if len(ids) > 0 && v.Is(ids[0], SpecialBOS) {
		slog.Debug("prompt already starts with bos", "id", ids[0])
		return ids
	}

	return append([]int32{v.BOS[0]}, ids...)
}
