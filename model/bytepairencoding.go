package model

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
	"golang.org/x/text/unicode/norm"

	"github.com/qwenrun/qwenrun/logutil"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

// Qwen2Pretokenizer is the pre-tokenizer pattern shared by the Qwen2 and
// Qwen3 families. Digits are split one at a time.
const Qwen2Pretokenizer = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

var errUnknownPiece = errors.New("piece not in vocabulary")

// BytePairEncoding is a GPT-2 style byte level BPE tokenizer. Input is NFC
// normalized, split around special tokens, pre-tokenized, mapped to the
// printable byte alphabet and merged by rank.
type BytePairEncoding struct {
	vocab   *Vocabulary
	regexps []*regexp2.Regexp
}

var _ TextProcessor = (*BytePairEncoding)(nil)

func NewBytePairEncoding(vocab *Vocabulary, pretokenizers ...string) BytePairEncoding {
	if len(pretokenizers) == 0 {
		pretokenizers = []string{`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`}
	}

	return BytePairEncoding{
		vocab: vocab,
		regexps: slices.Collect(func(yield func(*regexp2.Regexp) bool) {
			for _, p := range pretokenizers {
				if !yield(regexp2.MustCompile(p, regexp2.RE2)) {
					return
				}
			}
		}),
	}
}

func (bpe BytePairEncoding) Vocabulary() *Vocabulary {
	return bpe.vocab
}

func (bpe BytePairEncoding) Is(id int32, special Special) bool {
	return bpe.vocab.Is(id, special)
}

// split yields pre-tokenized pieces, including any text the patterns skip.
func (bpe *BytePairEncoding) split(s string) iter.Seq[string] {
	parts := []string{s}
	for _, re := range bpe.regexps {
		parts = slices.Collect(func(yield func(string) bool) {
			for _, part := range parts {
				r := []rune(part)
				var offset int
				for m, _ := re.FindRunesMatch(r); m != nil; m, _ = re.FindNextMatch(m) {
					if m.Index > offset {
						if !yield(string(r[offset:m.Index])) {
							return
						}
					}

					if !yield(m.String()) {
						return
					}

					offset = m.Index + m.Length
				}

				if offset < len(r) {
					if !yield(string(r[offset:])) {
						return
					}
				}
			}
		})
	}

	return slices.Values(parts)
}

// byteToRune maps a byte to the printable rune standing in for it in the
// vocabulary.
func byteToRune(b byte) rune {
	r := rune(b)
	switch {
	case r == 0x00ad:
		r = 0x0143
	case r <= 0x0020:
		r = r + 0x0100
	case r >= 0x007f && r <= 0x00a0:
		r = r + 0x00a2
	}
	return r
}

// runeToByte inverts byteToRune. Runes outside the byte alphabet, as found
// in special tokens, report false.
func runeToByte(r rune) (byte, bool) {
	switch {
	case r == 0x0143:
		return 0xad, true
	case r >= 0x0100 && r <= 0x0120:
		return byte(r - 0x0100), true
	case r > 0x0120 && r <= 0x0142:
		return byte(r - 0x00a2), true
	case r <= 0xff:
		return byte(r), true
	}
	return 0, false
}

// fragment is a string fragment and their corresponding token IDs
type fragment struct {
	value string
	ids   []int32
}

// pair is a pair of adjacent symbols and its merge rank
type pair struct {
	a, b  int
	rank  int
	value string
}

type merge struct {
	p, n  int
	runes []rune
}

func (bpe BytePairEncoding) fragments(s string) []fragment {
	fragments := []fragment{{value: s}}
	for _, special := range bpe.vocab.Specials() {
		id, _ := bpe.vocab.ID(special)
		for i := 0; i < len(fragments); i++ {
			frag := fragments[i]
			if len(frag.ids) > 0 {
				continue
			}

			var middle []fragment
			switch i := strings.Index(frag.value, special); {
			case i < 0:
				middle = append(middle, frag)
			case i > 0:
				middle = append(middle, fragment{value: frag.value[:i]})
				fallthrough
			default:
				middle = append(middle, fragment{value: special, ids: []int32{id}})
				if rest := frag.value[i+len(special):]; rest != "" {
					middle = append(middle, fragment{value: rest})
				}
			}

			fragments = append(fragments[:i], append(middle, fragments[i+1:]...)...)
		}
	}
	return fragments
}

func (bpe BytePairEncoding) encodePiece(piece string) ([]int32, error) {
	var sb strings.Builder
	for _, b := range []byte(piece) {
		sb.WriteRune(byteToRune(b))
	}

	// short circuit if the piece is in the vocabulary
	if id, ok := bpe.vocab.ID(sb.String()); ok {
		return []int32{id}, nil
	}

	runes := []rune(sb.String())
	merges := make([]merge, len(runes))
	for r := range runes {
		merges[r] = merge{
			p:     r - 1,
			n:     r + 1,
			runes: []rune{runes[r]},
		}
	}

	pairwise := func(a, b int) *pair {
		if a < 0 || b >= len(runes) {
			return nil
		}

		left, right := string(merges[a].runes), string(merges[b].runes)
		rank, ok := bpe.vocab.Rank(left, right)
		if !ok {
			return nil
		}

		return &pair{
			a:     a,
			b:     b,
			rank:  rank,
			value: left + right,
		}
	}

	pairs := heap.NewWith(func(i, j *pair) int {
		return cmp.Or(cmp.Compare(i.rank, j.rank), cmp.Compare(i.a, j.a))
	})

	for i := range len(runes) - 1 {
		if pair := pairwise(i, i+1); pair != nil {
			pairs.Push(pair)
		}
	}

	for !pairs.Empty() {
		pair, _ := pairs.Pop()

		left, right := merges[pair.a], merges[pair.b]
		if len(left.runes) == 0 || len(right.runes) == 0 ||
			string(left.runes)+string(right.runes) != pair.value {
			continue
		}

		if _, ok := bpe.vocab.ID(pair.value); !ok {
			continue
		}

		merges[pair.a].runes = append(left.runes, right.runes...)
		merges[pair.b].runes = nil

		merges[pair.a].n = right.n
		if right.n < len(merges) {
			merges[right.n].p = pair.a
		}

		if pair := pairwise(merges[pair.a].p, pair.a); pair != nil {
			pairs.Push(pair)
		}

		if pair := pairwise(pair.a, merges[pair.a].n); pair != nil {
			pairs.Push(pair)
		}
	}

	var ids []int32
	for _, merge := range merges {
		if len(merge.runes) == 0 {
			continue
		}

		if id, ok := bpe.vocab.ID(string(merge.runes)); ok {
			ids = append(ids, id)
			continue
		}

		// fall back to single byte symbols
		for _, r := range merge.runes {
			id, ok := bpe.vocab.ID(string(r))
			if !ok {
				return nil, fmt.Errorf("%w: %q", errUnknownPiece, string(r))
			}
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (bpe BytePairEncoding) Encode(s string, addSpecial bool) ([]int32, error) {
	s = norm.NFC.String(s)

	var ids []int32
	for _, frag := range bpe.fragments(s) {
		if len(frag.ids) > 0 {
			ids = append(ids, frag.ids...)
			continue
		}

		for split := range bpe.split(frag.value) {
			pieceIDs, err := bpe.encodePiece(split)
			if err != nil {
				return nil, &errtypes.TokenizerError{Op: "encode", Err: err}
			}
			ids = append(ids, pieceIDs...)
		}
	}

	if addSpecial {
		ids = bpe.vocab.withBOS(ids)
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

type lazyIdsString struct {
	ids []int32
}

func (l lazyIdsString) LogValue() slog.Value {
	return slog.AnyValue(fmt.Sprint(l.ids))
}

func (bpe BytePairEncoding) Decode(ids []int32) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= bpe.vocab.Size() {
			return "", &errtypes.TokenizerError{
				Op:  "decode",
				Err: &errtypes.InvalidTokenError{Token: id, VocabSize: bpe.vocab.Size()},
			}
		}

		value := bpe.vocab.Piece(id)
		bts := make([]byte, 0, len(value))
		verbatim := false
		for _, r := range value {
			b, ok := runeToByte(r)
			if !ok {
				verbatim = true
				break
			}

			// NUL is never produced
			if r != 0x0100 {
				bts = append(bts, b)
			}
		}

		// tokens outside the byte alphabet, such as special tokens, are
		// stored as plain text
		if verbatim {
			sb.WriteString(value)
		} else {
			sb.Write(bts)
		}
	}

	logutil.Trace("decoded", "string", sb.String(), "from", lazyIdsString{ids: ids})
	return sb.String(), nil
}
