// Package tokenize wraps the Hugging Face tokenizer shared by the chunker and
// the ONNX encoder, so chunk boundaries are computed on exactly the token
// stream the model sees.
package tokenize

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/ragline/ragline/internal/ragerr"
)

// DefaultMaxSeqLen is the sequence limit of the E5 family.
const DefaultMaxSeqLen = 512

// Span is a byte range into the original text.
type Span struct {
	Start int
	End   int
}

// Tokenizer tokenizes text with a tokenizer.json definition.
// It is not safe for concurrent use; run it on one worker goroutine.
type Tokenizer struct {
	tk     *tokenizer.Tokenizer
	maxLen int
}

// NewFromFile loads a tokenizer.json. maxSeqLen <= 0 falls back to
// DefaultMaxSeqLen; it only applies to EncodeBatch, never to Encode, which
// must see the whole document.
func NewFromFile(path string, maxSeqLen int) (*Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer %s: %v", ragerr.ErrModel, path, err)
	}
	if maxSeqLen <= 0 {
		maxSeqLen = DefaultMaxSeqLen
	}
	return &Tokenizer{tk: tk, maxLen: maxSeqLen}, nil
}

// Encode tokenizes the full text without special tokens and returns the token
// ids with their byte spans. Chunk windows are later reconstructed by slicing
// the original text between span boundaries.
func (t *Tokenizer) Encode(text string) (ids []int, spans []Span, err error) {
	en, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode: %v", ragerr.ErrModel, err)
	}
	spans = make([]Span, len(en.Offsets))
	for i, off := range en.Offsets {
		if len(off) == 2 {
			spans[i] = Span{Start: off[0], End: off[1]}
		}
	}
	return en.Ids, spans, nil
}

// Batch is a padded id/mask matrix ready for BERT-style inference.
type Batch struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
	TokenTypeIDs  [][]int64
	SeqLen        int
}

// EncodeBatch tokenizes texts with special tokens, truncates each sequence to
// the model limit, and zero-pads to the longest sequence in the batch.
func (t *Tokenizer) EncodeBatch(texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, fmt.Errorf("%w: empty batch", ragerr.ErrModel)
	}

	type seq struct {
		ids   []int
		types []int
	}
	encoded := make([]seq, len(texts))
	maxLen := 0
	for i, text := range texts {
		en, err := t.tk.EncodeSingle(text, true)
		if err != nil {
			return Batch{}, fmt.Errorf("%w: encode batch item %d: %v", ragerr.ErrModel, i, err)
		}
		s := seq{ids: en.Ids, types: en.TypeIds}
		if len(s.ids) > t.maxLen {
			s.ids = s.ids[:t.maxLen]
			if len(s.types) > t.maxLen {
				s.types = s.types[:t.maxLen]
			}
		}
		encoded[i] = s
		if len(s.ids) > maxLen {
			maxLen = len(s.ids)
		}
	}
	if maxLen == 0 {
		return Batch{}, fmt.Errorf("%w: tokenizer produced zero-length sequences", ragerr.ErrModel)
	}

	b := Batch{
		InputIDs:      make([][]int64, len(texts)),
		AttentionMask: make([][]int64, len(texts)),
		TokenTypeIDs:  make([][]int64, len(texts)),
		SeqLen:        maxLen,
	}
	for i, en := range encoded {
		ids := make([]int64, maxLen)
		mask := make([]int64, maxLen)
		types := make([]int64, maxLen)
		for j, id := range en.ids {
			ids[j] = int64(id)
			mask[j] = 1
			if j < len(en.types) {
				types[j] = int64(en.types[j])
			}
		}
		b.InputIDs[i] = ids
		b.AttentionMask[i] = mask
		b.TokenTypeIDs[i] = types
	}
	return b, nil
}
