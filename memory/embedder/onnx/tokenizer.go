package onnx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Tokenizer performs lowercase BERT WordPiece tokenization.
type Tokenizer struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

// LoadTokenizer reads the vocabulary from a Hugging Face tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tokenizer: %w", err)
	}
	defer f.Close()
	return ReadTokenizer(f)
}

// ReadTokenizer parses a tokenizer.json document.
func ReadTokenizer(r io.Reader) (*Tokenizer, error) {
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tokenizer: %w", err)
	}
	return NewTokenizer(doc.Model.Vocab)
}

// NewTokenizer builds a tokenizer over vocab, which must contain the
// [CLS], [SEP] and [UNK] special tokens.
func NewTokenizer(vocab map[string]int) (*Tokenizer, error) {
	t := &Tokenizer{vocab: vocab}
	for name, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[UNK]": &t.unk} {
		id, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", name)
		}
		*dst = int64(id)
	}
	return t, nil
}

// Tokenize converts text to WordPiece ids, without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// Encode frames text as [CLS] tokens [SEP], padded to maxLen, and returns the
// input ids with the matching attention mask.
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids[0], mask[0] = t.cls, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = t.sep, 1
	return ids, mask
}

// wordPiece greedily splits word into the longest known prefixes.
// A word with an unmatchable remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	var ids []int64
	runes := []rune(word)
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := false
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
				matched = true
				break
			}
		}
		if !matched {
			return []int64{t.unk}
		}
		start = end
	}
	return ids
}

// splitWords splits on whitespace and isolates punctuation as its own word.
func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}
