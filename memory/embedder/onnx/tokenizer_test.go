package onnx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() map[string]int {
	return map[string]int{
		"[PAD]": 0, "[UNK]": 100, "[CLS]": 101, "[SEP]": 102,
		"i": 1, "feel": 2, "tired": 3, "sleep": 4, "##less": 5, "!": 6,
	}
}

func TestTokenizer_WordPiece(t *testing.T) {
	tok, err := NewTokenizer(testVocab())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 6}, tok.Tokenize("I feel TIRED!"))
	assert.Equal(t, []int64{4, 5}, tok.Tokenize("sleepless"))
	assert.Equal(t, []int64{100}, tok.Tokenize("zzz"))
}

func TestTokenizer_Encode(t *testing.T) {
	tok, err := NewTokenizer(testVocab())
	require.NoError(t, err)

	ids, mask := tok.Encode("i feel", 6)
	assert.Equal(t, []int64{101, 1, 2, 102, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, mask)

	ids, mask = tok.Encode("i feel tired sleep", 4)
	assert.Equal(t, []int64{101, 1, 2, 102}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
}

func TestReadTokenizer(t *testing.T) {
	doc := `{"model":{"vocab":{"[UNK]":100,"[CLS]":101,"[SEP]":102,"hello":7}}}`
	tok, err := ReadTokenizer(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, tok.Tokenize("hello"))

	_, err = ReadTokenizer(strings.NewReader(`{"model":{"vocab":{"hello":7}}}`))
	assert.Error(t, err)
}

func TestPool(t *testing.T) {
	// seq=3, dims=2; the last position is padding.
	data := []float32{1, 0, 3, 0, 100, 100}
	vec, err := pool(data, []int64{1, 3, 2}, []int64{1, 1, 0}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vec[0], 1e-6)
	assert.InDelta(t, 0.0, vec[1], 1e-6)

	vec, err = pool([]float32{3, 4}, []int64{1, 2}, nil, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	_, err = pool(data, []int64{6}, nil, 2)
	assert.Error(t, err)
	_, err = pool(data, []int64{1, 2, 3}, []int64{1, 1}, 2)
	assert.Error(t, err)
}
