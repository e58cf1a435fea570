//go:build !onnx

package cmd

import (
	"errors"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
)

func newONNXEmbedder(config.EmbeddingConfig) (memory.Embedder, func(), error) {
	return nil, nil, errors.New("onnx embeddings need a build with -tags onnx")
}
