//go:build onnx

package cmd

import (
	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/onnx"
)

func newONNXEmbedder(c config.EmbeddingConfig) (memory.Embedder, func(), error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:     c.ONNX.ModelPath,
		TokenizerPath: c.ONNX.TokenizerPath,
		LibraryPath:   c.ONNX.LibraryPath,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, func() { _ = e.Close() }, nil
}
