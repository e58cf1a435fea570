// Package onnx runs a local sentence-transformer (all-MiniLM-L6-v2) through
// ONNX Runtime. The runtime-backed Embedder is only built with -tags onnx;
// the tokenizer and pooling are pure Go.
package onnx
