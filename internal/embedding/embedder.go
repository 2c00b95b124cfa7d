// Package embedding provides text embedders: an ONNX model backend and a deterministic hashing backend.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendONNX = "onnx"
	BackendHash = "hash"
)

// Options configures embedder construction.
type Options struct {
	Backend    string
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New builds the embedder selected by opts.Backend. An empty backend selects hashing.
func New(opts Options) (Embedder, error) {
	switch opts.Backend {
	case "", BackendHash:
		return NewHashEmbedder(opts.Dimensions), nil
	case BackendONNX:
		onnx, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return WithCache(onnx, opts.CacheSize), nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", opts.Backend)
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

const defaultMaxTokens = 256

// modelOutput is the name and declared shape of one model output.
type modelOutput struct {
	Name  string
	Shape []int64
}

// pooledOutputNames are tried in order when picking the sentence-embedding output.
var pooledOutputNames = []string{"output", "sentence_embedding", "pooler_output"}

// pooledOutput picks the output carrying one pooled vector per input and checks
// its width against the index dimension. A model with a single output uses it.
func pooledOutput(outputs []modelOutput, indexDim int) (modelOutput, error) {
	var (
		chosen modelOutput
		found  bool
	)
	for _, name := range pooledOutputNames {
		for _, o := range outputs {
			if o.Name == name {
				chosen, found = o, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found && len(outputs) == 1 {
		chosen, found = outputs[0], true
	}
	if !found {
		return modelOutput{}, fmt.Errorf("model has no pooled embedding output (want one of %v)", pooledOutputNames)
	}
	if len(chosen.Shape) != 2 {
		return modelOutput{}, fmt.Errorf("output %q has shape %v, want [batch, dim]", chosen.Name, chosen.Shape)
	}
	width := chosen.Shape[1]
	if width <= 0 {
		return modelOutput{}, fmt.Errorf("output %q has no fixed embedding width", chosen.Name)
	}
	if int(width) != indexDim {
		return modelOutput{}, fmt.Errorf("model emits %d-dimensional embeddings but the index stores %d; run migrate-embeddings --dimensions %d",
			width, indexDim, width)
	}
	return chosen, nil
}
