//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kioku/pkg/utils"
)

var modelInputs = []string{"input_ids", "attention_mask", "token_type_ids"}

// ONNXEmbedder embeds record text with a sentence-transformer model run
// through ONNX Runtime. One session and its tensors are reused for every call,
// so calls are serialized.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *modelIO
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// modelIO holds the preallocated tensors bound to a session.
type modelIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	owned         []ort.ArbitraryTensor
}

func newModelIO(maxTokens, dim int) (*modelIO, error) {
	m := &modelIO{}
	in := ort.NewShape(1, int64(maxTokens))
	for _, dst := range []**ort.Tensor[int64]{&m.inputIDs, &m.attentionMask, &m.tokenTypeIDs} {
		t, err := ort.NewEmptyTensor[int64](in)
		if err != nil {
			m.destroy()
			return nil, fmt.Errorf("failed to allocate input tensor: %w", err)
		}
		*dst = t
		m.owned = append(m.owned, t)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("failed to allocate output tensor: %w", err)
	}
	m.output = out
	m.owned = append(m.owned, out)
	return m, nil
}

func (m *modelIO) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{m.inputIDs, m.attentionMask, m.tokenTypeIDs}
}

func (m *modelIO) destroy() {
	for _, t := range m.owned {
		_ = t.Destroy()
	}
	m.owned = nil
}

// NewONNXEmbedder loads the model at modelPath. dimensions is the index's
// embedding dimension; a model whose pooled output has another width is
// rejected before a session is created.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("embedding model %q: %w", modelPath, err)
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model outputs: %w", err)
	}
	described := make([]modelOutput, len(outputs))
	for i, o := range outputs {
		described[i] = modelOutput{Name: o.Name, Shape: []int64(o.Dimensions)}
	}
	pooled, err := pooledOutput(described, dimensions)
	if err != nil {
		return nil, err
	}

	io, err := newModelIO(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath, modelInputs, []string{pooled.Name},
		io.inputs(), []ort.ArbitraryTensor{io.output}, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-length embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("ONNX embedder is closed")
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.io.inputIDs.GetData(), ids)
	copy(e.io.attentionMask.GetData(), mask)
	copy(e.io.tokenTypeIDs.GetData(), types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	vec := append([]float32(nil), e.io.output.GetData()[:e.dimensions]...)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time on the shared session.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the index dimension the model was checked against.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
