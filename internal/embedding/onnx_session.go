package embedding

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxSession wraps the loaded ONNX model and the fixed-size input/output
// tensors it reuses across calls, avoiding per-batch tensor allocation.
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

const (
	maxSeqLen  = 256
	hiddenSize = localDimension
)

func newOnnxSession(modelPath string) (*onnxSession, error) {
	inputShape := ort.NewShape(1, maxSeqLen)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("embedding: alloc input tensor: %w", err)
	}
	outputShape := ort.NewShape(1, hiddenSize)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("embedding: alloc output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input_ids"}, []string{"sentence_embedding"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("embedding: load model %s: %w", modelPath, err)
	}
	return &onnxSession{session: session, input: input, output: output}, nil
}

// Run embeds texts one at a time through the shared tensors; the model is
// small enough (384-dim, short sequence) that per-text latency dominated
// by tokenization, not batching, matters more than vectorized batch
// execution.
func (s *onnxSession) Run(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.embedOne(t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *onnxSession) embedOne(text string) ([]float32, error) {
	ids := tokenizeHashed(text, maxSeqLen)
	data := s.input.GetData()
	for i := range data {
		if i < len(ids) {
			data[i] = ids[i]
		} else {
			data[i] = 0
		}
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("embedding: onnx run: %w", err)
	}
	result := make([]float32, hiddenSize)
	copy(result, s.output.GetData())
	return result, nil
}

// tokenizeHashed is a placeholder tokenizer mapping words to stable
// hashed ids; production deployments supply a real tokenizer vocabulary
// alongside the ONNX model file. It exists so the session has well-formed
// input shapes to exercise.
func tokenizeHashed(text string, maxLen int) []float32 {
	words := strings.Fields(text)
	if len(words) > maxLen {
		words = words[:maxLen]
	}
	ids := make([]float32, len(words))
	for i, w := range words {
		var h uint32
		for _, c := range w {
			h = h*31 + uint32(c)
		}
		ids[i] = float32(h % 30000)
	}
	return ids
}

func (s *onnxSession) Close() {
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}
