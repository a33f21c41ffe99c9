package chainstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Embedder turns task text into a byte-encoded vector. Implementations return
// little-endian float32 blobs ready for storage.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []byte, dim int, err error)
	Dimension() int
}

// NoOpEmbedder returns zero vectors. Useful for tests and for running the
// store keyword-only.
type NoOpEmbedder struct {
	dimension int
}

// NewNoOpEmbedder creates a no-op embedder.
func NewNoOpEmbedder(dimension int) *NoOpEmbedder {
	return &NoOpEmbedder{dimension: dimension}
}

// Embed returns a zero vector.
func (e *NoOpEmbedder) Embed(_ context.Context, _ string) ([]byte, int, error) {
	return encodeVector(make([]float32, e.dimension)), e.dimension, nil
}

// Dimension returns the embedding dimension.
func (e *NoOpEmbedder) Dimension() int { return e.dimension }

// OpenAIEmbedder embeds text through the OpenAI embeddings API. Any
// OpenAI-compatible endpoint works via baseURL.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates an OpenAI embedder.
// Common models: "text-embedding-3-small" (1536 dims), "text-embedding-3-large" (3072 dims).
func NewOpenAIEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: 1536,
	}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]byte, int, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, 0, fmt.Errorf("no embeddings returned")
	}

	vector := resp.Data[0].Embedding
	if len(vector) > 0 {
		e.dimension = len(vector)
	}
	return encodeVector(vector), e.dimension, nil
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// encodeVector encodes a float32 vector to bytes.
// Uses little-endian encoding for compatibility.
func encodeVector(vector []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		// Cannot happen with float32 slices.
		panic(fmt.Sprintf("failed to encode vector: %v", err))
	}
	return buf.Bytes()
}

// DecodeVector decodes a byte slice back to a float32 vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data length: %d", len(data))
	}

	vector := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return vector, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
