package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var (
	// ErrUpstreamUnavailable covers transport, quota and server-side failures
	// of an inference provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrEmbeddingUnavailable = fmt.Errorf("embedding unavailable: %w", ErrUpstreamUnavailable)
	ErrModelUnavailable     = fmt.Errorf("language model unavailable: %w", ErrUpstreamUnavailable)

	// ErrInvalidInput means the provider rejected the request itself; retrying
	// the same input will not help.
	ErrInvalidInput = errors.New("invalid input")
)

// MaxEmbeddingBatch is the most inputs sent in one embedding request.
const MaxEmbeddingBatch = 100

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Model produces answers for a message list, either at once or as a stream
// of text fragments. The stream ends when the provider finishes, when it
// yields an error, or when the consumer stops pulling.
type Model interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

// Provider bundles the gateways of one inference backend.
type Provider interface {
	Embedder
	Model
	Name() string
	Close() error
}

// batches splits texts into slices of at most size elements.
func batches(texts []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(texts); start += size {
		out = append(out, texts[start:min(start+size, len(texts))])
	}
	return out
}
