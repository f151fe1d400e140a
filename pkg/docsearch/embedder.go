package docsearch

import "context"

// Embedder defines the interface for text-to-vector embedding. Users can
// implement this interface to integrate any embedding model (OpenAI, Ollama,
// local models, etc.) with docsearch.
type Embedder interface {
	// EmbedBatch converts multiple texts into vectors in a single call.
	// The returned slice must have one vector per input text, all of the
	// same dimension.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dim returns the dimension of vectors produced by this embedder.
	Dim() int
}

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc struct {
	Fn        func(ctx context.Context, texts []string) ([][]float32, error)
	Dimension int
}

// EmbedBatch calls the wrapped function.
func (e EmbedderFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.Fn(ctx, texts)
}

// Dim returns the configured dimension.
func (e EmbedderFunc) Dim() int {
	return e.Dimension
}
