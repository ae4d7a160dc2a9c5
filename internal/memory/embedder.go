package memory

import "context"

// Embedder is the capability interface for deriving a fixed-dimension
// float vector from text. A concrete adapter lives behind the llmclient
// package (or an external embedding service); memory never constructs
// embeddings itself (spec.md §4.4: "derive embedding via Embedder
// capability").
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
