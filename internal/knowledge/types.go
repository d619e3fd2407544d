package knowledge

import (
	"context"
	"fmt"
)

// Record is a raw knowledge-base entry as supplied by the knowledge source.
type Record struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// Chunk is a bounded slice of knowledge-base text, immutable once indexed.
type Chunk struct {
	ID          string `json:"id"`
	SourceTitle string `json:"source_title"`
	SourceURL   string `json:"source_url"`
	Text        string `json:"text"`
	TokenCount  int    `json:"token_count"`
}

// Vector pairs a chunk with its embedding. Vectors are owned by the snapshot
// that produced them and are invalidated together on rebuild.
type Vector struct {
	ChunkID string
	Vec     []float32
}

// Embedder maps texts to fixed-dimension vectors. The same implementation must
// serve index-build and query-time calls so the vector spaces stay comparable.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// BuildError marks a failed index rebuild. The previous snapshot stays live.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
