package knowledge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/deskpilot/deskpilot/config"
)

// Snapshot is one fully built generation of the knowledge index: the chunks,
// the lexical (BM25) index over them and their embedding vectors. A snapshot
// is immutable; rebuilds produce a fresh one.
type Snapshot struct {
	chunks  []Chunk
	byID    map[string]Chunk
	index   bleve.Index
	vectors []Vector
	builtAt time.Time
}

func (s *Snapshot) Len() int         { return len(s.chunks) }
func (s *Snapshot) Chunks() []Chunk  { return s.chunks }
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Chunk resolves a chunk by id.
func (s *Snapshot) Chunk(id string) (Chunk, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Vectors returns the embedding for every chunk, in chunk order.
func (s *Snapshot) Vectors() []Vector { return s.vectors }

// LexicalScores runs a BM25 term-match over the chunk text and returns raw
// scores keyed by chunk id. Match queries analyze the input, so matching is
// case-insensitive and tokenized on word boundaries.
func (s *Snapshot) LexicalScores(query string, limit int) (map[string]float64, error) {
	if strings.TrimSpace(query) == "" || len(s.chunks) == 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

// indexDoc is the shape handed to bleve per chunk.
type indexDoc struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

// Indexer owns the live snapshot and rebuilds it from raw records. Rebuilds
// are exclusive and all-or-nothing: readers keep the previous snapshot until a
// new one is complete, then see it via a single atomic swap.
type Indexer struct {
	cfg      config.KnowledgeConfig
	embedder Embedder
	logger   *log.Logger

	mu      sync.Mutex // serializes rebuilds
	current atomic.Pointer[Snapshot]
}

func NewIndexer(cfg config.KnowledgeConfig, embedder Embedder) *Indexer {
	return &Indexer{
		cfg:      cfg,
		embedder: embedder,
		logger:   log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
	}
}

// Current returns the live snapshot, or nil before the first successful build.
func (ix *Indexer) Current() *Snapshot {
	return ix.current.Load()
}

// Rebuild chunks the records, embeds every chunk and builds a fresh lexical
// index. Any failure leaves the previous snapshot untouched and returns a
// *BuildError.
func (ix *Indexer) Rebuild(ctx context.Context, records []Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()

	chunks := ChunkRecords(records, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return &BuildError{Stage: "embedding", Err: err}
	}
	if len(vecs) != len(chunks) {
		return &BuildError{Stage: "embedding", Err: fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(chunks))}
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return &BuildError{Stage: "lexical", Err: err}
	}
	byID := make(map[string]Chunk, len(chunks))
	vectors := make([]Vector, 0, len(chunks))
	for i, c := range chunks {
		if err := index.Index(c.ID, indexDoc{Text: c.Text, Title: c.SourceTitle}); err != nil {
			return &BuildError{Stage: "lexical", Err: err}
		}
		byID[c.ID] = c
		vectors = append(vectors, Vector{ChunkID: c.ID, Vec: vecs[i]})
	}

	snap := &Snapshot{
		chunks:  chunks,
		byID:    byID,
		index:   index,
		vectors: vectors,
		builtAt: time.Now(),
	}
	ix.current.Store(snap)
	ix.logger.Printf("indexed %d chunks from %d records in %v", len(chunks), len(records), time.Since(start))
	return nil
}
