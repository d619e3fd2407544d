package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/knowledge"
)

// Hit is one ranked retrieval result. Hits are ephemeral, produced per query
// and never persisted.
type Hit struct {
	ChunkID       string  `json:"chunk_id"`
	LexicalScore  float64 `json:"lexical_score"`
	SemanticScore float64 `json:"semantic_score"`
	Combined      float64 `json:"combined_score"`
}

// Source is a deduplicated citation target.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// LookupError marks a failed retrieval attempt. Callers get empty hits plus
// this error rather than stale or partial data.
type LookupError struct {
	Timeout bool
	Err     error
}

func (e *LookupError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("retrieval timed out: %v", e.Err)
	}
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Result holds the ranked hits pinned to the snapshot that produced them, so
// chunk lookups stay valid even if the index is swapped mid-request.
type Result struct {
	Hits []Hit
	snap *knowledge.Snapshot
}

// Chunk resolves a hit's chunk against the snapshot the hits came from.
func (r Result) Chunk(id string) (knowledge.Chunk, bool) {
	if r.snap == nil {
		return knowledge.Chunk{}, false
	}
	return r.snap.Chunk(id)
}

// Context joins the hit chunk texts into one prompt context block.
func (r Result) Context() string {
	var parts []string
	for _, h := range r.Hits {
		if c, ok := r.Chunk(h.ChunkID); ok {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TopSources returns up to limit distinct sources in rank order.
func (r Result) TopSources(limit int) []Source {
	seen := make(map[string]bool)
	var out []Source
	for _, h := range r.Hits {
		c, ok := r.Chunk(h.ChunkID)
		if !ok || c.SourceURL == "" || seen[c.SourceURL] {
			continue
		}
		seen[c.SourceURL] = true
		out = append(out, Source{Title: c.SourceTitle, URL: c.SourceURL})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Retriever scores candidates lexically and semantically against the live
// snapshot and merges the two rankings into one.
type Retriever struct {
	cfg      config.RetrievalConfig
	indexer  *knowledge.Indexer
	embedder knowledge.Embedder
	logger   *log.Logger
}

func New(cfg config.RetrievalConfig, indexer *knowledge.Indexer, embedder knowledge.Embedder) *Retriever {
	return &Retriever{
		cfg:      cfg,
		indexer:  indexer,
		embedder: embedder,
		logger:   log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags),
	}
}

// Retrieve returns at most topK hits ordered by combined score. A blank query
// or an empty corpus yields an empty result and no error; an embedding
// failure yields an empty result plus a *LookupError.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (Result, error) {
	snap := r.indexer.Current()
	if snap == nil || snap.Len() == 0 || strings.TrimSpace(query) == "" {
		return Result{snap: snap}, nil
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	shortlist := topK * 3

	lexRaw, err := snap.LexicalScores(query, shortlist)
	if err != nil {
		return Result{snap: snap}, &LookupError{Err: err}
	}

	vecs, err := r.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return Result{snap: snap}, &LookupError{
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}
	if len(vecs) != 1 {
		return Result{snap: snap}, &LookupError{Err: fmt.Errorf("expected 1 query vector, got %d", len(vecs))}
	}
	semRaw := semanticShortlist(vecs[0], snap.Vectors(), shortlist)

	lexNorm := minMaxNormalize(lexRaw)
	semNorm := minMaxNormalize(semRaw)

	// Weighted sum of normalized score families. Combining raw BM25 with raw
	// cosine would let one distribution drown the other.
	wl, ws := r.weights()
	candidates := make(map[string]bool, len(lexNorm)+len(semNorm))
	for id := range lexNorm {
		candidates[id] = true
	}
	for id := range semNorm {
		candidates[id] = true
	}

	hits := make([]Hit, 0, len(candidates))
	for id := range candidates {
		h := Hit{
			ChunkID:       id,
			LexicalScore:  lexNorm[id],
			SemanticScore: semNorm[id],
		}
		h.Combined = wl*h.LexicalScore + ws*h.SemanticScore
		hits = append(hits, h)
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return Result{Hits: hits, snap: snap}, nil
}

func (r *Retriever) weights() (lexical, semantic float64) {
	total := r.cfg.LexicalWeight + r.cfg.SemanticWeight
	if total == 0 {
		return 0.5, 0.5
	}
	return r.cfg.LexicalWeight / total, r.cfg.SemanticWeight / total
}

// sortHits orders by combined score descending; ties prefer the higher
// semantic score, then the lower chunk id, so rankings are reproducible.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Combined != hits[j].Combined {
			return hits[i].Combined > hits[j].Combined
		}
		if hits[i].SemanticScore != hits[j].SemanticScore {
			return hits[i].SemanticScore > hits[j].SemanticScore
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// semanticShortlist scores every chunk vector by cosine similarity and keeps
// the top limit entries.
func semanticShortlist(query []float32, vectors []knowledge.Vector, limit int) map[string]float64 {
	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(vectors))
	for _, v := range vectors {
		scores = append(scores, scored{id: v.ChunkID, score: cosine(query, v.Vec)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].id < scores[j].id
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	out := make(map[string]float64, len(scores))
	for _, s := range scores {
		out[s.id] = s.score
	}
	return out
}

// minMaxNormalize rescales one score family into [0,1] per query. When all
// scores are equal the family collapses to 1 if positive, otherwise 0.
func minMaxNormalize(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range raw {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		switch {
		case max > min:
			out[id] = (v - min) / (max - min)
		case max > 0:
			out[id] = 1
		default:
			out[id] = 0
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
