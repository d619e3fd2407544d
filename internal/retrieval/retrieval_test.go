package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/deskpilot/deskpilot/config"
	"github.com/deskpilot/deskpilot/internal/knowledge"
)

// topicEmbedder embeds texts along three topic axes so similarity is
// predictable: a text about passwords lands near a query about passwords.
type topicEmbedder struct {
	fail error
}

func (e *topicEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	topics := []string{"password", "billing", "shipping"}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(topics))
		lower := strings.ToLower(text)
		for j, topic := range topics {
			vec[j] = float32(strings.Count(lower, topic))
		}
		// Bias so no vector is all-zero.
		vec = append(vec, 0.1)
		out[i] = vec
	}
	return out, nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 3, LexicalWeight: 0.5, SemanticWeight: 0.5, MaxSources: 3}
}

func buildCorpus(t *testing.T, emb knowledge.Embedder, records []knowledge.Record) *knowledge.Indexer {
	t.Helper()
	ix := knowledge.NewIndexer(config.KnowledgeConfig{ChunkSize: 64, ChunkOverlap: 8}, emb)
	if err := ix.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("corpus build failed: %v", err)
	}
	return ix
}

func supportRecords() []knowledge.Record {
	return []knowledge.Record{
		{Title: "Password Reset", URL: "https://docs.example.com/reset", Text: "To reset a forgotten password open account settings and select reset password"},
		{Title: "Billing FAQ", URL: "https://docs.example.com/billing", Text: "Billing invoices are issued monthly and billing disputes go to finance"},
		{Title: "Shipping Times", URL: "https://docs.example.com/shipping", Text: "Standard shipping takes five business days and express shipping two"},
	}
}

func TestRetrieve_RanksMatchingChunkFirst(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "how do I reset my password", 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatalf("expected hits")
	}
	top, ok := res.Chunk(res.Hits[0].ChunkID)
	if !ok {
		t.Fatalf("top hit not resolvable")
	}
	if top.SourceTitle != "Password Reset" {
		t.Fatalf("expected password chunk first, got %q", top.SourceTitle)
	}
	if res.Hits[0].Combined <= 0 {
		t.Fatalf("expected positive combined score, got %f", res.Hits[0].Combined)
	}
}

func TestRetrieve_ScoresWithinUnitInterval(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "billing invoice shipping password", 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	for _, h := range res.Hits {
		if h.LexicalScore < 0 || h.LexicalScore > 1 || h.SemanticScore < 0 || h.SemanticScore > 1 {
			t.Fatalf("component score outside [0,1]: %+v", h)
		}
		if h.Combined < 0 || h.Combined > 1 {
			t.Fatalf("combined score outside [0,1]: %+v", h)
		}
	}
}

func TestRetrieve_RespectsTopK(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "password billing shipping", 2)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(res.Hits) > 2 {
		t.Fatalf("expected at most 2 hits, got %d", len(res.Hits))
	}
}

func TestRetrieve_BlankQuery(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "   ", 3)
	if err != nil {
		t.Fatalf("expected no error for blank query, got %v", err)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("expected empty hits for blank query")
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	emb := &topicEmbedder{}
	ix := knowledge.NewIndexer(config.KnowledgeConfig{ChunkSize: 64, ChunkOverlap: 8}, emb)
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "password", 3)
	if err != nil {
		t.Fatalf("expected no error against empty corpus, got %v", err)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("expected empty hits against empty corpus")
	}
}

func TestRetrieve_EmbedFailureReturnsLookupError(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	emb.fail = errors.New("embedding backend down")
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "password", 3)
	if len(res.Hits) != 0 {
		t.Fatalf("expected no hits on failure")
	}
	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LookupError, got %v", err)
	}
	if le.Timeout {
		t.Fatalf("plain failure should not be marked as timeout")
	}
}

func TestRetrieve_TimeoutMarked(t *testing.T) {
	emb := &topicEmbedder{fail: context.DeadlineExceeded}
	ix := buildCorpus(t, &topicEmbedder{}, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	_, err := r.Retrieve(context.Background(), "password", 3)
	var le *LookupError
	if !errors.As(err, &le) || !le.Timeout {
		t.Fatalf("expected timeout LookupError, got %v", err)
	}
}

func TestRetrieve_SingleRecordStillScores(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords()[:1])
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "reset password", 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("expected exactly 1 hit, got %d", len(res.Hits))
	}
	if res.Hits[0].Combined <= 0 {
		t.Fatalf("expected positive combined score for the only matching chunk, got %f", res.Hits[0].Combined)
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	emb := &topicEmbedder{}
	ix := buildCorpus(t, emb, supportRecords())
	r := New(testRetrievalConfig(), ix, emb)

	a, err := r.Retrieve(context.Background(), "billing shipping", 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	b, err := r.Retrieve(context.Background(), "billing shipping", 3)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(a.Hits) != len(b.Hits) {
		t.Fatalf("hit counts differ across identical queries")
	}
	for i := range a.Hits {
		if a.Hits[i].ChunkID != b.Hits[i].ChunkID {
			t.Fatalf("ordering differs at %d: %s vs %s", i, a.Hits[i].ChunkID, b.Hits[i].ChunkID)
		}
	}
}

func TestTopSources_DedupesAndLimits(t *testing.T) {
	emb := &topicEmbedder{}
	// Two records share a URL so their chunks must collapse into one source.
	records := append(supportRecords(), knowledge.Record{
		Title: "Password Reset", URL: "https://docs.example.com/reset",
		Text: "Admins can also trigger a password reset for any user",
	})
	ix := buildCorpus(t, emb, records)
	r := New(testRetrievalConfig(), ix, emb)

	res, err := r.Retrieve(context.Background(), "password reset billing shipping", 6)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	sources := res.TopSources(2)
	if len(sources) > 2 {
		t.Fatalf("expected at most 2 sources, got %d", len(sources))
	}
	seen := make(map[string]bool)
	for _, s := range sources {
		if seen[s.URL] {
			t.Fatalf("duplicate source url %s", s.URL)
		}
		seen[s.URL] = true
	}
}

func TestSortHits_TieBreakIsStable(t *testing.T) {
	hits := []Hit{
		{ChunkID: "b", Combined: 0.5, SemanticScore: 0.5},
		{ChunkID: "a", Combined: 0.5, SemanticScore: 0.5},
		{ChunkID: "c", Combined: 0.5, SemanticScore: 0.9},
		{ChunkID: "d", Combined: 0.8, SemanticScore: 0.1},
	}
	sortHits(hits)
	want := []string{"d", "c", "a", "b"}
	for i, id := range want {
		if hits[i].ChunkID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, hits[i].ChunkID)
		}
	}
}

func TestMinMaxNormalize_CollapsedFamily(t *testing.T) {
	out := minMaxNormalize(map[string]float64{"a": 2.5, "b": 2.5})
	if out["a"] != 1 || out["b"] != 1 {
		t.Fatalf("equal positive scores should normalize to 1, got %v", out)
	}
	out = minMaxNormalize(map[string]float64{"a": 0, "b": 0})
	if out["a"] != 0 || out["b"] != 0 {
		t.Fatalf("equal zero scores should normalize to 0, got %v", out)
	}
	if minMaxNormalize(nil) != nil {
		t.Fatalf("empty family should stay nil")
	}
}
