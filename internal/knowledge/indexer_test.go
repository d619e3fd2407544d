package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/deskpilot/deskpilot/config"
)

// hashEmbedder produces a fixed-dimension vector from token counts, giving
// deterministic embeddings without a live model.
type hashEmbedder struct {
	calls int
	fail  error
}

func (e *hashEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 8)
		for j, r := range text {
			vec[j%8] += float32(r%13) / 13
		}
		out[i] = vec
	}
	return out, nil
}

func testKnowledgeConfig() config.KnowledgeConfig {
	return config.KnowledgeConfig{ChunkSize: 64, ChunkOverlap: 8}
}

func TestIndexerRebuild_BuildsSnapshot(t *testing.T) {
	ix := NewIndexer(testKnowledgeConfig(), &hashEmbedder{})
	if ix.Current() != nil {
		t.Fatalf("expected nil snapshot before first build")
	}
	records := []Record{
		{Title: "Password Reset", URL: "https://docs.example.com/reset", Text: "To reset your password open settings and choose reset password"},
		{Title: "Billing", URL: "https://docs.example.com/billing", Text: "Invoices are issued monthly and can be downloaded as PDF"},
	}
	if err := ix.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	snap := ix.Current()
	if snap == nil || snap.Len() != 2 {
		t.Fatalf("expected snapshot with 2 chunks, got %v", snap)
	}
	if len(snap.Vectors()) != snap.Len() {
		t.Fatalf("expected one vector per chunk, got %d for %d", len(snap.Vectors()), snap.Len())
	}
	for _, c := range snap.Chunks() {
		got, ok := snap.Chunk(c.ID)
		if !ok || got.Text != c.Text {
			t.Fatalf("chunk %s not resolvable from snapshot", c.ID)
		}
	}
}

func TestIndexerRebuild_FailureKeepsPreviousSnapshot(t *testing.T) {
	emb := &hashEmbedder{}
	ix := NewIndexer(testKnowledgeConfig(), emb)
	records := []Record{{Title: "Doc", Text: "first generation content"}}
	if err := ix.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	before := ix.Current()

	emb.fail = errors.New("embedding backend down")
	err := ix.Rebuild(context.Background(), []Record{{Title: "Doc", Text: "second generation content"}})
	if err == nil {
		t.Fatalf("expected rebuild error")
	}
	var be *BuildError
	if !errors.As(err, &be) || be.Stage != "embedding" {
		t.Fatalf("expected embedding BuildError, got %v", err)
	}
	if ix.Current() != before {
		t.Fatalf("failed rebuild replaced the live snapshot")
	}
}

func TestIndexerRebuild_Deterministic(t *testing.T) {
	records := []Record{
		{Title: "A", Text: "alpha beta gamma delta"},
		{Title: "B", Text: "epsilon zeta eta theta"},
	}
	a := NewIndexer(testKnowledgeConfig(), &hashEmbedder{})
	b := NewIndexer(testKnowledgeConfig(), &hashEmbedder{})
	if err := a.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("rebuild a: %v", err)
	}
	if err := b.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("rebuild b: %v", err)
	}
	ca, cb := a.Current().Chunks(), b.Current().Chunks()
	if len(ca) != len(cb) {
		t.Fatalf("chunk counts differ: %d vs %d", len(ca), len(cb))
	}
	for i := range ca {
		if ca[i].ID != cb[i].ID {
			t.Fatalf("chunk order differs at %d: %s vs %s", i, ca[i].ID, cb[i].ID)
		}
	}
}

func TestSnapshotLexicalScores_MatchesTerms(t *testing.T) {
	ix := NewIndexer(testKnowledgeConfig(), &hashEmbedder{})
	records := []Record{
		{Title: "Password Reset", Text: "reset your password from the account settings page"},
		{Title: "Billing", Text: "download monthly invoices from the billing page"},
	}
	if err := ix.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	snap := ix.Current()
	scores, err := snap.LexicalScores("password reset", 10)
	if err != nil {
		t.Fatalf("lexical search failed: %v", err)
	}
	if len(scores) == 0 {
		t.Fatalf("expected lexical hits for matching terms")
	}
	resetID := snap.Chunks()[0].ID
	if _, ok := scores[resetID]; !ok {
		t.Fatalf("expected the password chunk among hits, got %v", scores)
	}
}

func TestSnapshotLexicalScores_BlankQuery(t *testing.T) {
	ix := NewIndexer(testKnowledgeConfig(), &hashEmbedder{})
	if err := ix.Rebuild(context.Background(), []Record{{Title: "A", Text: "content"}}); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	scores, err := ix.Current().LexicalScores("   ", 10)
	if err != nil || scores != nil {
		t.Fatalf("expected empty result for blank query, got %v, %v", scores, err)
	}
}
