package config

import "testing"

func TestKnowledgeConfigValidate(t *testing.T) {
	ok := KnowledgeConfig{ChunkSize: 256, ChunkOverlap: 32}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := KnowledgeConfig{ChunkSize: 0}
	if err := bad.Validate(); err == nil {
		t.Fatalf("zero chunk size accepted")
	}
	bad = KnowledgeConfig{ChunkSize: 32, ChunkOverlap: 32}
	if err := bad.Validate(); err == nil {
		t.Fatalf("overlap equal to chunk size accepted")
	}
}

func TestRetrievalConfigValidate(t *testing.T) {
	ok := RetrievalConfig{TopK: 7, LexicalWeight: 0.5, SemanticWeight: 0.5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := (RetrievalConfig{TopK: 0, LexicalWeight: 1}).Validate(); err == nil {
		t.Fatalf("zero top_k accepted")
	}
	if err := (RetrievalConfig{TopK: 5, LexicalWeight: -1, SemanticWeight: 1}).Validate(); err == nil {
		t.Fatalf("negative weight accepted")
	}
	if err := (RetrievalConfig{TopK: 5}).Validate(); err == nil {
		t.Fatalf("all-zero weights accepted")
	}
}

func TestRouterConfigValidate(t *testing.T) {
	if err := (RouterConfig{MinConfidence: 0.55}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := (RouterConfig{MinConfidence: 1.5}).Validate(); err == nil {
		t.Fatalf("confidence above 1 accepted")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "deskpilot"}
	want := "postgres://u:p@db:5432/deskpilot?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
	p.URL = "postgres://explicit"
	if got := p.DSN(); got != "postgres://explicit" {
		t.Fatalf("explicit url not honored: %q", got)
	}
}
