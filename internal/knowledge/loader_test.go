package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	content := `[
		{"title": "Password Reset", "url": "https://docs.example.com/reset", "text": "Open settings."},
		{"title": "Billing", "url": "https://docs.example.com/billing", "text": "Invoices monthly."}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 || records[0].Title != "Password Reset" || records[1].URL != "https://docs.example.com/billing" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestLoadRecords_MissingFile(t *testing.T) {
	if _, err := LoadRecords(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRecords_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadRecords(path); err == nil {
		t.Fatalf("expected error for malformed source")
	}
}
