package knowledge

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// splitChunks cuts text into token-bounded pieces with a fixed overlap so
// context survives chunk boundaries. Boundaries are deterministic for a given
// input and parameters.
func splitChunks(text string, maxTokens, overlap int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= maxTokens {
		return []string{strings.Join(tokens, " ")}
	}
	var chunks []string
	for start := 0; start < len(tokens); {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// chunkRecord converts one record into indexable chunks. Chunk ids embed a
// record hash plus position, so identical inputs always produce identical ids.
// Title and URL are part of the hash: records sharing text but differing in
// attribution must not collide.
func chunkRecord(rec Record, maxTokens, overlap int) []Chunk {
	hash := sha1Hex(rec.Title + "\x00" + rec.URL + "\x00" + rec.Text)
	parts := splitChunks(rec.Text, maxTokens, overlap)
	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, Chunk{
			ID:          fmt.Sprintf("%s#%03d", hash, i),
			SourceTitle: rec.Title,
			SourceURL:   rec.URL,
			Text:        part,
			TokenCount:  len(strings.Fields(part)),
		})
	}
	return chunks
}

// ChunkRecords chunks a whole record set, skipping records with no text.
func ChunkRecords(records []Record, maxTokens, overlap int) []Chunk {
	var out []Chunk
	for _, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			continue
		}
		out = append(out, chunkRecord(rec, maxTokens, overlap)...)
	}
	return out
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
