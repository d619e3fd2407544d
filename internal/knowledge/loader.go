package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	nurl "net/url"
	"os"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// LoadRecords reads knowledge-base records from a JSON file: an array of
// {title, url, text} objects. The source is read-only; records are never
// written back.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge source: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge source: %w", err)
	}
	return records, nil
}

// FetchPage pulls a documentation page over HTTP and extracts its readable
// text. Pages that fail extraction are returned as an error so the caller can
// decide whether to skip or abort the rebuild.
func FetchPage(ctx context.Context, pageURL string) (Record, error) {
	u, err := nurl.Parse(pageURL)
	if err != nil {
		return Record{}, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return Record{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("failed to fetch %q: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("fetch %q: status %d", pageURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return Record{}, fmt.Errorf("failed to extract %q: %w", pageURL, err)
	}
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = pageURL
	}
	return Record{Title: title, URL: pageURL, Text: article.TextContent}, nil
}

// FetchPages loads a set of documentation pages as knowledge records.
func FetchPages(ctx context.Context, urls []string) ([]Record, error) {
	records := make([]Record, 0, len(urls))
	for _, u := range urls {
		rec, err := FetchPage(ctx, u)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
