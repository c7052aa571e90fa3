// Package covers resolves cover-image URLs from a third-party catalog.
// The lookup is best effort; a book is never rejected because its cover
// could not be found.
package covers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PlaceholderURL is used when no cover can be resolved.
const PlaceholderURL = "https://via.placeholder.com/200x300?text=No+Cover"

type Resolver interface {
	// ResolveByISBN returns a cover URL for the ISBN, or the
	// placeholder when the catalog has none.
	ResolveByISBN(ctx context.Context, isbn string) string
}

type OpenLibraryResolver struct {
	client  *http.Client
	baseURL string
}

func NewOpenLibraryResolver() *OpenLibraryResolver {
	return &OpenLibraryResolver{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: "https://openlibrary.org",
	}
}

// NewOpenLibraryResolverWithBase is used by tests to point the resolver
// at a stub server.
func NewOpenLibraryResolverWithBase(baseURL string) *OpenLibraryResolver {
	r := NewOpenLibraryResolver()
	r.baseURL = baseURL
	return r
}

func (r *OpenLibraryResolver) ResolveByISBN(ctx context.Context, isbn string) string {
	if isbn == "" {
		return PlaceholderURL
	}

	url := fmt.Sprintf("%s/api/books?bibkeys=ISBN:%s&format=json", r.baseURL, isbn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PlaceholderURL
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return PlaceholderURL
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PlaceholderURL
	}

	var payload map[string]struct {
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PlaceholderURL
	}
	if entry, ok := payload["ISBN:"+isbn]; ok && entry.ThumbnailURL != "" {
		return entry.ThumbnailURL
	}
	return PlaceholderURL
}

// Static always answers with a fixed URL. It stands in for the catalog
// in tests and offline environments.
type Static struct {
	URL string
}

func (s Static) ResolveByISBN(ctx context.Context, isbn string) string {
	if s.URL == "" {
		return PlaceholderURL
	}
	return s.URL
}
