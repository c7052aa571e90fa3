package covers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenLibraryResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves thumbnail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/books", r.URL.Path)
			assert.Equal(t, "ISBN:9780441013593", r.URL.Query().Get("bibkeys"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ISBN:9780441013593":{"thumbnail_url":"https://covers.openlibrary.org/b/id/123-S.jpg"}}`))
		}))
		defer srv.Close()

		r := NewOpenLibraryResolverWithBase(srv.URL)
		assert.Equal(t, "https://covers.openlibrary.org/b/id/123-S.jpg", r.ResolveByISBN(ctx, "9780441013593"))
	})

	t.Run("unknown isbn falls back to placeholder", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		r := NewOpenLibraryResolverWithBase(srv.URL)
		assert.Equal(t, PlaceholderURL, r.ResolveByISBN(ctx, "0000000000"))
	})

	t.Run("catalog error falls back to placeholder", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := NewOpenLibraryResolverWithBase(srv.URL)
		assert.Equal(t, PlaceholderURL, r.ResolveByISBN(ctx, "9780441013593"))
	})

	t.Run("empty isbn skips the lookup", func(t *testing.T) {
		r := NewOpenLibraryResolverWithBase("http://unreachable.invalid")
		assert.Equal(t, PlaceholderURL, r.ResolveByISBN(ctx, ""))
	})
}

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "http://example.com/cover.jpg", Static{URL: "http://example.com/cover.jpg"}.ResolveByISBN(ctx, "any"))
	assert.Equal(t, PlaceholderURL, Static{}.ResolveByISBN(ctx, "any"))
}
