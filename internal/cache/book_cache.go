package cache

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/openshelf/library/internal/metrics"
	"github.com/openshelf/library/internal/repository"
)

type BookLister interface {
	List(ctx context.Context) ([]*repository.Book, error)
}

// BookCache keeps the whole catalogue in memory for the public list
// endpoint. The coordinator refreshes entries after every mutation, so
// reads never hit the store on the hot path.
type BookCache struct {
	mu     sync.RWMutex
	cache  map[string]*repository.Book
	loaded bool
	repo   BookLister
}

func NewBookCache(repo BookLister) *BookCache {
	return &BookCache{
		cache: make(map[string]*repository.Book),
		repo:  repo,
	}
}

func (c *BookCache) LoadInitialData(ctx context.Context) error {
	books, err := c.repo.List(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, book := range books {
		bookCopy := *book
		c.cache[book.ID] = &bookCopy
	}
	c.loaded = true
	metrics.BookCacheItems.Set(float64(len(c.cache)))
	zap.L().Info("book cache loaded", zap.Int("books", len(c.cache)))
	return nil
}

// List returns the cached catalogue sorted by title, or false when the
// cache was never warmed and the caller must fall back to the store.
func (c *BookCache) List() ([]*repository.Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}
	books := make([]*repository.Book, 0, len(c.cache))
	for _, book := range c.cache {
		bookCopy := *book
		books = append(books, &bookCopy)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, true
}

func (c *BookCache) Get(bookID string) (*repository.Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	book, found := c.cache[bookID]
	if !found {
		return nil, false
	}
	bookCopy := *book
	return &bookCopy, true
}

func (c *BookCache) Set(book *repository.Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bookCopy := *book
	c.cache[book.ID] = &bookCopy
	metrics.BookCacheItems.Set(float64(len(c.cache)))
}

func (c *BookCache) Delete(bookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.cache[bookID]; found {
		delete(c.cache, bookID)
		metrics.BookCacheItems.Set(float64(len(c.cache)))
	}
}
