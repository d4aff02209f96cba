package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCategoryCacheSize bounds the number of cached category names.
const DefaultCategoryCacheSize = 4096

// CategoryCache maps category names to ids. It is safe for concurrent use
// and is meant to be shared by every CategoryRepository in a process.
type CategoryCache struct {
	entries *lru.Cache[string, uuid.UUID]
}

func NewCategoryCache(size int) (*CategoryCache, error) {
	if size <= 0 {
		size = DefaultCategoryCacheSize
	}
	entries, err := lru.New[string, uuid.UUID](size)
	if err != nil {
		return nil, fmt.Errorf("category cache: %w", err)
	}
	return &CategoryCache{entries: entries}, nil
}

func (c *CategoryCache) Get(name string) (uuid.UUID, bool) {
	return c.entries.Get(name)
}

func (c *CategoryCache) Put(name string, id uuid.UUID) {
	c.entries.Add(name, id)
}

// InvalidateID drops every name cached for id.
func (c *CategoryCache) InvalidateID(id uuid.UUID) {
	for _, name := range c.entries.Keys() {
		if cached, ok := c.entries.Peek(name); ok && cached == id {
			c.entries.Remove(name)
		}
	}
}

func (c *CategoryCache) Purge() {
	c.entries.Purge()
}

func (c *CategoryCache) Len() int {
	return c.entries.Len()
}

// CategoryRepository resolves category ids by name through a CategoryCache.
type CategoryRepository struct {
	q     *database.Queries
	cache *CategoryCache
}

func NewCategoryRepository(db database.DBTX, cache *CategoryCache) *CategoryRepository {
	return &CategoryRepository{q: database.New(db), cache: cache}
}

// GetOrCreateID returns the id of the named category, creating it if needed.
func (r *CategoryRepository) GetOrCreateID(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := r.cache.Get(name); ok {
		return id, nil
	}

	c, err := getOrCreate(ctx,
		func(ctx context.Context) (database.Category, error) {
			return r.q.GetCategoryByName(ctx, name)
		},
		func(ctx context.Context) (database.Category, error) {
			return r.q.InsertCategory(ctx, name)
		},
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get or create category %q: %w", name, err)
	}

	r.cache.Put(name, c.ID)
	return c.ID, nil
}

// Rename changes a category's name and drops its stale cache entries.
func (r *CategoryRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	n, err := r.q.RenameCategory(ctx, database.RenameCategoryParams{ID: id, Name: name})
	r.cache.InvalidateID(id)
	if err != nil {
		return fmt.Errorf("rename category %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
