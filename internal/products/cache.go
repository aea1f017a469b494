package products

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Product is one row of the products worksheet. Snapshots are immutable:
// a refresh replaces the whole set, never mutates it in place.
type Product struct {
	ID          string
	Name        string
	ShortDesc   string
	Description string // free text or a "read more" URL
	PhotoURL    string
	OldPrice    string
	Price       string
	IsPromo     bool
}

type RowStore interface {
	FetchRawRows(ctx context.Context, skipHeader bool) ([][]string, error)
}

// Cache holds the promo-flagged products loaded from the worksheet.
type Cache struct {
	store  RowStore
	logger *zap.Logger

	snapshot    atomic.Pointer[[]Product]
	refreshedAt atomic.Pointer[time.Time]
	refreshMu   sync.Mutex
}

func NewCache(store RowStore, logger *zap.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger,
	}
}

const productColumns = 8

func parseRow(row []string) Product {
	padded := make([]string, productColumns)
	copy(padded, row)

	return Product{
		ID:          strings.TrimSpace(padded[0]),
		Name:        padded[1],
		ShortDesc:   padded[2],
		Description: padded[3],
		PhotoURL:    strings.TrimSpace(padded[4]),
		OldPrice:    strings.TrimSpace(padded[5]),
		Price:       padded[6],
		IsPromo:     strings.EqualFold(strings.TrimSpace(padded[7]), "TRUE"),
	}
}

// Refresh reloads the snapshot from the worksheet and swaps it atomically,
// so concurrent readers always see either the old or the new set whole.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	rows, err := c.store.FetchRawRows(ctx, true)
	if err != nil {
		return fmt.Errorf("fetch product rows: %w", err)
	}

	parsed := lo.Map(rows, func(row []string, _ int) Product {
		return parseRow(row)
	})
	snapshot := lo.Filter(parsed, func(p Product, _ int) bool {
		return p.IsPromo
	})

	c.snapshot.Store(&snapshot)
	now := time.Now().UTC()
	c.refreshedAt.Store(&now)

	c.logger.Info("Product cache refreshed", zap.Int("items", len(snapshot)))
	return nil
}

// Products returns a copy of the current snapshot, loading it first when the
// cache was never refreshed.
func (c *Cache) Products(ctx context.Context) ([]Product, error) {
	if c.snapshot.Load() == nil {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	snapshot := *c.snapshot.Load()
	out := make([]Product, len(snapshot))
	copy(out, snapshot)
	return out, nil
}

// First returns the first cached product or nil when the sheet is empty.
func (c *Cache) First(ctx context.Context) (*Product, error) {
	items, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// FindByID returns the cached product with the given id or nil.
func (c *Cache) FindByID(ctx context.Context, id string) (*Product, error) {
	items, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, nil
}

// RefreshedAt returns the time of the last successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	if t := c.refreshedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// RunRefresher refreshes the cache every interval until ctx is cancelled.
// A failed refresh keeps the previous snapshot and is retried next tick.
func (c *Cache) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("Product cache refresh failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.logger.Info("Stopping product cache refresher")
			return
		case <-ticker.C:
		}
	}
}
