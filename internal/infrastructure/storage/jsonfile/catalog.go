package jsonfile

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/pkg/logger"
)

var _ catalog.Catalog = (*Catalog)(nil)

// Catalog serves product fiscal data from one or more JSON arrays
// (menu items, stock products). Later files win on id clashes.
// Files are re-read when any of them changes.
type Catalog struct {
	paths []string
	log   *logger.Logger

	mu     sync.RWMutex
	index  *catalog.Index
	mtimes []int64
}

// OpenCatalog loads the catalog files. Missing files are skipped.
func OpenCatalog(log *logger.Logger, paths ...string) (*Catalog, error) {
	if log == nil {
		log = logger.Default()
	}
	c := &Catalog{paths: paths, log: log.WithComponent("catalog")}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	var all []catalog.Product
	mtimes := make([]int64, len(c.paths))
	for i, p := range c.paths {
		var products []catalog.Product
		if _, err := ReadJSON(p, &products); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		all = append(all, products...)
		mtimes[i] = modTime(p)
	}
	c.index = catalog.NewIndex(all)
	c.mtimes = mtimes
	c.log.Debugw("catalog loaded", "products", c.index.Len())
	return nil
}

func (c *Catalog) stale() bool {
	for i, p := range c.paths {
		if modTime(p) != c.mtimes[i] {
			return true
		}
	}
	return false
}

// Lookup implements catalog.Catalog.
func (c *Catalog) Lookup(ctx context.Context, id, name string) (*catalog.Product, bool) {
	c.mu.RLock()
	stale := c.stale()
	c.mu.RUnlock()
	if stale {
		c.mu.Lock()
		if c.stale() {
			if err := c.load(); err != nil {
				c.log.Warnw("catalog reload failed, keeping previous", "error", err)
				c.mtimes = c.currentMTimes()
			}
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Lookup(ctx, id, name)
}

func (c *Catalog) currentMTimes() []int64 {
	out := make([]int64, len(c.paths))
	for i, p := range c.paths {
		out[i] = modTime(p)
	}
	return out
}
