package routing

import (
	"context"
	"reflect"
	"sync"

	"hotelfiscal/internal/domain/fiscal"
)

// Source supplies the current routing configuration.
type Source interface {
	Routing(ctx context.Context) (Config, error)
}

// Resolver routes with the latest configuration from a Source, recompiling
// rules only when the configuration changed.
type Resolver struct {
	src      Source
	fallback Config

	mu     sync.Mutex
	last   Config
	router *Router
}

// NewResolver creates a Resolver. fallback fills emitters missing from the source.
func NewResolver(src Source, fallback Config) *Resolver {
	return &Resolver{src: src, fallback: fallback}
}

// Route implements the router contract against the current configuration.
func (r *Resolver) Route(ctx context.Context, origin fiscal.Origin, items []fiscal.LineItem, total float64) (Decision, error) {
	router, err := r.current(ctx)
	if err != nil {
		return Decision{}, err
	}
	return router.Route(origin, items, total)
}

func (r *Resolver) current(ctx context.Context) (*Router, error) {
	cfg := r.fallback
	if r.src != nil {
		loaded, err := r.src.Routing(ctx)
		if err != nil {
			return nil, err
		}
		cfg = merge(loaded, r.fallback)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.router != nil && reflect.DeepEqual(cfg, r.last) {
		return r.router, nil
	}
	router, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.router, r.last = router, cfg
	return router, nil
}

func merge(cfg, fallback Config) Config {
	if cfg.DefaultNFCeCNPJ == "" {
		cfg.DefaultNFCeCNPJ = fallback.DefaultNFCeCNPJ
	}
	if cfg.DefaultNFSeCNPJ == "" {
		cfg.DefaultNFSeCNPJ = fallback.DefaultNFSeCNPJ
	}
	if len(cfg.OriginCNPJ) == 0 {
		cfg.OriginCNPJ = fallback.OriginCNPJ
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = fallback.Rules
	}
	return cfg
}
