package infer

import (
	"context"

	"github.com/hausruf/hausruf/pkg/provider/llm"
)

// PooledGenerator runs a Generator's calls through the pool so model traffic
// from every session shares the same bounded workers and priority queue.
type PooledGenerator struct {
	pool     *Pool
	priority Priority
	inner    llm.Generator
}

var _ llm.Generator = (*PooledGenerator)(nil)

// NewPooledGenerator wraps inner.
func NewPooledGenerator(pool *Pool, pri Priority, inner llm.Generator) *PooledGenerator {
	return &PooledGenerator{pool: pool, priority: pri, inner: inner}
}

// Generate implements llm.Generator.
func (g *PooledGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	var text string
	var err error
	if rerr := g.pool.Run(ctx, g.priority, func(c context.Context) {
		text, err = g.inner.Generate(c, req)
	}); rerr != nil {
		return "", rerr
	}
	return text, err
}
