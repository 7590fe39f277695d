package resilience

import (
	"context"

	"github.com/hausruf/hausruf/pkg/provider/llm"
)

// GeneratorFallback implements [llm.Generator] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type GeneratorFallback struct {
	group *FallbackGroup[llm.Generator]
}

// Compile-time interface assertion.
var _ llm.Generator = (*GeneratorFallback)(nil)

// NewGeneratorFallback creates a [GeneratorFallback] with primary as the
// preferred backend.
func NewGeneratorFallback(primary llm.Generator, primaryName string, cfg FallbackConfig) *GeneratorFallback {
	return &GeneratorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generator as a fallback.
func (f *GeneratorFallback) AddFallback(name string, gen llm.Generator) {
	f.group.AddFallback(name, gen)
}

// Generate sends the request to the first healthy backend and returns its
// reply. If the primary fails, subsequent fallbacks are tried.
func (f *GeneratorFallback) Generate(ctx context.Context, req llm.Request) (string, error) {
	return ExecuteWithResult(f.group, func(g llm.Generator) (string, error) {
		return g.Generate(ctx, req)
	})
}
