package resilience

import (
	"context"
	"errors"
	"testing"

	ttsmock "github.com/hausruf/hausruf/pkg/provider/tts/mock"
)

func TestSynthesizerFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Synthesizer{Chunks: [][]byte{{1, 2}, {3, 4}}}
	secondary := &ttsmock.Synthesizer{Chunks: [][]byte{{9}}}

	fb := NewSynthesizerFallback(primary, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	stream, err := fb.Synthesize(context.Background(), "Guten Tag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n int
	for range stream {
		n++
	}
	if n != 2 {
		t.Fatalf("chunks = %d, want 2", n)
	}
	if len(secondary.TextCalls()) != 0 {
		t.Fatal("fallback was called")
	}
}

func TestSynthesizerFallback_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("elevenlabs down")}
	secondary := &ttsmock.Synthesizer{Chunks: [][]byte{{9}}}

	fb := NewSynthesizerFallback(primary, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	stream, err := fb.Synthesize(context.Background(), "Einen Moment bitte")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n int
	for range stream {
		n++
	}
	if n != 1 {
		t.Fatalf("chunks = %d, want 1", n)
	}
}

func TestSynthesizerFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("down")}
	secondary := &ttsmock.Synthesizer{Err: errors.New("also down")}

	fb := NewSynthesizerFallback(primary, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	if _, err := fb.Synthesize(context.Background(), "hallo"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
