package stt

import (
	"context"
	"testing"

	"github.com/hausruf/hausruf/pkg/audio"
)

// stub is a minimal Transcriber recording whether it was called.
type stub struct {
	result Result
	called int
}

func (s *stub) Transcribe(context.Context, audio.Frame, Hint) (Result, error) {
	s.called++
	return s.result, nil
}

func TestRouter(t *testing.T) {
	fallback := &stub{result: Result{Text: "standard"}}
	bavarian := &stub{result: Result{Text: "dialect"}}

	r := NewRouter(fallback)
	r.Register("de-bavarian", bavarian)

	t.Run("no dialect hint uses fallback", func(t *testing.T) {
		got, err := r.Transcribe(context.Background(), audio.Frame{}, Hint{Language: "de-DE"})
		if err != nil {
			t.Fatal(err)
		}
		if got.Text != "standard" {
			t.Errorf("Text = %q, want standard", got.Text)
		}
	})

	t.Run("registered dialect dispatches to specialised backend", func(t *testing.T) {
		got, err := r.Transcribe(context.Background(), audio.Frame{}, Hint{Dialect: "de-bavarian"})
		if err != nil {
			t.Fatal(err)
		}
		if got.Text != "dialect" {
			t.Errorf("Text = %q, want dialect", got.Text)
		}
	})

	t.Run("unknown dialect falls back", func(t *testing.T) {
		before := fallback.called
		if _, err := r.Transcribe(context.Background(), audio.Frame{}, Hint{Dialect: "de-saxon"}); err != nil {
			t.Fatal(err)
		}
		if fallback.called != before+1 {
			t.Error("fallback was not used for unknown dialect")
		}
	})
}
