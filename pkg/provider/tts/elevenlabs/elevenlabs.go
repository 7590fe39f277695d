// Package elevenlabs provides a TTS backend using the ElevenLabs streaming
// HTTP API. Audio arrives as chunked raw PCM and is forwarded to the caller
// as it is read, which keeps time-to-first-byte low without holding a
// long-lived socket per idle call.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"

	// outputFormat matches the pipeline format: 16 kHz mono int16 PCM.
	outputFormat = "pcm_16000"

	// chunkSize is one 20 ms pipeline frame (16000 Hz × 2 bytes × 0.02 s).
	chunkSize = 640
)

// Option is a functional option for the Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) { s.baseURL = url }
}

// Synthesizer implements tts.Synthesizer against the ElevenLabs API.
type Synthesizer struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	client  *http.Client
}

// New creates an ElevenLabs Synthesizer for the given voice.
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	s := &Synthesizer{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// request is the JSON body of a synthesis call.
type request struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	body, err := json.Marshal(request{
		Text:    text,
		ModelID: s.model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		s.baseURL, s.voiceID, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w: %v", ErrStartFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs: %w: status %d: %s", ErrStartFailed, resp.StatusCode, msg)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		buf := make([]byte, chunkSize)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// ErrStartFailed indicates the synthesis stream could not be opened.
var ErrStartFailed = errors.New("elevenlabs: stream start failed")
