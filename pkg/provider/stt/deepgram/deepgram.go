// Package deepgram provides an STT backend using the Deepgram pre-recorded
// transcription API. One HTTP request is issued per utterance; the audio
// bridge already assembles utterances at voice-activity boundaries, so the
// streaming API is unnecessary and the pre-recorded endpoint keeps the
// adapter stateless.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/stt"
)

const defaultEndpoint = "https://api.deepgram.com/v1/listen"

// Option is a functional option for configuring the Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model (e.g. "nova-2").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.client = c }
}

// Transcriber implements stt.Transcriber against the Deepgram API.
type Transcriber struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// New creates a Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    "nova-2",
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// response mirrors the subset of the Deepgram response we consume.
type response struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, utterance audio.Frame, hint stt.Hint) (stt.Result, error) {
	q := url.Values{}
	q.Set("model", t.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(utterance.SampleRate))
	q.Set("channels", strconv.Itoa(utterance.Channels))
	if hint.Language != "" {
		q.Set("language", hint.Language)
	} else {
		q.Set("detect_language", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"?"+q.Encode(), bytes.NewReader(utterance.PCM))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := t.client.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w: %v", stt.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return stt.Result{}, fmt.Errorf("deepgram: %w: status %d", stt.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, body)
	}

	var dg response
	if err := json.NewDecoder(resp.Body).Decode(&dg); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(dg.Results.Channels) == 0 || len(dg.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, nil
	}

	ch := dg.Results.Channels[0]
	alt := ch.Alternatives[0]
	return stt.Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Dialect:    ch.DetectedLanguage,
	}, nil
}
