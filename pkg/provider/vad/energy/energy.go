// Package energy implements a VAD engine based on short-term RMS energy with
// hysteresis smoothing. It has no model dependency, runs in microseconds per
// frame, and is accurate enough for telephony audio where the noise floor is
// well below speech level. Deployments with harder acoustic conditions can
// substitute a model-backed engine behind the same interface.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hausruf/hausruf/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy vad: session closed")

// referenceAmplitude scales RMS into a rough probability. Full-scale int16
// speech sits far above this; typical telephony speech RMS is 1000–8000.
const referenceAmplitude = 4000.0

// hangoverFrames is how many sub-threshold frames are tolerated inside a
// speech segment before SpeechEnd fires. Smooths over plosive gaps.
const hangoverFrames = 3

// Engine implements vad.Engine.
type Engine struct{}

var _ vad.Engine = Engine{}

// New creates the energy VAD engine.
func New() Engine { return Engine{} }

// NewSession implements vad.Engine.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %v above speech threshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	return &session{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// session holds per-stream detection state.
type session struct {
	cfg        vad.Config
	frameBytes int

	mu       sync.Mutex
	closed   bool
	inSpeech bool
	quiet    int // consecutive sub-threshold frames while inSpeech
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := probability(frame)

	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.quiet = 0
		return vad.Event{Type: vad.SpeechStart, Probability: p}, nil

	case s.inSpeech && p > s.cfg.SilenceThreshold:
		s.quiet = 0
		return vad.Event{Type: vad.SpeechContinue, Probability: p}, nil

	case s.inSpeech:
		s.quiet++
		if s.quiet >= hangoverFrames {
			s.inSpeech = false
			s.quiet = 0
			return vad.Event{Type: vad.SpeechEnd, Probability: p}, nil
		}
		return vad.Event{Type: vad.SpeechContinue, Probability: p}, nil

	default:
		return vad.Event{Type: vad.Silence, Probability: p}, nil
	}
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.quiet = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// probability maps the frame's RMS amplitude to a pseudo-probability in
// [0, 1] against the reference speech amplitude.
func probability(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(frame[i*2]) | int16(frame[i*2+1])<<8)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	p := rms / referenceAmplitude
	if p > 1 {
		p = 1
	}
	return p
}
