// Package bridge manages the full-duplex audio path between a telephony
// adapter and the AI pipeline: voice-activity segmentation, turn boundaries,
// and barge-in.
//
// One Bridge serves one call. The adapter pushes frames in arrival order; the
// bridge assembles them into utterances and emits those on Utterances(). The
// session drives the outbound half: Speak hands it a context that is
// cancelled the moment the caller barges in, and SpeakingDone reports
// playback completion.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/vad"
)

// State is the bridge turn-taking state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

// String implements fmt.Stringer for log fields.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}

// Utterance is one segmented stretch of caller speech, ready for
// transcription.
type Utterance struct {
	PCM      []byte
	Duration time.Duration
}

// Config tunes segmentation and barge-in. Zero values select the defaults.
type Config struct {
	// SilenceHold is how much trailing silence closes an utterance.
	SilenceHold time.Duration

	// MinSpeech is the minimum voiced audio before trailing silence counts
	// as an utterance boundary. Filters out coughs and line clicks.
	MinSpeech time.Duration

	// BargeInHold is how long sustained caller voice must run during
	// playback before the outbound stream is cancelled.
	BargeInHold time.Duration

	// ThinkingFlush bounds uninterrupted caller speech while the pipeline is
	// busy; once exceeded, the buffered audio is emitted as its own
	// utterance instead of growing without bound.
	ThinkingFlush time.Duration

	// BufferCapFrames caps the per-call frame buffer. On overflow the oldest
	// frames are dropped and the bridge reports itself degraded.
	BufferCapFrames int
}

func (c Config) withDefaults() Config {
	if c.SilenceHold <= 0 {
		c.SilenceHold = 700 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 200 * time.Millisecond
	}
	if c.BargeInHold <= 0 {
		c.BargeInHold = 300 * time.Millisecond
	}
	if c.ThinkingFlush <= 0 {
		c.ThinkingFlush = 3 * time.Second
	}
	if c.BufferCapFrames <= 0 {
		c.BufferCapFrames = 512
	}
	return c
}

// Bridge is the per-call audio state machine. PushFrame must be called from a
// single goroutine (the adapter event loop); the control methods may be
// called from the session goroutine.
type Bridge struct {
	cfg Config
	log *slog.Logger
	vad vad.SessionHandle

	mu    sync.Mutex
	state State

	frames   [][]byte
	buffered time.Duration

	speech  time.Duration // voiced audio in the current utterance
	silence time.Duration // trailing silence
	sustain time.Duration // uninterrupted voice, for flush and barge-in

	critical  bool
	cancelTTS context.CancelFunc

	lastSeq  uint64
	haveSeq  bool
	dropped  uint64
	degraded bool

	utterances chan Utterance
	closed     bool
}

// New creates a Bridge for one call. The bridge takes ownership of the VAD
// session and closes it with Close.
func New(cfg Config, sess vad.SessionHandle, log *slog.Logger) *Bridge {
	return &Bridge{
		cfg:        cfg.withDefaults(),
		log:        log,
		vad:        sess,
		state:      StateIdle,
		utterances: make(chan Utterance, 8),
	}
}

// Utterances returns the stream of segmented caller utterances. The channel
// closes when the bridge closes.
func (b *Bridge) Utterances() <-chan Utterance { return b.utterances }

// State returns the current turn-taking state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Degraded reports whether the frame buffer has overflowed at least once.
func (b *Bridge) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// DroppedFrames returns how many frames were discarded to buffer overflow.
func (b *Bridge) DroppedFrames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// PushFrame feeds one inbound frame through the state machine. Frames must
// arrive in adapter order; an out-of-order frame is dropped with a warning
// rather than re-sorted.
func (b *Bridge) PushFrame(f audio.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.haveSeq && f.Seq <= b.lastSeq {
		b.log.Warn("bridge: out-of-order frame dropped", "seq", f.Seq, "last", b.lastSeq)
		return
	}
	b.lastSeq, b.haveSeq = f.Seq, true

	ev, err := b.vad.ProcessFrame(f.PCM)
	if err != nil {
		b.log.Warn("bridge: vad rejected frame", "seq", f.Seq, "error", err)
		return
	}
	voice := ev.Type.Voiced()
	dur := f.Duration()

	switch b.state {
	case StateIdle:
		b.state = StateListening
		b.resetCounters()
		b.listen(f, voice, dur)
	case StateListening:
		b.listen(f, voice, dur)
	case StateThinking:
		b.think(f, voice, dur)
	case StateSpeaking:
		b.overhear(f, voice, dur)
	}
}

// listen accumulates the current utterance and watches for its end.
func (b *Bridge) listen(f audio.Frame, voice bool, dur time.Duration) {
	b.buffer(f)
	if voice {
		b.speech += dur
		b.silence = 0
		return
	}
	b.silence += dur
	if b.speech >= b.cfg.MinSpeech && b.silence >= b.cfg.SilenceHold {
		b.emitBuffered()
		b.state = StateThinking
		b.resetCounters()
	}
}

// think buffers audio while the pipeline is busy. Sustained speech past the
// flush bound is emitted as its own utterance so it is not lost.
func (b *Bridge) think(f audio.Frame, voice bool, dur time.Duration) {
	b.buffer(f)
	if !voice {
		b.sustain = 0
		return
	}
	b.sustain += dur
	if b.sustain >= b.cfg.ThinkingFlush {
		b.emitBuffered()
		b.resetCounters()
	}
}

// overhear watches for barge-in during playback. Voiced frames are kept so
// the interruption becomes the start of the next utterance.
func (b *Bridge) overhear(f audio.Frame, voice bool, dur time.Duration) {
	if !voice {
		b.sustain = 0
		return
	}
	b.buffer(f)
	b.sustain += dur
	b.speech += dur
	if b.sustain >= b.cfg.BargeInHold && !b.critical {
		if b.cancelTTS != nil {
			b.cancelTTS()
			b.cancelTTS = nil
		}
		b.log.Debug("bridge: barge-in", "sustained", b.sustain)
		b.state = StateListening
		b.sustain = 0
		b.silence = 0
	}
}

// Speak transitions to SPEAKING and returns the playback context. The
// returned context is cancelled on barge-in; critical prompts are played to
// the end regardless of caller voice.
func (b *Bridge) Speak(ctx context.Context, critical bool) context.Context {
	playCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateSpeaking
	b.critical = critical
	b.cancelTTS = cancel
	b.sustain = 0
	return playCtx
}

// SpeakingDone reports that playback finished or was cancelled. If caller
// audio arrived meanwhile the bridge goes straight to LISTENING; the user
// always wins the tie.
func (b *Bridge) SpeakingDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelTTS != nil {
		b.cancelTTS()
		b.cancelTTS = nil
	}
	b.critical = false
	if b.state != StateSpeaking {
		return
	}
	if len(b.frames) > 0 {
		b.state = StateListening
		b.silence = 0
	} else {
		b.state = StateIdle
	}
}

// Listen returns the bridge to LISTENING without playback, for turns that
// produce no audible response.
func (b *Bridge) Listen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateThinking || b.state == StateIdle {
		b.state = StateListening
	}
}

// Close shuts the bridge down and closes the utterance stream.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.cancelTTS != nil {
		b.cancelTTS()
		b.cancelTTS = nil
	}
	b.vad.Close()
	close(b.utterances)
}

// buffer appends a frame, dropping the oldest on overflow. Callers hold b.mu.
func (b *Bridge) buffer(f audio.Frame) {
	if len(b.frames) >= b.cfg.BufferCapFrames {
		b.frames = b.frames[1:]
		b.dropped++
		if !b.degraded {
			b.degraded = true
			b.log.Warn("bridge: frame buffer overflow, dropping oldest",
				"cap", b.cfg.BufferCapFrames)
		}
	}
	b.frames = append(b.frames, f.PCM)
	b.buffered += f.Duration()
}

// emitBuffered flushes the accumulated frames as one utterance. Callers hold
// b.mu.
func (b *Bridge) emitBuffered() {
	if len(b.frames) == 0 {
		return
	}
	var total int
	for _, f := range b.frames {
		total += len(f)
	}
	pcm := make([]byte, 0, total)
	for _, f := range b.frames {
		pcm = append(pcm, f...)
	}
	u := Utterance{PCM: pcm, Duration: b.buffered}
	b.frames = nil
	b.buffered = 0

	select {
	case b.utterances <- u:
	default:
		b.log.Warn("bridge: utterance consumer lagging, dropping utterance",
			"duration", u.Duration)
	}
}

func (b *Bridge) resetCounters() {
	b.speech = 0
	b.silence = 0
	b.sustain = 0
}
