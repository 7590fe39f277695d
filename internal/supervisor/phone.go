package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hausruf/hausruf/internal/bridge"
	"github.com/hausruf/hausruf/internal/convo"
	"github.com/hausruf/hausruf/internal/infer"
	"github.com/hausruf/hausruf/internal/telephony"
	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/stt"
	"github.com/hausruf/hausruf/pkg/provider/tts"
)

// PhoneLeg binds one session to its telephony call: caller audio runs
// bridge → STT → session, assistant turns run TTS → bridge → adapter.
type PhoneLeg struct {
	sess    *Session
	adapter telephony.Adapter
	bridge  *bridge.Bridge
	stt     stt.Transcriber
	tts     tts.Synthesizer
	pool    *infer.Pool
	log     *slog.Logger

	hint stt.Hint

	sttTimeout    time.Duration
	ttsFirstFrame time.Duration
}

// LegOption configures a PhoneLeg.
type LegOption func(*PhoneLeg)

// WithSTTTimeout bounds a single transcription call. Default 5s.
func WithSTTTimeout(d time.Duration) LegOption {
	return func(l *PhoneLeg) { l.sttTimeout = d }
}

// WithTTSFirstFrame bounds the wait for the first synthesized frame; a
// provider slower than this is cut off so the caller does not sit in dead
// air. Default 3s.
func WithTTSFirstFrame(d time.Duration) LegOption {
	return func(l *PhoneLeg) { l.ttsFirstFrame = d }
}

// NewPhoneLeg wires a leg. The bridge is owned by the leg and closed when
// the leg finishes.
func NewPhoneLeg(sess *Session, adapter telephony.Adapter, br *bridge.Bridge, transcriber stt.Transcriber, synth tts.Synthesizer, pool *infer.Pool, log *slog.Logger, opts ...LegOption) *PhoneLeg {
	l := &PhoneLeg{
		sess:          sess,
		adapter:       adapter,
		bridge:        br,
		stt:           transcriber,
		tts:           synth,
		pool:          pool,
		log:           log.With("session_id", sess.ID, "call_id", sess.CallID),
		hint:          stt.Hint{Language: sess.machine.Language()},
		sttTimeout:    5 * time.Second,
		ttsFirstFrame: 3 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// HandleFrame feeds one caller audio frame. Called from the adapter event
// pump.
func (l *PhoneLeg) HandleFrame(f audio.Frame) {
	l.bridge.PushFrame(f)
}

// Run drives both directions until the session ends or ctx is cancelled.
// It blocks; callers run it on its own goroutine.
func (l *PhoneLeg) Run(ctx context.Context) {
	defer l.bridge.Close()

	go l.transcribeLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-l.sess.Out:
			if !ok {
				return
			}
			l.speak(ctx, out)
			if out.End {
				if err := l.adapter.Hangup(ctx, l.sess.CallID); err != nil {
					l.log.Warn("hangup failed", "error", err)
				}
				return
			}
		}
	}
}

// transcribeLoop turns segmented utterances into session input. STT runs on
// the inference pool at call priority so emergencies queued elsewhere go
// first.
func (l *PhoneLeg) transcribeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-l.bridge.Utterances():
			if !ok {
				return
			}
			frame := audio.Frame{
				PCM:        u.PCM,
				SampleRate: audio.PipelineRate,
				Channels:   1,
			}

			var res stt.Result
			var terr error
			err := l.pool.Run(ctx, infer.PriorityCall, func(c context.Context) {
				c, cancel := context.WithTimeout(c, l.sttTimeout)
				defer cancel()
				res, terr = l.stt.Transcribe(c, frame, l.hint)
			})
			if err != nil {
				l.log.Warn("stt submission failed", "error", err)
				continue
			}
			if terr != nil {
				l.log.Warn("stt failed", "error", terr)
				// A transient STT fault reads as an unintelligible turn;
				// the machine reprompts.
				l.sess.Push(Inbound{Text: "", Confidence: 0})
				continue
			}
			if res.Dialect != "" {
				l.hint.Dialect = res.Dialect
			}
			l.sess.Push(Inbound{Text: res.Text, Confidence: res.Confidence})
		}
	}
}

// speak renders one assistant turn to the caller and attempts the transfer
// when the machine asked for one.
func (l *PhoneLeg) speak(ctx context.Context, out convo.Outgoing) {
	if out.Text != "" {
		playCtx := l.bridge.Speak(ctx, out.Critical)

		// Synthesis starts on the inference pool; only the call setup holds
		// a worker, the stream itself runs on the provider's goroutine.
		var stream <-chan []byte
		err := l.pool.Run(playCtx, infer.PriorityCall, func(c context.Context) {
			var serr error
			stream, serr = l.tts.Synthesize(c, out.Text)
			if serr != nil {
				l.log.Warn("tts failed", "error", serr)
			}
		})
		if err != nil {
			l.log.Warn("tts submission failed", "error", err)
		}
		if stream != nil {
			guardCtx, cancel := context.WithCancel(playCtx)
			guarded := l.guardFirstFrame(guardCtx, cancel, stream)
			if err := l.adapter.Play(guardCtx, l.sess.CallID, guarded); err != nil &&
				!errors.Is(err, context.Canceled) {
				l.log.Warn("playback failed", "error", err)
			}
			cancel()
		}
		l.bridge.SpeakingDone()
	}

	if out.Transfer != "" {
		if err := l.adapter.Transfer(ctx, l.sess.CallID, out.Transfer); err != nil {
			l.log.Error("emergency transfer failed", "target", out.Transfer, "error", err)
		}
	}
}

// guardFirstFrame forwards the TTS stream, cancelling playback when the
// provider takes longer than the first-frame deadline to produce any audio.
// Once the first chunk is through the stream runs unguarded.
func (l *PhoneLeg) guardFirstFrame(ctx context.Context, cancel context.CancelFunc, in <-chan []byte) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		timer := time.NewTimer(l.ttsFirstFrame)
		defer timer.Stop()
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				l.log.Warn("tts first frame overdue", "deadline", l.ttsFirstFrame)
				cancel()
				return
			case chunk, ok := <-in:
				if !ok {
					return
				}
				if first {
					timer.Stop()
					first = false
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
