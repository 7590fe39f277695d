package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hausruf/hausruf/internal/bridge"
	"github.com/hausruf/hausruf/internal/supervisor"
	"github.com/hausruf/hausruf/internal/telephony"
	"github.com/hausruf/hausruf/pkg/audio"
	"github.com/hausruf/hausruf/pkg/provider/vad"
)

// pumpTelephony dispatches adapter events to phone sessions until the event
// stream closes or ctx is cancelled.
func (a *App) pumpTelephony(ctx context.Context) {
	events := a.providers.Telephony.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case telephony.EventCallIncoming:
				a.handleIncoming(ctx, ev)
			case telephony.EventAudioFrame:
				a.handleFrame(ev)
			case telephony.EventCallEnded:
				a.endCall(ctx, ev.CallID, ev.Reason)
			case telephony.EventDTMF:
				a.log.Debug("dtmf ignored", "call_id", ev.CallID, "digit", ev.Digit)
			}
		}
	}
}

// handleIncoming opens a session for the call, or rejects it busy when the
// supervisor is at capacity.
func (a *App) handleIncoming(ctx context.Context, ev telephony.Event) {
	adapter := a.providers.Telephony
	tenant := ev.TenantID
	if tenant == "" {
		tenant = a.cfg.Tenant.ID
	}

	sess, err := a.sup.Open(supervisor.Descriptor{
		SessionID:   uuid.NewString(),
		TenantID:    tenant,
		Channel:     supervisor.ChannelPhone,
		CallID:      ev.CallID,
		CallerPhone: ev.From,
		OutOfHours:  !a.cfg.Tenant.BusinessHours.Week().OpenAt(time.Now()),
	})
	if errors.Is(err, supervisor.ErrOverloaded) {
		a.metrics.RecordEscalation(ctx, "busy_rejected")
		if err := adapter.Busy(ctx, ev.CallID); err != nil {
			a.log.Warn("busy signal failed", "call_id", ev.CallID, "error", err)
		}
		return
	}
	if err != nil {
		a.log.Error("session open failed", "call_id", ev.CallID, "error", err)
		_ = adapter.Hangup(ctx, ev.CallID)
		return
	}

	if err := adapter.Answer(ctx, ev.CallID); err != nil {
		a.log.Error("answer failed", "call_id", ev.CallID, "error", err)
		a.sup.Close(ctx, sess.ID, "answer failed")
		return
	}

	frameMS := a.cfg.Audio.FrameMS
	if frameMS <= 0 {
		frameMS = 20
	}
	vadSess, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:       audio.PipelineRate,
		FrameSizeMs:      frameMS,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		a.log.Error("vad session failed", "call_id", ev.CallID, "error", err)
		a.sup.Close(ctx, sess.ID, "vad unavailable")
		_ = adapter.Hangup(ctx, ev.CallID)
		return
	}

	br := bridge.New(bridge.Config{BargeInHold: a.cfg.BargeIn.Threshold()}, vadSess, a.log)
	leg := supervisor.NewPhoneLeg(sess, adapter, br, a.providers.STT, a.providers.TTS, a.pool, a.log,
		supervisor.WithSTTTimeout(a.cfg.Inference.Timeouts.STT()),
		supervisor.WithTTSFirstFrame(a.cfg.Inference.Timeouts.TTSFirstFrame()))

	legCtx, cancel := context.WithCancel(ctx)
	a.legMu.Lock()
	a.legs[ev.CallID] = &phoneCall{leg: leg, sessionID: sess.ID, cancel: cancel}
	a.legMu.Unlock()

	go func() {
		leg.Run(legCtx)
		a.endCall(ctx, ev.CallID, "leg finished")
	}()
}

// handleFrame feeds one caller audio frame to its leg. Frames for unknown
// calls are dropped; the provider keeps streaming briefly after hangup.
func (a *App) handleFrame(ev telephony.Event) {
	a.legMu.Lock()
	pc := a.legs[ev.CallID]
	a.legMu.Unlock()
	if pc == nil {
		return
	}
	pc.leg.HandleFrame(ev.Frame)
}

// endCall tears down the leg and its session. Idempotent; the hangup event
// and the leg's own exit both land here.
func (a *App) endCall(ctx context.Context, callID, reason string) {
	a.legMu.Lock()
	pc := a.legs[callID]
	delete(a.legs, callID)
	a.legMu.Unlock()
	if pc == nil {
		return
	}
	pc.cancel()
	a.sup.Close(ctx, pc.sessionID, reason)
	a.log.Info("call ended", "call_id", callID, "reason", reason)
}
