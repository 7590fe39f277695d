package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestDurationDefaults(t *testing.T) {
	var cfg Config

	if got := cfg.Session.Limits.PhoneIdle(); got != 8*time.Second {
		t.Errorf("PhoneIdle = %v, want 8s", got)
	}
	if got := cfg.Session.Limits.ChatIdle(); got != 45*time.Second {
		t.Errorf("ChatIdle = %v, want 45s", got)
	}
	if got := cfg.Session.Limits.PhoneMax(); got != 20*time.Minute {
		t.Errorf("PhoneMax = %v, want 20m", got)
	}
	if got := cfg.Session.Limits.ChatMax(); got != 2*time.Hour {
		t.Errorf("ChatMax = %v, want 2h", got)
	}
	if got := cfg.Inference.Timeouts.LLMSoft(); got != 2*time.Second {
		t.Errorf("LLMSoft = %v, want 2s", got)
	}
	if got := cfg.Inference.Timeouts.LLMHard(); got != 5*time.Second {
		t.Errorf("LLMHard = %v, want 5s", got)
	}
	if got := cfg.Audio.FrameDuration(); got != 20*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 20ms", got)
	}
	if got := cfg.BargeIn.Threshold(); got != 300*time.Millisecond {
		t.Errorf("Threshold = %v, want 300ms", got)
	}
	if got := cfg.Webhook.SignatureTolerance(); got != 5*time.Minute {
		t.Errorf("SignatureTolerance = %v, want 5m", got)
	}
}

func TestDurationOverrides(t *testing.T) {
	limits := SessionLimits{PhoneIdleS: 10, ChatMaxS: 600}
	if got := limits.PhoneIdle(); got != 10*time.Second {
		t.Errorf("PhoneIdle = %v, want 10s", got)
	}
	if got := limits.ChatMax(); got != 10*time.Minute {
		t.Errorf("ChatMax = %v, want 10m", got)
	}

	to := InferenceTimeouts{TTSFirstFrameMS: 500}
	if got := to.TTSFirstFrame(); got != 500*time.Millisecond {
		t.Errorf("TTSFirstFrame = %v, want 500ms", got)
	}
}

func TestLogLevelSlog(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want slog.Level
	}{
		{LogDebug, slog.LevelDebug},
		{LogInfo, slog.LevelInfo},
		{LogWarn, slog.LevelWarn},
		{LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Slog(); got != tt.want {
			t.Errorf("LogLevel(%q).Slog() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHoursByDayWeekSkipsUnknownDays(t *testing.T) {
	h := HoursByDay{
		"monday": {Open: "08:00", Close: "18:00"},
		"funday": {Open: "00:00", Close: "23:59"},
	}
	week := h.Week()
	if len(week) != 1 {
		t.Fatalf("week has %d entries, want 1", len(week))
	}
	if week[time.Monday].Open != "08:00" {
		t.Errorf("monday = %+v", week[time.Monday])
	}
}
