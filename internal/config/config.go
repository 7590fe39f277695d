// Package config provides the configuration schema, loader, and provider
// registry for the hausruf server.
package config

import (
	"log/slog"
	"time"

	"github.com/hausruf/hausruf/pkg/types"
)

// LogLevel controls log verbosity for the hausruf server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog converts l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Inference InferenceConfig `yaml:"inference"`
	Audio     AudioConfig     `yaml:"audio"`
	BargeIn   BargeInConfig   `yaml:"barge_in"`
	Triage    TriageConfig    `yaml:"triage"`
	Routing   RoutingConfig   `yaml:"routing"`
	Storage   StorageConfig   `yaml:"storage"`
	Consent   ConsentConfig   `yaml:"consent"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	ListenAddr string     `yaml:"listen_addr"`
	LogLevel   LogLevel   `yaml:"log_level"`
	TLS        *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig enables TLS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TenantConfig describes the business the server answers for.
type TenantConfig struct {
	ID              string     `yaml:"id"`
	DefaultLanguage string     `yaml:"default_language"` // IETF tag, e.g. "de-DE"
	BusinessHours   HoursByDay `yaml:"business_hours"`
	HQLocation      HQLocation `yaml:"hq_location"`
}

// HoursByDay maps lowercase English weekday names to opening hours.
type HoursByDay map[string]types.DayHours

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Week converts h into the runtime representation. Unknown day names are
// skipped; [Validate] reports them as errors beforehand.
func (h HoursByDay) Week() types.WeekHours {
	week := make(types.WeekHours, len(h))
	for name, hours := range h {
		if day, ok := weekdayNames[name]; ok {
			week[day] = hours
		}
	}
	return week
}

// HQLocation is the dispatch origin and service area of the tenant.
type HQLocation struct {
	Latitude        float64 `yaml:"lat"`
	Longitude       float64 `yaml:"lon"`
	ServiceRadiusKM float64 `yaml:"service_radius_km"`
}

// ProvidersConfig selects and configures the external AI providers.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry configures a single external provider. Options carries
// provider-specific settings the schema does not model.
type ProviderEntry struct {
	Name    string            `yaml:"name"`
	APIKey  string            `yaml:"api_key,omitempty"`
	BaseURL string            `yaml:"base_url,omitempty"`
	Model   string            `yaml:"model,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// SessionConfig wraps the session limit block.
type SessionConfig struct {
	Limits SessionLimits `yaml:"limits"`
}

// SessionLimits bounds concurrent sessions and their lifetimes. All
// values are whole seconds; zero selects the default.
type SessionLimits struct {
	MaxConcurrent int `yaml:"max_concurrent"` // default 100
	PhoneIdleS    int `yaml:"phone_idle_s"`   // default 8
	ChatIdleS     int `yaml:"chat_idle_s"`    // default 45
	PhoneMaxS     int `yaml:"phone_max_s"`    // default 1200
	ChatMaxS      int `yaml:"chat_max_s"`     // default 7200
}

// PhoneIdle returns the phone idle timeout as a duration.
func (l SessionLimits) PhoneIdle() time.Duration { return secs(l.PhoneIdleS, 8) }

// ChatIdle returns the chat idle timeout as a duration.
func (l SessionLimits) ChatIdle() time.Duration { return secs(l.ChatIdleS, 45) }

// PhoneMax returns the hard cap on phone session length.
func (l SessionLimits) PhoneMax() time.Duration { return secs(l.PhoneMaxS, 1200) }

// ChatMax returns the hard cap on chat session length.
func (l SessionLimits) ChatMax() time.Duration { return secs(l.ChatMaxS, 7200) }

func secs(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func millis(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// InferenceConfig wraps the inference timeout block.
type InferenceConfig struct {
	Timeouts InferenceTimeouts `yaml:"timeouts"`
}

// InferenceTimeouts bounds each pipeline stage, in milliseconds.
type InferenceTimeouts struct {
	STTMS           int `yaml:"stt_ms"`             // default 5000
	LLMSoftMS       int `yaml:"llm_soft_ms"`        // default 2000
	LLMHardMS       int `yaml:"llm_hard_ms"`        // default 5000
	TTSFirstFrameMS int `yaml:"tts_first_frame_ms"` // default 3000
}

// STT returns the per-utterance transcription deadline.
func (t InferenceTimeouts) STT() time.Duration { return millis(t.STTMS, 5000) }

// LLMSoft returns the deadline after which the templated fallback is used.
func (t InferenceTimeouts) LLMSoft() time.Duration { return millis(t.LLMSoftMS, 2000) }

// LLMHard returns the deadline after which the LLM call is abandoned.
func (t InferenceTimeouts) LLMHard() time.Duration { return millis(t.LLMHardMS, 5000) }

// TTSFirstFrame returns the deadline for the first synthesized frame.
func (t InferenceTimeouts) TTSFirstFrame() time.Duration { return millis(t.TTSFirstFrameMS, 3000) }

// AudioConfig tunes the audio path.
type AudioConfig struct {
	FrameMS int `yaml:"frame_ms"` // default 20
}

// FrameDuration returns the configured audio frame length.
func (a AudioConfig) FrameDuration() time.Duration { return millis(a.FrameMS, 20) }

// BargeInConfig tunes barge-in detection.
type BargeInConfig struct {
	ThresholdMS int `yaml:"threshold_ms"` // default 300
}

// Threshold returns how long sustained caller voice must run during
// playback before the outbound stream is cancelled.
func (b BargeInConfig) Threshold() time.Duration { return millis(b.ThresholdMS, 300) }

// TriageConfig pins the triage rule set.
type TriageConfig struct {
	RulesVersion int `yaml:"rules_version"`
}

// RoutingConfig holds routing defaults.
type RoutingConfig struct {
	FallbackDepartmentID string `yaml:"fallback_department_id"`

	// EmergencyTransfer is the phone number escalated calls are bridged to.
	// Empty disables the transfer; escalations then end with the emergency
	// guidance text only.
	EmergencyTransfer string `yaml:"emergency_transfer"`
}

// StorageConfig selects the persistence backend and retention policy.
// An empty DSN selects the in-memory store.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`

	// RetentionDays maps entity kinds (jobs, contacts, consents, audit,
	// transcripts) to how long records are kept before the sweeper may
	// purge them. Zero or absent means keep forever.
	RetentionDays map[string]int `yaml:"retention_days"`
}

// retentionKinds lists entity kinds a retention window may be set for.
var retentionKinds = []string{"jobs", "contacts", "consents", "audit", "transcripts"}

// ConsentConfig lists the consent kinds a caller must hold before
// the related processing happens.
type ConsentConfig struct {
	RequiredKinds []types.ConsentKind `yaml:"required_kinds"`
}

// WebhookConfig secures inbound telephony webhooks.
type WebhookConfig struct {
	Secret              string `yaml:"secret"`
	SignatureToleranceS int    `yaml:"signature_tolerance_s"` // default 300
}

// SignatureTolerance returns the accepted webhook timestamp skew.
func (w WebhookConfig) SignatureTolerance() time.Duration { return secs(w.SignatureToleranceS, 300) }
