package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "openai"},
	"llm": {"openai", "anthropic", "mistral", "ollama"},
	"tts": {"elevenlabs", "openai", "coqui"},
	"vad": {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider names: warn for unrecognised ones.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; conversations fall back to scripted prompts only")
	}

	// Tenant
	if cfg.Tenant.DefaultLanguage == "" {
		slog.Warn("tenant.default_language is empty; defaulting to de-DE")
	}
	for name, hours := range cfg.Tenant.BusinessHours {
		if _, ok := weekdayNames[name]; !ok {
			errs = append(errs, fmt.Errorf("tenant.business_hours: unknown weekday %q", name))
			continue
		}
		if hours.Closed() {
			continue
		}
		if !clockRe.MatchString(hours.Open) || !clockRe.MatchString(hours.Close) {
			errs = append(errs, fmt.Errorf("tenant.business_hours.%s: times must be HH:MM, got open=%q close=%q", name, hours.Open, hours.Close))
		} else if hours.Close <= hours.Open {
			errs = append(errs, fmt.Errorf("tenant.business_hours.%s: close %q is not after open %q", name, hours.Close, hours.Open))
		}
	}
	if loc := cfg.Tenant.HQLocation; loc != (HQLocation{}) {
		if loc.Latitude < -90 || loc.Latitude > 90 {
			errs = append(errs, fmt.Errorf("tenant.hq_location.lat %.4f is out of range [-90, 90]", loc.Latitude))
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			errs = append(errs, fmt.Errorf("tenant.hq_location.lon %.4f is out of range [-180, 180]", loc.Longitude))
		}
		if loc.ServiceRadiusKM < 0 {
			errs = append(errs, fmt.Errorf("tenant.hq_location.service_radius_km %.1f is negative", loc.ServiceRadiusKM))
		}
	}

	// Session limits
	lim := cfg.Session.Limits
	for _, f := range []struct {
		name string
		v    int
	}{
		{"session.limits.max_concurrent", lim.MaxConcurrent},
		{"session.limits.phone_idle_s", lim.PhoneIdleS},
		{"session.limits.chat_idle_s", lim.ChatIdleS},
		{"session.limits.phone_max_s", lim.PhoneMaxS},
		{"session.limits.chat_max_s", lim.ChatMaxS},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if lim.PhoneIdleS > 0 && lim.PhoneMaxS > 0 && lim.PhoneIdleS > lim.PhoneMaxS {
		errs = append(errs, errors.New("session.limits.phone_idle_s exceeds phone_max_s"))
	}
	if lim.ChatIdleS > 0 && lim.ChatMaxS > 0 && lim.ChatIdleS > lim.ChatMaxS {
		errs = append(errs, errors.New("session.limits.chat_idle_s exceeds chat_max_s"))
	}

	// Inference timeouts
	to := cfg.Inference.Timeouts
	if to.LLMSoftMS > 0 && to.LLMHardMS > 0 && to.LLMSoftMS >= to.LLMHardMS {
		errs = append(errs, errors.New("inference.timeouts.llm_soft_ms must be below llm_hard_ms"))
	}

	// Audio
	if cfg.Audio.FrameMS < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must not be negative", cfg.Audio.FrameMS))
	}
	if cfg.BargeIn.ThresholdMS < 0 {
		errs = append(errs, fmt.Errorf("barge_in.threshold_ms %d must not be negative", cfg.BargeIn.ThresholdMS))
	}

	// Routing
	if cfg.Routing.EmergencyTransfer == "" {
		slog.Warn("routing.emergency_transfer is empty; escalated calls will not be bridged to a human")
	}

	// Storage retention
	for kind, days := range cfg.Storage.RetentionDays {
		if !slices.Contains(retentionKinds, kind) {
			errs = append(errs, fmt.Errorf("storage.retention_days: unknown entity kind %q; valid kinds: %v", kind, retentionKinds))
		}
		if days < 0 {
			errs = append(errs, fmt.Errorf("storage.retention_days.%s %d must not be negative", kind, days))
		}
	}

	// Consent kinds
	for i, kind := range cfg.Consent.RequiredKinds {
		if !kind.IsValid() {
			errs = append(errs, fmt.Errorf("consent.required_kinds[%d] %q is not a recognised consent kind", i, kind))
		}
	}

	// Webhook
	if cfg.Webhook.SignatureToleranceS < 0 {
		errs = append(errs, fmt.Errorf("webhook.signature_tolerance_s %d must not be negative", cfg.Webhook.SignatureToleranceS))
	}
	if cfg.Webhook.Secret == "" {
		slog.Warn("webhook.secret is empty; inbound telephony webhooks will be rejected")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
