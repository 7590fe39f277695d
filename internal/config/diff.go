package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider,
// storage, and server changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BusinessHoursChanged bool
	SessionLimitsChanged bool
	TriageRulesChanged   bool
	FallbackDeptChanged  bool
	ConsentKindsChanged  bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.BusinessHoursChanged || d.SessionLimitsChanged ||
		d.TriageRulesChanged || d.FallbackDeptChanged || d.ConsentKindsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sameHours(old.Tenant.BusinessHours, new.Tenant.BusinessHours) {
		d.BusinessHoursChanged = true
	}

	if old.Session.Limits != new.Session.Limits {
		d.SessionLimitsChanged = true
	}

	if old.Triage.RulesVersion != new.Triage.RulesVersion {
		d.TriageRulesChanged = true
	}

	if old.Routing.FallbackDepartmentID != new.Routing.FallbackDepartmentID {
		d.FallbackDeptChanged = true
	}

	if !slices.Equal(old.Consent.RequiredKinds, new.Consent.RequiredKinds) {
		d.ConsentKindsChanged = true
	}

	return d
}

func sameHours(a, b HoursByDay) bool {
	if len(a) != len(b) {
		return false
	}
	for day, hours := range a {
		if b[day] != hours {
			return false
		}
	}
	return true
}
