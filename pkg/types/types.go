// Package types defines the shared domain types used across all hausruf packages.
//
// These types form the lingua franca between the storage layer, the conversation
// engine, routing, scheduling, and the HTTP surface. They are intentionally
// minimal — each package defines its own internal types, but entities that are
// persisted or cross component boundaries live here to avoid circular imports.
package types

import "time"

// Urgency classifies how quickly a job must be acted on.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyNormal    Urgency = "normal"
	UrgencyRoutine   Urgency = "routine"
)

// IsValid reports whether u is a recognised urgency level.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyEmergency, UrgencyUrgent, UrgencyNormal, UrgencyRoutine:
		return true
	}
	return false
}

// MaxWait returns the maximum wait before an appointment for this urgency.
// Used by the scheduling engine to clamp the search window.
func (u Urgency) MaxWait() time.Duration {
	switch u {
	case UrgencyEmergency:
		return 2 * time.Hour
	case UrgencyUrgent:
		return 8 * time.Hour
	case UrgencyNormal:
		return 48 * time.Hour
	default:
		return 14 * 24 * time.Hour
	}
}

// Raise returns the next-higher urgency tier. Emergency stays emergency.
func (u Urgency) Raise() Urgency {
	switch u {
	case UrgencyRoutine:
		return UrgencyNormal
	case UrgencyNormal:
		return UrgencyUrgent
	default:
		return UrgencyEmergency
	}
}

// TradeCategory identifies the trade a job belongs to.
type TradeCategory string

const (
	TradePlumbingHeating TradeCategory = "plumbing-heating"
	TradeElectrical      TradeCategory = "electrical"
	TradeSanitary        TradeCategory = "sanitary"
	TradeRoofing         TradeCategory = "roofing"
	TradeCarpentry       TradeCategory = "carpentry"
	TradeGeneral         TradeCategory = "general"
)

// IsValid reports whether c is a recognised trade category.
func (c TradeCategory) IsValid() bool {
	switch c {
	case TradePlumbingHeating, TradeElectrical, TradeSanitary,
		TradeRoofing, TradeCarpentry, TradeGeneral:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusNew        JobStatus = "new"
	StatusAssigned   JobStatus = "assigned"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsValid reports whether s is a recognised job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a sink state that forbids further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the status machine permits moving from s to
// next. Terminal states are sinks; cancellation is reachable from every
// non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusNew:
		return next == StatusAssigned || next == StatusCancelled
	case StatusAssigned:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// JobSource records which channel a job originated from.
type JobSource string

const (
	SourcePhone     JobSource = "phone"
	SourceEmail     JobSource = "email"
	SourceChat      JobSource = "chat"
	SourceForm      JobSource = "form"
	SourceMessenger JobSource = "messenger"
)

// IsValid reports whether s is a recognised job source.
func (s JobSource) IsValid() bool {
	switch s {
	case SourcePhone, SourceEmail, SourceChat, SourceForm, SourceMessenger:
		return true
	}
	return false
}

// PropertyType classifies the serviced property.
type PropertyType string

const (
	PropertyResidential PropertyType = "residential"
	PropertyCommercial  PropertyType = "commercial"
	PropertyIndustrial  PropertyType = "industrial"
)

// ConsentKind is a category of data-processing consent.
type ConsentKind string

const (
	ConsentDataProcessing ConsentKind = "data_processing"
	ConsentCallRecording  ConsentKind = "call_recording"
	ConsentReminders      ConsentKind = "reminders"
	ConsentMarketing      ConsentKind = "marketing"
)

// IsValid reports whether k is a recognised consent kind.
func (k ConsentKind) IsValid() bool {
	switch k {
	case ConsentDataProcessing, ConsentCallRecording, ConsentReminders, ConsentMarketing:
		return true
	}
	return false
}

// ConsentMethod records how a consent was obtained.
type ConsentMethod string

const (
	ConsentVerbal  ConsentMethod = "verbal"
	ConsentWritten ConsentMethod = "written"
	ConsentDigital ConsentMethod = "digital"
)

// WorkerRole is the permission level of a worker account.
type WorkerRole string

const (
	RoleOwner  WorkerRole = "owner"
	RoleAdmin  WorkerRole = "admin"
	RoleWorker WorkerRole = "worker"
)

// Address is a postal address snapshot. PostalCode is the five-digit German
// format; the coordinates are optional and zero when unknown.
type Address struct {
	Street     string  `json:"street"`
	Number     string  `json:"number"`
	PostalCode string  `json:"postal_code"`
	City       string  `json:"city"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// Contact is a caller or customer. Contacts are never hard-deleted; erasure
// scrubs personal fields and sets SoftDeletedAt.
type Contact struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone"` // E.164
	Email         string       `json:"email,omitempty"`
	Address       Address      `json:"address"`
	PropertyType  PropertyType `json:"property_type,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	SoftDeletedAt *time.Time   `json:"soft_deleted_at,omitempty"`
}

// Consent is one grant or revocation record. Records are append-only: a
// revocation writes RevokedAt on the active record, never deletes it.
type Consent struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	ContactID string        `json:"contact_id"`
	Kind      ConsentKind   `json:"kind"`
	Method    ConsentMethod `json:"method"`
	CallID    string        `json:"call_id,omitempty"`
	GrantedAt time.Time     `json:"granted_at"`
	RevokedAt *time.Time    `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Active reports whether the consent is in force at t.
func (c Consent) Active(t time.Time) bool {
	if c.RevokedAt != nil && !c.RevokedAt.After(t) {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(t) {
		return false
	}
	return !c.GrantedAt.After(t)
}

// Job is the central persisted entity: a service request created from a
// conversation or directly by an admin.
type Job struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	JobNumber string `json:"job_number"` // JOB-YYYY-NNNN, unique per tenant
	ContactID string `json:"contact_id"`

	Title       string        `json:"title"`
	Description string        `json:"description"`
	Trade       TradeCategory `json:"trade"`
	Urgency     Urgency       `json:"urgency"`
	Status      JobStatus     `json:"status"`
	Source      JobSource     `json:"source"`

	Address    Address `json:"address"`
	DistanceKm float64 `json:"distance_km"`

	// RoutingPriority is 1–99, lower is higher priority.
	RoutingPriority int    `json:"routing_priority"`
	RoutingReason   string `json:"routing_reason,omitempty"`
	DepartmentID    string `json:"department_id,omitempty"`
	WorkerID        string `json:"worker_id,omitempty"`

	PreferredWindow string `json:"preferred_window,omitempty"`
	AccessNotes     string `json:"access_notes,omitempty"`

	// RecordingConsent marks that the originating call was recorded; a
	// matching active call_recording consent must exist at recording start.
	RecordingConsent bool `json:"recording_consent,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	ScheduledEnd *time.Time `json:"scheduled_end,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// HistoryEntry is one append-only row attached to a job. Entries are
// user-visible and never updated or deleted.
type HistoryEntry struct {
	ID        string            `json:"id"`
	JobID     string            `json:"job_id"`
	Actor     string            `json:"actor"` // "system" or a user id
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// DayHours is an open/close pair for one weekday, local time "HH:MM".
// A zero value means closed.
type DayHours struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

// Closed reports whether the day has no opening hours.
func (d DayHours) Closed() bool { return d.Open == "" || d.Close == "" }

// WeekHours maps weekdays to opening hours.
type WeekHours map[time.Weekday]DayHours

// Department is a logical group of workers within a tenant.
type Department struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	Trades          []TradeCategory `json:"trades"`
	Urgencies       []Urgency       `json:"urgencies"`
	Hours           WeekHours       `json:"hours"`
	FallbackContact string          `json:"fallback_contact,omitempty"`
}

// Worker is a technician or admin account within a department.
type Worker struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	DepartmentID   string          `json:"department_id"`
	Name           string          `json:"name"`
	Role           WorkerRole      `json:"role"`
	Trades         []TradeCategory `json:"trades"`
	Certifications []string        `json:"certifications,omitempty"`
	Hours          WeekHours       `json:"hours"`
	MaxJobsPerDay  int             `json:"max_jobs_per_day"`
	CurrentJobs    int             `json:"current_jobs"`
	Latitude       float64         `json:"latitude,omitempty"`
	Longitude      float64         `json:"longitude,omitempty"`
	Active         bool            `json:"active"`
}

// RoutingRule is one declarative routing entry, evaluated in ascending
// Priority order. Zero-value condition fields match everything; set fields
// combine by AND.
type RoutingRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`

	// Conditions. Zero values are wildcards.
	Trade        TradeCategory `json:"trade,omitempty"`
	Urgency      Urgency       `json:"urgency,omitempty"`
	Source       JobSource     `json:"source,omitempty"`
	PostalPrefix string        `json:"postal_prefix,omitempty"`
	AfterHour    int           `json:"after_hour,omitempty"`  // inclusive, 0 = unset
	BeforeHour   int           `json:"before_hour,omitempty"` // exclusive, 0 = unset

	// Action: exactly one of DepartmentID or WorkerID should be set.
	DepartmentID string `json:"department_id,omitempty"`
	WorkerID     string `json:"worker_id,omitempty"`

	EscalateAfter time.Duration `json:"escalate_after,omitempty"`
	Notify        bool          `json:"notify,omitempty"`
	Active        bool          `json:"active"`
}

// CalendarEntry is a booked or blocked interval on a worker's calendar.
type CalendarEntry struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	WorkerID string    `json:"worker_id"`
	JobID    string    `json:"job_id,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Blocked  bool      `json:"blocked,omitempty"`
}

// Message is a single conversation message within a session, bounded by a
// sliding window before being handed to the language model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string `json:"role"`

	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
