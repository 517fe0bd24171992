package models

import (
	"time"

	"github.com/google/uuid"
)

type Ward struct {
	WardID    string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type SubZone struct {
	SubZoneID string
	WardID    string
	Name      string
	IsActive  bool
}

type Complaint struct {
	ComplaintID uuid.UUID
	Type        string
	Status      string
	Priority    string
	WardID      string
	SubZoneID   *string
	Description string
	SubmittedOn time.Time
	ResolvedOn  *time.Time
	ClosedOn    *time.Time
	// ReopenedOn is the timestamp of the most recent reopen transition,
	// derived from the status log. It anchors the SLA clock restart.
	ReopenedOn *time.Time
	// Deadline is the explicit per-complaint override, used only when the
	// type has no resolvable SLA hours.
	Deadline  *time.Time
	Rating    *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type StatusLogEntry struct {
	EntryID     uuid.UUID
	ComplaintID uuid.UUID
	FromStatus  *string
	ToStatus    string
	Actor       string
	Comment     *string
	OccurredAt  time.Time
}

type ComplaintTypeConfig struct {
	TypeKey         string
	DisplayName     string
	SLAHours        float64
	DefaultPriority string
	UpdatedAt       time.Time
}

// LegacyConfigEntry is the old flat key-value config table. Type lookups must
// tolerate both the structured catalog above and this form.
type LegacyConfigEntry struct {
	Key         string
	Value       string
	Description *string
	UpdatedAt   time.Time
}

type Escalation struct {
	EscalationID uuid.UUID
	ComplaintID  uuid.UUID
	WardID       string
	Type         string
	Status       string
	Deadline     *time.Time
	DetectedAt   time.Time
	AckedAt      *time.Time
	AckedBy      *string
	Message      string
}

type OutboxEvent struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	Subject      string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}

type GroupCount struct {
	WardID    string
	SubZoneID string
	Type      string
	Count     int
}
