package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	WardID        string          `json:"ward_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicComplaintStatus = "complaint.status"
	TopicComplaintSLA    = "complaint.sla"
	TopicEscalations     = "escalations"
)

const (
	AggregateComplaint  = "complaint"
	AggregateEscalation = "escalation"
)

const (
	EventComplaintRegistered = "complaint_registered"
	EventStatusChanged       = "complaint_status_changed"
	EventSLABreached         = "complaint_sla_breached"
	EventSLAWarning          = "complaint_sla_warning"
)

type StatusChangedPayload struct {
	ComplaintID uuid.UUID `json:"complaint_id"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Actor       string    `json:"actor"`
	Comment     string    `json:"comment,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type SLABreachPayload struct {
	ComplaintID uuid.UUID  `json:"complaint_id"`
	Type        string     `json:"type"`
	WardID      string     `json:"ward_id"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	DetectedAt  time.Time  `json:"detected_at"`
}
