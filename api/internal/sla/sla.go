package sla

import (
	"math"
	"time"

	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/models"
)

// Classification values. Completed carries the historical on-time signal for
// terminal complaints; dashboards that only show live state collapse it to
// on_time via HistoricalStatus.
const (
	StatusOnTime        = "on_time"
	StatusWarning       = "warning"
	StatusOverdue       = "overdue"
	StatusNotApplicable = "na"
	StatusCompleted     = "completed"
)

const DefaultWarningWindow = 24 * time.Hour

// ComputeDeadline returns the single authoritative deadline instant, or nil
// when no SLA applies. The clock starts at the most recent reopen when one
// exists, otherwise at submission. The explicit per-complaint override is
// consulted only when the type has no resolvable SLA hours.
func ComputeDeadline(c models.Complaint, slaHours float64) *time.Time {
	start := c.SubmittedOn
	if c.ReopenedOn != nil {
		start = *c.ReopenedOn
	}
	if slaHours > 0 && !math.IsInf(slaHours, 0) && !math.IsNaN(slaHours) {
		deadline := start.UTC().Add(time.Duration(slaHours * float64(time.Hour)))
		return &deadline
	}
	if c.Deadline != nil {
		deadline := c.Deadline.UTC()
		return &deadline
	}
	return nil
}

// Classify applies the ordered rules: no deadline is N/A; terminal complaints
// compare their completion instant to the deadline independent of now; active
// complaints are overdue past the deadline, warning inside the window before
// it, on-time otherwise. Overdue wins over warning for live complaints.
func Classify(c models.Complaint, deadline *time.Time, now time.Time, warningWindow time.Duration) string {
	if deadline == nil {
		return StatusNotApplicable
	}
	if done := completionInstant(c); done != nil {
		if !done.After(*deadline) {
			return StatusCompleted
		}
		return StatusOverdue
	}
	now = now.UTC()
	if now.After(*deadline) {
		return StatusOverdue
	}
	if warningWindow > 0 && deadline.Sub(now) <= warningWindow {
		return StatusWarning
	}
	return StatusOnTime
}

// HistoricalStatus maps the five-valued classification onto the on-time /
// overdue split used by historical views.
func HistoricalStatus(status string) string {
	if status == StatusCompleted {
		return StatusOnTime
	}
	return status
}

// completionInstant returns the instant the complaint left the active
// pipeline, or nil when it is still active. A resolution timestamp that
// predates the latest reopen is stale and ignored.
func completionInstant(c models.Complaint) *time.Time {
	if !lifecycle.IsTerminal(c.Status) {
		return nil
	}
	var done *time.Time
	switch lifecycle.Normalize(c.Status) {
	case lifecycle.StatusClosed:
		done = c.ClosedOn
		if done == nil {
			done = c.ResolvedOn
		}
	case lifecycle.StatusResolved:
		done = c.ResolvedOn
		if done == nil {
			done = c.ClosedOn
		}
	}
	if done == nil {
		return nil
	}
	if c.ReopenedOn != nil && done.Before(*c.ReopenedOn) {
		return nil
	}
	ts := done.UTC()
	return &ts
}
