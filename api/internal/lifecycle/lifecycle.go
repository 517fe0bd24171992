package lifecycle

import (
	"errors"
	"strings"
	"time"

	"citizen-grievance-platform/api/internal/models"
)

const (
	StatusRegistered = "registered"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
	StatusReopened   = "reopened"
)

var ErrInvalidTransition = errors.New("invalid complaint transition")

// Reopening is allowed from both terminal statuses and returns the complaint
// to an active status; there is no cap on reopen count.
var transitions = map[string]map[string]struct{}{
	StatusRegistered: {
		StatusAssigned: {},
	},
	StatusAssigned: {
		StatusInProgress: {},
	},
	StatusInProgress: {
		StatusResolved: {},
	},
	StatusResolved: {
		StatusClosed:   {},
		StatusReopened: {},
	},
	StatusClosed: {
		StatusReopened: {},
	},
	StatusReopened: {
		StatusAssigned:   {},
		StatusInProgress: {},
		StatusResolved:   {},
	},
}

func Normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func IsValid(status string) bool {
	status = Normalize(status)
	if _, ok := transitions[status]; ok {
		return true
	}
	return false
}

// IsActive reports whether the status is in the pre-resolution pipeline for
// SLA purposes.
func IsActive(status string) bool {
	switch Normalize(status) {
	case StatusRegistered, StatusAssigned, StatusInProgress, StatusReopened:
		return true
	default:
		return false
	}
}

func IsTerminal(status string) bool {
	switch Normalize(status) {
	case StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

func CanTransition(fromStatus string, toStatus string) bool {
	next := transitions[Normalize(fromStatus)]
	if next == nil {
		return false
	}
	_, ok := next[Normalize(toStatus)]
	return ok
}

// Transition validates the status graph, mutates the complaint's status and
// resolution timestamps, and returns the log entry to append. The complaint
// is untouched when the transition is rejected. Role gating is the caller's
// concern; only the graph is enforced here.
func Transition(c *models.Complaint, toStatus string, actor string, comment string, now time.Time) (models.StatusLogEntry, error) {
	from := Normalize(c.Status)
	to := Normalize(toStatus)
	if !CanTransition(from, to) {
		return models.StatusLogEntry{}, ErrInvalidTransition
	}
	now = now.UTC()

	switch to {
	case StatusResolved:
		ts := now
		c.ResolvedOn = &ts
	case StatusClosed:
		ts := now
		c.ClosedOn = &ts
	case StatusReopened:
		// Each reopen resets the SLA clock.
		c.ResolvedOn = nil
		c.ClosedOn = nil
		ts := now
		c.ReopenedOn = &ts
	}
	c.Status = to
	c.UpdatedAt = now

	entry := models.StatusLogEntry{
		ComplaintID: c.ComplaintID,
		ToStatus:    to,
		Actor:       actor,
		OccurredAt:  now,
	}
	if from != "" {
		fromCopy := from
		entry.FromStatus = &fromCopy
	}
	if strings.TrimSpace(comment) != "" {
		commentCopy := strings.TrimSpace(comment)
		entry.Comment = &commentCopy
	}
	return entry, nil
}

func AllStatuses() []string {
	return []string{
		StatusRegistered,
		StatusAssigned,
		StatusInProgress,
		StatusResolved,
		StatusClosed,
		StatusReopened,
	}
}
