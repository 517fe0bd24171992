package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"citizen-grievance-platform/api/internal/models"
)

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusRegistered, StatusAssigned) {
		t.Fatalf("expected registered -> assigned to be allowed")
	}
	if CanTransition(StatusRegistered, StatusResolved) {
		t.Fatalf("expected registered -> resolved to be blocked")
	}
	if !CanTransition(StatusClosed, StatusReopened) {
		t.Fatalf("expected closed -> reopened to be allowed")
	}
	if CanTransition(StatusClosed, StatusAssigned) {
		t.Fatalf("expected closed -> assigned to be blocked")
	}
}

func TestTransitionSetsAndClearsTimestamps(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := models.Complaint{
		ComplaintID: uuid.New(),
		Status:      StatusInProgress,
		SubmittedOn: now.Add(-48 * time.Hour),
	}

	entry, err := Transition(&c, StatusResolved, "officer-1", "fixed", now)
	if err != nil {
		t.Fatalf("resolve transition failed: %v", err)
	}
	if c.ResolvedOn == nil || !c.ResolvedOn.Equal(now) {
		t.Fatalf("expected resolvedOn to be set to now, got %v", c.ResolvedOn)
	}
	if entry.FromStatus == nil || *entry.FromStatus != StatusInProgress {
		t.Fatalf("unexpected from status: %v", entry.FromStatus)
	}
	if entry.Comment == nil || *entry.Comment != "fixed" {
		t.Fatalf("unexpected comment: %v", entry.Comment)
	}

	later := now.Add(2 * time.Hour)
	if _, err := Transition(&c, StatusClosed, "officer-1", "", later); err != nil {
		t.Fatalf("close transition failed: %v", err)
	}
	if c.ClosedOn == nil || !c.ClosedOn.Equal(later) {
		t.Fatalf("expected closedOn to be set, got %v", c.ClosedOn)
	}

	reopenAt := later.Add(24 * time.Hour)
	if _, err := Transition(&c, StatusReopened, "citizen-9", "not fixed", reopenAt); err != nil {
		t.Fatalf("reopen transition failed: %v", err)
	}
	if c.ResolvedOn != nil || c.ClosedOn != nil {
		t.Fatalf("expected resolution timestamps cleared on reopen")
	}
	if c.ReopenedOn == nil || !c.ReopenedOn.Equal(reopenAt) {
		t.Fatalf("expected reopenedOn to anchor the new SLA clock, got %v", c.ReopenedOn)
	}
}

func TestTransitionRejectedLeavesComplaintUnchanged(t *testing.T) {
	c := models.Complaint{Status: StatusRegistered}
	_, err := Transition(&c, StatusClosed, "officer-1", "", time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if c.Status != StatusRegistered || c.ClosedOn != nil {
		t.Fatalf("complaint mutated on rejected transition: %+v", c)
	}
}

func TestReopenAllowedRepeatedly(t *testing.T) {
	c := models.Complaint{Status: StatusResolved}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		if _, err := Transition(&c, StatusReopened, "citizen", "", at); err != nil {
			t.Fatalf("reopen %d failed: %v", i, err)
		}
		if _, err := Transition(&c, StatusResolved, "officer", "", at.Add(time.Hour)); err != nil {
			t.Fatalf("re-resolve %d failed: %v", i, err)
		}
	}
	if c.ReopenedOn == nil || !c.ReopenedOn.Equal(base.Add(4*24*time.Hour)) {
		t.Fatalf("expected latest reopen to win, got %v", c.ReopenedOn)
	}
}

func TestIsActive(t *testing.T) {
	for _, status := range []string{StatusRegistered, StatusAssigned, StatusInProgress, StatusReopened} {
		if !IsActive(status) {
			t.Fatalf("expected %s to be active", status)
		}
	}
	for _, status := range []string{StatusResolved, StatusClosed} {
		if IsActive(status) {
			t.Fatalf("expected %s to be inactive", status)
		}
		if !IsTerminal(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
}
