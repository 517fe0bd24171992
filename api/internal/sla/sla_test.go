package sla

import (
	"testing"
	"time"

	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/models"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(value string) *time.Time {
	t := ts(value)
	return &t
}

func TestComputeDeadlineFromSubmission(t *testing.T) {
	c := models.Complaint{SubmittedOn: ts("2024-01-01T00:00:00Z")}
	deadline := ComputeDeadline(c, 48)
	if deadline == nil || !deadline.Equal(ts("2024-01-03T00:00:00Z")) {
		t.Fatalf("expected deadline 2024-01-03T00:00, got %v", deadline)
	}
}

func TestComputeDeadlineRestartsAtReopen(t *testing.T) {
	c := models.Complaint{
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
		ReopenedOn:  tsp("2024-01-02T12:00:00Z"),
	}
	before := ComputeDeadline(models.Complaint{SubmittedOn: c.SubmittedOn}, 48)
	after := ComputeDeadline(c, 48)
	if after == nil || !after.Equal(ts("2024-01-04T12:00:00Z")) {
		t.Fatalf("expected deadline 2024-01-04T12:00, got %v", after)
	}
	if !after.After(*before) {
		t.Fatalf("reopen must strictly increase the deadline: %v vs %v", after, before)
	}
}

func TestComputeDeadlineFallsBackToOverride(t *testing.T) {
	c := models.Complaint{
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
		Deadline:    tsp("2024-01-10T00:00:00Z"),
	}
	deadline := ComputeDeadline(c, 0)
	if deadline == nil || !deadline.Equal(ts("2024-01-10T00:00:00Z")) {
		t.Fatalf("expected override deadline, got %v", deadline)
	}
	if got := ComputeDeadline(models.Complaint{SubmittedOn: c.SubmittedOn}, 0); got != nil {
		t.Fatalf("expected nil deadline without hours or override, got %v", got)
	}
}

func TestClassifyNoDeadlineIsNotApplicable(t *testing.T) {
	c := models.Complaint{Status: lifecycle.StatusInProgress}
	if got := Classify(c, nil, ts("2024-01-05T00:00:00Z"), DefaultWarningWindow); got != StatusNotApplicable {
		t.Fatalf("expected na, got %s", got)
	}
}

func TestClassifyResolvedOnTime(t *testing.T) {
	c := models.Complaint{
		Status:      lifecycle.StatusResolved,
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
		ResolvedOn:  tsp("2024-01-02T23:00:00Z"),
	}
	deadline := ComputeDeadline(c, 48)
	got := Classify(c, deadline, ts("2024-06-01T00:00:00Z"), DefaultWarningWindow)
	if got != StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if HistoricalStatus(got) != StatusOnTime {
		t.Fatalf("expected completed to report on_time historically")
	}
}

func TestClassifyTerminalIndependentOfNow(t *testing.T) {
	c := models.Complaint{
		Status:      lifecycle.StatusClosed,
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
		ClosedOn:    tsp("2024-01-02T23:00:00Z"),
	}
	deadline := ComputeDeadline(c, 48)
	early := Classify(c, deadline, ts("2024-01-02T23:30:00Z"), DefaultWarningWindow)
	late := Classify(c, deadline, ts("2030-01-01T00:00:00Z"), DefaultWarningWindow)
	if early != late || early != StatusCompleted {
		t.Fatalf("terminal classification must not depend on now: %s vs %s", early, late)
	}
}

func TestClassifyStaleResolutionIgnoredAfterReopen(t *testing.T) {
	// Resolved before the reopen instant: the old resolution no longer counts
	// and the resolution after the reopen is measured against the new
	// deadline.
	c := models.Complaint{
		Status:      lifecycle.StatusResolved,
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
		ReopenedOn:  tsp("2024-01-02T12:00:00Z"),
		ResolvedOn:  tsp("2024-01-02T23:00:00Z"),
	}
	deadline := ComputeDeadline(c, 48)
	if deadline == nil || !deadline.Equal(ts("2024-01-04T12:00:00Z")) {
		t.Fatalf("expected reopen-based deadline, got %v", deadline)
	}

	stale := c
	stale.ResolvedOn = tsp("2024-01-02T00:00:00Z")
	if got := Classify(stale, deadline, ts("2024-01-03T00:00:00Z"), DefaultWarningWindow); got != StatusOnTime {
		t.Fatalf("stale resolution must classify as live on_time, got %s", got)
	}

	lateResolve := c
	lateResolve.ResolvedOn = tsp("2024-01-05T00:00:00Z")
	if got := Classify(lateResolve, deadline, ts("2024-01-05T01:00:00Z"), DefaultWarningWindow); got != StatusOverdue {
		t.Fatalf("resolution past the reopen deadline must be overdue, got %s", got)
	}
}

func TestClassifyLiveOrdering(t *testing.T) {
	c := models.Complaint{
		Status:      lifecycle.StatusInProgress,
		SubmittedOn: ts("2024-01-01T00:00:00Z"),
	}
	deadline := ComputeDeadline(c, 48)

	cases := []struct {
		now  string
		want string
	}{
		{"2024-01-01T12:00:00Z", StatusOnTime},
		{"2024-01-02T00:00:00Z", StatusWarning},  // exactly 24h before the deadline
		{"2024-01-02T23:59:00Z", StatusWarning},
		{"2024-01-03T00:01:00Z", StatusOverdue},  // overdue wins over warning
	}
	for _, tc := range cases {
		if got := Classify(c, deadline, ts(tc.now), DefaultWarningWindow); got != tc.want {
			t.Fatalf("now=%s: expected %s, got %s", tc.now, tc.want, got)
		}
	}
}

func TestClassifyReturnsOneOfFiveValues(t *testing.T) {
	valid := map[string]bool{
		StatusOnTime:        true,
		StatusWarning:       true,
		StatusOverdue:       true,
		StatusNotApplicable: true,
		StatusCompleted:     true,
	}
	now := ts("2024-02-01T00:00:00Z")
	complaints := []models.Complaint{
		{Status: lifecycle.StatusRegistered, SubmittedOn: ts("2024-01-01T00:00:00Z")},
		{Status: lifecycle.StatusResolved, SubmittedOn: ts("2024-01-01T00:00:00Z"), ResolvedOn: tsp("2024-01-05T00:00:00Z")},
		{Status: lifecycle.StatusClosed, SubmittedOn: ts("2024-01-01T00:00:00Z")},
		{Status: lifecycle.StatusReopened, SubmittedOn: ts("2024-01-01T00:00:00Z"), ReopenedOn: tsp("2024-01-31T00:00:00Z")},
	}
	for _, hours := range []float64{0, 48} {
		for _, c := range complaints {
			got := Classify(c, ComputeDeadline(c, hours), now, DefaultWarningWindow)
			if !valid[got] {
				t.Fatalf("unexpected classification %q", got)
			}
		}
	}
}
