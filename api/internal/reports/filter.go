package reports

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/shared/scopex"
)

// ErrMalformedFilter rejects unparseable filter input before any query runs,
// so a typo never silently matches zero rows.
var ErrMalformedFilter = errors.New("malformed aggregation filter")

var validPriorities = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "critical": {},
}

// AggregationFilter is an immutable, already-validated query input. From and
// To are inclusive UTC calendar days (midnight instants); To's day is part of
// the window. Empty string fields mean "any".
type AggregationFilter struct {
	From      time.Time
	To        time.Time
	WardID    string
	SubZoneID string
	Type      string
	Status    string
	Priority  string
	// Limit caps the returned row listing only; aggregates are always
	// computed over the unpaginated filtered set.
	Limit  int
	Offset int
}

// ParseFilter normalizes raw query parameters. Dates accept YYYY-MM-DD or
// RFC 3339 and are truncated to UTC calendar days. Missing dates default to
// the trailing 30 days.
func ParseFilter(q url.Values, now time.Time) (AggregationFilter, error) {
	now = now.UTC()
	f := AggregationFilter{
		From: dayOf(now.AddDate(0, 0, -29)),
		To:   dayOf(now),
	}

	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := parseDay(raw)
		if err != nil {
			return AggregationFilter{}, fmt.Errorf("%w: from: %v", ErrMalformedFilter, err)
		}
		f.From = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := parseDay(raw)
		if err != nil {
			return AggregationFilter{}, fmt.Errorf("%w: to: %v", ErrMalformedFilter, err)
		}
		f.To = t
	}
	if f.To.Before(f.From) {
		return AggregationFilter{}, fmt.Errorf("%w: to precedes from", ErrMalformedFilter)
	}

	f.WardID = strings.TrimSpace(q.Get("ward_id"))
	f.SubZoneID = strings.TrimSpace(q.Get("sub_zone_id"))
	f.Type = strings.ToUpper(strings.TrimSpace(q.Get("type")))

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := lifecycle.Normalize(raw)
		if !lifecycle.IsValid(status) {
			return AggregationFilter{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFilter, raw)
		}
		f.Status = status
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		priority := strings.ToLower(raw)
		if _, ok := validPriorities[priority]; !ok {
			return AggregationFilter{}, fmt.Errorf("%w: unknown priority %q", ErrMalformedFilter, raw)
		}
		f.Priority = priority
	}

	for param, dest := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := strings.TrimSpace(q.Get(param))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return AggregationFilter{}, fmt.Errorf("%w: %s %q", ErrMalformedFilter, param, raw)
		}
		*dest = n
	}
	return f, nil
}

// ApplyScope overlays the actor's role scope onto an already-parsed filter.
// Scope restrictions always win: a ward-scoped actor gets their own ward
// regardless of what the request asked for.
func ApplyScope(f AggregationFilter, scope scopex.Scope) AggregationFilter {
	if scope.CrossWard() {
		return f
	}
	f.WardID = scope.WardID
	if scope.SubZoneID != "" {
		f.SubZoneID = scope.SubZoneID
	}
	return f
}

// PreviousPeriod returns the immediately preceding window of equal length,
// used by the comparison block.
func PreviousPeriod(f AggregationFilter) AggregationFilter {
	days := DaysInclusive(f.From, f.To)
	prev := f
	prev.From = f.From.AddDate(0, 0, -days)
	prev.To = f.From.AddDate(0, 0, -1)
	prev.Limit = 0
	prev.Offset = 0
	return prev
}

// DaysInclusive counts UTC calendar days in [from, to], both inclusive.
func DaysInclusive(from, to time.Time) int {
	return int(dayOf(to).Sub(dayOf(from))/(24*time.Hour)) + 1
}

// WindowEnd is the exclusive upper bound instant of the filter window.
func (f AggregationFilter) WindowEnd() time.Time {
	return dayOf(f.To).AddDate(0, 0, 1)
}

// Contains reports whether the instant falls inside the filter window.
func (f AggregationFilter) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(dayOf(f.From)) && t.Before(f.WindowEnd())
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return dayOf(t), nil
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
