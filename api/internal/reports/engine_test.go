package reports

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"citizen-grievance-platform/api/internal/catalog"
	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/shared/scopex"
)

type memoryStore struct {
	complaints []models.Complaint
	wards      []models.Ward
	subZones   map[string][]models.SubZone
}

func (m *memoryStore) FetchComplaints(_ context.Context, f AggregationFilter) ([]models.Complaint, error) {
	var out []models.Complaint
	for _, c := range m.complaints {
		if !m.matches(c, f) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryStore) GroupedCounts(_ context.Context, f AggregationFilter, dims ...string) ([]models.GroupCount, error) {
	counts := map[[2]string]int{}
	bySubZone := len(dims) > 0 && dims[0] == "sub_zone_id"
	for _, c := range m.complaints {
		if !m.matches(c, f) {
			continue
		}
		region := c.WardID
		if bySubZone {
			region = ""
			if c.SubZoneID != nil {
				region = *c.SubZoneID
			}
		}
		counts[[2]string{region, c.Type}]++
	}
	var out []models.GroupCount
	for key, count := range counts {
		gc := models.GroupCount{Type: key[1], Count: count}
		if bySubZone {
			gc.SubZoneID = key[0]
		} else {
			gc.WardID = key[0]
		}
		out = append(out, gc)
	}
	return out, nil
}

func (m *memoryStore) ListWards(_ context.Context) ([]models.Ward, error) {
	return m.wards, nil
}

func (m *memoryStore) ListSubZones(_ context.Context, wardID string) ([]models.SubZone, error) {
	return m.subZones[wardID], nil
}

func (m *memoryStore) matches(c models.Complaint, f AggregationFilter) bool {
	if !f.Contains(c.SubmittedOn) {
		return false
	}
	if f.WardID != "" && c.WardID != f.WardID {
		return false
	}
	if f.SubZoneID != "" && (c.SubZoneID == nil || *c.SubZoneID != f.SubZoneID) {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Status != "" && lifecycle.Normalize(c.Status) != f.Status {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	return true
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func atp(value string) *time.Time {
	t := at(value)
	return &t
}

func seedResolver() *catalog.Resolver {
	return catalog.NewResolver(nil, nil, 5*time.Minute, catalog.WithSeed(map[string]catalog.SeedEntry{
		"WATER_SUPPLY": {DisplayName: "Water Supply", SLAHours: 48},
		"ROAD_REPAIR":  {DisplayName: "Road Repair", SLAHours: 72},
	}))
}

func complaint(wardID, typeKey, status string, submitted string) models.Complaint {
	return models.Complaint{
		ComplaintID: uuid.New(),
		Type:        typeKey,
		Status:      status,
		Priority:    "medium",
		WardID:      wardID,
		SubmittedOn: at(submitted),
	}
}

func filterFor(from, to string) AggregationFilter {
	return AggregationFilter{From: day(from), To: day(to)}
}

func adminScope() scopex.Scope {
	return scopex.Scope{Role: scopex.RoleAdmin, Subject: "admin-1"}
}

func newTestEngine(store *memoryStore, now string) *Engine {
	return NewEngine(store, seedResolver(), WithEngineClock(func() time.Time { return at(now) }))
}

func TestParseFilterRejectsUnknownStatus(t *testing.T) {
	q := url.Values{"status": {"nonsense"}}
	if _, err := ParseFilter(q, time.Now()); err == nil {
		t.Fatalf("expected malformed filter error")
	}
	q = url.Values{"from": {"2024-02-01"}, "to": {"2024-01-01"}}
	if _, err := ParseFilter(q, time.Now()); err == nil {
		t.Fatalf("expected inverted range to be rejected")
	}
	q = url.Values{"from": {"not-a-date"}}
	if _, err := ParseFilter(q, time.Now()); err == nil {
		t.Fatalf("expected bad date to be rejected")
	}
}

func TestParseFilterNormalizes(t *testing.T) {
	q := url.Values{
		"from":     {"2024-01-01"},
		"to":       {"2024-01-31T15:04:05Z"},
		"status":   {" Resolved "},
		"type":     {"water_supply"},
		"priority": {"HIGH"},
	}
	f, err := ParseFilter(q, time.Now())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.Status != lifecycle.StatusResolved || f.Type != "WATER_SUPPLY" || f.Priority != "high" {
		t.Fatalf("unexpected normalization: %+v", f)
	}
	if !f.To.Equal(day("2024-01-31")) {
		t.Fatalf("expected to truncated to calendar day, got %v", f.To)
	}
}

func TestTrendLengthCoversEveryDay(t *testing.T) {
	store := &memoryStore{}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	cases := []struct {
		from, to string
		want     int
	}{
		{"2024-01-01", "2024-01-01", 1},
		{"2024-01-01", "2024-01-31", 31},
		{"2023-01-01", "2024-12-31", 731}, // spans a leap year
	}
	for _, tc := range cases {
		report, err := e.Aggregate(context.Background(), filterFor(tc.from, tc.to), adminScope())
		if err != nil {
			t.Fatalf("aggregate failed: %v", err)
		}
		if len(report.Trend) != tc.want {
			t.Fatalf("[%s..%s] expected %d trend buckets, got %d", tc.from, tc.to, tc.want, len(report.Trend))
		}
	}
}

func TestTrendZeroFillsQuietDays(t *testing.T) {
	c := complaint("W1", "WATER_SUPPLY", lifecycle.StatusResolved, "2024-01-02T10:00:00Z")
	c.ResolvedOn = atp("2024-01-04T09:00:00Z")
	store := &memoryStore{complaints: []models.Complaint{c}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	report, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-05"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(report.Trend) != 5 {
		t.Fatalf("expected 5 buckets, got %d", len(report.Trend))
	}
	wantSubmitted := []int{0, 1, 0, 0, 0}
	wantResolved := []int{0, 0, 0, 1, 0}
	for i, b := range report.Trend {
		if b.Submitted != wantSubmitted[i] || b.Resolved != wantResolved[i] {
			t.Fatalf("bucket %d (%s): got submitted=%d resolved=%d", i, b.Date, b.Submitted, b.Resolved)
		}
	}
}

func TestComplianceExcludesUnresolvableTypes(t *testing.T) {
	compliant := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	compliant.ResolvedOn = atp("2024-01-02T00:00:00Z")
	compliant.ClosedOn = atp("2024-01-02T12:00:00Z")

	// No seed, store, or override for this type: excluded from the
	// percentage entirely.
	noSLA := complaint("W1", "UNMAPPED_TYPE", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	noSLA.ClosedOn = atp("2024-03-01T00:00:00Z")

	store := &memoryStore{complaints: []models.Complaint{compliant, noSLA, noSLA}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	report, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-31"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if report.Compliance != 100 {
		t.Fatalf("expected 100%% compliance with unresolvable types excluded, got %v", report.Compliance)
	}
}

func TestComplianceCountsLateClosures(t *testing.T) {
	late := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	late.ClosedOn = atp("2024-01-10T00:00:00Z")
	onTime := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	onTime.ClosedOn = atp("2024-01-02T00:00:00Z")

	store := &memoryStore{complaints: []models.Complaint{late, onTime}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	report, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-31"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if report.Compliance != 50 {
		t.Fatalf("expected 50%% compliance, got %v", report.Compliance)
	}
}

func TestAverageResolutionDaysCeils(t *testing.T) {
	quick := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	quick.ClosedOn = atp("2024-01-01T02:00:00Z") // 2h -> 1 day
	slow := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-01T00:00:00Z")
	slow.ClosedOn = atp("2024-01-03T01:00:00Z") // 49h -> 3 days

	store := &memoryStore{complaints: []models.Complaint{quick, slow}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	report, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-31"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if report.AvgResolution != 2 {
		t.Fatalf("expected avg 2 days, got %v", report.AvgResolution)
	}
}

func TestScopeOverridesRequestedWard(t *testing.T) {
	store := &memoryStore{complaints: []models.Complaint{
		complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-02T00:00:00Z"),
		complaint("W1", "ROAD_REPAIR", lifecycle.StatusRegistered, "2024-01-03T00:00:00Z"),
		complaint("W2", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-04T00:00:00Z"),
	}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")
	scoped := scopex.Scope{Role: scopex.RoleWardOfficer, WardID: "W1", Subject: "officer-1"}

	noFilter, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-31"), scoped)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	ownWard := filterFor("2024-01-01", "2024-01-31")
	ownWard.WardID = "W1"
	withOwn, err := e.Aggregate(context.Background(), ownWard, scoped)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	otherWard := filterFor("2024-01-01", "2024-01-31")
	otherWard.WardID = "W2"
	withOther, err := e.Aggregate(context.Background(), otherWard, scoped)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if noFilter.Total != 2 || withOwn.Total != 2 || withOther.Total != 2 {
		t.Fatalf("scoped totals must be identical and ward-bound: %d / %d / %d",
			noFilter.Total, withOwn.Total, withOther.Total)
	}
	if len(noFilter.Wards) != 0 {
		t.Fatalf("ward breakdowns must be withheld from ward-scoped actors")
	}
}

func TestComparisonDeltaRules(t *testing.T) {
	store := &memoryStore{complaints: []models.Complaint{
		complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-16T00:00:00Z"),
		complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-17T00:00:00Z"),
	}}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	// Previous window 2024-01-01..15 is empty: zero-previous rule applies.
	report, err := e.Aggregate(context.Background(), filterFor("2024-01-16", "2024-01-30"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if report.Comparison.TotalDelta != "+100%" {
		t.Fatalf("expected +100%% for zero previous total, got %s", report.Comparison.TotalDelta)
	}
	if report.Comparison.ResolvedDelta != "0%" {
		t.Fatalf("expected 0%% when both periods are zero, got %s", report.Comparison.ResolvedDelta)
	}

	// Shift the window so the previous period holds one complaint.
	store.complaints = append(store.complaints,
		complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-01T00:00:00Z"))
	report, err = e.Aggregate(context.Background(), filterFor("2024-01-16", "2024-01-30"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if report.Comparison.TotalDelta != "+100.0%" {
		t.Fatalf("expected +100.0%% (1 -> 2), got %s", report.Comparison.TotalDelta)
	}
}

func TestMatrixWardRowsAndFrequencyOrderedColumns(t *testing.T) {
	store := &memoryStore{
		complaints: []models.Complaint{
			complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-02T00:00:00Z"),
			complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-03T00:00:00Z"),
			complaint("W2", "ROAD_REPAIR", lifecycle.StatusRegistered, "2024-01-04T00:00:00Z"),
		},
		wards: []models.Ward{
			{WardID: "W1", Name: "North Ward"},
			{WardID: "W2", Name: "South Ward"},
			{WardID: "W3", Name: "East Ward"},
		},
	}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")

	matrix, err := e.BuildMatrix(context.Background(), filterFor("2024-01-01", "2024-01-31"), adminScope())
	if err != nil {
		t.Fatalf("matrix failed: %v", err)
	}
	if matrix.RowDimension != RowDimensionWard {
		t.Fatalf("expected ward rows, got %s", matrix.RowDimension)
	}
	if len(matrix.RowIDs) != 3 {
		t.Fatalf("zero-activity wards must still appear, got rows %v", matrix.RowIDs)
	}
	if matrix.ColumnKeys[0] != "WATER_SUPPLY" || matrix.ColumnKeys[1] != "ROAD_REPAIR" {
		t.Fatalf("columns must order by descending frequency, got %v", matrix.ColumnKeys)
	}
	if matrix.ColumnLabels[0] != "Water Supply" {
		t.Fatalf("column labels must resolve display names, got %v", matrix.ColumnLabels)
	}
	if matrix.Cells[0][0] != 2 || matrix.Cells[1][1] != 1 || matrix.Cells[2][0] != 0 {
		t.Fatalf("unexpected cells: %v", matrix.Cells)
	}
}

func TestMatrixSwitchesToSubZonesWhenWardPinned(t *testing.T) {
	sz := "SZ1"
	c := complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-02T00:00:00Z")
	c.SubZoneID = &sz
	store := &memoryStore{
		complaints: []models.Complaint{c},
		subZones: map[string][]models.SubZone{
			"W1": {
				{SubZoneID: "SZ1", WardID: "W1", Name: "Sector 1"},
				{SubZoneID: "SZ2", WardID: "W1", Name: "Sector 2"},
			},
		},
	}
	e := newTestEngine(store, "2024-06-01T00:00:00Z")
	scoped := scopex.Scope{Role: scopex.RoleWardOfficer, WardID: "W1", Subject: "officer-1"}

	matrix, err := e.BuildMatrix(context.Background(), filterFor("2024-01-01", "2024-01-31"), scoped)
	if err != nil {
		t.Fatalf("matrix failed: %v", err)
	}
	if matrix.RowDimension != RowDimensionSubZone {
		t.Fatalf("expected sub-zone rows for a pinned ward, got %s", matrix.RowDimension)
	}
	if len(matrix.RowIDs) != 2 || matrix.Cells[0][0] != 1 || matrix.Cells[1][0] != 0 {
		t.Fatalf("unexpected sub-zone grid: rows=%v cells=%v", matrix.RowIDs, matrix.Cells)
	}
}

func TestStatusBuckets(t *testing.T) {
	overdue := complaint("W1", "WATER_SUPPLY", lifecycle.StatusInProgress, "2024-01-01T00:00:00Z")
	fresh := complaint("W1", "WATER_SUPPLY", lifecycle.StatusRegistered, "2024-01-20T00:00:00Z")
	closed := complaint("W1", "WATER_SUPPLY", lifecycle.StatusClosed, "2024-01-02T00:00:00Z")
	closed.ClosedOn = atp("2024-01-03T00:00:00Z")

	store := &memoryStore{complaints: []models.Complaint{overdue, fresh, closed}}
	// Now is far past the 48h SLA of the in-progress complaint.
	e := newTestEngine(store, "2024-01-21T00:00:00Z")

	report, err := e.Aggregate(context.Background(), filterFor("2024-01-01", "2024-01-31"), adminScope())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	b := report.Buckets
	if b.Active != 1 || b.Pending != 1 || b.Resolved != 1 || b.Overdue != 1 {
		t.Fatalf("unexpected buckets: %+v", b)
	}
}
