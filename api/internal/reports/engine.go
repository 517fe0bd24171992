package reports

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"citizen-grievance-platform/api/internal/catalog"
	"citizen-grievance-platform/api/internal/lifecycle"
	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/api/internal/sla"
	"citizen-grievance-platform/shared/metricsx"
	"citizen-grievance-platform/shared/scopex"
)

// Store is the persistence collaborator: one bounded query per aggregation,
// never per-row round trips.
type Store interface {
	FetchComplaints(ctx context.Context, f AggregationFilter) ([]models.Complaint, error)
	GroupedCounts(ctx context.Context, f AggregationFilter, dimensions ...string) ([]models.GroupCount, error)
	ListWards(ctx context.Context) ([]models.Ward, error)
	ListSubZones(ctx context.Context, wardID string) ([]models.SubZone, error)
}

// TypeResolver is the shared type-key resolution surface; *catalog.Resolver
// satisfies it.
type TypeResolver interface {
	ResolveSLAHours(ctx context.Context, typeKey string, defaultHours float64) (float64, string)
	ResolveDisplayName(ctx context.Context, typeKey string) string
}

type Engine struct {
	store         Store
	types         TypeResolver
	defaultHours  float64
	warningWindow time.Duration
	now           func() time.Time
}

type EngineOption func(*Engine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithDefaultSLAHours(hours float64) EngineOption {
	return func(e *Engine) { e.defaultHours = hours }
}

func WithWarningWindow(window time.Duration) EngineOption {
	return func(e *Engine) { e.warningWindow = window }
}

func NewEngine(store Store, types TypeResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         store,
		types:         types,
		warningWindow: sla.DefaultWarningWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type StatusBuckets struct {
	Active   int `json:"active"`
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Overdue  int `json:"overdue"`
}

type TrendBucket struct {
	Date      string `json:"date"`
	Submitted int    `json:"submitted"`
	Resolved  int    `json:"resolved"`
}

type WardBreakdown struct {
	WardID        string  `json:"ward_id"`
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	ResolvedCount int     `json:"resolved_count"`
	AvgDays       float64 `json:"avg_days"`
	Compliance    float64 `json:"compliance"`
}

type CategoryBreakdown struct {
	TypeKey     string  `json:"type_key"`
	DisplayName string  `json:"display_name"`
	Color       string  `json:"color"`
	Count       int     `json:"count"`
	Share       float64 `json:"share"`
}

type Comparison struct {
	TotalDelta      string `json:"total_delta"`
	ResolvedDelta   string `json:"resolved_delta"`
	ComplianceDelta string `json:"compliance_delta"`
}

type AggregateReport struct {
	From          string              `json:"from"`
	To            string              `json:"to"`
	Total         int                 `json:"total"`
	Buckets       StatusBuckets       `json:"buckets"`
	Compliance    float64             `json:"compliance"`
	AvgResolution float64             `json:"avg_resolution_days"`
	Trend         []TrendBucket       `json:"trend"`
	Wards         []WardBreakdown     `json:"wards,omitempty"`
	Categories    []CategoryBreakdown `json:"categories"`
	Comparison    Comparison          `json:"comparison"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// Aggregate builds the full dashboard report for a filter under the actor's
// scope. The scope is applied after parsing and always wins; ward breakdowns
// are included only for actors with cross-ward visibility.
func (e *Engine) Aggregate(ctx context.Context, f AggregationFilter, scope scopex.Scope) (AggregateReport, error) {
	start := time.Now()
	defer func() { metricsx.ObserveReportBuild("aggregate", time.Since(start)) }()

	f = ApplyScope(f, scope)
	current, err := e.store.FetchComplaints(ctx, f)
	if err != nil {
		return AggregateReport{}, fmt.Errorf("fetch complaints: %w", err)
	}
	previous, err := e.store.FetchComplaints(ctx, PreviousPeriod(f))
	if err != nil {
		return AggregateReport{}, fmt.Errorf("fetch comparison complaints: %w", err)
	}

	now := e.now()
	report := AggregateReport{
		From:        f.From.Format("2006-01-02"),
		To:          f.To.Format("2006-01-02"),
		Total:       len(current),
		GeneratedAt: now,
	}
	report.Buckets = e.bucketize(ctx, current, now)
	report.Compliance = e.compliance(ctx, current)
	report.AvgResolution = averageResolutionDays(current)
	report.Trend = e.trend(f, current)
	report.Categories = e.categories(ctx, current)
	if scope.CrossWard() {
		wards, err := e.store.ListWards(ctx)
		if err != nil {
			return AggregateReport{}, fmt.Errorf("list wards: %w", err)
		}
		report.Wards = e.wardBreakdowns(ctx, wards, current)
	}
	report.Comparison = e.comparison(ctx, current, previous)
	return report, nil
}

func (e *Engine) bucketize(ctx context.Context, complaints []models.Complaint, now time.Time) StatusBuckets {
	var b StatusBuckets
	for _, c := range complaints {
		switch {
		case lifecycle.IsTerminal(c.Status):
			b.Resolved++
		case lifecycle.Normalize(c.Status) == lifecycle.StatusRegistered:
			b.Pending++
		default:
			b.Active++
		}
		if lifecycle.IsActive(c.Status) {
			if e.classify(ctx, c, now) == sla.StatusOverdue {
				b.Overdue++
			}
		}
	}
	return b
}

// compliance is the fraction of SLA-eligible terminal complaints completed
// at-or-before their deadline, as a percentage. Complaints whose type has no
// resolvable SLA hours are excluded from numerator and denominator.
func (e *Engine) compliance(ctx context.Context, complaints []models.Complaint) float64 {
	eligible, compliant := 0, 0
	for _, c := range complaints {
		if !lifecycle.IsTerminal(c.Status) {
			continue
		}
		hours, _ := e.types.ResolveSLAHours(ctx, c.Type, e.defaultHours)
		deadline := sla.ComputeDeadline(c, hours)
		if deadline == nil {
			continue
		}
		switch sla.Classify(c, deadline, e.now(), e.warningWindow) {
		case sla.StatusCompleted:
			eligible++
			compliant++
		case sla.StatusOverdue:
			eligible++
		}
	}
	if eligible == 0 {
		return 0
	}
	return round1(float64(compliant) / float64(eligible) * 100)
}

// averageResolutionDays ceils each terminal complaint's submission-to-close
// span to whole days, then averages. Complaints without a completion
// timestamp are skipped rather than failing the report.
func averageResolutionDays(complaints []models.Complaint) float64 {
	totalDays, samples := 0, 0
	for _, c := range complaints {
		if !lifecycle.IsTerminal(c.Status) {
			continue
		}
		done := c.ClosedOn
		if done == nil {
			done = c.ResolvedOn
		}
		if done == nil || done.Before(c.SubmittedOn) {
			continue
		}
		days := int(math.Ceil(done.Sub(c.SubmittedOn).Hours() / 24))
		if days < 1 {
			days = 1
		}
		totalDays += days
		samples++
	}
	if samples == 0 {
		return 0
	}
	return round1(float64(totalDays) / float64(samples))
}

// trend emits one bucket per UTC calendar day in [from, to]; quiet days
// appear with zero values so chart axes stay continuous.
func (e *Engine) trend(f AggregationFilter, complaints []models.Complaint) []TrendBucket {
	days := DaysInclusive(f.From, f.To)
	buckets := make([]TrendBucket, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := dayOf(f.From).AddDate(0, 0, i).Format("2006-01-02")
		buckets[i] = TrendBucket{Date: date}
		index[date] = i
	}
	for _, c := range complaints {
		if i, ok := index[c.SubmittedOn.UTC().Format("2006-01-02")]; ok {
			buckets[i].Submitted++
		}
		done := c.ClosedOn
		if done == nil {
			done = c.ResolvedOn
		}
		if done != nil && lifecycle.IsTerminal(c.Status) {
			if i, ok := index[done.UTC().Format("2006-01-02")]; ok {
				buckets[i].Resolved++
			}
		}
	}
	return buckets
}

func (e *Engine) categories(ctx context.Context, complaints []models.Complaint) []CategoryBreakdown {
	counts := map[string]int{}
	for _, c := range complaints {
		counts[catalog.NormalizeKey(c.Type)]++
	}
	out := make([]CategoryBreakdown, 0, len(counts))
	for key, count := range counts {
		share := 0.0
		if len(complaints) > 0 {
			share = round1(float64(count) / float64(len(complaints)) * 100)
		}
		out = append(out, CategoryBreakdown{
			TypeKey:     key,
			DisplayName: e.types.ResolveDisplayName(ctx, key),
			Color:       catalog.ColorFor(key),
			Count:       count,
			Share:       share,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TypeKey < out[j].TypeKey
	})
	return out
}

func (e *Engine) wardBreakdowns(ctx context.Context, wards []models.Ward, complaints []models.Complaint) []WardBreakdown {
	byWard := map[string][]models.Complaint{}
	for _, c := range complaints {
		byWard[c.WardID] = append(byWard[c.WardID], c)
	}
	out := make([]WardBreakdown, 0, len(wards))
	for _, w := range wards {
		subset := byWard[w.WardID]
		resolved := 0
		for _, c := range subset {
			if lifecycle.IsTerminal(c.Status) {
				resolved++
			}
		}
		out = append(out, WardBreakdown{
			WardID:        w.WardID,
			Name:          w.Name,
			Count:         len(subset),
			ResolvedCount: resolved,
			AvgDays:       averageResolutionDays(subset),
			Compliance:    e.compliance(ctx, subset),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WardID < out[j].WardID })
	return out
}

func (e *Engine) comparison(ctx context.Context, current, previous []models.Complaint) Comparison {
	resolvedCount := func(set []models.Complaint) int {
		n := 0
		for _, c := range set {
			if lifecycle.IsTerminal(c.Status) {
				n++
			}
		}
		return n
	}
	return Comparison{
		TotalDelta:      formatDelta(float64(len(current)), float64(len(previous))),
		ResolvedDelta:   formatDelta(float64(resolvedCount(current)), float64(resolvedCount(previous))),
		ComplianceDelta: formatDelta(e.compliance(ctx, current), e.compliance(ctx, previous)),
	}
}

func (e *Engine) classify(ctx context.Context, c models.Complaint, now time.Time) string {
	hours, _ := e.types.ResolveSLAHours(ctx, c.Type, e.defaultHours)
	return sla.Classify(c, sla.ComputeDeadline(c, hours), now, e.warningWindow)
}

// formatDelta renders a signed percentage change; a zero previous value maps
// to "+100%" when the current value is non-zero and "0%" when both are zero.
func formatDelta(current, previous float64) string {
	if previous == 0 {
		if current == 0 {
			return "0%"
		}
		return "+100%"
	}
	delta := (current - previous) / previous * 100
	if delta == 0 {
		return "0%"
	}
	return fmt.Sprintf("%+.1f%%", delta)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
