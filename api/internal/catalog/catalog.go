package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"citizen-grievance-platform/api/internal/models"
	"citizen-grievance-platform/shared/metricsx"
)

// Source identifies which link of the fallback chain produced a value.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceSeed    = "seed"
	SourceDefault = "default"
)

const (
	cacheKeyPrefix  = "slacfg:type:"
	cacheKeyCatalog = "slacfg:catalog"
)

// legacyKeyPrefix is the flat key-value form kept for deployments that
// predate the structured type catalog.
const legacyKeyPrefix = "COMPLAINT_TYPE_"

// Store is the live configuration persistence collaborator.
type Store interface {
	GetTypeConfig(ctx context.Context, typeKey string) (models.ComplaintTypeConfig, bool, error)
	ListTypeConfigs(ctx context.Context) ([]models.ComplaintTypeConfig, error)
	GetLegacyValue(ctx context.Context, key string) (string, bool, error)
	UpsertConfig(ctx context.Context, typeKey string, slaHours float64, description string) error
}

// Cache is the shared cache surface; satisfied by cachex.Client and by
// in-memory fakes in tests.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type TypeRecord struct {
	TypeKey     string  `json:"type_key"`
	DisplayName string  `json:"display_name"`
	SLAHours    float64 `json:"sla_hours"`
	HasSLA      bool    `json:"has_sla"`
	Priority    string  `json:"priority"`
	FetchedAt   time.Time `json:"fetched_at"`
	Source      string  `json:"source"`
}

// Resolver resolves complaint-type keys to SLA hours and display names
// through the cache, store, seed, default chain. It is the single shared
// component for type-key resolution; the report engine and the matrix
// builder must not reimplement the chain.
type Resolver struct {
	store Store
	cache Cache
	seed  map[string]SeedEntry
	ttl   time.Duration
	now   func() time.Time
}

type SeedEntry struct {
	DisplayName string
	SLAHours    float64
	Priority    string
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithSeed(seed map[string]SeedEntry) Option {
	return func(r *Resolver) { r.seed = seed }
}

func NewResolver(store Store, cache Cache, ttl time.Duration, opts ...Option) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	r := &Resolver{
		store: store,
		cache: cache,
		seed:  DefaultSeed(),
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSLAHours resolves the SLA hours for a type key. defaultHours <= 0
// means no default: the returned record reports HasSLA=false and the caller
// treats the complaint's SLA as not applicable. Defaults are never cached so
// a recovered store is consulted again.
func (r *Resolver) ResolveSLAHours(ctx context.Context, typeKey string, defaultHours float64) (float64, string) {
	record := r.Resolve(ctx, typeKey)
	if record.HasSLA {
		return record.SLAHours, record.Source
	}
	metricsx.IncConfigResolution(SourceDefault)
	if defaultHours > 0 {
		return defaultHours, SourceDefault
	}
	return 0, SourceDefault
}

// ResolveDisplayName resolves the human label for a type key, falling back
// to the raw key as a last resort.
func (r *Resolver) ResolveDisplayName(ctx context.Context, typeKey string) string {
	record := r.Resolve(ctx, typeKey)
	if strings.TrimSpace(record.DisplayName) != "" {
		return record.DisplayName
	}
	return typeKey
}

// Resolve walks the ordered chain: a fresh cache entry wins, then the store
// (structured catalog first, legacy key-value second), then the static seed.
// Store failures are non-fatal and degrade to the seed; they must never break
// SLA computation.
func (r *Resolver) Resolve(ctx context.Context, typeKey string) TypeRecord {
	typeKey = NormalizeKey(typeKey)

	type step struct {
		source string
		fn     func(context.Context, string) (TypeRecord, bool)
	}
	chain := []step{
		{SourceCache, r.fromCache},
		{SourceStore, r.fromStore},
		{SourceSeed, r.fromSeed},
	}
	for _, s := range chain {
		record, ok := s.fn(ctx, typeKey)
		if !ok {
			continue
		}
		record.TypeKey = typeKey
		record.Source = s.source
		metricsx.IncConfigResolution(s.source)
		if s.source != SourceCache {
			r.populateCache(ctx, typeKey, record)
		}
		return record
	}
	return TypeRecord{TypeKey: typeKey, Source: SourceDefault}
}

// Update writes SLA hours for a type key. Writes go only to the live store;
// a store failure is surfaced and the cache is left untouched. On success
// both the specific entry and the full-catalog entry are invalidated.
func (r *Resolver) Update(ctx context.Context, typeKey string, slaHours float64, description string) error {
	typeKey = NormalizeKey(typeKey)
	if typeKey == "" {
		return fmt.Errorf("type key is required")
	}
	if slaHours <= 0 {
		return fmt.Errorf("sla hours must be > 0")
	}
	if r.store == nil {
		return fmt.Errorf("config store not configured")
	}
	if err := r.store.UpsertConfig(ctx, typeKey, slaHours, description); err != nil {
		return fmt.Errorf("upsert config %s: %w", typeKey, err)
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, cacheKeyPrefix+typeKey, cacheKeyCatalog)
	}
	return nil
}

// ListTypes returns the full catalog, cached under its own key so admin
// listings do not hammer the store.
func (r *Resolver) ListTypes(ctx context.Context) ([]models.ComplaintTypeConfig, error) {
	if r.cache != nil {
		var cached struct {
			Types     []models.ComplaintTypeConfig `json:"types"`
			FetchedAt time.Time                    `json:"fetched_at"`
		}
		if ok, err := r.cache.GetJSON(ctx, cacheKeyCatalog, &cached); err == nil && ok {
			if r.now().Sub(cached.FetchedAt) < r.ttl {
				return cached.Types, nil
			}
		}
	}
	if r.store == nil {
		return seedCatalog(r.seed), nil
	}
	types, err := r.store.ListTypeConfigs(ctx)
	if err != nil {
		return seedCatalog(r.seed), nil
	}
	if r.cache != nil {
		_ = r.cache.SetJSON(ctx, cacheKeyCatalog, map[string]any{
			"types":      types,
			"fetched_at": r.now(),
		}, r.ttl)
	}
	return types, nil
}

func (r *Resolver) fromCache(ctx context.Context, typeKey string) (TypeRecord, bool) {
	if r.cache == nil {
		return TypeRecord{}, false
	}
	var record TypeRecord
	ok, err := r.cache.GetJSON(ctx, cacheKeyPrefix+typeKey, &record)
	if err != nil || !ok {
		return TypeRecord{}, false
	}
	// Expiry is a clock comparison against the fetch instant, not a sweep.
	if r.now().Sub(record.FetchedAt) >= r.ttl {
		return TypeRecord{}, false
	}
	return record, true
}

func (r *Resolver) fromStore(ctx context.Context, typeKey string) (TypeRecord, bool) {
	if r.store == nil {
		return TypeRecord{}, false
	}
	cfg, found, err := r.store.GetTypeConfig(ctx, typeKey)
	if err == nil && found {
		return TypeRecord{
			DisplayName: cfg.DisplayName,
			SLAHours:    cfg.SLAHours,
			HasSLA:      cfg.SLAHours > 0,
			Priority:    cfg.DefaultPriority,
		}, true
	}
	if err != nil {
		return TypeRecord{}, false
	}
	raw, found, err := r.store.GetLegacyValue(ctx, legacyKeyPrefix+typeKey)
	if err != nil || !found {
		return TypeRecord{}, false
	}
	hours, name := parseLegacyValue(raw)
	if hours <= 0 && name == "" {
		return TypeRecord{}, false
	}
	return TypeRecord{DisplayName: name, SLAHours: hours, HasSLA: hours > 0}, true
}

func (r *Resolver) fromSeed(_ context.Context, typeKey string) (TypeRecord, bool) {
	entry, ok := r.seed[typeKey]
	if !ok {
		return TypeRecord{}, false
	}
	return TypeRecord{
		DisplayName: entry.DisplayName,
		SLAHours:    entry.SLAHours,
		HasSLA:      entry.SLAHours > 0,
		Priority:    entry.Priority,
	}, true
}

func (r *Resolver) populateCache(ctx context.Context, typeKey string, record TypeRecord) {
	if r.cache == nil {
		return
	}
	record.FetchedAt = r.now()
	_ = r.cache.SetJSON(ctx, cacheKeyPrefix+typeKey, record, r.ttl)
}

func NormalizeKey(typeKey string) string {
	return strings.ToUpper(strings.TrimSpace(typeKey))
}

// parseLegacyValue understands both "48" and "Water Supply|48".
func parseLegacyValue(raw string) (float64, string) {
	raw = strings.TrimSpace(raw)
	name := ""
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		name = strings.TrimSpace(raw[:i])
		raw = strings.TrimSpace(raw[i+1:])
	}
	var hours float64
	if raw != "" {
		if _, err := fmt.Sscanf(raw, "%f", &hours); err != nil {
			hours = 0
		}
	}
	return hours, name
}

func seedCatalog(seed map[string]SeedEntry) []models.ComplaintTypeConfig {
	out := make([]models.ComplaintTypeConfig, 0, len(seed))
	for key, entry := range seed {
		out = append(out, models.ComplaintTypeConfig{
			TypeKey:         key,
			DisplayName:     entry.DisplayName,
			SLAHours:        entry.SLAHours,
			DefaultPriority: entry.Priority,
		})
	}
	return out
}

// DefaultSeed is the deployment seed table consulted when the live store is
// unreachable or has no row for a type.
func DefaultSeed() map[string]SeedEntry {
	return map[string]SeedEntry{
		"WATER_SUPPLY":       {DisplayName: "Water Supply", SLAHours: 24, Priority: "high"},
		"ELECTRICITY":        {DisplayName: "Electricity", SLAHours: 24, Priority: "high"},
		"ROAD_REPAIR":        {DisplayName: "Road Repair", SLAHours: 72, Priority: "medium"},
		"GARBAGE_COLLECTION": {DisplayName: "Garbage Collection", SLAHours: 48, Priority: "medium"},
		"STREET_LIGHTING":    {DisplayName: "Street Lighting", SLAHours: 48, Priority: "low"},
		"SEWERAGE":           {DisplayName: "Sewerage", SLAHours: 48, Priority: "high"},
		"DRAINAGE":           {DisplayName: "Drainage", SLAHours: 72, Priority: "medium"},
		"ANIMAL_CONTROL":     {DisplayName: "Animal Control", SLAHours: 96, Priority: "low"},
	}
}

var colorPalette = []string{
	"#2563eb", "#16a34a", "#dc2626", "#d97706",
	"#7c3aed", "#0891b2", "#db2777", "#65a30d",
}

// ColorFor synthesizes a stable display color for a type key.
func ColorFor(typeKey string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(NormalizeKey(typeKey)))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}
