package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"citizen-grievance-platform/api/internal/models"
)

type fakeCache struct {
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = raw
	return nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

type fakeStore struct {
	configs map[string]models.ComplaintTypeConfig
	legacy  map[string]string
	down    bool
	reads   int
	writes  int
}

var errStoreDown = errors.New("store unavailable")

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs: map[string]models.ComplaintTypeConfig{},
		legacy:  map[string]string{},
	}
}

func (f *fakeStore) GetTypeConfig(_ context.Context, typeKey string) (models.ComplaintTypeConfig, bool, error) {
	f.reads++
	if f.down {
		return models.ComplaintTypeConfig{}, false, errStoreDown
	}
	cfg, ok := f.configs[typeKey]
	return cfg, ok, nil
}

func (f *fakeStore) ListTypeConfigs(_ context.Context) ([]models.ComplaintTypeConfig, error) {
	if f.down {
		return nil, errStoreDown
	}
	out := make([]models.ComplaintTypeConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (f *fakeStore) GetLegacyValue(_ context.Context, key string) (string, bool, error) {
	if f.down {
		return "", false, errStoreDown
	}
	value, ok := f.legacy[key]
	return value, ok, nil
}

func (f *fakeStore) UpsertConfig(_ context.Context, typeKey string, slaHours float64, _ string) error {
	if f.down {
		return errStoreDown
	}
	f.writes++
	cfg := f.configs[typeKey]
	cfg.TypeKey = typeKey
	cfg.SLAHours = slaHours
	f.configs[typeKey] = cfg
	return nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newResolver(store *fakeStore, cache *fakeCache, clock *fakeClock) *Resolver {
	return NewResolver(store, cache, 5*time.Minute, WithClock(clock.Now))
}

func TestResolvePrefersStoreAndCachesResult(t *testing.T) {
	store := newFakeStore()
	store.configs["WATER_SUPPLY"] = models.ComplaintTypeConfig{
		TypeKey:     "WATER_SUPPLY",
		DisplayName: "Water Supply (Zone Config)",
		SLAHours:    36,
	}
	cache := newFakeCache()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(store, cache, clock)

	hours, source := r.ResolveSLAHours(context.Background(), "water_supply", 0)
	if hours != 36 || source != SourceStore {
		t.Fatalf("expected (36, store), got (%v, %s)", hours, source)
	}

	hours, source = r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 36 || source != SourceCache {
		t.Fatalf("expected cache hit (36, cache), got (%v, %s)", hours, source)
	}
	if store.reads != 1 {
		t.Fatalf("expected a single store read, got %d", store.reads)
	}
}

func TestResolveCacheEntryExpiresByClock(t *testing.T) {
	store := newFakeStore()
	store.configs["SEWERAGE"] = models.ComplaintTypeConfig{TypeKey: "SEWERAGE", SLAHours: 12}
	cache := newFakeCache()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(store, cache, clock)

	r.ResolveSLAHours(context.Background(), "SEWERAGE", 0)
	clock.Advance(6 * time.Minute)
	_, source := r.ResolveSLAHours(context.Background(), "SEWERAGE", 0)
	if source != SourceStore {
		t.Fatalf("expected expired entry to fall through to the store, got %s", source)
	}
	if store.reads != 2 {
		t.Fatalf("expected two store reads, got %d", store.reads)
	}
}

func TestResolveFallsBackThroughLegacyAndSeed(t *testing.T) {
	store := newFakeStore()
	store.legacy["COMPLAINT_TYPE_POTHOLE"] = "Pothole|30"
	clock := &fakeClock{now: time.Now().UTC()}
	r := newResolver(store, newFakeCache(), clock)

	hours, source := r.ResolveSLAHours(context.Background(), "POTHOLE", 0)
	if hours != 30 || source != SourceStore {
		t.Fatalf("expected legacy value (30, store), got (%v, %s)", hours, source)
	}
	if name := r.ResolveDisplayName(context.Background(), "POTHOLE"); name != "Pothole" {
		t.Fatalf("expected legacy display name, got %q", name)
	}

	hours, source = r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 24 || source != SourceSeed {
		t.Fatalf("expected seed value (24, seed), got (%v, %s)", hours, source)
	}
}

func TestResolveUnknownKeyUsesDefaultWithoutCaching(t *testing.T) {
	cache := newFakeCache()
	clock := &fakeClock{now: time.Now().UTC()}
	r := newResolver(newFakeStore(), cache, clock)

	hours, source := r.ResolveSLAHours(context.Background(), "UNKNOWN_TYPE", 96)
	if hours != 96 || source != SourceDefault {
		t.Fatalf("expected (96, default), got (%v, %s)", hours, source)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("defaults must never be written to the cache: %v", cache.entries)
	}

	hours, source = r.ResolveSLAHours(context.Background(), "UNKNOWN_TYPE", 0)
	if hours != 0 || source != SourceDefault {
		t.Fatalf("expected (0, default) without a default, got (%v, %s)", hours, source)
	}

	if name := r.ResolveDisplayName(context.Background(), "UNKNOWN_TYPE"); name != "UNKNOWN_TYPE" {
		t.Fatalf("expected raw key as display name, got %q", name)
	}
}

func TestStoreOutageServesCachedThenSeed(t *testing.T) {
	store := newFakeStore()
	store.configs["WATER_SUPPLY"] = models.ComplaintTypeConfig{TypeKey: "WATER_SUPPLY", SLAHours: 48}
	cache := newFakeCache()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newResolver(store, cache, clock)

	// Warm the cache from the store, then take the store down.
	r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	store.down = true

	hours, source := r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 48 || source != SourceCache {
		t.Fatalf("expected cached (48, cache) during outage, got (%v, %s)", hours, source)
	}

	// Once the cache entry expires, the outage degrades to the seed table.
	clock.Advance(10 * time.Minute)
	hours, source = r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 24 || source != SourceSeed {
		t.Fatalf("expected seed (24, seed) during outage, got (%v, %s)", hours, source)
	}

	// Writes must fail while the store is down and leave the cache alone.
	if err := r.Update(context.Background(), "WATER_SUPPLY", 72, ""); err == nil {
		t.Fatalf("expected update to fail while the store is down")
	}
	hours, source = r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 24 || source != SourceCache {
		t.Fatalf("expected seed-sourced cache entry (24, cache), got (%v, %s)", hours, source)
	}

	// Store recovery plus expiry restores the live value.
	store.down = false
	clock.Advance(10 * time.Minute)
	hours, source = r.ResolveSLAHours(context.Background(), "WATER_SUPPLY", 0)
	if hours != 48 || source != SourceStore {
		t.Fatalf("expected recovered (48, store), got (%v, %s)", hours, source)
	}
}

func TestUpdateInvalidatesEntryAndCatalog(t *testing.T) {
	store := newFakeStore()
	store.configs["ROAD_REPAIR"] = models.ComplaintTypeConfig{TypeKey: "ROAD_REPAIR", SLAHours: 72}
	cache := newFakeCache()
	clock := &fakeClock{now: time.Now().UTC()}
	r := newResolver(store, cache, clock)

	r.ResolveSLAHours(context.Background(), "ROAD_REPAIR", 0)
	if _, err := r.ListTypes(context.Background()); err != nil {
		t.Fatalf("list types failed: %v", err)
	}
	if len(cache.entries) != 2 {
		t.Fatalf("expected entry and catalog cached, got %d keys", len(cache.entries))
	}

	if err := r.Update(context.Background(), "road_repair", 24, "expedited"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expected both cache keys invalidated, got %v", cache.entries)
	}

	hours, _ := r.ResolveSLAHours(context.Background(), "ROAD_REPAIR", 0)
	if hours != 24 {
		t.Fatalf("expected updated hours 24, got %v", hours)
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	r := newResolver(newFakeStore(), newFakeCache(), &fakeClock{now: time.Now().UTC()})
	if err := r.Update(context.Background(), "  ", 24, ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if err := r.Update(context.Background(), "WATER_SUPPLY", 0, ""); err == nil {
		t.Fatalf("expected non-positive hours to be rejected")
	}
}

func TestColorForIsStable(t *testing.T) {
	if ColorFor("WATER_SUPPLY") != ColorFor("water_supply") {
		t.Fatalf("color must be case-insensitive stable")
	}
	if ColorFor("WATER_SUPPLY") == "" {
		t.Fatalf("expected a color")
	}
}
