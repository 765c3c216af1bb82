package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/database"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/env"
)

const austinLat, austinLng = 30.2672, -97.7431

var testGeoConfig = config.Geo{MaxAccuracyM: 100, GlobalMaxDistanceM: 100, SpatialIndex: true}

func newLocationRepo(t *testing.T, locations ...models.Location) repository.LocationRepository {
	t.Helper()
	db, err := database.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	repo := repository.NewLocationRepository(db)
	for i := range locations {
		require.NoError(t, repo.Create(&locations[i]))
	}
	return repo
}

// memoryIndex is an exact SpatialIndex used to exercise the primary path.
type memoryIndex struct {
	locations  []models.Location
	err        error
	rebuildErr error
	calls      int
	rebuilds   int
}

func (m *memoryIndex) Nearby(ctx context.Context, lat, lng, radiusM float64) ([]uint, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	type hit struct {
		id uint
		d  float64
	}
	var hits []hit
	for _, l := range m.locations {
		if d := Distance(lat, lng, l.Lat, l.Lng); d <= radiusM {
			hits = append(hits, hit{l.ID, d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	ids := make([]uint, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (m *memoryIndex) Rebuild(ctx context.Context, locations []models.Location) error {
	m.rebuilds++
	if m.rebuildErr != nil {
		return m.rebuildErr
	}
	m.locations = locations
	return nil
}

func austin() models.Location {
	return models.Location{Slug: "austin-congress", Name: "Congress Ave", Lat: austinLat, Lng: austinLng, RadiusM: 200, Active: true}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(austinLat, austinLng, austinLat, austinLng), 1e-9)

	lat, lng := Offset(austinLat, austinLng, 150)
	assert.InDelta(t, 150, Distance(austinLat, austinLng, lat, lng), 0.01)

	// one degree of latitude on a 6,371 km sphere
	assert.InDelta(t, 111194.93, Distance(0, 0, 1, 0), 0.01)
}

func TestResolve_AustinScenario(t *testing.T) {
	for _, withIndex := range []bool{false, true} {
		t.Run(fmt.Sprintf("index_%v", withIndex), func(t *testing.T) {
			repo := newLocationRepo(t, austin())
			var idx SpatialIndex
			if withIndex {
				idx = &memoryIndex{}
			}
			r := NewResolver(repo, idx, testGeoConfig)
			require.NoError(t, r.RebuildIndex(context.Background()))

			lat, lng := Offset(austinLat, austinLng, 150)
			m, err := r.Resolve(context.Background(), lat, lng, 20)
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.Equal(t, "austin-congress", m.Location.Slug)
			assert.InDelta(t, 150, m.DistanceM, 0.5)

			lat, lng = Offset(austinLat, austinLng, 5000)
			m, err = r.Resolve(context.Background(), lat, lng, 20)
			require.NoError(t, err)
			assert.Nil(t, m)
		})
	}
}

func TestResolve_EffectiveRadiusUsesGlobalMinimum(t *testing.T) {
	small := models.Location{Slug: "kiosk", Name: "Kiosk", Lat: austinLat, Lng: austinLng, RadiusM: 10, Active: true}
	r := NewResolver(newLocationRepo(t, small), nil, testGeoConfig)

	lat, lng := Offset(austinLat, austinLng, 90)
	m, err := r.Resolve(context.Background(), lat, lng, 5)
	require.NoError(t, err)
	require.NotNil(t, m)

	lat, lng = Offset(austinLat, austinLng, 110)
	m, err = r.Resolve(context.Background(), lat, lng, 5)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_PicksClosest(t *testing.T) {
	northLat, _ := Offset(austinLat, austinLng, 60)
	farLat, _ := Offset(austinLat, austinLng, 80)

	repo := newLocationRepo(t,
		models.Location{Slug: "north", Name: "North", Lat: northLat, Lng: austinLng, RadiusM: 200, Active: true},
		models.Location{Slug: "far", Name: "Far", Lat: farLat, Lng: austinLng, RadiusM: 200, Active: true},
	)
	r := NewResolver(repo, nil, testGeoConfig)

	lat, _ := Offset(austinLat, austinLng, 75)
	m, err := r.Resolve(context.Background(), lat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "far", m.Location.Slug)

	m, err = r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "north", m.Location.Slug)
}

func TestResolve_TieGoesToLowestID(t *testing.T) {
	repo := newLocationRepo(t,
		models.Location{Slug: "first", Name: "First", Lat: austinLat, Lng: austinLng, RadiusM: 200, Active: true},
		models.Location{Slug: "second", Name: "Second", Lat: austinLat, Lng: austinLng, RadiusM: 200, Active: true},
	)

	for _, idx := range []SpatialIndex{nil, &memoryIndex{}} {
		r := NewResolver(repo, idx, testGeoConfig)
		require.NoError(t, r.RebuildIndex(context.Background()))

		lat, lng := Offset(austinLat, austinLng, 40)
		m, err := r.Resolve(context.Background(), lat, lng, 10)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "first", m.Location.Slug)
	}
}

func TestResolve_IgnoresInactive(t *testing.T) {
	repo := newLocationRepo(t, models.Location{Slug: "closed", Name: "Closed", Lat: austinLat, Lng: austinLng, RadiusM: 200, Active: false})
	r := NewResolver(repo, nil, testGeoConfig)

	m, err := r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_FallsBackWhenIndexFails(t *testing.T) {
	idx := &memoryIndex{err: errors.New("redis down")}
	r := NewResolver(newLocationRepo(t, austin()), idx, testGeoConfig)

	m, err := r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, idx.calls)
}

func TestResolve_SeesLocationsAddedAfterRebuild(t *testing.T) {
	repo := newLocationRepo(t)
	idx := &memoryIndex{}
	r := NewResolver(repo, idx, testGeoConfig)
	require.NoError(t, r.RebuildIndex(context.Background()))

	loc := austin()
	require.NoError(t, repo.Create(&loc))

	m, err := r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, loc.ID, m.Location.ID)
	assert.Equal(t, 2, idx.rebuilds)
	assert.Equal(t, 1, idx.calls)

	// unchanged directory reuses the index
	_, err = r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.rebuilds)

	// a deactivated location drops out of the primary path too
	loc.Active = false
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.Update(&loc))
	m, err = r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 3, idx.rebuilds)
}

func TestResolve_ScansWhenRebuildFails(t *testing.T) {
	repo := newLocationRepo(t, austin())
	idx := &memoryIndex{rebuildErr: errors.New("redis down")}
	r := NewResolver(repo, idx, testGeoConfig)
	require.Error(t, r.RebuildIndex(context.Background()))

	m, err := r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "austin-congress", m.Location.Slug)
	assert.Zero(t, idx.calls)
	// the next rebuild waits for the retry window
	assert.Equal(t, 1, idx.rebuilds)

	idx.rebuildErr = nil
	require.NoError(t, r.RebuildIndex(context.Background()))
	m, err = r.Resolve(context.Background(), austinLat, austinLng, 10)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, idx.calls)
}

func TestResolve_Validation(t *testing.T) {
	r := NewResolver(newLocationRepo(t), nil, testGeoConfig)

	tests := []struct {
		name          string
		lat, lng, acc float64
	}{
		{name: "lat too high", lat: 90.1, lng: 0, acc: 5},
		{name: "lat too low", lat: -91, lng: 0, acc: 5},
		{name: "lng out of range", lat: 0, lng: 180.5, acc: 5},
		{name: "nan", lat: math.NaN(), lng: 0, acc: 5},
		{name: "negative accuracy", lat: 0, lng: 0, acc: -1},
		{name: "imprecise fix", lat: 0, lng: 0, acc: 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.lat, tt.lng, tt.acc)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.KindValidation))
		})
	}

	_, err := r.Resolve(context.Background(), 90, 180, 100)
	assert.NoError(t, err)
}

func TestRedisIndex_Nearby(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       12,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	err := client.Ping(ctx).Err()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	repo := newLocationRepo(t, austin())
	r := NewResolver(repo, NewRedisIndex(client, "test:locations:geo"), testGeoConfig)
	require.NoError(t, r.RebuildIndex(context.Background()))

	lat, lng := Offset(austinLat, austinLng, 150)
	m, err := r.Resolve(context.Background(), lat, lng, 20)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "austin-congress", m.Location.Slug)

	lat, lng = Offset(austinLat, austinLng, 5000)
	m, err = r.Resolve(context.Background(), lat, lng, 20)
	require.NoError(t, err)
	assert.Nil(t, m)
}
