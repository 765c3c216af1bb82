// Package geo resolves a device position to the location board it stands at.
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

// Match is a resolved location and the distance to it.
type Match struct {
	Location  *models.Location
	DistanceM float64
}

// rebuildRetry is how long lookups scan after a failed index rebuild.
const rebuildRetry = 30 * time.Second

type Resolver struct {
	locations repository.LocationRepository
	index     SpatialIndex
	cfg       config.Geo

	rebuildMu sync.Mutex

	mu         sync.RWMutex
	maxRadiusM float64
	ready      bool
	version    repository.DirectoryVersion
	retryAt    time.Time
}

// NewResolver wires the location directory and an optional spatial index.
// With a nil index every lookup scans the active locations.
func NewResolver(locations repository.LocationRepository, index SpatialIndex, cfg config.Geo) *Resolver {
	return &Resolver{
		locations:  locations,
		index:      index,
		cfg:        cfg,
		maxRadiusM: cfg.GlobalMaxDistanceM,
	}
}

// RebuildIndex loads all active locations into the spatial index.
func (r *Resolver) RebuildIndex(ctx context.Context) error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()
	return r.rebuild(ctx)
}

func (r *Resolver) rebuild(ctx context.Context) error {
	// read the version first so a change during the rebuild triggers another one
	version, err := r.locations.Version()
	if err != nil {
		return r.rebuildFailed(fmt.Errorf("read location directory version: %w", err))
	}
	locations, err := r.locations.ListActive()
	if err != nil {
		return r.rebuildFailed(fmt.Errorf("list locations: %w", err))
	}

	maxRadius := r.cfg.GlobalMaxDistanceM
	for _, l := range locations {
		maxRadius = math.Max(maxRadius, l.RadiusM)
	}

	if r.index != nil {
		if err := r.index.Rebuild(ctx, locations); err != nil {
			return r.rebuildFailed(fmt.Errorf("rebuild spatial index: %w", err))
		}
		log.Infof("[Geo] Indexed %d active locations (search radius %.0fm)", len(locations), maxRadius)
	}

	r.mu.Lock()
	r.maxRadiusM = maxRadius
	r.ready = true
	r.version = version
	r.retryAt = time.Time{}
	r.mu.Unlock()
	return nil
}

func (r *Resolver) rebuildFailed(err error) error {
	r.mu.Lock()
	r.ready = false
	r.retryAt = time.Now().Add(rebuildRetry)
	r.mu.Unlock()
	return err
}

// ensureIndexed rebuilds the index when the directory changed since the
// last rebuild. It reports whether the index can answer lookups.
func (r *Resolver) ensureIndexed(ctx context.Context) bool {
	current, err := r.locations.Version()
	if err != nil {
		log.Warnf("[Geo] Could not read location directory version: %v", err)
		return false
	}
	if r.fresh(current) {
		return true
	}

	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()
	if r.fresh(current) {
		return true
	}
	r.mu.RLock()
	waiting := !r.ready && time.Now().Before(r.retryAt)
	r.mu.RUnlock()
	if waiting {
		return false
	}
	if err := r.rebuild(ctx); err != nil {
		log.Warnf("[Geo] Spatial index rebuild failed, scanning all locations: %v", err)
		return false
	}
	return true
}

func (r *Resolver) fresh(current repository.DirectoryVersion) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready && r.version.Equal(current)
}

// Validate checks a raw position fix.
func (r *Resolver) Validate(lat, lng, accuracyM float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return apperror.Validation("invalid_latitude", "latitude must be between -90 and 90")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return apperror.Validation("invalid_longitude", "longitude must be between -180 and 180")
	}
	if math.IsNaN(accuracyM) || accuracyM < 0 {
		return apperror.Validation("invalid_accuracy", "accuracy must be a non-negative number of meters")
	}
	if accuracyM > r.cfg.MaxAccuracyM {
		return apperror.Validation("accuracy_too_low",
			fmt.Sprintf("position accuracy %.0fm exceeds the allowed %.0fm", accuracyM, r.cfg.MaxAccuracyM))
	}
	return nil
}

// Resolve returns the closest location whose effective radius contains the
// point, or nil when there is none.
func (r *Resolver) Resolve(ctx context.Context, lat, lng, accuracyM float64) (*Match, error) {
	if err := r.Validate(lat, lng, accuracyM); err != nil {
		return nil, err
	}

	candidates, err := r.candidates(ctx, lat, lng)
	if err != nil {
		return nil, apperror.Internal("could not load locations", err)
	}
	return r.closest(candidates, lat, lng), nil
}

func (r *Resolver) candidates(ctx context.Context, lat, lng float64) ([]models.Location, error) {
	if r.index == nil || !r.cfg.SpatialIndex || !Indexable(lat, lng) || !r.ensureIndexed(ctx) {
		return r.locations.ListActive()
	}

	r.mu.RLock()
	radius := r.maxRadiusM
	r.mu.RUnlock()

	// geohash cells are approximate; pad so boundary points are still candidates
	ids, err := r.index.Nearby(ctx, lat, lng, radius*1.01+1)
	if err != nil {
		log.Warnf("[Geo] Spatial index lookup failed, scanning all locations: %v", err)
		return r.locations.ListActive()
	}
	return r.locations.GetByIDs(ids)
}

func (r *Resolver) closest(locations []models.Location, lat, lng float64) *Match {
	matches := make([]Match, 0, len(locations))
	for i := range locations {
		l := &locations[i]
		if !l.Active {
			continue
		}
		d := Distance(lat, lng, l.Lat, l.Lng)
		if d <= math.Max(r.cfg.GlobalMaxDistanceM, l.RadiusM) {
			matches = append(matches, Match{Location: l, DistanceM: d})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceM != matches[j].DistanceM {
			return matches[i].DistanceM < matches[j].DistanceM
		}
		return matches[i].Location.ID < matches[j].Location.ID
	})
	return &matches[0]
}
