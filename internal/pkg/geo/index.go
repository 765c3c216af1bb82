package geo

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LocalBoard/app/models"
)

// Redis GEO cannot store points closer to the poles than this.
const maxGeoLat = 85.05112878

// SpatialIndex returns candidate location ids near a point, nearest first.
type SpatialIndex interface {
	Nearby(ctx context.Context, lat, lng, radiusM float64) ([]uint, error)
	Rebuild(ctx context.Context, locations []models.Location) error
}

// RedisIndex keeps active locations in a Redis GEO set.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = "localboard:locations:geo"
	}
	return &RedisIndex{client: client, key: key}
}

// Indexable reports whether Redis can store the point.
func Indexable(lat, lng float64) bool {
	return math.Abs(lat) <= maxGeoLat && math.Abs(lng) <= 180
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lng, radiusM float64) ([]uint, error) {
	if !Indexable(lat, lng) {
		return nil, fmt.Errorf("point %.6f,%.6f is outside the indexable range", lat, lng)
	}
	members, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusM,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// Rebuild replaces the set with the given locations.
func (r *RedisIndex) Rebuild(ctx context.Context, locations []models.Location) error {
	geo := make([]*redis.GeoLocation, 0, len(locations))
	for _, l := range locations {
		if !Indexable(l.Lat, l.Lng) {
			log.Warnf("[Geo] Location %d at %.6f,%.6f cannot be indexed; only the fallback path will find it", l.ID, l.Lat, l.Lng)
			continue
		}
		geo = append(geo, &redis.GeoLocation{
			Name:      strconv.FormatUint(uint64(l.ID), 10),
			Longitude: l.Lng,
			Latitude:  l.Lat,
		})
	}

	tmp := r.key + ":rebuild"
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tmp)
	if len(geo) > 0 {
		pipe.GeoAdd(ctx, tmp, geo...)
		pipe.Rename(ctx, tmp, r.key)
	} else {
		pipe.Del(ctx, r.key)
	}
	_, err := pipe.Exec(ctx)
	return err
}
