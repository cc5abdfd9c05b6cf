package timezone

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
	"github.com/jwalitptl/stockalert-api/internal/schedule"
)

const catalogKeyPrefix = "timezones:"

type Config struct {
	TTL time.Duration
	// Buster is folded into the catalog key so a deploy can force a reload.
	Buster string
}

// Resolver caches *time.Location lookups and the timezone catalog.
type Resolver struct {
	repo      repository.TimezoneRepository
	catalog   *cache.Cache
	locations *cache.Cache
	group     singleflight.Group
	key       string
}

func NewResolver(repo repository.TimezoneRepository, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Resolver{
		repo:      repo,
		catalog:   cache.New(cfg.TTL, cfg.TTL/2),
		locations: cache.New(cache.NoExpiration, 0),
		key:       catalogKeyPrefix + cfg.Buster,
	}
}

// Location loads an IANA zone once and reuses it.
func (r *Resolver) Location(name string) (*time.Location, error) {
	if loc, ok := r.locations.Get(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := schedule.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	r.locations.SetDefault(name, loc)
	return loc, nil
}

// List returns the active catalog. Concurrent misses share one database read.
func (r *Resolver) List(ctx context.Context) ([]model.Timezone, error) {
	if v, ok := r.catalog.Get(r.key); ok {
		return v.([]model.Timezone), nil
	}

	v, err, _ := r.group.Do(r.key, func() (interface{}, error) {
		if v, ok := r.catalog.Get(r.key); ok {
			return v, nil
		}
		tzs, err := r.repo.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		r.catalog.SetDefault(r.key, tzs)
		return tzs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load timezones: %w", err)
	}
	return v.([]model.Timezone), nil
}

// Invalidate drops the cached catalog.
func (r *Resolver) Invalidate() {
	r.catalog.Delete(r.key)
}
