package geo

import (
	"context"
	"strings"
	"time"

	"sjsage522/estateworker/internal/zone"
	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/pkg/errors"
)

// Resolver geocodes addresses through a primary provider with a single
// fallback. It never caches and never invents coordinates.
type Resolver struct {
	primary   Provider
	secondary Provider
	timeout   time.Duration
	log       *logger.Logger
}

// NewResolver creates a resolver. secondary may be nil.
func NewResolver(primary, secondary Provider, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		primary:   primary,
		secondary: secondary,
		timeout:   timeout,
		log:       logger.ForComponent("geo"),
	}
}

// BiasQuery appends the zone's region qualifier unless the address already
// names it.
func BiasQuery(address string, profile zone.Profile) string {
	address = strings.TrimSpace(address)
	q := profile.RegionQualifier
	if q == "" || strings.Contains(strings.ToLower(address), strings.ToLower(q)) {
		return address
	}
	if address == "" {
		return q
	}
	return address + ", " + q
}

// Resolve geocodes address for the given zone. Each provider call is
// bounded by the resolver timeout.
func (r *Resolver) Resolve(ctx context.Context, address, zoneName string) (Result, error) {
	profile, _ := zone.Lookup(zoneName)
	query := BiasQuery(address, profile)

	res, err := r.try(ctx, r.primary, query, profile)
	if err == nil {
		return res, nil
	}
	r.log.Debug().Str("provider", r.primary.Name()).Str("query", query).Err(err).Msg("Primary geocoder failed")

	if r.secondary == nil || ctx.Err() != nil {
		return Result{}, errors.NewGeocode(zoneName, "geocoding failed for "+query, err)
	}

	res, err2 := r.try(ctx, r.secondary, query, profile)
	if err2 == nil {
		return res, nil
	}
	r.log.Debug().Str("provider", r.secondary.Name()).Str("query", query).Err(err2).Msg("Fallback geocoder failed")
	return Result{}, errors.NewGeocode(zoneName, "geocoding failed for "+query, err2)
}

func (r *Resolver) try(ctx context.Context, p Provider, query string, profile zone.Profile) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Geocode(ctx, query, profile)
}
