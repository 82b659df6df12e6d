package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"sjsage522/estateworker/internal/extract"
	"sjsage522/estateworker/internal/geo"
	"sjsage522/estateworker/internal/listing"
	"sjsage522/estateworker/internal/normalize"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/internal/tracker"
	"sjsage522/estateworker/internal/zone"
	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/pkg/errors"
	"sjsage522/estateworker/services/audit"
	"sjsage522/estateworker/services/cache"
	"sjsage522/estateworker/services/publisher"
	"sjsage522/estateworker/services/storage"
)

// Geocoder resolves an address within a zone
type Geocoder interface {
	Resolve(ctx context.Context, address, zoneName string) (geo.Result, error)
}

// Observer receives record and geocode telemetry
type Observer interface {
	ObserveRecord(source, outcome string)
	ObserveGeocode(provider, outcome string)
}

// Deps are the collaborators shared by every run. Geocoder, Cache,
// Publisher, Audit and Observer may be nil.
type Deps struct {
	Normalizer *normalize.Normalizer
	Store      storage.Store
	Geocoder   Geocoder
	Cache      cache.CacheService
	Publisher  publisher.Publisher
	Audit      audit.Sink
	Observer   Observer
}

// Options tune one run of the pipeline
type Options struct {
	RunID string
	// Daily enables the monitoring window early stop
	Daily      bool
	WindowDays int
	Now        func() time.Time

	// RequireLocation holds records whose location cannot be resolved
	RequireLocation bool
	// UseFallback applies the zone's documented coordinate when geocoding fails
	UseFallback     bool
	GeocodeCacheTTL time.Duration
}

// Event is the message published for every inserted listing
type Event struct {
	RunID    string           `json:"run_id"`
	Key      string           `json:"key"`
	Listing  *listing.Listing `json:"listing"`
	Location *geo.Result      `json:"location,omitempty"`
}

// Pipeline turns raw records into stored listings for one run
type Pipeline struct {
	deps     Deps
	opts     Options
	resolver *extract.Resolver
	gate     listing.Gate
	tracker  *tracker.Tracker
	log      *logger.Logger
}

// New creates the pipeline of one run around its tracker
func New(deps Deps, tr *tracker.Tracker, opts Options) *Pipeline {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logger.ForComponent("pipeline").WithField("run_id", opts.RunID)
	return &Pipeline{
		deps:     deps,
		opts:     opts,
		resolver: extract.NewResolver(logger.ForComponent("extract")),
		gate:     listing.NewGate(),
		tracker:  tr,
		log:      log,
	}
}

// Tracker returns the run's identity tracker
func (p *Pipeline) Tracker() *tracker.Tracker {
	return p.tracker
}

// PageResult summarizes one processed page
type PageResult struct {
	Counts    Counts
	Processed int
	// Stop asks the caller not to request further pages of this source
	Stop bool
}

// ProcessPage runs every record of a page in order. It checks ctx before
// each record and stops after the first record dated before the
// monitoring window.
func (p *Pipeline) ProcessPage(ctx context.Context, src *source.SourceConfig, records []extract.RawRecord, pageURL string) (PageResult, error) {
	var res PageResult
	window := p.windowFor(src)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, stop := p.ProcessRecord(ctx, src, window, rec, pageURL, i)
		res.Counts.Add(outcome)
		res.Processed++
		if stop {
			res.Stop = true
			p.log.Info().
				Str("source", src.Name).
				Int("record_index", i).
				Time("window_start", window.Start()).
				Msg("Deal date left the monitoring window, stopping source")
			break
		}
	}
	return res, nil
}

func (p *Pipeline) windowFor(src *source.SourceConfig) tracker.Window {
	profile, _ := zone.Lookup(src.Zone)
	w := tracker.NewWindow(p.opts.Daily, p.opts.WindowDays, profile.Location)
	w.Now = p.opts.Now
	return w
}

// ProcessRecord takes one raw record through extraction, normalization,
// the quality gate, deduplication, location resolution, storage and
// publishing. stop reports that the record is dated before the window.
// Once a record passes deduplication the remaining steps ignore ctx
// cancellation so that the upsert completes.
func (p *Pipeline) ProcessRecord(ctx context.Context, src *source.SourceConfig, window tracker.Window, rec extract.RawRecord, pageURL string, index int) (outcome Outcome, stop bool) {
	defer func() {
		if p.deps.Observer != nil {
			p.deps.Observer.ObserveRecord(src.Name, outcome.String())
		}
	}()
	log := p.log.WithField("source", src.Name)

	fields, misses := p.resolver.Extract(rec, src, pageURL)
	hint := rawHint(fields, index)
	if logger.IsDebugEnabled() {
		for _, field := range misses {
			log.Debug().Str("hint", hint).Err(errors.NewExtractionMiss(src.Name, field)).Msg("Field left empty")
		}
	}

	l, err := p.deps.Normalizer.Normalize(src, fields)
	if err != nil {
		log.Warn().Str("hint", hint).Err(err).Msg("Record dropped: normalization failed")
		p.record(ctx, src.Name, audit.StageNormalize, hint, err)
		return OutcomeRejected, false
	}
	stop = window.Outside(l.DealDate)
	if l.Hint() != "" {
		hint = l.Hint()
	}

	if err := p.gate.Check(l); err != nil {
		log.Warn().Str("hint", hint).Err(err).Msg("Record dropped: quality gate")
		p.record(ctx, src.Name, audit.StageGate, hint, err)
		return OutcomeRejected, stop
	}

	key := l.IdentityKey()
	if !p.tracker.Classify(key) {
		log.Info().Str("hint", hint).Msg("Duplicate record skipped")
		p.record(ctx, src.Name, audit.StageDedupe, hint, errors.NewDuplicate(src.Name, key))
		return OutcomeDuplicate, stop
	}

	postCtx := context.WithoutCancel(ctx)

	loc, err := p.locate(postCtx, l)
	if err != nil {
		if p.opts.RequireLocation {
			p.tracker.Forget(key)
			log.Warn().Str("hint", hint).Err(err).Msg("Record held: location unresolved")
			p.record(postCtx, src.Name, audit.StageGeocode, hint, err)
			return OutcomeHeld, stop
		}
		log.Warn().Str("hint", hint).Err(err).Msg("Storing record without location")
		p.record(postCtx, src.Name, audit.StageGeocode, hint, err)
	}

	inserted, err := p.deps.Store.Upsert(postCtx, l, loc)
	if err != nil {
		p.tracker.Forget(key)
		log.Error().Str("hint", hint).Err(err).Msg("Record not stored")
		p.record(postCtx, src.Name, audit.StageStore, hint, err)
		return OutcomeError, stop
	}
	if !inserted {
		log.Debug().Str("hint", hint).Msg("Listing already stored")
		return OutcomeExisting, stop
	}

	p.publish(postCtx, key, l, loc, hint)
	return OutcomeInserted, stop
}

// locate returns coordinates for the listing: known location rows first,
// then the geocode cache, then the geocoder. A nil result with a nil error
// means geocoding is disabled.
func (p *Pipeline) locate(ctx context.Context, l *listing.Listing) (*geo.Result, error) {
	coords, found, err := p.deps.Store.LookupLocation(ctx, l)
	if err != nil {
		p.log.Warn().Err(err).Msg("Location lookup failed")
	} else if found {
		p.observeGeocode("storage", "hit")
		return &geo.Result{Coordinates: coords, Provider: "storage"}, nil
	}

	if p.deps.Geocoder == nil {
		return nil, nil
	}

	address := l.Address()
	if address == "" {
		return p.fallback(l, errors.NewGeocode(l.Source, "no address fields to geocode", nil))
	}

	cacheKey := cache.Key("geo", l.Zone, address)
	if p.deps.Cache != nil {
		var cached geo.Result
		hit, err := cache.GetJSON(p.deps.Cache, cacheKey, &cached)
		if err != nil {
			p.log.Debug().Err(err).Msg("Geocode cache unavailable")
		} else if hit {
			p.observeGeocode("cache", "hit")
			return &cached, nil
		}
	}

	res, err := p.deps.Geocoder.Resolve(ctx, address, l.Zone)
	if err != nil {
		p.observeGeocode("resolver", "failed")
		return p.fallback(l, err)
	}
	p.observeGeocode(res.Provider, "ok")

	if p.deps.Cache != nil {
		if err := cache.SetJSON(p.deps.Cache, cacheKey, res, p.opts.GeocodeCacheTTL); err != nil {
			p.log.Debug().Err(err).Msg("Geocode cache write failed")
		}
	}
	return &res, nil
}

func (p *Pipeline) fallback(l *listing.Listing, cause error) (*geo.Result, error) {
	profile, _ := zone.Lookup(l.Zone)
	if !p.opts.UseFallback || profile.Fallback == nil {
		return nil, cause
	}
	p.observeGeocode("fallback", "ok")
	return &geo.Result{Coordinates: *profile.Fallback, Provider: "fallback"}, nil
}

func (p *Pipeline) publish(ctx context.Context, key string, l *listing.Listing, loc *geo.Result, hint string) {
	if p.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(Event{RunID: p.opts.RunID, Key: key, Listing: l, Location: loc})
	if err != nil {
		p.log.Error().Err(err).Msg("Encode listing event")
		return
	}
	if err := p.deps.Publisher.Publish(ctx, key, payload); err != nil {
		p.log.Warn().Str("hint", hint).Err(err).Msg("Publish listing event failed")
		p.record(ctx, l.Source, audit.StagePublish, hint, err)
	}
}

func (p *Pipeline) record(ctx context.Context, sourceName, stage, hint string, err error) {
	ctx = context.WithoutCancel(ctx)
	if aerr := p.deps.Audit.Record(ctx, audit.NewEntry(p.opts.RunID, sourceName, stage, hint, err)); aerr != nil {
		p.log.Error().Err(aerr).Msg("Audit write failed")
	}
}

func (p *Pipeline) observeGeocode(provider, outcome string) {
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveGeocode(provider, outcome)
	}
}

// rawHint identifies a record that failed before normalization
func rawHint(f extract.Fields, index int) string {
	for _, name := range []string{source.FieldBuildingName, source.FieldEstateName} {
		if v := f[name]; v != "" {
			return v
		}
	}
	return "record #" + strconv.Itoa(index)
}
