package extract

import (
	stderrors "errors"
	"net/url"
	"sync"

	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/logger"
)

// Fields maps logical field names to raw extracted text
type Fields map[string]string

// Resolver picks a value per logical field from ordered candidates
type Resolver struct {
	log    *logger.Logger
	warned sync.Map
}

// NewResolver creates a new field resolver
func NewResolver(log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.ForComponent("extract")
	}
	return &Resolver{log: log}
}

// Resolve returns the first non-empty value among candidates, in declared
// order. Malformed candidates are logged once and skipped.
func (r *Resolver) Resolve(rec RawRecord, candidates []source.Candidate) (string, bool) {
	for _, c := range candidates {
		v, err := rec.Lookup(c)
		if err != nil {
			r.report(c, err)
			continue
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}

func (r *Resolver) report(c source.Candidate, err error) {
	if !stderrors.Is(err, ErrMalformedExpression) {
		r.log.Debug().Str("candidate", c.String()).Err(err).Msg("Candidate skipped")
		return
	}
	if _, loaded := r.warned.LoadOrStore(c.String(), struct{}{}); !loaded {
		r.log.Warn().Str("candidate", c.String()).Err(err).Msg("Malformed candidate expression skipped")
	}
}

// Extract resolves every declared field of a source against one record.
// It returns the resolved fields and the names of fields that had
// candidates but produced nothing. source_url defaults to the page URL and
// relative values are resolved against it.
func (r *Resolver) Extract(rec RawRecord, src *source.SourceConfig, pageURL string) (Fields, []string) {
	fields := make(Fields, len(src.Fields))
	var misses []string

	for _, name := range source.KnownFields {
		candidates := src.Candidates(name)
		if len(candidates) == 0 {
			continue
		}
		if v, ok := r.Resolve(rec, candidates); ok {
			fields[name] = v
		} else {
			misses = append(misses, name)
		}
	}

	fields[source.FieldSourceURL] = absoluteURL(pageURL, fields[source.FieldSourceURL])
	return fields, misses
}

func absoluteURL(pageURL, ref string) string {
	if ref == "" {
		return pageURL
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
