package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sjsage522/estateworker/config"
	"sjsage522/estateworker/internal/extract"
	"sjsage522/estateworker/internal/fetch"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/internal/tracker"
	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/pkg/errors"
	"sjsage522/estateworker/services/audit"
)

const commitTimeout = 30 * time.Second

// RunnerOptions configure every run
type RunnerOptions struct {
	Mode            string
	WindowDays      int
	Parallelism     int
	RequireLocation bool
	UseFallback     bool
	GeocodeCacheTTL time.Duration
	Now             func() time.Time
}

// SourceReport is the outcome of one source within a run
type SourceReport struct {
	Counts        Counts `json:"counts"`
	Pages         int    `json:"pages"`
	FetchFailures int    `json:"fetch_failures"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// RunSummary is the outcome of one run
type RunSummary struct {
	RunID         string                  `json:"run_id"`
	Mode          string                  `json:"mode"`
	Started       time.Time               `json:"started"`
	Finished      time.Time               `json:"finished"`
	Counts        Counts                  `json:"counts"`
	Pages         int                     `json:"pages"`
	FetchFailures int                     `json:"fetch_failures"`
	Sources       map[string]SourceReport `json:"sources"`
}

// AuditCounts flattens the summary for the audit trail
func (s RunSummary) AuditCounts() map[string]int {
	return map[string]int{
		"new":            s.Counts.Inserted,
		"existing":       s.Counts.Existing,
		"duplicate":      s.Counts.Duplicate,
		"rejected":       s.Counts.Rejected,
		"held":           s.Counts.Held,
		"errors":         s.Counts.Errors,
		"pages":          s.Pages,
		"fetch_failures": s.FetchFailures,
	}
}

// Runner harvests every configured source once per Run
type Runner struct {
	sources  []source.SourceConfig
	registry *fetch.Registry
	seen     tracker.Store
	deps     Deps
	opts     RunnerOptions
	log      *logger.Logger
}

// NewRunner creates a runner
func NewRunner(sources []source.SourceConfig, registry *fetch.Registry, seen tracker.Store, deps Deps, opts RunnerOptions) *Runner {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	return &Runner{
		sources:  sources,
		registry: registry,
		seen:     seen,
		deps:     deps,
		opts:     opts,
		log:      logger.ForComponent("runner"),
	}
}

// Run loads the seen set, harvests every source and commits the seen set.
// Sources sharing a domain run one after another; distinct domains run
// concurrently up to the configured parallelism. Cancelling ctx stops new
// fetches, lets accepted records finish and still commits.
func (r *Runner) Run(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{
		RunID:   uuid.NewString(),
		Mode:    r.opts.Mode,
		Started: r.opts.Now(),
		Sources: make(map[string]SourceReport, len(r.sources)),
	}
	log := r.log.WithField("run_id", summary.RunID)

	tr, err := tracker.Open(ctx, r.seen, r.opts.Mode == config.ModeBackfill)
	if err != nil {
		return summary, errors.NewConfiguration("open seen set", err)
	}

	pl := New(r.deps, tr, Options{
		RunID:           summary.RunID,
		Daily:           r.opts.Mode == config.ModeDaily,
		WindowDays:      r.opts.WindowDays,
		Now:             r.opts.Now,
		RequireLocation: r.opts.RequireLocation,
		UseFallback:     r.opts.UseFallback,
		GeocodeCacheTTL: r.opts.GeocodeCacheTTL,
	})

	log.Info().Str("mode", r.opts.Mode).Int("sources", len(r.sources)).Msg("Run started")

	reports := make([]SourceReport, len(r.sources))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Parallelism)
	for _, group := range groupByDomain(r.sources) {
		g.Go(func() error {
			for _, i := range group {
				if ctx.Err() != nil {
					return nil
				}
				reports[i] = r.runSource(ctx, pl, &r.sources[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, rep := range reports {
		summary.Sources[r.sources[i].Name] = rep
		summary.Counts.Merge(rep.Counts)
		summary.Pages += rep.Pages
		summary.FetchFailures += rep.FetchFailures
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	commitErr := tr.Commit(commitCtx)
	if commitErr != nil {
		log.Error().Err(commitErr).Msg("Seen set commit failed")
	}

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.TrimStreams(commitCtx); err != nil {
			log.Warn().Err(err).Msg("Stream trimming failed")
		}
	}

	summary.Finished = r.opts.Now()
	if err := r.deps.Audit.Record(commitCtx, audit.Entry{
		RunID:  summary.RunID,
		Stage:  audit.StageRun,
		Reason: "run summary (" + summary.Mode + ")",
		Counts: summary.AuditCounts(),
		Time:   summary.Finished.UTC(),
	}); err != nil {
		log.Error().Err(err).Msg("Audit write failed")
	}

	log.Info().
		Int("new", summary.Counts.Inserted).
		Int("existing", summary.Counts.Existing).
		Int("duplicate", summary.Counts.Duplicate).
		Int("rejected", summary.Counts.Rejected).
		Int("held", summary.Counts.Held).
		Int("errors", summary.Counts.Errors).
		Int("pages", summary.Pages).
		Int("fetch_failures", summary.FetchFailures).
		Dur("elapsed", summary.Finished.Sub(summary.Started)).
		Msg("Run finished")

	return summary, stderrors.Join(commitErr, ctx.Err())
}

// groupByDomain returns source indexes grouped by domain, in the order
// domains first appear.
func groupByDomain(sources []source.SourceConfig) [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i := range sources {
		d := sources[i].Domain()
		g, ok := index[d]
		if !ok {
			g = len(groups)
			index[d] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

func (r *Runner) runSource(ctx context.Context, pl *Pipeline, src *source.SourceConfig) SourceReport {
	var rep SourceReport
	log := logger.ForSource(src.Name)
	policy := r.registry.For(src.Domain())

	if policy.CoolingDown() {
		rep.Skipped = true
		log.Warn().Str("domain", src.Domain()).Msg("Domain cooling down after repeated blocks, skipping source")
		r.audit(ctx, pl, src.Name, errors.NewFetchBlocked(src.Name, "domain cooling down"))
		return rep
	}

	start := time.Now()
	if src.Paginated() {
		r.runCursor(ctx, pl, policy, src, &rep)
	} else {
		r.runPages(ctx, pl, policy, src, &rep)
	}

	log.Info().
		Int("pages", rep.Pages).
		Int("records", rep.Counts.Total()).
		Int("new", rep.Counts.Inserted).
		Int("fetch_failures", rep.FetchFailures).
		Dur("elapsed", time.Since(start)).
		Msg("Source finished")
	return rep
}

func target(src *source.SourceConfig, url string) fetch.Target {
	t := fetch.Target{URL: url, Header: src.Headers, MinBody: -1}
	if src.MinBodyBytes != nil {
		t.MinBody = *src.MinBodyBytes
	}
	return t
}

// runPages walks the start URLs of an HTML (or single-shot JSON) source in
// order. A failed page is recorded and skipped.
func (r *Runner) runPages(ctx context.Context, pl *Pipeline, policy *fetch.Policy, src *source.SourceConfig, rep *SourceReport) {
	for _, pageURL := range src.StartURLs {
		if ctx.Err() != nil {
			return
		}
		records, _, ok := r.fetchPage(ctx, pl, policy, src, pageURL, rep)
		if !ok {
			continue
		}
		res, err := pl.ProcessPage(ctx, src, records, pageURL)
		rep.Counts.Merge(res.Counts)
		if err != nil || res.Stop {
			return
		}
	}
}

// runCursor pages a JSON API: the cursor advances by the page size (or the
// records returned) until the reported total is reached, a page comes back
// empty, the window is left, or MaxPages is hit.
func (r *Runner) runCursor(ctx context.Context, pl *Pipeline, policy *fetch.Policy, src *source.SourceConfig, rep *SourceReport) {
	cursor := src.JSON.StartCursor
	for page := 0; src.JSON.MaxPages <= 0 || page < src.JSON.MaxPages; page++ {
		if ctx.Err() != nil {
			return
		}
		pageURL := src.PageURL(cursor)
		records, total, ok := r.fetchPage(ctx, pl, policy, src, pageURL, rep)
		if !ok || len(records) == 0 {
			return
		}
		res, err := pl.ProcessPage(ctx, src, records, pageURL)
		rep.Counts.Merge(res.Counts)
		if err != nil || res.Stop {
			return
		}

		step := src.JSON.PageSize
		if step <= 0 {
			step = len(records)
		}
		cursor += step
		if total >= 0 && cursor >= total {
			return
		}
	}
}

// fetchPage fetches and splits one page. ok is false when the page could
// not be fetched or parsed; the failure is already logged and audited.
func (r *Runner) fetchPage(ctx context.Context, pl *Pipeline, policy *fetch.Policy, src *source.SourceConfig, pageURL string, rep *SourceReport) ([]extract.RawRecord, int, bool) {
	log := logger.ForSource(src.Name).WithField("url", pageURL)

	resp, err := policy.Fetch(ctx, target(src, pageURL))
	if err != nil {
		if ctx.Err() == nil {
			rep.FetchFailures++
			log.Error().Err(err).Msg("Page fetch failed")
			r.audit(ctx, pl, src.Name, err)
		}
		return nil, 0, false
	}
	rep.Pages++

	var (
		records []extract.RawRecord
		total   = -1
	)
	switch src.Kind {
	case source.KindJSON:
		path := ""
		totalPath := ""
		if src.JSON != nil {
			path, totalPath = src.JSON.RecordsPath, src.JSON.TotalPath
		}
		records, total, err = extract.SplitJSON(resp.Body, path, totalPath)
	default:
		records, err = extract.SplitHTML(bytes.NewReader(resp.Body), src.Container)
	}
	if err != nil {
		log.Error().Err(err).Msg("Page could not be split into records")
		r.audit(ctx, pl, src.Name, errors.New(errors.ErrorTypeExtractionMiss, src.Name, "page could not be split into records", fmt.Errorf("%s: %w", pageURL, err)))
		return nil, 0, false
	}

	log.Debug().Int("records", len(records)).Int("total", total).Msg("Page fetched")
	return records, total, true
}

func (r *Runner) audit(ctx context.Context, pl *Pipeline, sourceName string, err error) {
	entry := audit.NewEntry(pl.opts.RunID, sourceName, audit.StageFetch, "", err)
	if aerr := r.deps.Audit.Record(context.WithoutCancel(ctx), entry); aerr != nil {
		r.log.Error().Err(aerr).Msg("Audit write failed")
	}
}
