package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/pkg/errors"
	"sjsage522/estateworker/services/cache"
)

// State is the position of a Policy in its request cycle
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateFetching
	StateBackoff
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Fetch outcomes reported to an Observer
const (
	OutcomeSuccess   = "success"
	OutcomeBlocked   = "blocked"
	OutcomeTimeout   = "timeout"
	OutcomeNetwork   = "network"
	OutcomeHTTPError = "http_error"
)

// ProxySource hands out proxies and receives their outcomes
type ProxySource interface {
	Pick() (string, bool)
	ReportSuccess(proxyURL string, latency time.Duration)
	ReportFailure(proxyURL string)
	ReportBlocked(proxyURL string)
}

// Observer receives fetch telemetry
type Observer interface {
	ObserveFetch(domain, outcome string, delay time.Duration)
}

// Target is what a caller asks a Policy to fetch
type Target struct {
	URL    string
	Header map[string]string
	// MinBody overrides the short-body threshold; negative keeps the default
	MinBody int
}

// PolicyConfig tunes retries and pauses for one domain
type PolicyConfig struct {
	Domain          string
	MaxRetries      int
	RequestTimeout  time.Duration
	BlockedSleepMin time.Duration
	BlockedSleepMax time.Duration
	Concurrency     int
	// Cooldown is how long a domain is skipped after retries are exhausted
	// on blocked responses; 0 disables the marker.
	Cooldown time.Duration
}

// Policy wraps a Fetcher with pacing, identity rotation, proxy selection,
// block detection and bounded retries for a single domain.
type Policy struct {
	cfg        PolicyConfig
	fetcher    Fetcher
	scheduler  *Scheduler
	identity   *Identity
	classifier *Classifier
	proxies    ProxySource
	cache      cache.CacheService
	observer   Observer
	sem        *semaphore.Weighted
	log        *logger.Logger

	mu    sync.Mutex
	state State
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy assembles a policy. proxies, cacheSvc and observer may be nil.
func NewPolicy(cfg PolicyConfig, fetcher Fetcher, scheduler *Scheduler, identity *Identity, classifier *Classifier,
	proxies ProxySource, cacheSvc cache.CacheService, observer Observer) *Policy {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.BlockedSleepMax < cfg.BlockedSleepMin {
		cfg.BlockedSleepMax = cfg.BlockedSleepMin
	}
	return &Policy{
		cfg:        cfg,
		fetcher:    fetcher,
		scheduler:  scheduler,
		identity:   identity,
		classifier: classifier,
		proxies:    proxies,
		cache:      cacheSvc,
		observer:   observer,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:        logger.ForComponent("fetch").WithField("domain", cfg.Domain),
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x94d049bb133111eb)),
		sleep:      sleepContext,
	}
}

// State returns the current state
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Scheduler exposes the delay scheduler for inspection
func (p *Policy) Scheduler() *Scheduler {
	return p.scheduler
}

func (p *Policy) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s && logger.IsDebugEnabled() {
		p.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Fetch state")
	}
}

func (p *Policy) cooldownKey() string {
	return "cooldown:" + p.cfg.Domain
}

// CoolingDown reports whether the domain was recently given up on
func (p *Policy) CoolingDown() bool {
	if p.cache == nil || p.cfg.Cooldown <= 0 {
		return false
	}
	_, err := p.cache.Get(p.cooldownKey())
	return err == nil
}

// Fetch retrieves one page. It makes at most MaxRetries+1 attempts, waits
// the scheduled delay before each, and returns a terminal HarvestError
// (fetch_blocked, fetch_timeout or network) when attempts are exhausted.
// The only suspension points are the delay waits, the request itself and
// the pause after a block, all of which honour ctx.
func (p *Policy) Fetch(ctx context.Context, t Target) (*Response, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	defer p.setState(StateIdle)

	if p.CoolingDown() {
		return nil, errors.NewFetchBlocked(p.cfg.Domain, "domain is cooling down after repeated blocks")
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		p.setState(StateWaiting)
		delay, err := p.scheduler.Wait(ctx)
		if err != nil {
			return nil, err
		}

		header, jar := p.identity.Next()
		for k, v := range t.Header {
			header.Set(k, v)
		}
		proxyURL := ""
		if p.proxies != nil {
			proxyURL, _ = p.proxies.Pick()
		}

		p.setState(StateFetching)
		reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		resp, err := p.fetcher.Fetch(reqCtx, &Request{URL: t.URL, Header: header, Jar: jar, Proxy: proxyURL})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			outcome := OutcomeNetwork
			lastErr = errors.NewNetwork(p.cfg.Domain, "request failed", err)
			if isTimeout(err) {
				outcome = OutcomeTimeout
				lastErr = errors.NewFetchTimeout(p.cfg.Domain, "request timed out", err)
			}
			p.reportFailure(proxyURL)
			p.scheduler.OnFailure()
			p.observe(outcome, delay)
			p.log.Warn().Int("attempt", attempt+1).Str("url", t.URL).Str("proxy", proxyURL).Err(err).Msg("Fetch failed")
			continue
		}

		if v := p.classifier.Classify(resp, t.MinBody); v.Blocked {
			lastErr = errors.NewFetchBlocked(p.cfg.Domain, v.Reason)
			if p.proxies != nil && proxyURL != "" {
				p.proxies.ReportBlocked(proxyURL)
			}
			p.identity.Refresh()
			p.scheduler.OnBlocked()
			p.observe(OutcomeBlocked, delay)
			p.log.Warn().
				Int("attempt", attempt+1).
				Str("url", t.URL).
				Str("reason", v.Reason).
				Dur("next_delay", p.scheduler.Current()).
				Msg("Blocked response, rotating identity")

			if attempt < p.cfg.MaxRetries {
				p.setState(StateBackoff)
				if err := p.sleep(ctx, p.blockedPause()); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = errors.NewNetwork(p.cfg.Domain, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
			p.reportFailure(proxyURL)
			p.scheduler.OnFailure()
			p.observe(OutcomeHTTPError, delay)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			p.observe(OutcomeHTTPError, delay)
			return nil, fmt.Errorf("fetch %s unexpected status code: %d", t.URL, resp.StatusCode)
		}

		if p.proxies != nil && proxyURL != "" {
			p.proxies.ReportSuccess(proxyURL, resp.Latency)
		}
		p.scheduler.OnSuccess()
		p.observe(OutcomeSuccess, delay)
		return resp, nil
	}

	p.setState(StateExhausted)
	if errors.Is(lastErr, errors.ErrorTypeFetchBlocked) && p.cache != nil && p.cfg.Cooldown > 0 {
		if err := p.cache.Set(p.cooldownKey(), []byte(p.cfg.Cooldown.String()), p.cfg.Cooldown); err != nil {
			p.log.Debug().Err(err).Msg("Failed to set cooldown marker")
		}
	}
	p.log.Error().Int("attempts", p.cfg.MaxRetries+1).Str("url", t.URL).Err(lastErr).Msg("Fetch retries exhausted")
	return nil, lastErr
}

func (p *Policy) blockedPause() time.Duration {
	span := p.cfg.BlockedSleepMax - p.cfg.BlockedSleepMin
	if span <= 0 {
		return p.cfg.BlockedSleepMin
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.BlockedSleepMin + time.Duration(p.rng.Int64N(int64(span)))
}

func (p *Policy) reportFailure(proxyURL string) {
	if p.proxies != nil && proxyURL != "" {
		p.proxies.ReportFailure(proxyURL)
	}
}

func (p *Policy) observe(outcome string, delay time.Duration) {
	if p.observer != nil {
		p.observer.ObserveFetch(p.cfg.Domain, outcome, delay)
	}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
