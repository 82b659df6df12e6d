package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Record holds the health statistics of one proxy endpoint
type Record struct {
	URL                 string        `json:"url"`
	Successes           int           `json:"successes"`
	Failures            int           `json:"failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AvgLatency          time.Duration `json:"avg_latency"`
	LastUsed            time.Time     `json:"last_used"`
	Quarantined         bool          `json:"quarantined"`
	QuarantinedAt       time.Time     `json:"quarantined_at"`
}

// Tested reports whether the proxy has any recorded outcome
func (r *Record) Tested() bool {
	return r.Successes+r.Failures > 0
}

// Score ranks a proxy: success rate minus a latency penalty capped at 0.3.
// Untested proxies get a neutral 0.5.
func (r *Record) Score() float64 {
	if !r.Tested() {
		return 0.5
	}
	rate := float64(r.Successes) / float64(r.Successes+r.Failures)
	penalty := r.AvgLatency.Seconds() / 10
	if penalty > 0.3 {
		penalty = 0.3
	}
	return rate - penalty
}

// Stats summarizes the pool for logging
type Stats struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Quarantined int `json:"quarantined"`
}

// Options tunes a Pool
type Options struct {
	TopK                   int
	MaxConsecutiveFailures int
	// RetestAfter makes a quarantined proxy eligible again after this long
	RetestAfter time.Duration
}

// Pool selects proxies by score and tracks their health. All methods are
// safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	opts    Options
	rng     *rand.Rand
	now     func() time.Time
}

// NewPool creates a pool over the given proxy URLs
func NewPool(proxies []string, opts Options) *Pool {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	p := &Pool{
		records: make(map[string]*Record, len(proxies)),
		opts:    opts,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:     time.Now,
	}
	for _, raw := range proxies {
		if _, exists := p.records[raw]; exists {
			continue
		}
		p.records[raw] = &Record{URL: raw}
		p.order = append(p.order, raw)
	}
	return p
}

// LoadFile reads a proxy list file; see ParseList for the format
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}

// ParseList reads one proxy per line. Blank lines and lines starting with
// '#' are ignored, and entries without a scheme are treated as http.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		u, err := url.Parse(line)
		if err != nil || u.Host == "" || u.Port() == "" {
			log.Debug().Int("line_number", lineNo).Str("line", line).Msg("Skipping invalid proxy line")
			continue
		}
		out = append(out, u.String())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	return out, nil
}

// Len returns the number of proxies in the pool
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Pick returns a proxy chosen uniformly among the top-K eligible proxies by
// score, or false if none is eligible (callers then go direct).
func (p *Pool) Pick() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	eligible := make([]*Record, 0, len(p.order))
	for _, key := range p.order {
		rec := p.records[key]
		if rec.Quarantined {
			if p.opts.RetestAfter <= 0 || now.Sub(rec.QuarantinedAt) < p.opts.RetestAfter {
				continue
			}
			rec.Quarantined = false
			rec.ConsecutiveFailures = 0
			log.Debug().Str("proxy", rec.URL).Msg("Proxy released from quarantine for re-test")
		}
		eligible = append(eligible, rec)
	}
	if len(eligible) == 0 {
		return "", false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Score() > eligible[j].Score()
	})
	k := min(p.opts.TopK, len(eligible))
	chosen := eligible[p.rng.IntN(k)]
	chosen.LastUsed = now
	return chosen.URL, true
}

// ReportSuccess records a successful request through proxyURL
func (p *Pool) ReportSuccess(proxyURL string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[proxyURL]
	if !ok {
		return
	}
	rec.Successes++
	rec.ConsecutiveFailures = 0
	// Running mean over successful requests
	rec.AvgLatency += (latency - rec.AvgLatency) / time.Duration(rec.Successes)
}

// ReportFailure records a failed request; the proxy is quarantined after
// too many consecutive failures.
func (p *Pool) ReportFailure(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[proxyURL]
	if !ok {
		return
	}
	rec.Failures++
	rec.ConsecutiveFailures++
	if rec.ConsecutiveFailures >= p.opts.MaxConsecutiveFailures && !rec.Quarantined {
		p.quarantine(rec, "consecutive failures")
	}
}

// ReportBlocked quarantines a proxy immediately; the origin has flagged it
func (p *Pool) ReportBlocked(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[proxyURL]
	if !ok {
		return
	}
	rec.Failures++
	rec.ConsecutiveFailures++
	p.quarantine(rec, "blocked response")
}

func (p *Pool) quarantine(rec *Record, reason string) {
	rec.Quarantined = true
	rec.QuarantinedAt = p.now()
	log.Info().
		Str("proxy", rec.URL).
		Int("consecutive_failures", rec.ConsecutiveFailures).
		Str("reason", reason).
		Msg("Proxy quarantined")
}

// Snapshot returns a copy of every record in list order
func (p *Pool) Snapshot() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Record, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, *p.records[key])
	}
	return out
}

// Stats returns pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.order)}
	for _, rec := range p.records {
		if rec.Quarantined {
			s.Quarantined++
		} else {
			s.Healthy++
		}
	}
	return s
}

// Probe sends one request to testURL through every proxy, concurrently with
// at most 10 in flight, and feeds the outcomes into the pool statistics.
func (p *Pool) Probe(ctx context.Context, testURL string, timeout time.Duration) {
	p.mu.Lock()
	targets := append([]string(nil), p.order...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)

	for _, target := range targets {
		wg.Add(1)
		go func(proxyURL string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			latency, err := probeOnce(ctx, proxyURL, testURL, timeout)
			if err != nil {
				log.Debug().Str("proxy", proxyURL).Err(err).Msg("Proxy probe failed")
				p.ReportFailure(proxyURL)
				return
			}
			p.ReportSuccess(proxyURL, latency)
		}(target)
	}
	wg.Wait()

	stats := p.Stats()
	log.Info().
		Int("total", stats.Total).
		Int("healthy", stats.Healthy).
		Int("quarantined", stats.Quarantined).
		Msg("Proxy probe complete")
}

func probeOnce(ctx context.Context, proxyURL, testURL string, timeout time.Duration) (time.Duration, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return 0, err
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("probe status code: %d", resp.StatusCode)
	}
	return time.Since(start), nil
}
