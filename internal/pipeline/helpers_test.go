package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/require"

	"sjsage522/estateworker/internal/fetch"
	"sjsage522/estateworker/internal/geo"
	"sjsage522/estateworker/internal/normalize"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/internal/tracker"
	"sjsage522/estateworker/internal/zone"
	"sjsage522/estateworker/services/audit"
	"sjsage522/estateworker/services/cache"
	"sjsage522/estateworker/services/publisher"
)

const testSources = `
sources:
  - name: midland-hk
    zone: HK
    kind: html
    start_urls: ["https://hk.example.com/deals?page=1", "https://hk.example.com/deals?page=2"]
    container: "div.deal"
    fields:
      town: ["css:.town"]
      building_name: ["css:.bldg"]
      area: ["css:.area"]
      deal_date: ["css:.date"]
      deal_price: ["css:.price"]
      source_url: ["css:a@href"]
  - name: centa-cn
    zone: China
    kind: json
    json:
      url_template: "https://cn.example.com/api/deals?offset={cursor}"
      records_path: data.items
      total_path: data.count
    fields:
      town: ["district"]
      building_name: ["name"]
      area: ["area"]
      deal_date: ["date"]
      deal_price: ["price"]
`

// hkNow is 18:00 on 2024-03-05 in Hong Kong
var hkNow = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func loadSources(t *testing.T) []source.SourceConfig {
	t.Helper()
	sources, err := source.Parse([]byte(testSources))
	require.NoError(t, err)
	return sources
}

type deal struct {
	town, building, area, date, price string
}

func htmlPage(deals ...deal) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"list\">")
	for i, d := range deals {
		fmt.Fprintf(&b, `<div class="deal"><span class="town">%s</span><span class="bldg">%s</span>`+
			`<span class="area">%s</span><span class="date">%s</span><span class="price">%s</span>`+
			`<a href="/deal/%d">detail</a></div>`, d.town, d.building, d.area, d.date, d.price, i)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func jsonPage(t *testing.T, total int, items ...map[string]interface{}) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{"count": total, "items": items},
	})
	require.NoError(t, err)
	return string(body)
}

// pageFetcher serves fixed bodies by URL and 404 for anything else
type pageFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []string
}

func (f *pageFetcher) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return &fetch.Response{URL: req.URL, StatusCode: 404, Body: []byte("not found")}, nil
	}
	return &fetch.Response{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *pageFetcher) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

var _ fetch.Fetcher = (*pageFetcher)(nil)

func newRegistry(f fetch.Fetcher, cacheSvc cache.CacheService) *fetch.Registry {
	return fetch.NewRegistry(fetch.RegistryOptions{
		Scheduler:         fetch.SchedulerConfig{Base: time.Millisecond, Min: time.Millisecond, Max: time.Millisecond},
		Policy:            fetch.PolicyConfig{MaxRetries: 0, RequestTimeout: time.Second, Cooldown: time.Minute},
		RotateMinRequests: 10,
		RotateMaxRequests: 20,
		AcceptLanguage:    "en",
		MinBodyBytes:      0,
	}, f, nil, cacheSvc, nil)
}

// stubGeocoder resolves every address to the same point, or fails
type stubGeocoder struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (g *stubGeocoder) Resolve(_ context.Context, address, _ string) (geo.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, address)
	if g.err != nil {
		return geo.Result{}, g.err
	}
	return geo.Result{Coordinates: zone.Coordinates{Lat: 22.28, Lng: 114.21}, Provider: "nominatim"}, nil
}

func (g *stubGeocoder) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *stubGeocoder) Addresses() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

var _ Geocoder = (*stubGeocoder)(nil)

type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
	trimmed  int
	err      error
}

func (p *mockPublisher) Publish(_ context.Context, key string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][]byte)
	}
	p.messages[key] = message
	return p.err
}

func (p *mockPublisher) TrimStreams(context.Context) error {
	p.mu.Lock()
	p.trimmed++
	p.mu.Unlock()
	return nil
}

func (p *mockPublisher) Close() error { return nil }

var _ publisher.Publisher = (*mockPublisher)(nil)

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAudit) Stages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Stage)
	}
	return out
}

var _ audit.Sink = (*recordingAudit)(nil)

type recordingObserver struct {
	mu       sync.Mutex
	records  map[string]int
	geocodes map[string]int
}

func (o *recordingObserver) ObserveRecord(_, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.records == nil {
		o.records = make(map[string]int)
	}
	o.records[outcome]++
}

func (o *recordingObserver) ObserveGeocode(provider, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.geocodes == nil {
		o.geocodes = make(map[string]int)
	}
	o.geocodes[provider+"/"+outcome]++
}

var _ Observer = (*recordingObserver)(nil)

// mapCache mirrors memcache miss semantics in memory
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return nil, memcache.ErrCacheMiss
}

func (c *mapCache) Set(key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var _ cache.CacheService = (*mapCache)(nil)

func openTracker(t *testing.T, backfill bool) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.Open(context.Background(), tracker.NewFileStore(filepath.Join(t.TempDir(), "seen.txt")), backfill)
	require.NoError(t, err)
	return tr
}

func newNormalizer() *normalize.Normalizer {
	return normalize.New(source.TypeTables{})
}
