package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/estateworker/pkg/errors"
)

var goodPage = []byte("<html><body>" + strings.Repeat("<tr><td>Taikoo Shing</td></tr>", 50) + "</body></html>")

// scriptedFetcher returns queued responses or errors in order
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []func(req *Request) (*Response, error)
	requests []*Request
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.steps) == 0 {
		return &Response{StatusCode: 200, Body: goodPage}, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step(req)
}

func status(code int, body []byte) func(*Request) (*Response, error) {
	return func(*Request) (*Response, error) {
		return &Response{StatusCode: code, Body: body}, nil
	}
}

func failure(err error) func(*Request) (*Response, error) {
	return func(*Request) (*Response, error) { return nil, err }
}

type recordingProxies struct {
	mu        sync.Mutex
	successes int
	failures  int
	blocked   []string
}

func (r *recordingProxies) Pick() (string, bool) { return "http://proxy:8080", true }
func (r *recordingProxies) ReportSuccess(string, time.Duration) {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
}
func (r *recordingProxies) ReportFailure(string) {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}
func (r *recordingProxies) ReportBlocked(p string) {
	r.mu.Lock()
	r.blocked = append(r.blocked, p)
	r.mu.Unlock()
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveFetch(_, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

// mockCacheService is an in-memory cache.CacheService
type mockCacheService struct {
	data map[string][]byte
}

func (m *mockCacheService) Get(key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, io.EOF
}

func (m *mockCacheService) Set(key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *mockCacheService) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func newTestPolicy(f Fetcher, proxies ProxySource, cacheSvc *mockCacheService, obs Observer, retries int) (*Policy, *[]time.Duration) {
	sched := NewScheduler(SchedulerConfig{Base: 5 * time.Second, Min: 2 * time.Second, Max: 30 * time.Second})
	var slept []time.Duration
	var mu sync.Mutex
	noSleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	sched.sleep = noSleep

	cfg := PolicyConfig{
		Domain:          "hk.example.com",
		MaxRetries:      retries,
		RequestTimeout:  time.Second,
		BlockedSleepMin: 30 * time.Second,
		BlockedSleepMax: 90 * time.Second,
		Cooldown:        time.Minute,
	}
	var p *Policy
	if cacheSvc != nil {
		p = NewPolicy(cfg, f, sched, NewIdentity(30, 60, "zh-HK"), NewClassifier(100), proxies, cacheSvc, obs)
	} else {
		p = NewPolicy(cfg, f, sched, NewIdentity(30, 60, "zh-HK"), NewClassifier(100), proxies, nil, obs)
	}
	p.sleep = noSleep
	return p, &slept
}

func TestPolicySuccess(t *testing.T) {
	f := &scriptedFetcher{}
	proxies := &recordingProxies{}
	obs := &recordingObserver{}
	p, slept := newTestPolicy(f, proxies, nil, obs, 3)

	resp, err := p.Fetch(context.Background(), Target{URL: "https://hk.example.com/list", Header: map[string]string{"X-Requested-With": "XMLHttpRequest"}, MinBody: -1})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, proxies.successes)
	assert.Equal(t, []string{OutcomeSuccess}, obs.outcomes)
	assert.Len(t, *slept, 1)
	assert.Equal(t, StateIdle, p.State())

	require.Len(t, f.requests, 1)
	assert.Equal(t, "http://proxy:8080", f.requests[0].Proxy)
	assert.Equal(t, "XMLHttpRequest", f.requests[0].Header.Get("X-Requested-With"))
	assert.NotEmpty(t, f.requests[0].Header.Get("User-Agent"))
}

func TestPolicyBlockedThenRecovers(t *testing.T) {
	f := &scriptedFetcher{steps: []func(*Request) (*Response, error){
		status(http.StatusForbidden, nil),
	}}
	proxies := &recordingProxies{}
	p, slept := newTestPolicy(f, proxies, nil, nil, 3)
	before := p.Scheduler().Current()

	resp, err := p.Fetch(context.Background(), Target{URL: "https://hk.example.com/list", MinBody: -1})
	require.NoError(t, err)
	assert.NotNil(t, resp)

	assert.Equal(t, []string{"http://proxy:8080"}, proxies.blocked)
	assert.Greater(t, p.Scheduler().Current(), before)
	// delay, blocked pause, delay
	require.Len(t, *slept, 3)
	assert.GreaterOrEqual(t, (*slept)[1], 30*time.Second)
	assert.Less(t, (*slept)[1], 90*time.Second)
}

func TestPolicyRetriesExhaustedOnBlocks(t *testing.T) {
	var steps []func(*Request) (*Response, error)
	for i := 0; i < 10; i++ {
		steps = append(steps, status(200, []byte("<html>Please verify you are human</html>"+string(goodPage))))
	}
	f := &scriptedFetcher{steps: steps}
	cacheSvc := &mockCacheService{data: map[string][]byte{}}
	obs := &recordingObserver{}
	p, _ := newTestPolicy(f, nil, cacheSvc, obs, 2)

	_, err := p.Fetch(context.Background(), Target{URL: "https://hk.example.com/list", MinBody: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeFetchBlocked))
	assert.Len(t, f.requests, 3, "max retries bounds the attempts")
	assert.Equal(t, []string{OutcomeBlocked, OutcomeBlocked, OutcomeBlocked}, obs.outcomes)
	assert.Equal(t, StateIdle, p.State())

	// The cooldown marker short-circuits the next fetch
	assert.True(t, p.CoolingDown())
	_, err = p.Fetch(context.Background(), Target{URL: "https://hk.example.com/list", MinBody: -1})
	assert.True(t, errors.Is(err, errors.ErrorTypeFetchBlocked))
	assert.Len(t, f.requests, 3)
}

func TestPolicyTimeoutClassification(t *testing.T) {
	f := &scriptedFetcher{steps: []func(*Request) (*Response, error){
		failure(context.DeadlineExceeded),
		failure(context.DeadlineExceeded),
	}}
	proxies := &recordingProxies{}
	p, _ := newTestPolicy(f, proxies, nil, nil, 1)

	_, err := p.Fetch(context.Background(), Target{URL: "https://hk.example.com/list", MinBody: -1})
	assert.True(t, errors.Is(err, errors.ErrorTypeFetchTimeout))
	assert.Equal(t, 2, proxies.failures)
	assert.Equal(t, 2, p.Scheduler().ConsecutiveFailures())
}

func TestPolicyNotFoundIsTerminal(t *testing.T) {
	f := &scriptedFetcher{steps: []func(*Request) (*Response, error){status(http.StatusNotFound, goodPage)}}
	p, _ := newTestPolicy(f, nil, nil, nil, 3)

	_, err := p.Fetch(context.Background(), Target{URL: "https://hk.example.com/gone", MinBody: -1})
	assert.ErrorContains(t, err, "404")
	assert.Len(t, f.requests, 1)
}

func TestPolicyCancelledContext(t *testing.T) {
	f := &scriptedFetcher{}
	p, _ := newTestPolicy(f, nil, nil, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Fetch(ctx, Target{URL: "https://hk.example.com/list", MinBody: -1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.requests)
}

func TestHTTPFetcherAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		if _, err := r.Cookie("sid"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1"})
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(goodPage)
	}))
	defer server.Close()

	id := NewIdentity(30, 60, "zh-HK")
	f := NewHTTPFetcher()
	defer f.CloseIdle()

	header, jar := id.Next()
	resp, err := f.Fetch(context.Background(), &Request{URL: server.URL, Header: header, Jar: jar})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, goodPage, resp.Body)
	assert.Equal(t, 1, len(jar.Cookies(mustParse(t, server.URL))))
}

func TestRegistrySeparatesDomains(t *testing.T) {
	r := NewRegistry(RegistryOptions{
		Scheduler:         SchedulerConfig{Base: 5 * time.Second, Min: 2 * time.Second, Max: 30 * time.Second},
		Policy:            PolicyConfig{MaxRetries: 1},
		RotateMinRequests: 30,
		RotateMaxRequests: 60,
	}, &scriptedFetcher{}, nil, nil, nil)

	a := r.For("a.example.com")
	b := r.For("b.example.com")
	assert.Same(t, a, r.For("a.example.com"))
	assert.NotSame(t, a, b)

	a.Scheduler().OnBlocked()
	assert.Equal(t, 5*time.Second, b.Scheduler().Current())
	assert.ElementsMatch(t, []string{"a.example.com", "b.example.com"}, r.Domains())
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
