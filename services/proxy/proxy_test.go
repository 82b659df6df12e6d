package proxy

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	list := `
# residential pool
1.2.3.4:8080
http://5.6.7.8:3128
socks5://9.9.9.9:1080
not a proxy
10.0.0.1
`
	proxies, err := ParseList(strings.NewReader(list))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://1.2.3.4:8080",
		"http://5.6.7.8:3128",
		"socks5://9.9.9.9:1080",
	}, proxies)
}

func TestScore(t *testing.T) {
	untested := &Record{}
	assert.Equal(t, 0.5, untested.Score())

	good := &Record{Successes: 9, Failures: 1, AvgLatency: time.Second}
	assert.InDelta(t, 0.8, good.Score(), 1e-9)

	slow := &Record{Successes: 10, AvgLatency: 10 * time.Second}
	assert.InDelta(t, 0.7, slow.Score(), 1e-9)
}

func TestPickSamplesOnlyTopK(t *testing.T) {
	pool := NewPool([]string{"http://a:1", "http://b:1", "http://c:1", "http://d:1"}, Options{TopK: 2})
	pool.rng = rand.New(rand.NewPCG(1, 2))

	// a and b succeed, c and d fail without reaching quarantine
	for i := 0; i < 5; i++ {
		pool.ReportSuccess("http://a:1", 100*time.Millisecond)
		pool.ReportSuccess("http://b:1", 200*time.Millisecond)
	}
	pool.ReportFailure("http://c:1")
	pool.ReportFailure("http://d:1")

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		p, ok := pool.Pick()
		require.True(t, ok)
		seen[p]++
	}
	assert.Greater(t, seen["http://a:1"], 0)
	assert.Greater(t, seen["http://b:1"], 0)
	assert.Zero(t, seen["http://c:1"])
	assert.Zero(t, seen["http://d:1"])
}

func TestQuarantineAndRetest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pool := NewPool([]string{"http://a:1"}, Options{MaxConsecutiveFailures: 3, RetestAfter: time.Minute})
	pool.now = func() time.Time { return now }

	pool.ReportFailure("http://a:1")
	pool.ReportFailure("http://a:1")
	_, ok := pool.Pick()
	assert.True(t, ok)

	pool.ReportFailure("http://a:1")
	_, ok = pool.Pick()
	assert.False(t, ok, "quarantined proxy must not be picked")
	assert.Equal(t, Stats{Total: 1, Quarantined: 1}, pool.Stats())

	now = now.Add(2 * time.Minute)
	p, ok := pool.Pick()
	assert.True(t, ok)
	assert.Equal(t, "http://a:1", p)
	assert.Equal(t, Stats{Total: 1, Healthy: 1}, pool.Stats())
}

func TestReportBlockedQuarantinesImmediately(t *testing.T) {
	pool := NewPool([]string{"http://a:1", "http://b:1"}, Options{})
	pool.ReportBlocked("http://a:1")

	for i := 0; i < 20; i++ {
		p, ok := pool.Pick()
		require.True(t, ok)
		assert.Equal(t, "http://b:1", p)
	}

	snap := pool.Snapshot()
	assert.True(t, snap[0].Quarantined)
	assert.Equal(t, 1, snap[0].Failures)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	pool := NewPool([]string{"http://a:1"}, Options{MaxConsecutiveFailures: 2})
	pool.ReportFailure("http://a:1")
	pool.ReportSuccess("http://a:1", 300*time.Millisecond)
	pool.ReportSuccess("http://a:1", 100*time.Millisecond)
	pool.ReportFailure("http://a:1")

	snap := pool.Snapshot()[0]
	assert.False(t, snap.Quarantined)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, 200*time.Millisecond, snap.AvgLatency)
}

func TestEmptyPool(t *testing.T) {
	pool := NewPool(nil, Options{})
	_, ok := pool.Pick()
	assert.False(t, ok)
	pool.ReportFailure("http://unknown:1")
	assert.Equal(t, 0, pool.Len())
}

func TestProbe(t *testing.T) {
	// A plain HTTP server answers absolute-form requests like a forward proxy
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	pool := NewPool([]string{good.URL, bad.URL}, Options{MaxConsecutiveFailures: 1})
	pool.Probe(context.Background(), "http://example.invalid/", time.Second)

	snap := pool.Snapshot()
	assert.Equal(t, 1, snap[0].Successes)
	assert.False(t, snap[0].Quarantined)
	assert.True(t, snap[1].Quarantined)
}
