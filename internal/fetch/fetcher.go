package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"sjsage522/estateworker/helpers"
)

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 32 << 20

// Request is one outbound page request
type Request struct {
	URL    string
	Header http.Header
	Jar    http.CookieJar
	// Proxy is the proxy URL to route through; empty means direct
	Proxy string
}

// Response is a fully read, UTF-8 decoded page
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// Fetcher performs a single request without any retry or pacing logic
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher fetches pages with net/http, reusing one transport per proxy
type HTTPFetcher struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{transports: make(map[string]*http.Transport)}
}

func (f *HTTPFetcher) transport(proxy string) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.transports[proxy]; ok {
		return t, nil
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		t.Proxy = http.ProxyURL(u)
	} else {
		t.Proxy = nil
	}
	f.transports[proxy] = t
	return t, nil
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	t, err := f.transport(req.Proxy)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: t, Jar: req.Jar}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	body, err := helpers.DecodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}

// CloseIdle releases idle connections of every transport
func (f *HTTPFetcher) CloseIdle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}
