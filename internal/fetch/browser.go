package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless Chrome, for sources that build
// their listing tables client-side. Cookies live in the throwaway browser
// profile, so Request.Jar is not used.
type BrowserFetcher struct {
	ExecPath string
	// Settle is how long to wait after navigation for scripts to render
	Settle time.Duration
}

// NewBrowserFetcher creates a headless Chrome fetcher
func NewBrowserFetcher(execPath string) *BrowserFetcher {
	return &BrowserFetcher{ExecPath: execPath, Settle: 2 * time.Second}
}

// Fetch implements Fetcher
func (b *BrowserFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if ua := req.Header.Get("User-Agent"); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	if req.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(req.Proxy))
	}
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	var html string
	start := time.Now()
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(req.URL),
		chromedp.Sleep(b.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	// Navigation errors surface above; a rendered document is treated as 200
	// and left to the block classifier.
	return &Response{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(html),
		Latency:    time.Since(start),
	}, nil
}
