package helpers

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
)

// Profile is a coherent set of browser-like request headers
type Profile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Referer        string
	SecChUa        string
}

var (
	userAgents = []struct {
		ua      string
		secChUa string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36", `"Chromium";v="123", "Google Chrome";v="123", "Not:A-Brand";v="8"`},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0", ""},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15", ""},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`},
	}

	referers = []string{
		"https://www.google.com/",
		"https://www.google.com.hk/",
		"https://www.bing.com/",
		"https://www.baidu.com/",
	}

	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
)

// RandomProfile picks a browser identity. acceptLanguage is kept fixed per
// deployment since it reflects the target market rather than the browser.
func RandomProfile(rng *rand.Rand, acceptLanguage string) Profile {
	ua := userAgents[rng.IntN(len(userAgents))]
	return Profile{
		UserAgent:      ua.ua,
		Accept:         acceptHTML,
		AcceptLanguage: acceptLanguage,
		Referer:        referers[rng.IntN(len(referers))],
		SecChUa:        ua.secChUa,
	}
}

// Header renders the profile as request headers
func (p Profile) Header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", p.Accept)
	if p.AcceptLanguage != "" {
		h.Set("Accept-Language", p.AcceptLanguage)
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Referer", p.Referer)
	h.Set("Upgrade-Insecure-Requests", "1")
	if p.SecChUa != "" {
		h.Set("Sec-Ch-Ua", p.SecChUa)
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "cross-site")
		h.Set("Sec-Fetch-User", "?1")
	}
	return h
}

// DecodeBody converts a response body to UTF-8 using the Content-Type
// header and any meta charset found in the content.
func DecodeBody(body []byte, contentType string) ([]byte, error) {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return body, nil
	}

	encoding, name, _ := charset.DetermineEncoding(body, contentType)
	if strings.EqualFold(name, "utf-8") {
		return body, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, encoding.NewDecoder().Reader(bytes.NewReader(body))); err != nil {
		return nil, fmt.Errorf("failed to convert body to UTF-8: %w", err)
	}
	return buf.Bytes(), nil
}
