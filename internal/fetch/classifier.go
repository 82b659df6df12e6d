package fetch

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
)

// Verdict is the classification of one response
type Verdict struct {
	Blocked bool
	Reason  string
}

// Classifier recognises responses that indicate bot detection
type Classifier struct {
	Statuses   []int
	Indicators [][]byte
	// MinBodyBytes flags suspiciously small 200 responses; 0 disables it
	MinBodyBytes int
}

// DefaultIndicators are lower-cased body fragments typical of challenge and
// denial pages.
var DefaultIndicators = []string{
	"access denied",
	"captcha",
	"验证码",
	"驗證碼",
	"人机验证",
	"人機驗證",
	"verify you are human",
	"are you a robot",
	"just a moment",
	"cf-browser-verification",
	"cf-chl-",
	"too many requests",
	"temporarily unavailable",
	"request blocked",
	"unusual traffic",
}

// NewClassifier creates a classifier with the default indicators
func NewClassifier(minBodyBytes int) *Classifier {
	c := &Classifier{
		Statuses:     []int{http.StatusForbidden, http.StatusTooManyRequests, 430, http.StatusServiceUnavailable},
		MinBodyBytes: minBodyBytes,
	}
	for _, s := range DefaultIndicators {
		c.Indicators = append(c.Indicators, []byte(s))
	}
	return c
}

// Classify inspects status, body size and body content. minBody overrides
// the classifier default when non-negative.
func (c *Classifier) Classify(resp *Response, minBody int) Verdict {
	if slices.Contains(c.Statuses, resp.StatusCode) {
		return Verdict{Blocked: true, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	if minBody < 0 {
		minBody = c.MinBodyBytes
	}
	if resp.StatusCode == http.StatusOK && minBody > 0 && len(resp.Body) < minBody {
		return Verdict{Blocked: true, Reason: fmt.Sprintf("body too short (%d bytes)", len(resp.Body))}
	}

	lower := bytes.ToLower(resp.Body)
	for _, ind := range c.Indicators {
		if bytes.Contains(lower, ind) {
			return Verdict{Blocked: true, Reason: fmt.Sprintf("indicator %q", ind)}
		}
	}
	return Verdict{}
}
