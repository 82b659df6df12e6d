package fetch

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier(t *testing.T) {
	c := NewClassifier(100)
	page := "<html><body>" + strings.Repeat("<tr><td>Taikoo Shing</td></tr>", 10) + "</body></html>"

	tests := []struct {
		name    string
		resp    *Response
		minBody int
		blocked bool
	}{
		{"normal page", &Response{StatusCode: 200, Body: []byte(page)}, -1, false},
		{"forbidden", &Response{StatusCode: http.StatusForbidden, Body: []byte(page)}, -1, true},
		{"rate limited", &Response{StatusCode: http.StatusTooManyRequests}, -1, true},
		{"service unavailable", &Response{StatusCode: http.StatusServiceUnavailable}, -1, true},
		{"short body", &Response{StatusCode: 200, Body: []byte("<html></html>")}, -1, true},
		{"short body allowed by override", &Response{StatusCode: 200, Body: []byte(`{"data":[]}`)}, 0, false},
		{"captcha", &Response{StatusCode: 200, Body: []byte(page + "Please complete the CAPTCHA")}, -1, true},
		{"chinese captcha", &Response{StatusCode: 200, Body: []byte(page + "请输入验证码")}, -1, true},
		{"cloudflare", &Response{StatusCode: 200, Body: []byte(page + "Just a moment...")}, -1, true},
		{"not found is not a block", &Response{StatusCode: 404, Body: []byte(page)}, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.resp, tt.minBody)
			assert.Equal(t, tt.blocked, v.Blocked, v.Reason)
			if tt.blocked {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}
