package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	slashDate = regexp.MustCompile(`^(\d{1,4})[/.](\d{1,2})[/.](\d{1,4})$`)
	dashDate  = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	cjkDate   = regexp.MustCompile(`^(\d{4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日?$`)

	priceNumber = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(萬|万|億|亿|[KkMm])?`)
	areaNumber  = regexp.MustCompile(`\d+(?:\.\d+)?`)

	priceNoise = strings.NewReplacer(",", "", "，", "", "售", "", "HK$", "", "$", "", "¥", "", "￥", "", "@", "", "RMB", "", "元", "")
	areaNoise  = strings.NewReplacer(",", "", "約", "", "约", "", "平方呎", "", "平方米", "", "平米", "", "呎", "", "㎡", "", "m²", "", "sq.ft.", "", "sq.ft", "", "sqft", "", "ft", "")
)

var priceUnits = map[string]float64{
	"":  1,
	"萬": 1e4,
	"万": 1e4,
	"億": 1e8,
	"亿": 1e8,
	"K": 1e3,
	"k": 1e3,
	"M": 1e6,
	"m": 1e6,
}

// nullTokens are placeholder strings sources emit instead of leaving a field empty
var nullTokens = map[string]bool{
	"--":   true,
	"-":    true,
	"none": true,
	"null": true,
	"n/a":  true,
}

// Text trims and collapses whitespace, mapping empty and placeholder values to nil
func Text(raw string) *string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" || nullTokens[strings.ToLower(s)] {
		return nil
	}
	return &s
}

// ParseDate accepts the calendar forms seen across sources and returns a UTC
// midnight time. Y/M/D is used when the first slash segment has four
// digits, D/M/Y otherwise. A trailing time of day is discarded.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "T "); i > 0 && strings.Contains(s[i:], ":") {
		s = strings.TrimSpace(s[:i])
	}

	var y, m, d string
	if g := dashDate.FindStringSubmatch(s); g != nil {
		y, m, d = g[1], g[2], g[3]
	} else if g := cjkDate.FindStringSubmatch(s); g != nil {
		y, m, d = g[1], g[2], g[3]
	} else if g := slashDate.FindStringSubmatch(s); g != nil {
		switch {
		case len(g[1]) == 4:
			y, m, d = g[1], g[2], g[3]
		case len(g[3]) == 4:
			d, m, y = g[1], g[2], g[3]
		default:
			return time.Time{}, fmt.Errorf("ambiguous year in date %q", raw)
		}
	} else {
		return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
	}

	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", raw)
	}
	return t, nil
}

// ParsePrice converts a price string with optional currency glyphs and CJK or
// SI magnitude suffixes into an integer amount.
func ParsePrice(raw string) (int64, error) {
	s := priceNoise.Replace(strings.TrimSpace(raw))
	g := priceNumber.FindStringSubmatch(s)
	if g == nil {
		return 0, fmt.Errorf("no numeric price in %q", raw)
	}

	v, err := strconv.ParseFloat(g[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	amount := math.Round(v * priceUnits[g[2]])
	if amount <= 0 || amount > math.MaxInt64/2 {
		return 0, fmt.Errorf("price out of range in %q", raw)
	}
	return int64(amount), nil
}

// ParseArea extracts the first positive number from an area string after
// stripping approximation and unit glyphs.
func ParseArea(raw string) (float64, bool) {
	s := areaNoise.Replace(strings.TrimSpace(raw))
	m := areaNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
