package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"sjsage522/estateworker/internal/zone"
)

// DateLayout is the canonical calendar date format
const DateLayout = "2006-01-02"

// Listing is the canonical, normalized form of one transaction record.
// Nil pointers are null values.
type Listing struct {
	Source     string `json:"source"`
	DataSource string `json:"data_source"`
	Zone       string `json:"zone"`

	Town         *string `json:"town,omitempty"`
	Street       *string `json:"street,omitempty"`
	Road         *string `json:"road,omitempty"`
	BuildingName *string `json:"building_name,omitempty"`
	EstateName   *string `json:"estate_name,omitempty"`
	Flat         *string `json:"flat,omitempty"`
	Floor        *string `json:"floor,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	Developer    *string `json:"developer,omitempty"`

	Area      *float64   `json:"area,omitempty"`
	DealPrice *int64     `json:"deal_price,omitempty"`
	DealDate  *time.Time `json:"deal_date,omitempty"`
	Type      *string    `json:"type,omitempty"`
	TypeRaw   *string    `json:"type_raw,omitempty"`

	SourceURL string `json:"source_url,omitempty"`
}

// DealDateString returns the ISO calendar date or "" when absent
func (l *Listing) DealDateString() string {
	if l.DealDate == nil {
		return ""
	}
	return l.DealDate.Format(DateLayout)
}

// Hint returns a short human-readable identity for logs
func (l *Listing) Hint() string {
	parts := []string{deref(l.BuildingName), deref(l.Floor), deref(l.Unit), l.DealDateString()}
	return strings.Trim(strings.Join(parts, " "), " ")
}

// Address joins the locality fields used for geocoding, most specific last
func (l *Listing) Address() string {
	var parts []string
	for _, p := range []*string{l.Town, l.Street, l.Road, l.EstateName, l.BuildingName} {
		if v := strings.TrimSpace(deref(p)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// IdentityKey derives the deduplication key. Building name comparison is
// case- and whitespace-insensitive; floor and unit only participate for
// zones whose listings are unit scoped.
func (l *Listing) IdentityKey() string {
	profile, _ := zone.Lookup(l.Zone)

	parts := []string{strings.ToUpper(profile.Name), canonicalText(l.BuildingName)}
	if profile.UnitScoped {
		parts = append(parts, canonicalText(l.Floor), canonicalText(l.Unit))
	}
	price := ""
	if l.DealPrice != nil {
		price = strconv.FormatInt(*l.DealPrice, 10)
	}
	parts = append(parts, price, l.DealDateString())

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func canonicalText(p *string) string {
	return strings.ToLower(strings.Join(strings.Fields(deref(p)), ""))
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// String returns a pointer to s
func String(s string) *string { return &s }
