package zone

import (
	"strings"
	"time"
)

// Profile describes how one geographic zone is treated by the pipeline
type Profile struct {
	Name string
	// RegionQualifier is appended to geocoding queries that do not mention it
	RegionQualifier string
	// CountryCode is the ISO 3166-1 alpha-2 hint passed to geocoders
	CountryCode string
	// UnitScoped reports whether floor and unit take part in the identity key
	UnitScoped bool

	Country  string
	Province string
	City     string

	// Location is the calendar used for deal dates in this zone
	Location *time.Location

	// Fallback is an optional documented coordinate used only when a caller
	// explicitly opts in; resolvers never apply it on their own.
	Fallback *Coordinates
}

// Coordinates is a WGS84 point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var profiles = map[string]Profile{
	"HK": {
		Name:            "HK",
		RegionQualifier: "Hong Kong",
		CountryCode:     "HK",
		UnitScoped:      true,
		Country:         "香港",
		Province:        "香港",
		City:            "香港",
		Location:        time.FixedZone("HKT", 8*60*60),
		Fallback:        &Coordinates{Lat: 22.3193, Lng: 114.1694},
	},
	"CN": {
		Name:            "CN",
		RegionQualifier: "深圳市, 广东省, 中国",
		CountryCode:     "CN",
		UnitScoped:      false,
		Country:         "中国",
		Province:        "广东省",
		City:            "深圳市",
		Location:        time.FixedZone("CST", 8*60*60),
		Fallback:        &Coordinates{Lat: 22.5431, Lng: 114.0579},
	},
}

var aliases = map[string]string{
	"HK":        "HK",
	"HONGKONG":  "HK",
	"HONG KONG": "HK",
	"香港":        "HK",
	"CN":        "CN",
	"CHINA":     "CN",
	"中国":        "CN",
}

// Lookup returns the profile for a zone name. Unknown zones get a neutral
// profile: no region bias, unit-scoped keys.
func Lookup(name string) (Profile, bool) {
	code, ok := aliases[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Profile{Name: name, UnitScoped: true, Location: time.UTC}, false
	}
	return profiles[code], true
}

// Known reports whether the zone has a built-in profile
func Known(name string) bool {
	_, ok := Lookup(name)
	return ok
}
