package source

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind is the payload format a source serves
type Kind string

const (
	KindHTML Kind = "html"
	KindJSON Kind = "json"
)

// Logical field names shared by every source
const (
	FieldTown         = "town"
	FieldStreet       = "street"
	FieldRoad         = "road"
	FieldBuildingName = "building_name"
	FieldEstateName   = "estate_name"
	FieldFlat         = "flat"
	FieldFloor        = "floor"
	FieldUnit         = "unit"
	FieldArea         = "area"
	FieldDealDate     = "deal_date"
	FieldDealPrice    = "deal_price"
	FieldType         = "type"
	FieldDeveloper    = "developer"
	FieldSourceURL    = "source_url"
)

// KnownFields lists every logical field a source may declare
var KnownFields = []string{
	FieldTown, FieldStreet, FieldRoad, FieldBuildingName, FieldEstateName,
	FieldFlat, FieldFloor, FieldUnit, FieldArea, FieldDealDate, FieldDealPrice,
	FieldType, FieldDeveloper, FieldSourceURL,
}

// CandidateKind tags the variant held by a Candidate
type CandidateKind int

const (
	// CandidateJSON looks a dotted key path up in a JSON record
	CandidateJSON CandidateKind = iota
	// CandidateSelector evaluates a CSS selector against an HTML record
	CandidateSelector
	// CandidateConst yields a fixed literal
	CandidateConst
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateJSON:
		return "json"
	case CandidateSelector:
		return "css"
	case CandidateConst:
		return "const"
	default:
		return "unknown"
	}
}

// Candidate is one way of locating a field value inside a raw record.
// Attr is only meaningful for selectors: when set the attribute value is
// read instead of the element text.
type Candidate struct {
	Kind CandidateKind
	Expr string
	Attr string
}

func (c Candidate) String() string {
	if c.Attr != "" {
		return c.Kind.String() + ":" + c.Expr + "@" + c.Attr
	}
	return c.Kind.String() + ":" + c.Expr
}

// JSONPaging describes cursor pagination over a JSON API
type JSONPaging struct {
	URLTemplate string `yaml:"url_template"`
	RecordsPath string `yaml:"records_path"`
	TotalPath   string `yaml:"total_path"`
	StartCursor int    `yaml:"start_cursor"`
	// PageSize is the cursor step; 0 advances by the records returned
	PageSize int `yaml:"page_size"`
	// MaxPages caps the pages fetched per run; 0 means no cap
	MaxPages int `yaml:"max_pages"`
}

// SourceConfig is the declarative description of one listing source
type SourceConfig struct {
	Name         string              `yaml:"name"`
	Zone         string              `yaml:"zone"`
	Kind         Kind                `yaml:"kind"`
	DataSource   string              `yaml:"data_source"`
	StartURLs    []string            `yaml:"start_urls"`
	Container    string              `yaml:"container"`
	JSON         *JSONPaging         `yaml:"json"`
	RawFields    map[string][]string `yaml:"fields"`
	TypeTable    string              `yaml:"type_table"`
	MinBodyBytes *int                `yaml:"min_body_bytes"`
	Headers      map[string]string   `yaml:"headers"`

	// Fields holds the parsed, ordered candidates per logical field
	Fields map[string][]Candidate `yaml:"-"`
}

// Candidates returns the ordered candidates declared for a field
func (s *SourceConfig) Candidates(field string) []Candidate {
	return s.Fields[field]
}

// Domain returns the host that requests for this source are sent to
func (s *SourceConfig) Domain() string {
	raw := ""
	if s.JSON != nil && s.JSON.URLTemplate != "" {
		raw = strings.ReplaceAll(s.JSON.URLTemplate, cursorPlaceholder, "0")
	} else if len(s.StartURLs) > 0 {
		raw = s.StartURLs[0]
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return s.Name
	}
	return strings.ToLower(u.Host)
}

const cursorPlaceholder = "{cursor}"

// PageURL renders the JSON URL template for a cursor value
func (s *SourceConfig) PageURL(cursor int) string {
	if s.JSON == nil {
		return ""
	}
	return strings.ReplaceAll(s.JSON.URLTemplate, cursorPlaceholder, strconv.Itoa(cursor))
}

// Paginated reports whether pages are produced from the JSON cursor template
func (s *SourceConfig) Paginated() bool {
	return s.Kind == KindJSON && s.JSON != nil && s.JSON.URLTemplate != ""
}
