package source

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"sjsage522/estateworker/internal/zone"
	"sjsage522/estateworker/pkg/errors"
)

type document struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Load reads and validates the source configuration file
func Load(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read sources file "+path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML source document. Any invalid block
// fails the whole document.
func Parse(data []byte) ([]SourceConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewConfiguration("decode sources", err)
	}
	if len(doc.Sources) == 0 {
		return nil, errors.NewConfiguration("no sources declared", nil)
	}

	seen := make(map[string]bool, len(doc.Sources))
	for i := range doc.Sources {
		src := &doc.Sources[i]
		if err := src.validate(); err != nil {
			return nil, err
		}
		if seen[src.Name] {
			return nil, errors.NewConfiguration(fmt.Sprintf("duplicate source name %q", src.Name), nil)
		}
		seen[src.Name] = true
	}
	return doc.Sources, nil
}

func (s *SourceConfig) validate() error {
	fail := func(format string, args ...interface{}) error {
		return errors.New(errors.ErrorTypeConfiguration, s.Name, fmt.Sprintf(format, args...), nil)
	}

	if s.Name == "" {
		return errors.NewConfiguration("source without a name", nil)
	}
	if s.Zone == "" {
		return fail("zone is required")
	}
	if !zone.Known(s.Zone) {
		return fail("unknown zone %q", s.Zone)
	}
	s.Kind = Kind(strings.ToLower(string(s.Kind)))
	switch s.Kind {
	case KindHTML:
		if s.Container == "" {
			return fail("container selector is required for html sources")
		}
		if len(s.StartURLs) == 0 {
			return fail("start_urls is required for html sources")
		}
	case KindJSON:
		if !s.Paginated() && len(s.StartURLs) == 0 {
			return fail("json sources need start_urls or json.url_template")
		}
		if s.Paginated() && !strings.Contains(s.JSON.URLTemplate, cursorPlaceholder) {
			return fail("json.url_template must contain %s", cursorPlaceholder)
		}
	default:
		return fail("unknown kind %q", s.Kind)
	}

	if len(s.RawFields) == 0 {
		return fail("fields are required")
	}
	for _, required := range []string{FieldDealDate, FieldDealPrice} {
		if len(s.RawFields[required]) == 0 {
			return fail("field %q must declare at least one candidate", required)
		}
	}

	s.Fields = make(map[string][]Candidate, len(s.RawFields))
	for field, raws := range s.RawFields {
		if !slices.Contains(KnownFields, field) {
			return fail("unknown field %q", field)
		}
		for _, raw := range raws {
			c, err := ParseCandidate(raw, s.Kind)
			if err != nil {
				return fail("field %q: %v", field, err)
			}
			s.Fields[field] = append(s.Fields[field], c)
		}
	}
	return nil
}

// ParseCandidate decodes one candidate expression. Unprefixed expressions
// take the variant matching the source kind.
func ParseCandidate(raw string, kind Kind) (Candidate, error) {
	raw = strings.TrimSpace(raw)
	prefix, rest, found := strings.Cut(raw, ":")

	var c Candidate
	switch {
	case found && prefix == "json":
		c = Candidate{Kind: CandidateJSON, Expr: strings.TrimSpace(rest)}
	case found && prefix == "css":
		c = selectorCandidate(rest)
	case found && prefix == "const":
		// Literals are kept verbatim, including empty-looking spacing.
		return Candidate{Kind: CandidateConst, Expr: rest}, nil
	case kind == KindJSON:
		c = Candidate{Kind: CandidateJSON, Expr: raw}
	default:
		c = selectorCandidate(raw)
	}

	if c.Expr == "" {
		return Candidate{}, fmt.Errorf("empty candidate %q", raw)
	}
	return c, nil
}

func selectorCandidate(expr string) Candidate {
	expr = strings.TrimSpace(expr)
	c := Candidate{Kind: CandidateSelector, Expr: expr}
	if i := strings.LastIndex(expr, "@"); i >= 0 {
		c.Expr = strings.TrimSpace(expr[:i])
		c.Attr = strings.TrimSpace(expr[i+1:])
	}
	return c
}
