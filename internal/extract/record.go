package extract

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"sjsage522/estateworker/internal/source"
)

var (
	// ErrMalformedExpression is returned for candidate expressions that cannot be compiled
	ErrMalformedExpression = stderrors.New("malformed expression")
	// ErrUnsupportedCandidate is returned for a candidate variant a record cannot evaluate
	ErrUnsupportedCandidate = stderrors.New("candidate not applicable to record")
)

// RawRecord is one record as delivered by a source, before extraction
type RawRecord interface {
	// Lookup evaluates a single candidate. An empty string with a nil error
	// means the candidate matched nothing.
	Lookup(c source.Candidate) (string, error)
}

// JSONRecord is a record decoded from a JSON payload
type JSONRecord map[string]interface{}

// Lookup implements RawRecord. Selectors are evaluated against string
// values that carry markup, visited in key order.
func (r JSONRecord) Lookup(c source.Candidate) (string, error) {
	switch c.Kind {
	case source.CandidateConst:
		return strings.TrimSpace(c.Expr), nil
	case source.CandidateJSON:
		v, ok := lookupPath(map[string]interface{}(r), c.Expr)
		if !ok {
			return "", nil
		}
		return scalarString(v), nil
	case source.CandidateSelector:
		m, err := compileSelector(c.Expr)
		if err != nil {
			return "", err
		}
		for _, fragment := range markupValues(map[string]interface{}(r), nil) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
			if err != nil {
				continue
			}
			if v := selectValue(doc.Selection, m, c.Attr); v != "" {
				return v, nil
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s on json record", ErrUnsupportedCandidate, c.Kind)
	}
}

func markupValues(v interface{}, out []string) []string {
	switch node := v.(type) {
	case map[string]interface{}:
		for _, k := range slices.Sorted(maps.Keys(node)) {
			out = markupValues(node[k], out)
		}
	case []interface{}:
		for _, item := range node {
			out = markupValues(item, out)
		}
	case string:
		if strings.Contains(node, "<") && strings.Contains(node, ">") {
			out = append(out, node)
		}
	}
	return out
}

// HTMLRecord is one container element of an HTML page
type HTMLRecord struct {
	sel *goquery.Selection
}

// NewHTMLRecord wraps a goquery selection as a record
func NewHTMLRecord(sel *goquery.Selection) HTMLRecord {
	return HTMLRecord{sel: sel}
}

// Lookup implements RawRecord. JSON keys are looked up in JSON embedded in
// the container: object-valued attributes first, then script blocks.
func (r HTMLRecord) Lookup(c source.Candidate) (string, error) {
	switch c.Kind {
	case source.CandidateConst:
		return strings.TrimSpace(c.Expr), nil
	case source.CandidateSelector:
		m, err := compileSelector(c.Expr)
		if err != nil {
			return "", err
		}
		return selectValue(r.sel, m, c.Attr), nil
	case source.CandidateJSON:
		for _, embedded := range r.embeddedJSON() {
			if v, ok := lookupPath(embedded, c.Expr); ok {
				if s := scalarString(v); s != "" {
					return s, nil
				}
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s on html record", ErrUnsupportedCandidate, c.Kind)
	}
}

func (r HTMLRecord) embeddedJSON() []map[string]interface{} {
	var out []map[string]interface{}
	decode := func(raw string) {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "{") {
			return
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			out = append(out, obj)
		}
	}
	for _, node := range r.sel.Nodes {
		for _, attr := range node.Attr {
			decode(attr.Val)
		}
	}
	r.sel.Find(`script[type*="json"]`).Each(func(_ int, s *goquery.Selection) {
		decode(s.Text())
	})
	return out
}

// selectValue returns the text, or the attribute when attr is set, of the
// first element under sel matching m.
func selectValue(sel *goquery.Selection, m cascadia.Selector, attr string) string {
	found := sel.FindMatcher(m).First()
	if found.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := found.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapseSpace(found.Text())
}

var selectorCache sync.Map

// compileSelector compiles and memoizes a CSS selector. goquery's Find
// silently matches nothing for invalid selectors, so compilation goes
// through cascadia directly to surface the error.
func compileSelector(expr string) (cascadia.Selector, error) {
	if cached, ok := selectorCache.Load(expr); ok {
		return cached.(cascadia.Selector), nil
	}
	m, err := cascadia.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedExpression, expr, err)
	}
	selectorCache.Store(expr, m)
	return m, nil
}

// lookupPath walks a dotted key path; numeric segments index arrays. A key
// containing dots is tried verbatim first.
func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}

	var cur interface{} = root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []interface{}:
		for _, item := range val {
			if s := scalarString(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
