package extract

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// ErrMalformedPage is returned when a page body cannot be split into records
var ErrMalformedPage = stderrors.New("malformed page")

// SplitHTML parses an HTML page and returns one record per container match,
// in document order.
func SplitHTML(body io.Reader, container string) ([]RawRecord, error) {
	m, err := compileSelector(container)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrMalformedPage, err)
	}

	var records []RawRecord
	doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		records = append(records, NewHTMLRecord(s))
	})
	return records, nil
}

// SplitJSON decodes a JSON page and returns the records found at
// recordsPath plus the total reported at totalPath (-1 when unknown).
// An empty recordsPath expects the document itself to be an array.
func SplitJSON(body []byte, recordsPath, totalPath string) ([]RawRecord, int, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, -1, fmt.Errorf("%w: decode json: %v", ErrMalformedPage, err)
	}

	list := doc
	total := -1
	if obj, ok := doc.(map[string]interface{}); ok {
		if recordsPath != "" {
			v, found := lookupPath(obj, recordsPath)
			if !found {
				return nil, total, fmt.Errorf("%w: no records at %q", ErrMalformedPage, recordsPath)
			}
			list = v
		}
		if totalPath != "" {
			if v, found := lookupPath(obj, totalPath); found {
				if n, ok := v.(json.Number); ok {
					if i, err := n.Int64(); err == nil {
						total = int(i)
					}
				}
			}
		}
	}

	items, ok := list.([]interface{})
	if !ok {
		if list == nil {
			return nil, total, nil
		}
		return nil, total, fmt.Errorf("%w: records are not an array", ErrMalformedPage)
	}

	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			records = append(records, JSONRecord(obj))
		}
	}
	return records, total, nil
}
