package normalize

import (
	"fmt"
	"strings"

	"sjsage522/estateworker/internal/extract"
	"sjsage522/estateworker/internal/listing"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/pkg/errors"
)

// Normalizer converts extracted raw fields into a canonical listing
type Normalizer struct {
	tables source.TypeTables
}

// New creates a normalizer backed by the given type alias tables
func New(tables source.TypeTables) *Normalizer {
	return &Normalizer{tables: tables}
}

// Normalize builds a listing from raw fields. Absent values become nil; a
// value that is present but cannot be parsed (price, date, type) fails the
// whole record with a normalization error. An unparseable area is nulled.
func (n *Normalizer) Normalize(src *source.SourceConfig, f extract.Fields) (*listing.Listing, error) {
	l := &listing.Listing{
		Source:       src.Name,
		DataSource:   src.DataSource,
		Zone:         src.Zone,
		Town:         Text(f[source.FieldTown]),
		Street:       Text(f[source.FieldStreet]),
		Road:         Text(f[source.FieldRoad]),
		BuildingName: Text(f[source.FieldBuildingName]),
		EstateName:   Text(f[source.FieldEstateName]),
		Flat:         Text(f[source.FieldFlat]),
		Floor:        Text(f[source.FieldFloor]),
		Unit:         Text(f[source.FieldUnit]),
		Developer:    Text(f[source.FieldDeveloper]),
		SourceURL:    strings.TrimSpace(f[source.FieldSourceURL]),
	}
	if l.DataSource == "" {
		l.DataSource = src.Name
	}

	if raw := strings.TrimSpace(f[source.FieldDealDate]); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return nil, errors.NewNormalization(src.Name, "deal_date", err)
		}
		l.DealDate = &d
	}

	if raw := strings.TrimSpace(f[source.FieldDealPrice]); raw != "" {
		p, err := ParsePrice(raw)
		if err != nil {
			return nil, errors.NewNormalization(src.Name, "deal_price", err)
		}
		l.DealPrice = &p
	}

	if a, ok := ParseArea(f[source.FieldArea]); ok {
		l.Area = &a
	}

	rawType := Text(f[source.FieldType])
	l.TypeRaw = rawType
	if src.TypeTable == "" {
		l.Type = rawType
		return l, nil
	}
	if rawType == nil {
		return nil, errors.NewNormalization(src.Name, "type", fmt.Errorf("missing type for table %s", src.TypeTable))
	}
	canonical, err := n.ClassifyType(src.TypeTable, *rawType)
	if err != nil {
		return nil, errors.NewNormalization(src.Name, "type", err)
	}
	l.Type = &canonical
	return l, nil
}

// ClassifyType maps a raw type label to its canonical category using the
// named alias table. Matching falls back to a case-insensitive comparison.
func (n *Normalizer) ClassifyType(table, raw string) (string, error) {
	aliases, ok := n.tables[table]
	if !ok {
		return "", fmt.Errorf("unknown type table %q", table)
	}
	raw = strings.TrimSpace(raw)
	if v, ok := aliases[raw]; ok {
		return v, nil
	}
	for k, v := range aliases {
		if strings.EqualFold(strings.TrimSpace(k), raw) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unmapped type %q in table %s", raw, table)
}
