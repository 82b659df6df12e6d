package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/estateworker/internal/extract"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/pkg/errors"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2024/5/1", "2024-05-01"},
		{"01/05/2024", "2024-05-01"},
		{"2024-05-01", "2024-05-01"},
		{"2024-5-1", "2024-05-01"},
		{"2024-05-01 13:45:00", "2024-05-01"},
		{"2024-05-01T13:45:00+08:00", "2024-05-01"},
		{"2024年5月1日", "2024-05-01"},
		{"2024.05.01", "2024-05-01"},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got.Format("2006-01-02"), tt.raw)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []string{"", "N/A", "2024/13/01", "30/02/2024", "01/05/24", "yesterday"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"$680萬", 6800000},
		{"1.2億", 120000000},
		{"1.2亿", 120000000},
		{"HK$5,200,000", 5200000},
		{"售$700万", 7000000},
		{"@12,345", 12345},
		{"¥350K", 350000},
		{"6.8M", 6800000},
		{"8800000", 8800000},
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	for _, bad := range []string{"N/A", "", "面議", "$0"} {
		_, err := ParsePrice(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseArea(t *testing.T) {
	v, ok := ParseArea("約 1,050 呎")
	assert.True(t, ok)
	assert.Equal(t, 1050.0, v)

	v, ok = ParseArea("89.5平方米")
	assert.True(t, ok)
	assert.Equal(t, 89.5, v)

	_, ok = ParseArea("--")
	assert.False(t, ok)
}

func TestText(t *testing.T) {
	assert.Nil(t, Text("  "))
	assert.Nil(t, Text("None"))
	assert.Nil(t, Text("--"))
	assert.Equal(t, "Taikoo Shing", *Text(" Taikoo \n Shing "))
}

func newSource(table string) *source.SourceConfig {
	return &source.SourceConfig{Name: "centa-hk", Zone: "HK", TypeTable: table}
}

func TestNormalize(t *testing.T) {
	n := New(source.TypeTables{"house_types": {"住宅": "residential", "Shop": "retail"}})

	l, err := n.Normalize(newSource("house_types"), extract.Fields{
		source.FieldBuildingName: " 太古城 ",
		source.FieldFloor:        "12",
		source.FieldArea:         "約650呎",
		source.FieldDealPrice:    "$680萬",
		source.FieldDealDate:     "2024/5/1",
		source.FieldType:         "住宅",
		source.FieldSourceURL:    "https://example.com/tx/1",
	})
	require.NoError(t, err)
	assert.Equal(t, "太古城", *l.BuildingName)
	assert.Equal(t, 650.0, *l.Area)
	assert.Equal(t, int64(6800000), *l.DealPrice)
	assert.Equal(t, "2024-05-01", l.DealDateString())
	assert.Equal(t, "residential", *l.Type)
	assert.Equal(t, "住宅", *l.TypeRaw)
	assert.Equal(t, "centa-hk", l.DataSource)
	assert.Nil(t, l.Unit)

	l, err = n.Normalize(newSource("house_types"), extract.Fields{
		source.FieldDealPrice: "1000000",
		source.FieldDealDate:  "2024-05-01",
		source.FieldType:      "shop",
		source.FieldArea:      "n/a",
	})
	require.NoError(t, err)
	assert.Equal(t, "retail", *l.Type)
	assert.Nil(t, l.Area)
}

func TestNormalizeFailures(t *testing.T) {
	n := New(source.TypeTables{"house_types": {"住宅": "residential"}})

	tests := []struct {
		name   string
		fields extract.Fields
	}{
		{"bad price", extract.Fields{source.FieldDealPrice: "N/A", source.FieldDealDate: "2024-05-01", source.FieldType: "住宅"}},
		{"bad date", extract.Fields{source.FieldDealPrice: "1", source.FieldDealDate: "soon", source.FieldType: "住宅"}},
		{"unmapped type", extract.Fields{source.FieldDealPrice: "1", source.FieldDealDate: "2024-05-01", source.FieldType: "車位"}},
		{"missing type", extract.Fields{source.FieldDealPrice: "1", source.FieldDealDate: "2024-05-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(newSource("house_types"), tt.fields)
			assert.True(t, errors.Is(err, errors.ErrorTypeNormalization), "%v", err)
		})
	}
}

func TestNormalizeWithoutTypeTable(t *testing.T) {
	n := New(nil)
	l, err := n.Normalize(newSource(""), extract.Fields{source.FieldType: "Office"})
	require.NoError(t, err)
	assert.Equal(t, "Office", *l.Type)
	assert.Nil(t, l.DealPrice)
	assert.Nil(t, l.DealDate)
}

func TestNormalizeTrimsSourceURL(t *testing.T) {
	n := New(nil)
	l, err := n.Normalize(newSource(""), extract.Fields{source.FieldSourceURL: "  https://example.com/tx/9 \n"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/tx/9", l.SourceURL)

	l, err = n.Normalize(newSource(""), extract.Fields{source.FieldSourceURL: " \t "})
	require.NoError(t, err)
	assert.Empty(t, l.SourceURL)
}
