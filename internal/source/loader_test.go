package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/estateworker/pkg/errors"
)

const sampleSources = `
sources:
  - name: centa-hk
    zone: HK
    kind: json
    data_source: centaline
    json:
      url_template: "https://hk.centanet.com/api/tx?offset={cursor}&size=50"
      records_path: data.transactions
      total_path: data.count
    type_table: house_types
    fields:
      building_name: ["propertyNameCn", "building_name_zh"]
      floor: ["floor_zh", "floor"]
      area: ["transactionArea", "area"]
      deal_date: ["transactionDate", "tx_date"]
      deal_price: ["price", "sell"]
      type: ["propertyUsageDisplayName"]
      developer: ["const:Centaline"]
  - name: leyoujia-sz
    zone: China
    kind: HTML
    start_urls: ["https://sz.leyoujia.com/deal/?page=1"]
    container: "ul.deal-list > li"
    fields:
      building_name: ["css:.name", "div.title h3"]
      deal_date: ["span.date"]
      deal_price: ["span.price"]
      source_url: ["css:a.detail@href"]
`

func TestParse(t *testing.T) {
	sources, err := Parse([]byte(sampleSources))
	require.NoError(t, err)
	require.Len(t, sources, 2)

	centa := sources[0]
	assert.Equal(t, KindJSON, centa.Kind)
	assert.Equal(t, "hk.centanet.com", centa.Domain())
	assert.Equal(t, "https://hk.centanet.com/api/tx?offset=100&size=50", centa.PageURL(100))
	assert.True(t, centa.Paginated())
	assert.Equal(t, []Candidate{
		{Kind: CandidateJSON, Expr: "propertyNameCn"},
		{Kind: CandidateJSON, Expr: "building_name_zh"},
	}, centa.Candidates(FieldBuildingName))
	assert.Equal(t, []Candidate{{Kind: CandidateConst, Expr: "Centaline"}}, centa.Candidates(FieldDeveloper))

	sz := sources[1]
	assert.Equal(t, KindHTML, sz.Kind)
	assert.Equal(t, "sz.leyoujia.com", sz.Domain())
	assert.False(t, sz.Paginated())
	assert.Equal(t, []Candidate{
		{Kind: CandidateSelector, Expr: ".name"},
		{Kind: CandidateSelector, Expr: "div.title h3"},
	}, sz.Candidates(FieldBuildingName))
	assert.Equal(t, []Candidate{{Kind: CandidateSelector, Expr: "a.detail", Attr: "href"}}, sz.Candidates(FieldSourceURL))
	assert.Nil(t, sz.Candidates(FieldArea))
}

func TestParseRejectsInvalidBlocks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", `sources: []`},
		{"missing zone", `
sources:
  - name: a
    kind: html
    start_urls: ["http://a"]
    container: tr
    fields: {deal_date: [td.d], deal_price: [td.p]}`},
		{"missing container", `
sources:
  - name: a
    zone: HK
    kind: html
    start_urls: ["http://a"]
    fields: {deal_date: [td.d], deal_price: [td.p]}`},
		{"template without cursor", `
sources:
  - name: a
    zone: HK
    kind: json
    json: {url_template: "http://a/api?page=1"}
    fields: {deal_date: [d], deal_price: [p]}`},
		{"missing price candidates", `
sources:
  - name: a
    zone: HK
    kind: json
    start_urls: ["http://a"]
    fields: {deal_date: [d]}`},
		{"unknown field", `
sources:
  - name: a
    zone: HK
    kind: json
    start_urls: ["http://a"]
    fields: {deal_date: [d], deal_price: [p], colour: [c]}`},
		{"unknown zone", `
sources:
  - name: a
    zone: HKG
    kind: json
    start_urls: ["http://a"]
    fields: {deal_date: [d], deal_price: [p]}`},
		{"unknown kind", `
sources:
  - name: a
    zone: HK
    kind: xml
    start_urls: ["http://a"]
    fields: {deal_date: [d], deal_price: [p]}`},
		{"duplicate names", `
sources:
  - name: a
    zone: HK
    kind: json
    start_urls: ["http://a"]
    fields: {deal_date: [d], deal_price: [p]}
  - name: a
    zone: HK
    kind: json
    start_urls: ["http://b"]
    fields: {deal_date: [d], deal_price: [p]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
		})
	}
}

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		want Candidate
	}{
		{"json:a.b.0", KindHTML, Candidate{Kind: CandidateJSON, Expr: "a.b.0"}},
		{"css:td:nth-child(2)", KindJSON, Candidate{Kind: CandidateSelector, Expr: "td:nth-child(2)"}},
		{"td:nth-child(2)", KindHTML, Candidate{Kind: CandidateSelector, Expr: "td:nth-child(2)"}},
		{"img.cover @ src", KindHTML, Candidate{Kind: CandidateSelector, Expr: "img.cover", Attr: "src"}},
		{"const:住宅", KindHTML, Candidate{Kind: CandidateConst, Expr: "住宅"}},
		{"tx_date", KindJSON, Candidate{Kind: CandidateJSON, Expr: "tx_date"}},
	}

	for _, tt := range tests {
		got, err := ParseCandidate(tt.raw, tt.kind)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseCandidate("json:", KindJSON)
	assert.Error(t, err)
}

func TestLoadTypeTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
house_types:
  住宅: residential
  Residential: residential
store_types:
  商铺: retail
`), 0o644))

	tables, err := LoadTypeTables(path)
	require.NoError(t, err)
	assert.Equal(t, "residential", tables["house_types"]["住宅"])
	assert.Equal(t, "retail", tables["store_types"]["商铺"])

	sources, err := Parse([]byte(sampleSources))
	require.NoError(t, err)
	assert.NoError(t, tables.CheckReferences(sources))

	sources[0].TypeTable = "office_types"
	assert.Error(t, tables.CheckReferences(sources))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, errors.ErrorTypeConfiguration))
}
