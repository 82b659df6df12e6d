package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sjsage522/estateworker/pkg/errors"
)

func sample() *Listing {
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	price := int64(6800000)
	area := 650.0
	return &Listing{
		Source:       "centa-hk",
		Zone:         "HK",
		BuildingName: String("Taikoo Shing"),
		Floor:        String("12"),
		Unit:         String("A"),
		Area:         &area,
		DealPrice:    &price,
		DealDate:     &date,
	}
}

func TestIdentityKeyIgnoresCaseAndWhitespace(t *testing.T) {
	a := sample()
	b := sample()
	b.BuildingName = String("  TAIKOO   shing ")

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.Len(t, a.IdentityKey(), 64)
}

func TestIdentityKeyDistinguishesFields(t *testing.T) {
	base := sample().IdentityKey()

	other := sample()
	other.Unit = String("B")
	assert.NotEqual(t, base, other.IdentityKey())

	other = sample()
	price := int64(6800001)
	other.DealPrice = &price
	assert.NotEqual(t, base, other.IdentityKey())

	other = sample()
	d := other.DealDate.AddDate(0, 0, 1)
	other.DealDate = &d
	assert.NotEqual(t, base, other.IdentityKey())
}

func TestIdentityKeyUnitScopeFollowsZone(t *testing.T) {
	a := sample()
	a.Zone = "China"
	b := sample()
	b.Zone = "China"
	b.Floor = String("30")
	b.Unit = String("C")

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
}

func TestAddressAndHint(t *testing.T) {
	l := sample()
	l.Town = String("鰂魚涌")
	l.Street = String("太古城道")
	assert.Equal(t, "鰂魚涌, 太古城道, Taikoo Shing", l.Address())
	assert.Equal(t, "Taikoo Shing 12 A 2024-05-01", l.Hint())
}

func TestGate(t *testing.T) {
	gate := NewGate()

	assert.NoError(t, gate.Check(sample()))

	noArea := sample()
	noArea.Area = nil
	assert.NoError(t, gate.Check(noArea))

	noAreaNoName := sample()
	noAreaNoName.Area = nil
	noAreaNoName.BuildingName = nil
	err := gate.Check(noAreaNoName)
	assert.True(t, errors.Is(err, errors.ErrorTypeQualityRejected))
	assert.Equal(t, []string{"building_name", "area"}, Missing(noAreaNoName))

	noPrice := sample()
	noPrice.DealPrice = nil
	assert.Error(t, gate.Check(noPrice))
}
