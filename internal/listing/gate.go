package listing

import (
	"sjsage522/estateworker/pkg/errors"
)

// Gate rejects listings missing too many of the fields that make a
// transaction meaningful.
type Gate struct {
	// MaxMissing is the largest tolerated number of missing gated fields
	MaxMissing int
}

// NewGate returns the default gate tolerating one missing field
func NewGate() Gate {
	return Gate{MaxMissing: 1}
}

// Missing lists which gated fields are null
func Missing(l *Listing) []string {
	var missing []string
	if l.BuildingName == nil {
		missing = append(missing, "building_name")
	}
	if l.Area == nil {
		missing = append(missing, "area")
	}
	if l.DealDate == nil {
		missing = append(missing, "deal_date")
	}
	if l.DealPrice == nil {
		missing = append(missing, "deal_price")
	}
	return missing
}

// Check returns a quality rejection error, or nil when the listing passes.
// Date and price are mandatory regardless of the tolerated count.
func (g Gate) Check(l *Listing) error {
	missing := Missing(l)
	if len(missing) > g.MaxMissing || l.DealDate == nil || l.DealPrice == nil {
		return errors.NewQualityRejected(l.Source, missing)
	}
	return nil
}
