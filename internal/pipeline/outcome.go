package pipeline

// Outcome is what happened to one record
type Outcome int

const (
	// OutcomeInserted means the listing was stored for the first time
	OutcomeInserted Outcome = iota
	// OutcomeExisting means storage already had the identity key
	OutcomeExisting
	// OutcomeDuplicate means the key was seen in a prior run or earlier this run
	OutcomeDuplicate
	// OutcomeRejected means normalization or the quality gate dropped the record
	OutcomeRejected
	// OutcomeHeld means the record lacks a required location and is retried next run
	OutcomeHeld
	// OutcomeError means storage failed
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeExisting:
		return "existing"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeHeld:
		return "held"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Counts tallies outcomes
type Counts struct {
	Inserted  int `json:"inserted"`
	Existing  int `json:"existing"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
	Held      int `json:"held"`
	Errors    int `json:"errors"`
}

// Add counts one outcome
func (c *Counts) Add(o Outcome) {
	switch o {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeExisting:
		c.Existing++
	case OutcomeDuplicate:
		c.Duplicate++
	case OutcomeRejected:
		c.Rejected++
	case OutcomeHeld:
		c.Held++
	case OutcomeError:
		c.Errors++
	}
}

// Merge adds other into c
func (c *Counts) Merge(other Counts) {
	c.Inserted += other.Inserted
	c.Existing += other.Existing
	c.Duplicate += other.Duplicate
	c.Rejected += other.Rejected
	c.Held += other.Held
	c.Errors += other.Errors
}

// Total returns the number of records counted
func (c Counts) Total() int {
	return c.Inserted + c.Existing + c.Duplicate + c.Rejected + c.Held + c.Errors
}
