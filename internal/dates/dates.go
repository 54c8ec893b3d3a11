// Package dates holds the fixed table of per-day run identifiers.
//
// The table is generated once from a start date and a day count, so the
// entries are always consecutive calendar days in YYYYMMDD form. Only the
// first RunCount entries are consulted by a run.
package dates

import (
	"time"
)

// Layout is the time layout of an Identifier.
const Layout = "20060102"

const (
	// TableSize is the number of identifiers in the table.
	TableSize = 180

	// RunCount is how many leading identifiers a run visits.
	RunCount = 22
)

// Identifier is an 8-digit YYYYMMDD calendar date.
type Identifier string

// String returns the raw identifier.
func (id Identifier) String() string {
	return string(id)
}

// Time parses the identifier as a UTC midnight timestamp.
func (id Identifier) Time() (time.Time, error) {
	return time.ParseInLocation(Layout, string(id), time.UTC)
}

// Start is the first day in the table.
var Start = time.Date(2019, time.December, 1, 0, 0, 0, 0, time.UTC)

var table = generate(Start, TableSize)

func generate(start time.Time, count int) []Identifier {
	ids := make([]Identifier, count)
	for i := range ids {
		ids[i] = Identifier(start.AddDate(0, 0, i).Format(Layout))
	}
	return ids
}

// Table returns a copy of the full identifier table in order.
func Table() []Identifier {
	out := make([]Identifier, len(table))
	copy(out, table)
	return out
}

// Runnable returns the identifiers a run visits, in order.
func Runnable() []Identifier {
	out := make([]Identifier, RunCount)
	copy(out, table[:RunCount])
	return out
}
