// Package metric defines zonal aggregations and the StandMetric cache row.
package metric

import (
	"fmt"
	"time"
)

// Aggregation is one zonal statistic of a raster over a stand.
type Aggregation string

const (
	AggMin      Aggregation = "min"
	AggAvg      Aggregation = "avg"
	AggMax      Aggregation = "max"
	AggSum      Aggregation = "sum"
	AggCount    Aggregation = "count"
	AggMajority Aggregation = "majority"
	AggMinority Aggregation = "minority"
)

// All lists every supported aggregation.
func All() []Aggregation {
	return []Aggregation{AggMin, AggAvg, AggMax, AggSum, AggCount, AggMajority, AggMinority}
}

// Valid reports whether a is a known aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggMin, AggAvg, AggMax, AggSum, AggCount, AggMajority, AggMinority:
		return true
	}
	return false
}

// Parse converts a string to an Aggregation. "mean" is accepted as an alias
// for "avg".
func Parse(s string) (Aggregation, error) {
	if s == "mean" {
		return AggAvg, nil
	}
	a := Aggregation(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
	return a, nil
}

// StandMetric is the cache row for one (stand, datalayer) pair. Aggregate
// columns are nullable: a stand with zero unmasked pixels keeps all values
// null with Count set to 0.
type StandMetric struct {
	StandID     int64     `json:"stand_id"`
	DataLayerID int64     `json:"datalayer_id"`
	Min         *float64  `json:"min"`
	Avg         *float64  `json:"avg"`
	Max         *float64  `json:"max"`
	Sum         *float64  `json:"sum"`
	Count       *float64  `json:"count"`
	Majority    *float64  `json:"majority"`
	Minority    *float64  `json:"minority"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Value returns the stored value for the given aggregation, or nil when the
// column has not been computed or the stand had no coverage.
func (m *StandMetric) Value(a Aggregation) *float64 {
	switch a {
	case AggMin:
		return m.Min
	case AggAvg:
		return m.Avg
	case AggMax:
		return m.Max
	case AggSum:
		return m.Sum
	case AggCount:
		return m.Count
	case AggMajority:
		return m.Majority
	case AggMinority:
		return m.Minority
	}
	return nil
}

// SetValue stores v under the given aggregation column.
func (m *StandMetric) SetValue(a Aggregation, v *float64) {
	switch a {
	case AggMin:
		m.Min = v
	case AggAvg:
		m.Avg = v
	case AggMax:
		m.Max = v
	case AggSum:
		m.Sum = v
	case AggCount:
		m.Count = v
	case AggMajority:
		m.Majority = v
	case AggMinority:
		m.Minority = v
	}
}

// Covers reports whether the row already satisfies a request for the given
// aggregations. A row with Count == 0 covers every aggregation: the stand has
// no unmasked pixels, so all statistics are legitimately null.
func (m *StandMetric) Covers(aggs []Aggregation) bool {
	if m.Count == nil {
		return false
	}
	if *m.Count == 0 {
		return true
	}
	for _, a := range aggs {
		if m.Value(a) == nil {
			return false
		}
	}
	return true
}
