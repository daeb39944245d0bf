// Package goal defines the TreatmentGoal template entity and its datalayer
// usage edges.
package goal

import (
	"fmt"
	"time"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
)

// UsageType tags how a goal uses a datalayer.
type UsageType string

const (
	UsagePriority        UsageType = "PRIORITY"
	UsageSecondaryMetric UsageType = "SECONDARY_METRIC"
	UsageThreshold       UsageType = "THRESHOLD"
)

// Valid reports whether u is a known usage type.
func (u UsageType) Valid() bool {
	switch u {
	case UsagePriority, UsageSecondaryMetric, UsageThreshold:
		return true
	}
	return false
}

// Operator is a threshold comparison operator.
type Operator string

const (
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpEQ  Operator = "eq"
)

// Symbol returns the comparison symbol used when rendering expressions.
func (o Operator) Symbol() (string, error) {
	switch o {
	case OpLT:
		return "<", nil
	case OpLTE:
		return "<=", nil
	case OpGT:
		return ">", nil
	case OpGTE:
		return ">=", nil
	case OpEQ:
		return "==", nil
	}
	return "", fmt.Errorf("unknown operator %q: %w", o, domain.ErrBadConfiguration)
}

// Threshold is a comparison against a named metric of a layer, rendered as
// text for the optimizer (for example "value > 0").
type Threshold struct {
	Metric   string   `json:"metric,omitempty"` // defaults to "value"
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// Validate rejects thresholds that refer to a non-existent aggregation.
func (t *Threshold) Validate() error {
	if _, err := t.Operator.Symbol(); err != nil {
		return err
	}
	if t.Metric != "" && t.Metric != "value" {
		if _, err := metric.Parse(t.Metric); err != nil {
			return fmt.Errorf("threshold metric: %v: %w", err, domain.ErrBadConfiguration)
		}
	}
	return nil
}

// Render produces the textual expression handed to the optimizer.
func (t *Threshold) Render() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	name := t.Metric
	if name == "" {
		name = "value"
	}
	sym, _ := t.Operator.Symbol()
	return fmt.Sprintf("%s %s %g", name, sym, t.Value), nil
}

// DataLayerUsage is one uses_datalayer edge of a goal.
type DataLayerUsage struct {
	ID          int64      `json:"id"`
	GoalID      int64      `json:"goal_id"`
	DataLayerID int64      `json:"datalayer_id"`
	UsageType   UsageType  `json:"usage_type"`
	Threshold   *Threshold `json:"threshold,omitempty"`
}

// TreatmentGoal is a template pairing priority, secondary and threshold
// layers with descriptive metadata.
type TreatmentGoal struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Group       string           `json:"group"`
	Uses        []DataLayerUsage `json:"uses"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
