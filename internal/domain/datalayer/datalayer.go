// Package datalayer defines the DataLayer domain entity: a logical raster or
// vector addressed by URL, with per-module role tags.
package datalayer

import (
	"fmt"
	"strings"
	"time"

	"github.com/silvaplan/silvaplan/internal/domain/metric"
)

// Type distinguishes raster from vector layers.
type Type string

const (
	TypeRaster Type = "RASTER"
	TypeVector Type = "VECTOR"
)

// Info holds the opaque result of the raster probe performed at registration
// time. CRS and geotransform are validated once there; compute paths trust it.
type Info struct {
	EPSG      int        `json:"epsg,omitempty"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Bands     int        `json:"bands,omitempty"`
	Transform [6]float64 `json:"transform,omitempty"`
	NoData    *float64   `json:"nodata,omitempty"`
	Band      int        `json:"band,omitempty"` // band override; 0 means band 1
}

// ImpactsTags tags a layer for the impact engine. A baseline layer models a
// variable in year Y with no treatment; an action layer models the same
// variable after applying the action at year 0.
type ImpactsTags struct {
	Baseline    bool               `json:"baseline"`
	Variable    string             `json:"variable"`
	Action      string             `json:"action,omitempty"`
	Year        int                `json:"year"`
	Aggregation metric.Aggregation `json:"aggregation,omitempty"`
}

// ForsysTags tags a layer for the pre-optimization builder.
type ForsysTags struct {
	MetricColumn metric.Aggregation `json:"metric_column,omitempty"`
	LegacyName   string             `json:"legacy_name,omitempty"`
}

// Modules maps module names to module-specific role tags.
type Modules struct {
	Impacts *ImpactsTags `json:"impacts,omitempty"`
	Forsys  *ForsysTags  `json:"forsys,omitempty"`
}

// DataLayer is a logical raster or vector layer.
type DataLayer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	URL       string    `json:"url"`
	NoData    *float64  `json:"nodata,omitempty"` // explicit override of the probed value
	Info      Info      `json:"info"`
	Modules   Modules   `json:"modules"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoDataValue resolves the layer's nodata with the deterministic fallback
// chain: explicit override, probed raster value, 0.
func (d *DataLayer) NoDataValue() float64 {
	if d.NoData != nil {
		return *d.NoData
	}
	if d.Info.NoData != nil {
		return *d.Info.NoData
	}
	return 0
}

// Band returns the 1-based band to read, honoring the metadata override.
func (d *DataLayer) Band() int {
	if d.Info.Band > 0 {
		return d.Info.Band
	}
	return 1
}

// MetricColumn returns the aggregation the builder feeds to the optimizer for
// this layer; avg when the forsys tags are absent or silent.
func (d *DataLayer) MetricColumn() metric.Aggregation {
	if d.Modules.Forsys != nil && d.Modules.Forsys.MetricColumn != "" {
		return d.Modules.Forsys.MetricColumn
	}
	return metric.AggAvg
}

// Validate checks the layer's module tags for internal consistency.
func (d *DataLayer) Validate() error {
	if d.Type != TypeRaster && d.Type != TypeVector {
		return fmt.Errorf("unknown layer type %q", d.Type)
	}
	if d.URL == "" {
		return fmt.Errorf("layer %q has no url", d.Name)
	}
	if t := d.Modules.Impacts; t != nil {
		if t.Variable == "" {
			return fmt.Errorf("layer %q: impacts tags require a variable", d.Name)
		}
		if !t.Baseline && t.Action == "" {
			return fmt.Errorf("layer %q: non-baseline impacts layer requires an action", d.Name)
		}
		if t.Aggregation != "" && !t.Aggregation.Valid() {
			return fmt.Errorf("layer %q: unknown impacts aggregation %q", d.Name, t.Aggregation)
		}
	}
	if t := d.Modules.Forsys; t != nil {
		if t.MetricColumn != "" && !t.MetricColumn.Valid() {
			return fmt.Errorf("layer %q: unknown forsys metric column %q", d.Name, t.MetricColumn)
		}
	}
	return nil
}

// ImpactsFilter selects impacts-tagged layers. Empty string fields and nil
// pointers match anything.
type ImpactsFilter struct {
	Variable string
	Action   string // matched against normalized action names
	Year     *int
	Baseline *bool
}

// Matches reports whether the layer's impacts tags satisfy the filter.
// Layers without impacts tags never match.
func (f ImpactsFilter) Matches(d *DataLayer) bool {
	t := d.Modules.Impacts
	if t == nil {
		return false
	}
	if f.Variable != "" && t.Variable != f.Variable {
		return false
	}
	if f.Action != "" && NormalizeAction(t.Action) != NormalizeAction(f.Action) {
		return false
	}
	if f.Year != nil && t.Year != *f.Year {
		return false
	}
	if f.Baseline != nil && t.Baseline != *f.Baseline {
		return false
	}
	return true
}

// NormalizeAction canonicalizes a treatment action name the way impacts
// layer tags are written: lower case with single underscores.
func NormalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
