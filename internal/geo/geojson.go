// Package geo provides the GeoJSON codec used for geometry columns and
// optimizer output features, plus small geometry helpers shared by the
// stand index and adapters.
package geo

import (
	"encoding/json"
	"fmt"

	"github.com/ctessum/geom"
)

// envelope is the GeoJSON geometry envelope. Only Polygon and MultiPolygon
// appear in this system; everything else is rejected.
type envelope struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// MarshalGeometry encodes a polygon or multipolygon as GeoJSON.
func MarshalGeometry(g geom.Geom) ([]byte, error) {
	switch t := g.(type) {
	case geom.Polygon:
		coords, err := json.Marshal(polygonCoords(t))
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Type: "Polygon", Coordinates: coords})
	case geom.MultiPolygon:
		rings := make([][][][2]float64, len(t))
		for i, p := range t {
			rings[i] = polygonCoords(p)
		}
		coords, err := json.Marshal(rings)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Type: "MultiPolygon", Coordinates: coords})
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

// UnmarshalGeometry decodes a GeoJSON Polygon or MultiPolygon.
func UnmarshalGeometry(data []byte) (geom.Geom, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	switch env.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(env.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("decode polygon coordinates: %w", err)
		}
		return polygonFromCoords(rings), nil
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(env.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("decode multipolygon coordinates: %w", err)
		}
		mp := make(geom.MultiPolygon, len(polys))
		for i, rings := range polys {
			mp[i] = polygonFromCoords(rings)
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", env.Type)
	}
}

// UnmarshalPolygonal decodes GeoJSON and asserts the result is polygonal.
func UnmarshalPolygonal(data []byte) (geom.Polygonal, error) {
	g, err := UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	p, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("geometry %T is not polygonal", g)
	}
	return p, nil
}

// UnmarshalPolygon decodes GeoJSON and asserts the result is a single polygon.
func UnmarshalPolygon(data []byte) (geom.Polygon, error) {
	g, err := UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	p, ok := g.(geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("geometry %T is not a polygon", g)
	}
	return p, nil
}

// UnmarshalMultiPolygon decodes GeoJSON, promoting a bare Polygon to a
// single-member MultiPolygon.
func UnmarshalMultiPolygon(data []byte) (geom.MultiPolygon, error) {
	g, err := UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	switch t := g.(type) {
	case geom.MultiPolygon:
		return t, nil
	case geom.Polygon:
		return geom.MultiPolygon{t}, nil
	}
	return nil, fmt.Errorf("geometry %T is not a multipolygon", g)
}

func polygonCoords(p geom.Polygon) [][][2]float64 {
	rings := make([][][2]float64, len(p))
	for i, ring := range p {
		rings[i] = make([][2]float64, len(ring))
		for j, pt := range ring {
			rings[i][j] = [2]float64{pt.X, pt.Y}
		}
	}
	return rings
}

func polygonFromCoords(rings [][][2]float64) geom.Polygon {
	p := make(geom.Polygon, len(rings))
	for i, ring := range rings {
		p[i] = make([]geom.Point, len(ring))
		for j, c := range ring {
			p[i][j] = geom.Point{X: c[0], Y: c[1]}
		}
	}
	return p
}

// UnionPolygons unions a set of polygons into one polygonal geometry.
// Used to snap optimizer output to stand boundaries.
func UnionPolygons(polys []geom.Polygon) geom.Polygonal {
	if len(polys) == 0 {
		return nil
	}
	var u geom.Polygonal = polys[0]
	for _, p := range polys[1:] {
		u = u.Union(p)
	}
	return u
}

// TotalBounds returns the union of the bounds of the given geometries, or
// nil for an empty input.
func TotalBounds(gs ...geom.Geom) *geom.Bounds {
	var total *geom.Bounds
	for _, g := range gs {
		b := g.Bounds()
		if total == nil {
			c := *b
			total = &c
			continue
		}
		if b.Min.X < total.Min.X {
			total.Min.X = b.Min.X
		}
		if b.Min.Y < total.Min.Y {
			total.Min.Y = b.Min.Y
		}
		if b.Max.X > total.Max.X {
			total.Max.X = b.Max.X
		}
		if b.Max.Y > total.Max.Y {
			total.Max.Y = b.Max.Y
		}
	}
	return total
}
