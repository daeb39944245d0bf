package geo

import (
	"reflect"
	"testing"

	"github.com/ctessum/geom"
)

func unitSquare(x, y float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y}, {X: x + 1, Y: y}, {X: x + 1, Y: y + 1}, {X: x, Y: y + 1},
	}}
}

func TestPolygonRoundTrip(t *testing.T) {
	p := unitSquare(2, 3)
	raw, err := MarshalGeometry(p)
	if err != nil {
		t.Fatalf("MarshalGeometry: %v", err)
	}

	got, err := UnmarshalPolygon(raw)
	if err != nil {
		t.Fatalf("UnmarshalPolygon: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip changed geometry: %v != %v", got, p)
	}
}

func TestMultiPolygonRoundTrip(t *testing.T) {
	mp := geom.MultiPolygon{unitSquare(0, 0), unitSquare(5, 5)}
	raw, err := MarshalGeometry(mp)
	if err != nil {
		t.Fatalf("MarshalGeometry: %v", err)
	}

	got, err := UnmarshalMultiPolygon(raw)
	if err != nil {
		t.Fatalf("UnmarshalMultiPolygon: %v", err)
	}
	if !reflect.DeepEqual(got, mp) {
		t.Errorf("round trip changed geometry: %v != %v", got, mp)
	}
}

func TestUnmarshalMultiPolygonPromotesPolygon(t *testing.T) {
	raw, err := MarshalGeometry(unitSquare(1, 1))
	if err != nil {
		t.Fatalf("MarshalGeometry: %v", err)
	}

	got, err := UnmarshalMultiPolygon(raw)
	if err != nil {
		t.Fatalf("UnmarshalMultiPolygon: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d members, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0], unitSquare(1, 1)) {
		t.Errorf("promoted member = %v", got[0])
	}
}

func TestMarshalRejectsUnsupportedType(t *testing.T) {
	if _, err := MarshalGeometry(geom.Point{X: 1, Y: 2}); err == nil {
		t.Error("want error for point geometry")
	}
}

func TestUnmarshalRejectsUnsupportedType(t *testing.T) {
	if _, err := UnmarshalGeometry([]byte(`{"type":"Point","coordinates":[1,2]}`)); err == nil {
		t.Error("want error for point geometry")
	}
}

func TestUnionPolygons(t *testing.T) {
	u := UnionPolygons([]geom.Polygon{unitSquare(0, 0), unitSquare(1, 0)})
	if u == nil {
		t.Fatal("nil union")
	}
	if got, want := u.Area(), 2.0; got < want*0.999 || got > want*1.001 {
		t.Errorf("union area = %v, want ~%v", got, want)
	}

	if UnionPolygons(nil) != nil {
		t.Error("empty input must union to nil")
	}
}

func TestTotalBounds(t *testing.T) {
	b := TotalBounds(unitSquare(0, 0), unitSquare(9, -3))
	want := geom.Bounds{Min: geom.Point{X: 0, Y: -3}, Max: geom.Point{X: 10, Y: 1}}
	if *b != want {
		t.Errorf("bounds = %+v, want %+v", *b, want)
	}

	if TotalBounds() != nil {
		t.Error("empty input must have nil bounds")
	}
}
