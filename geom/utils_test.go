package geom

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestTriangulate(t *testing.T) {
	cases := []struct {
		name string
		poly []mgl64.Vec3
		tris int
		area float64
	}{
		{"empty", nil, 0, 0},
		{"triangle", []mgl64.Vec3{{0, 0, 0}, {0, 1, 0}, {0, 1, 1}}, 1, 0.5},
		{"quad", []mgl64.Vec3{{0, 0, 0}, {0, 1, 0}, {0, 1, 1}, {0, 0, 1}}, 2, 1},
		{"concave", []mgl64.Vec3{{0, 0, 0}, {0, 1, 0}, {0, 1, 1}, {0, 0.8, 0.2}}, 2, 0.2},
	}
	for _, c := range cases {
		tris := Triangulate(c.poly)
		if len(tris) != c.tris {
			t.Error(c.name, "triangles", tris)
			continue
		}
		var area float64
		for _, tri := range tris {
			a, b, d := c.poly[tri[0]], c.poly[tri[1]], c.poly[tri[2]]
			area += b.Sub(a).Cross(d.Sub(a)).Len() / 2
		}
		if math.Abs(area-c.area) > 1e-9 {
			t.Error(c.name, "area", area, c.area)
		}
	}
}

func TestIsInTriangle(t *testing.T) {
	a, b, c := mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}
	if !IsInTriangle(mgl64.Vec3{0.2, 0.2, 0}, a, b, c) {
		t.Error("inside")
	}
	if IsInTriangle(mgl64.Vec3{1, 1, 0}, a, b, c) {
		t.Error("outside")
	}
}
