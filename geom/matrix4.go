package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a decomposed local transform. Matrix() composes it as T * R * S.
type Transform struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
	Scale       mgl64.Vec3
}

func IdentityTransform() Transform {
	return Transform{Rotation: mgl64.QuatIdent(), Scale: mgl64.Vec3{1, 1, 1}}
}

func (t Transform) Matrix() mgl64.Mat4 {
	tr := mgl64.Translate3D(t.Translation[0], t.Translation[1], t.Translation[2])
	sc := mgl64.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2])
	return tr.Mul4(t.Rotation.Normalize().Mat4()).Mul4(sc)
}

// Decompose splits an affine matrix into TRS. ok is false if the result does
// not reproduce m (shear or degenerate axes).
func Decompose(m mgl64.Mat4) (t Transform, ok bool) {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	if sx == 0 || sy == 0 || sz == 0 {
		return IdentityTransform(), false
	}
	if m.Det() < 0 {
		sx = -sx
	}
	rot := mgl64.Mat4FromCols(
		m.Col(0).Mul(1/sx),
		m.Col(1).Mul(1/sy),
		m.Col(2).Mul(1/sz),
		mgl64.Vec4{0, 0, 0, 1},
	)
	t = Transform{
		Translation: m.Col(3).Vec3(),
		Rotation:    mgl64.Mat4ToQuat(rot).Normalize(),
		Scale:       mgl64.Vec3{sx, sy, sz},
	}
	return t, MatrixEqual(t.Matrix(), m, 1e-6)
}

// MatrixEqual compares element-wise with an absolute tolerance.
func MatrixEqual(a, b mgl64.Mat4, eps float64) bool {
	return MaxElementDiff(a, b) <= eps
}

func MaxElementDiff(a, b mgl64.Mat4) float64 {
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

// TranslationDiff is the distance between the origins of two transforms.
func TranslationDiff(a, b mgl64.Mat4) float64 {
	return a.Col(3).Vec3().Sub(b.Col(3).Vec3()).Len()
}

func TransformPoint(m mgl64.Mat4, v mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(v.Vec4(1)).Vec3()
}

func Mat4FromFloat32(a []float32) mgl64.Mat4 {
	var m mgl64.Mat4
	for i := 0; i < 16 && i < len(a); i++ {
		m[i] = float64(a[i])
	}
	return m
}

func Mat4ToFloat32(m mgl64.Mat4) [16]float32 {
	var a [16]float32
	for i, v := range m {
		a[i] = float32(v)
	}
	return a
}

func Vec3FromFloat32(a [3]float32) mgl64.Vec3 {
	return mgl64.Vec3{float64(a[0]), float64(a[1]), float64(a[2])}
}

func Vec3ToFloat32(v mgl64.Vec3) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}
