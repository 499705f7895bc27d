package geom

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestDecomposeMatrix(t *testing.T) {
	const eps = 0.000001

	src := Transform{
		Translation: mgl64.Vec3{1, 2, 3},
		Rotation:    EulerQuat(mgl64.Vec3{10, 20, 30}, RotationOrderZXY),
		Scale:       mgl64.Vec3{1.5, 1.6, 1.7},
	}
	mat := src.Matrix()
	dst, ok := Decompose(mat)
	if !ok {
		t.Fatal("decompose failed")
	}

	if src.Translation.Sub(dst.Translation).Len() > eps {
		t.Error("pos: ", src.Translation, dst.Translation)
	}
	if src.Scale.Sub(dst.Scale).Len() > eps {
		t.Error("scale: ", src.Scale, dst.Scale)
	}
	if !MatrixEqual(dst.Matrix(), mat, eps) {
		t.Error("matrix: ", mat, dst.Matrix())
	}
}

func TestDecomposeShear(t *testing.T) {
	m := mgl64.Ident4()
	m[4] = 0.5 // x += 0.5y
	if _, ok := Decompose(m); ok {
		t.Error("sheared matrix should not decompose")
	}
}

func TestEulerMatrix(t *testing.T) {
	const eps = 0.000001

	// X first: Y axis goes to Z, then rotate 90 around Z leaves Z.
	m := EulerMatrix(mgl64.Vec3{90, 0, 90}, RotationOrderXYZ)
	v := TransformPoint(m, mgl64.Vec3{0, 1, 0})
	if v.Sub(mgl64.Vec3{0, 0, 1}).Len() > eps {
		t.Error("XYZ: ", v)
	}

	// Z first: Y axis goes to -X, then rotate 90 around X leaves -X.
	m = EulerMatrix(mgl64.Vec3{90, 0, 90}, RotationOrderZYX)
	v = TransformPoint(m, mgl64.Vec3{0, 1, 0})
	if v.Sub(mgl64.Vec3{-1, 0, 0}).Len() > eps {
		t.Error("ZYX: ", v)
	}

	q := EulerQuat(mgl64.Vec3{30, 40, 50}, RotationOrderXYZ)
	if !MatrixEqual(q.Mat4(), EulerMatrix(mgl64.Vec3{30, 40, 50}, RotationOrderXYZ), eps) {
		t.Error("quat mismatch")
	}
}

func TestTranslationDiff(t *testing.T) {
	a := mgl64.Translate3D(1, 0, 0)
	b := mgl64.Translate3D(1, 3, 4)
	if d := TranslationDiff(a, b); math.Abs(d-5) > 1e-9 {
		t.Error("diff: ", d)
	}
}
