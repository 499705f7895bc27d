package fbx

import (
	"github.com/binzume/rignorm/geom"
	"github.com/go-gl/mathgl/mgl64"
)

type Model struct {
	Obj
	Parent *Model
	local  *mgl64.Mat4
}

// IsBone reports whether the model is a skeleton node.
func (m *Model) IsBone() bool {
	switch m.Kind() {
	case "LimbNode", "Limb", "Root":
		return true
	}
	return false
}

func (m *Model) IsMesh() bool {
	return m.Kind() == "Mesh"
}

func (m *Model) vec3(name string, def float64) mgl64.Vec3 {
	return m.GetProperty(name).Vec3(def, def, def)
}

func pivot(v mgl64.Vec3) mgl64.Mat4 {
	return mgl64.Translate3D(v[0], v[1], v[2])
}

// LocalMatrix composes the FBX node transform:
// T * Roff * Rp * Rpre * R * Rpost^-1 * Rp^-1 * Soff * Sp * S * Sp^-1
func (m *Model) LocalMatrix() mgl64.Mat4 {
	if m.local != nil {
		return *m.local
	}
	order := geom.RotationOrder(m.GetProperty("RotationOrder").Int(0))
	t := m.vec3("Lcl Translation", 0)
	r := m.vec3("Lcl Rotation", 0)
	s := m.vec3("Lcl Scaling", 1)
	rp := m.vec3("RotationPivot", 0)
	sp := m.vec3("ScalingPivot", 0)

	mat := pivot(t).
		Mul4(pivot(m.vec3("RotationOffset", 0))).
		Mul4(pivot(rp)).
		Mul4(geom.EulerMatrix(m.vec3("PreRotation", 0), geom.RotationOrderXYZ)).
		Mul4(geom.EulerMatrix(r, order)).
		Mul4(geom.EulerMatrix(m.vec3("PostRotation", 0), geom.RotationOrderXYZ).Inv()).
		Mul4(pivot(rp.Mul(-1))).
		Mul4(pivot(m.vec3("ScalingOffset", 0))).
		Mul4(pivot(sp)).
		Mul4(mgl64.Scale3D(s[0], s[1], s[2])).
		Mul4(pivot(sp.Mul(-1)))
	m.local = &mat
	return mat
}

func (m *Model) WorldMatrix() mgl64.Mat4 {
	if m.Parent == nil {
		return m.LocalMatrix()
	}
	return m.Parent.WorldMatrix().Mul4(m.LocalMatrix())
}

func (m *Model) ChildModels() []*Model {
	var r []*Model
	for _, o := range m.Refs {
		if c, ok := o.(*Model); ok {
			r = append(r, c)
		}
	}
	return r
}

func (m *Model) Geometry() *Geometry {
	for _, o := range m.Refs {
		if g, ok := o.(*Geometry); ok {
			return g
		}
	}
	return nil
}

func (m *Model) Materials() []*Material {
	var r []*Material
	for _, o := range m.Refs {
		if mat, ok := o.(*Material); ok {
			r = append(r, mat)
		}
	}
	return r
}
