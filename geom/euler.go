package geom

import "github.com/go-gl/mathgl/mgl64"

// RotationOrder matches the FBX "RotationOrder" enum. The first axis is applied first.
type RotationOrder int

const (
	RotationOrderXYZ RotationOrder = iota
	RotationOrderXZY
	RotationOrderYZX
	RotationOrderYXZ
	RotationOrderZXY
	RotationOrderZYX
)

var rotationAxes = map[RotationOrder][3]int{
	RotationOrderXYZ: {0, 1, 2},
	RotationOrderXZY: {0, 2, 1},
	RotationOrderYZX: {1, 2, 0},
	RotationOrderYXZ: {1, 0, 2},
	RotationOrderZXY: {2, 0, 1},
	RotationOrderZYX: {2, 1, 0},
}

func axisRotation(axis int, rad float64) mgl64.Mat4 {
	switch axis {
	case 0:
		return mgl64.HomogRotate3DX(rad)
	case 1:
		return mgl64.HomogRotate3DY(rad)
	}
	return mgl64.HomogRotate3DZ(rad)
}

// EulerMatrix returns the rotation for Euler angles given in degrees.
func EulerMatrix(deg mgl64.Vec3, order RotationOrder) mgl64.Mat4 {
	axes, ok := rotationAxes[order]
	if !ok {
		axes = rotationAxes[RotationOrderXYZ]
	}
	m := mgl64.Ident4()
	for _, a := range axes {
		if deg[a] == 0 {
			continue
		}
		m = axisRotation(a, mgl64.DegToRad(deg[a])).Mul4(m)
	}
	return m
}

// EulerQuat is EulerMatrix as a quaternion.
func EulerQuat(deg mgl64.Vec3, order RotationOrder) mgl64.Quat {
	return mgl64.Mat4ToQuat(EulerMatrix(deg, order)).Normalize()
}
