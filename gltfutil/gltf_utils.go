package gltfutil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/binzume/rignorm/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

var ErrNoBufferView = errors.New("accessor has no buffer view")

func Load(path string) (*gltf.Document, error) {
	return gltf.Open(path)
}

func Save(doc *gltf.Document, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return gltf.SaveBinary(doc, path)
}

// ToSingleFile embeds external images so the document can be written as GLB.
func ToSingleFile(doc *gltf.Document, srcDir string) error {
	for _, m := range doc.Images {
		if m.BufferView != nil || m.URI == "" || strings.HasPrefix(m.URI, "data:") {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(m.URI)))
		if err != nil {
			return err
		}
		if m.MimeType == "" {
			if strings.HasSuffix(strings.ToLower(m.URI), ".png") {
				m.MimeType = "image/png"
			} else {
				m.MimeType = "image/jpeg"
			}
		}
		m.BufferView = gltf.Index(modeler.WriteBufferView(doc, gltf.TargetNone, buf))
		m.URI = ""
	}
	return nil
}

// BufferViewData returns the bytes of a buffer view.
func BufferViewData(doc *gltf.Document, index uint32) ([]byte, error) {
	if int(index) >= len(doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", index)
	}
	bv := doc.BufferViews[index]
	data := doc.Buffers[bv.Buffer].Data
	end := bv.ByteOffset + bv.ByteLength
	if int(end) > len(data) {
		return nil, fmt.Errorf("buffer view %d exceeds buffer", index)
	}
	return data[bv.ByteOffset:end], nil
}

func readMatrix(b []byte) [16]float32 {
	var mat [16]float32
	for i := range mat {
		mat[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return mat
}

// ReadMatrices reads a MAT4 float accessor such as inverseBindMatrices.
func ReadMatrices(doc *gltf.Document, acr *gltf.Accessor) ([]mgl64.Mat4, error) {
	if acr.BufferView == nil {
		return nil, ErrNoBufferView
	}
	if acr.Type != gltf.AccessorMat4 || acr.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("unsupported matrix accessor %v %v", acr.Type, acr.ComponentType)
	}
	data, err := BufferViewData(doc, *acr.BufferView)
	if err != nil {
		return nil, err
	}
	stride := doc.BufferViews[*acr.BufferView].ByteStride
	if stride == 0 {
		stride = 64
	}
	r := make([]mgl64.Mat4, acr.Count)
	for i := range r {
		offset := acr.ByteOffset + uint32(i)*stride
		if int(offset+64) > len(data) {
			return nil, fmt.Errorf("matrix %d exceeds buffer view", i)
		}
		mat := readMatrix(data[offset : offset+64])
		r[i] = geom.Mat4FromFloat32(mat[:])
	}
	return r, nil
}

// NodeMatrix returns the local transform of a node.
func NodeMatrix(n *gltf.Node) mgl64.Mat4 {
	if n.Matrix != gltf.DefaultMatrix && n.Matrix != ([16]float32{}) {
		return geom.Mat4FromFloat32(n.Matrix[:])
	}
	t := geom.IdentityTransform()
	t.Translation = geom.Vec3FromFloat32(n.Translation)
	if n.Rotation != ([4]float32{}) {
		t.Rotation = mgl64.Quat{W: float64(n.Rotation[3]), V: mgl64.Vec3{float64(n.Rotation[0]), float64(n.Rotation[1]), float64(n.Rotation[2])}}.Normalize()
	}
	if n.Scale != ([3]float32{}) {
		t.Scale = geom.Vec3FromFloat32(n.Scale)
	}
	return t.Matrix()
}

// SetNodeMatrix stores m as TRS, or as a raw matrix when it has shear.
func SetNodeMatrix(n *gltf.Node, m mgl64.Mat4) {
	n.Translation = [3]float32{}
	n.Rotation = [4]float32{0, 0, 0, 1}
	n.Scale = [3]float32{1, 1, 1}
	n.Matrix = gltf.DefaultMatrix
	t, ok := geom.Decompose(m)
	if !ok {
		n.Matrix = geom.Mat4ToFloat32(m)
		return
	}
	n.Translation = geom.Vec3ToFloat32(t.Translation)
	n.Rotation = [4]float32{float32(t.Rotation.V[0]), float32(t.Rotation.V[1]), float32(t.Rotation.V[2]), float32(t.Rotation.W)}
	n.Scale = geom.Vec3ToFloat32(t.Scale)
}

// Parents maps each child node to its parent.
func Parents(doc *gltf.Document) map[uint32]uint32 {
	parents := map[uint32]uint32{}
	for i, n := range doc.Nodes {
		for _, c := range n.Children {
			parents[c] = uint32(i)
		}
	}
	return parents
}

// WorldMatrices returns the scene-space transform of every node.
func WorldMatrices(doc *gltf.Document) []mgl64.Mat4 {
	parents := Parents(doc)
	world := make([]mgl64.Mat4, len(doc.Nodes))
	done := make([]bool, len(doc.Nodes))
	var resolve func(i uint32, depth int) mgl64.Mat4
	resolve = func(i uint32, depth int) mgl64.Mat4 {
		if done[i] {
			return world[i]
		}
		local := NodeMatrix(doc.Nodes[i])
		if p, ok := parents[i]; ok && depth < len(doc.Nodes) {
			local = resolve(p, depth+1).Mul4(local)
		}
		world[i], done[i] = local, true
		return local
	}
	for i := range doc.Nodes {
		resolve(uint32(i), 0)
	}
	return world
}
