package rig

import (
	"sort"

	"github.com/binzume/rignorm/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// VertexGroup is the per-bone slice of a mesh's skin weights.
// Weights are non-negative and not normalized.
type VertexGroup struct {
	Bone    BoneID
	Weights map[int]float64
}

type Primitive struct {
	Indices  []uint32
	Material int // -1: none
}

// Mesh is skinned to the skeleton of the Model it belongs to.
// Groups and Bind are keyed by bone ID, so renaming bones never touches them.
type Mesh struct {
	Name       string
	Positions  []mgl64.Vec3
	Normals    []mgl64.Vec3
	UVs        []mgl64.Vec2
	Primitives []*Primitive

	Skinned bool
	Bind    map[BoneID]mgl64.Mat4 // inverse bind matrices
	Groups  map[BoneID]*VertexGroup

	// Transform places an unskinned mesh in armature space.
	Transform mgl64.Mat4
}

func NewMesh(name string) *Mesh {
	return &Mesh{
		Name:      name,
		Bind:      map[BoneID]mgl64.Mat4{},
		Groups:    map[BoneID]*VertexGroup{},
		Transform: mgl64.Ident4(),
	}
}

func (m *Mesh) Group(id BoneID) *VertexGroup {
	return m.Groups[id]
}

func (m *Mesh) EnsureGroup(id BoneID) *VertexGroup {
	g := m.Groups[id]
	if g == nil {
		g = &VertexGroup{Bone: id, Weights: map[int]float64{}}
		m.Groups[id] = g
	}
	return g
}

// SetWeight adds or replaces one influence. Zero weights are not stored.
func (m *Mesh) SetWeight(bone BoneID, vertex int, w float64) {
	if w <= 0 {
		if g := m.Groups[bone]; g != nil {
			delete(g.Weights, vertex)
		}
		return
	}
	m.EnsureGroup(bone).Weights[vertex] = w
}

func (m *Mesh) Weight(bone BoneID, vertex int) float64 {
	if g := m.Groups[bone]; g != nil {
		return g.Weights[vertex]
	}
	return 0
}

// RemoveGroup deletes the vertex group and inverse bind matrix of a bone.
func (m *Mesh) RemoveGroup(id BoneID) {
	delete(m.Groups, id)
	delete(m.Bind, id)
}

// GroupIDs returns group keys in ascending order.
func (m *Mesh) GroupIDs() []BoneID {
	ids := make([]BoneID, 0, len(m.Groups))
	for id := range m.Groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Influences returns all non-zero weights of one vertex.
func (m *Mesh) Influences(vertex int) map[BoneID]float64 {
	r := map[BoneID]float64{}
	for id, g := range m.Groups {
		if w, ok := g.Weights[vertex]; ok && w > 0 {
			r[id] = w
		}
	}
	return r
}

// VertexInfluences transposes groups into per-vertex lists, bones ascending.
func (m *Mesh) VertexInfluences() [][]Influence {
	r := make([][]Influence, len(m.Positions))
	for _, id := range m.GroupIDs() {
		for v, w := range m.Groups[id].Weights {
			if v < len(r) && w > 0 {
				r[v] = append(r[v], Influence{Bone: id, Weight: w})
			}
		}
	}
	return r
}

type Influence struct {
	Bone   BoneID
	Weight float64
}

// BindMatrix returns the inverse bind matrix of a bone. A bone without one
// is bound where it stands: world is its current armature-space transform.
func (m *Mesh) BindMatrix(id BoneID, world mgl64.Mat4) mgl64.Mat4 {
	if bind, ok := m.Bind[id]; ok {
		return bind
	}
	return world.Inv()
}

// BindPosition is the armature-space position of a vertex at rest, computed
// by linear blend skinning against the skeleton's resolved world matrices.
func (m *Mesh) BindPosition(s *Skeleton, vertex int) mgl64.Vec3 {
	p := m.Positions[vertex]
	if !m.Skinned {
		return geom.TransformPoint(m.Transform, p)
	}
	var sum mgl64.Vec3
	var total float64
	for id, w := range m.Influences(vertex) {
		if s.Bone(id) == nil {
			continue
		}
		sum = sum.Add(geom.TransformPoint(s.World(id).Mul4(m.BindMatrix(id, s.World(id))), p).Mul(w))
		total += w
	}
	if total == 0 {
		return p
	}
	return sum.Mul(1 / total)
}
