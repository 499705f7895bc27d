package fbx

import (
	"github.com/go-gl/mathgl/mgl64"
)

type Geometry struct {
	Obj
	Vertices []mgl64.Vec3
	Polygons [][]int
}

type MappingType string

const (
	AllSame         MappingType = "AllSame"
	ByPolygon       MappingType = "ByPolygon"
	ByVertice       MappingType = "ByVertice"
	ByVertex        MappingType = "ByVertex"
	ByPolygonVertex MappingType = "ByPolygonVertex"
	ByControlPoint  MappingType = "ByControlPoint"
)

// LayerElement is a per-geometry attribute layer (normals, UVs, materials).
type LayerElement struct {
	*Node
	Array     *Node
	IndexNode *Node
}

func parseGeometry(base *Obj) *Geometry {
	g := &Geometry{Obj: *base}
	g.Vertices = g.FindChild("Vertices").GetVec3Array()
	var poly []int
	for _, index := range g.FindChild("PolygonVertexIndex").GetInt32Array() {
		if index < 0 {
			poly = append(poly, int(^index))
			g.Polygons = append(g.Polygons, poly)
			poly = nil
			continue
		}
		poly = append(poly, int(index))
	}
	return g
}

func (g *Geometry) layerElement(name, arrayName, indexName string) *LayerElement {
	node := g.FindChild(name)
	if node == nil {
		return nil
	}
	return &LayerElement{node, node.FindChild(arrayName), node.FindChild(indexName)}
}

func (g *Geometry) LayerElementNormal() *LayerElement {
	return g.layerElement("LayerElementNormal", "Normals", "NormalsIndex")
}

func (g *Geometry) LayerElementUV() *LayerElement {
	return g.layerElement("LayerElementUV", "UV", "UVIndex")
}

func (g *Geometry) LayerElementMaterial() *LayerElement {
	return g.layerElement("LayerElementMaterial", "Materials", "Materials")
}

func (g *Geometry) Skins() []*Skin {
	var r []*Skin
	for _, o := range g.Refs {
		if s, ok := o.(*Skin); ok {
			r = append(r, s)
		}
	}
	return r
}

func (e *LayerElement) Mapping() MappingType {
	return MappingType(e.FindChild("MappingInformationType").GetString())
}

func (e *LayerElement) Reference() string {
	return e.FindChild("ReferenceInformationType").GetString()
}

// Index resolves the array index for one polygon vertex. pv is the running
// polygon-vertex counter, cp the control point. It returns -1 if unavailable.
func (e *LayerElement) Index(polygon, pv, cp int) int {
	if e == nil {
		return -1
	}
	var i int
	switch e.Mapping() {
	case AllSame:
		i = 0
	case ByPolygon:
		i = polygon
	case ByPolygonVertex:
		i = pv
	case ByVertice, ByVertex, ByControlPoint:
		i = cp
	default:
		return -1
	}
	if e.Reference() == "IndexToDirect" && e.IndexNode != e.Array {
		idx := e.IndexNode.GetInt32Array()
		if i >= len(idx) {
			return -1
		}
		i = int(idx[i])
	}
	return i
}

// Skin is a Deformer::Skin. Its clusters bind control points to bones.
type Skin struct {
	Obj
}

func (s *Skin) Clusters() []*Cluster {
	var r []*Cluster
	for _, o := range s.Refs {
		if c, ok := o.(*Cluster); ok {
			r = append(r, c)
		}
	}
	return r
}

// Cluster is a SubDeformer::Cluster.
type Cluster struct {
	Obj
}

func (c *Cluster) Indexes() []int32 {
	return c.FindChild("Indexes").GetInt32Array()
}

func (c *Cluster) Weights() []float64 {
	return c.FindChild("Weights").GetFloat64Array()
}

// Transform is the mesh's global matrix at bind time.
func (c *Cluster) Transform() (mgl64.Mat4, bool) {
	return c.FindChild("Transform").GetMatrix()
}

// TransformLink is the bone's global matrix at bind time.
func (c *Cluster) TransformLink() (mgl64.Mat4, bool) {
	return c.FindChild("TransformLink").GetMatrix()
}

func (c *Cluster) Bone() *Model {
	for _, o := range c.Refs {
		if m, ok := o.(*Model); ok {
			return m
		}
	}
	return nil
}

// Pose is a Pose::BindPose.
type Pose struct {
	Obj
}

// Matrices returns the global bind matrices keyed by object ID.
func (p *Pose) Matrices() map[int64]mgl64.Mat4 {
	r := map[int64]mgl64.Mat4{}
	for _, n := range p.FindChildren("PoseNode") {
		if m, ok := n.FindChild("Matrix").GetMatrix(); ok {
			r[n.FindChild("Node").Attr(0).ToInt64(0)] = m
		}
	}
	return r
}
