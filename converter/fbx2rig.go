package converter

import (
	"fmt"
	"sort"

	"github.com/binzume/rignorm/fbx"
	"github.com/binzume/rignorm/geom"
	"github.com/binzume/rignorm/rig"
	"github.com/go-gl/mathgl/mgl64"
)

type FBXToRigOption struct {
	// Scale converts file units to meters. 0: derived from UnitScaleFactor.
	Scale float64
	// TextureDir is where texture file names are resolved. Usually the source directory.
	TextureDir string
}

type fbxToRig struct {
	*FBXToRigOption
	conv      mgl64.Mat4
	convInv   mgl64.Mat4
	textures  *textureCache
	bones     map[*fbx.Model]rig.BoneID
	bind      map[*fbx.Model]mgl64.Mat4
	materials map[*fbx.Material]int
}

func NewFBXToRigConverter(options *FBXToRigOption) *fbxToRig {
	if options == nil {
		options = &FBXToRigOption{}
	}
	return &fbxToRig{
		FBXToRigOption: options,
		textures:       newTextureCache(options.TextureDir),
		bones:          map[*fbx.Model]rig.BoneID{},
		bind:           map[*fbx.Model]mgl64.Mat4{},
		materials:      map[*fbx.Material]int{},
	}
}

// toArmature converts a file-space global matrix into a rigid armature-space one.
func (c *fbxToRig) toArmature(m mgl64.Mat4) mgl64.Mat4 {
	return c.conv.Mul4(m).Mul4(c.convInv)
}

func (c *fbxToRig) collectBindPose(doc *fbx.Document) {
	for _, g := range doc.Geometries {
		for _, skin := range g.Skins() {
			for _, cl := range skin.Clusters() {
				b := cl.Bone()
				if b == nil {
					continue
				}
				if _, done := c.bind[b]; done {
					continue
				}
				if link, ok := cl.TransformLink(); ok {
					c.bind[b] = link
				}
			}
		}
	}
	if pose := doc.BindPose(); pose != nil {
		for id, m := range pose.Matrices() {
			if model, ok := doc.Objects[id].(*fbx.Model); ok {
				if _, done := c.bind[model]; !done {
					c.bind[model] = m
				}
			}
		}
	}
}

// bindWorld is the global transform of a bone at bind time:
// cluster TransformLink, then BindPose, then the node transform chain.
func (c *fbxToRig) bindWorld(m *fbx.Model) mgl64.Mat4 {
	if w, ok := c.bind[m]; ok {
		return w
	}
	return m.WorldMatrix()
}

func boneParent(m *fbx.Model) *fbx.Model {
	for p := m.Parent; p != nil; p = p.Parent {
		if p.IsBone() {
			return p
		}
	}
	return nil
}

func modelDepth(m *fbx.Model) int {
	d := 0
	for p := m.Parent; p != nil && d <= 1<<16; p = p.Parent {
		d++
	}
	return d
}

func (c *fbxToRig) convertBones(doc *fbx.Document, model *rig.Model) error {
	var bones []*fbx.Model
	for _, m := range doc.Models {
		if m.IsBone() {
			bones = append(bones, m)
		}
	}
	// parents first
	sort.SliceStable(bones, func(i, j int) bool { return modelDepth(bones[i]) < modelDepth(bones[j]) })

	world := map[*fbx.Model]mgl64.Mat4{}
	for _, b := range bones {
		w := c.toArmature(c.bindWorld(b))
		world[b] = w
		parent := rig.NoBone
		rest := w
		if p := boneParent(b); p != nil {
			parent = c.bones[p]
			rest = world[p].Inv().Mul4(w)
		}
		id, err := model.Skeleton.AddBone(b.Name(), parent, rest)
		if err != nil {
			return fmt.Errorf("bone %q: %w", b.Name(), err)
		}
		c.bones[b] = id
	}
	return nil
}

func (c *fbxToRig) convertMaterial(m *fbx.Material) *rig.Material {
	mat := rig.NewMaterial(m.Name())
	diffuse := m.Color("DiffuseColor", mgl64.Vec3{1, 1, 1}).Mul(m.Factor("DiffuseFactor", 1))
	alpha := 1 - m.Factor("TransparencyFactor", 0)
	if p := m.GetProperty("Opacity"); p != nil {
		alpha = p.Float(1)
	}
	mat.BaseColor = diffuse.Vec4(alpha)
	mat.Emissive = m.Color("EmissiveColor", mgl64.Vec3{}).Mul(m.Factor("EmissiveFactor", 1))
	mat.Metallic = m.Factor("ReflectionFactor", 0)
	mat.Roughness = 1 - mgl64.Clamp(m.Factor("Shininess", 0)/100, 0, 1)
	mat.Blend = alpha < 0.99

	if tex := m.Texture("DiffuseColor"); tex != nil && tex.FileName() != "" {
		t, err := c.textures.load(tex.FileName(), tex.Content())
		if err == nil {
			mat.Texture = t
			mat.Blend = mat.Blend || c.textures.hasAlpha(tex.FileName())
		}
	}
	return mat
}

func (c *fbxToRig) material(model *rig.Model, m *fbx.Material) int {
	if i, ok := c.materials[m]; ok {
		return i
	}
	model.Materials = append(model.Materials, c.convertMaterial(m))
	c.materials[m] = len(model.Materials) - 1
	return c.materials[m]
}

func geometricMatrix(m *fbx.Model) mgl64.Mat4 {
	t := m.GetProperty("GeometricTranslation").Vec3(0, 0, 0)
	r := m.GetProperty("GeometricRotation").Vec3(0, 0, 0)
	s := m.GetProperty("GeometricScaling").Vec3(1, 1, 1)
	return mgl64.Translate3D(t[0], t[1], t[2]).
		Mul4(geom.EulerMatrix(r, geom.RotationOrderXYZ)).
		Mul4(mgl64.Scale3D(s[0], s[1], s[2]))
}

type vertexKey struct {
	cp, normal, uv int
}

func (c *fbxToRig) convertGeometry(model *rig.Model, node *fbx.Model, g *fbx.Geometry) *rig.Mesh {
	mesh := rig.NewMesh(node.Name())

	var clusters []*fbx.Cluster
	for _, skin := range g.Skins() {
		clusters = append(clusters, skin.Clusters()...)
	}
	meshWorld := node.WorldMatrix()
	if len(clusters) > 0 {
		if t, ok := clusters[0].Transform(); ok {
			meshWorld = t
		}
	}
	toMesh := c.conv.Mul4(meshWorld).Mul4(geometricMatrix(node))
	normalMat := toMesh.Mat3().Inv().Transpose()

	normals := g.LayerElementNormal()
	var normalArray []mgl64.Vec3
	if normals != nil {
		normalArray = normals.Array.GetVec3Array()
	}
	uvs := g.LayerElementUV()
	var uvArray []mgl64.Vec2
	if uvs != nil {
		uvArray = uvs.Array.GetVec2Array()
	}
	materials := node.Materials()
	matElem := g.LayerElementMaterial()

	vertexIndex := map[vertexKey]int{}
	byControlPoint := map[int][]int{}
	prims := map[int]*rig.Primitive{}
	var primOrder []int

	pv := 0
	for pi, poly := range g.Polygons {
		verts := make([]int, len(poly))
		points := make([]mgl64.Vec3, len(poly))
		mat := -1
		for i, cp := range poly {
			if cp >= len(g.Vertices) {
				cp = 0
			}
			key := vertexKey{cp, normals.Index(pi, pv+i, cp), uvs.Index(pi, pv+i, cp)}
			if key.normal >= len(normalArray) {
				key.normal = -1
			}
			if key.uv >= len(uvArray) {
				key.uv = -1
			}
			v, ok := vertexIndex[key]
			if !ok {
				v = len(mesh.Positions)
				vertexIndex[key] = v
				byControlPoint[cp] = append(byControlPoint[cp], v)
				mesh.Positions = append(mesh.Positions, geom.TransformPoint(toMesh, g.Vertices[cp]))
				n := mgl64.Vec3{}
				if key.normal >= 0 {
					n = normalMat.Mul3x1(normalArray[key.normal]).Normalize()
				}
				mesh.Normals = append(mesh.Normals, n)
				uv := mgl64.Vec2{}
				if key.uv >= 0 {
					uv = mgl64.Vec2{uvArray[key.uv][0], 1 - uvArray[key.uv][1]}
				}
				mesh.UVs = append(mesh.UVs, uv)
			}
			verts[i] = v
			points[i] = mesh.Positions[v]
		}
		if mi := matElem.Index(pi, pv, poly[0]); mi >= 0 && mi < len(materials) {
			mat = c.material(model, materials[mi])
		}
		pv += len(poly)
		if len(poly) < 3 {
			continue
		}
		prim := prims[mat]
		if prim == nil {
			prim = &rig.Primitive{Material: mat}
			prims[mat] = prim
			primOrder = append(primOrder, mat)
		}
		for _, tri := range geom.Triangulate(points) {
			prim.Indices = append(prim.Indices, uint32(verts[tri[0]]), uint32(verts[tri[1]]), uint32(verts[tri[2]]))
		}
	}
	for _, mat := range primOrder {
		mesh.Primitives = append(mesh.Primitives, prims[mat])
	}
	if normals == nil {
		mesh.Normals = nil
	}
	if uvs == nil {
		mesh.UVs = nil
	}

	for _, cl := range clusters {
		bone, ok := c.bones[cl.Bone()]
		if !ok {
			continue
		}
		mesh.Skinned = true
		link, ok := cl.TransformLink()
		if !ok {
			link = c.bindWorld(cl.Bone())
		}
		mesh.Bind[bone] = c.toArmature(link).Inv()
		weights := cl.Weights()
		for i, cp := range cl.Indexes() {
			if i >= len(weights) {
				break
			}
			for _, v := range byControlPoint[int(cp)] {
				mesh.SetWeight(bone, v, mesh.Weight(bone, v)+weights[i])
			}
		}
	}
	return mesh
}

// Convert builds a rig model in Y-up meters from an FBX document.
func (c *fbxToRig) Convert(doc *fbx.Document, name string) (*rig.Model, error) {
	scale := c.Scale
	if scale == 0 {
		scale = doc.UnitScaleFactor() * 0.01
	}
	c.conv = mgl64.Scale3D(scale, scale, scale).Mul4(doc.AxisMatrix())
	c.convInv = c.conv.Inv()

	model := rig.NewModel(name)
	c.collectBindPose(doc)
	if err := c.convertBones(doc, model); err != nil {
		return nil, err
	}
	for _, m := range doc.Models {
		if !m.IsMesh() || m.Geometry() == nil {
			continue
		}
		mesh := c.convertGeometry(model, m, m.Geometry())
		if len(mesh.Primitives) > 0 {
			model.Meshes = append(model.Meshes, mesh)
		}
	}
	return model, nil
}
