package converter

import (
	"fmt"
	"sort"

	"github.com/binzume/rignorm/gltfutil"
	"github.com/binzume/rignorm/rig"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

type GLTFToRigOption struct {
}

type gltfToRig struct {
	options *GLTFToRigOption
	world   []mgl64.Mat4
	parents map[uint32]uint32
	bones   map[uint32]rig.BoneID
	images  map[uint32]*rig.Texture
}

func NewGLTFToRigConverter(options *GLTFToRigOption) *gltfToRig {
	if options == nil {
		options = &GLTFToRigOption{}
	}
	return &gltfToRig{
		options: options,
		bones:   map[uint32]rig.BoneID{},
		images:  map[uint32]*rig.Texture{},
	}
}

func (c *gltfToRig) depth(node uint32) int {
	d := 0
	for p, ok := c.parents[node]; ok && d < len(c.world); p, ok = c.parents[p] {
		d++
	}
	return d
}

// jointParent returns the nearest ancestor that is a joint.
func (c *gltfToRig) jointParent(node uint32, joints map[uint32]bool) (uint32, bool) {
	for p, ok := c.parents[node]; ok; p, ok = c.parents[p] {
		if joints[p] {
			return p, true
		}
	}
	return 0, false
}

// armatureNodes returns the mesh-less descendants of a node named "Armature".
// It is used for skeletons that no skin references.
func (c *gltfToRig) armatureNodes(src *gltf.Document) []uint32 {
	var r []uint32
	var walk func(i uint32)
	walk = func(i uint32) {
		for _, ch := range src.Nodes[i].Children {
			if src.Nodes[ch].Mesh == nil {
				r = append(r, ch)
				walk(ch)
			}
		}
	}
	for i, n := range src.Nodes {
		if n.Name == "Armature" && n.Mesh == nil {
			walk(uint32(i))
			break
		}
	}
	return r
}

func (c *gltfToRig) convertBones(src *gltf.Document, model *rig.Model) error {
	joints := map[uint32]bool{}
	var order []uint32
	for _, skin := range src.Skins {
		for _, j := range skin.Joints {
			if !joints[j] && int(j) < len(src.Nodes) {
				joints[j] = true
				order = append(order, j)
			}
		}
	}
	if len(order) == 0 {
		order = c.armatureNodes(src)
		for _, j := range order {
			joints[j] = true
		}
	}
	if len(order) == 0 {
		return nil
	}
	sort.SliceStable(order, func(i, j int) bool { return c.depth(order[i]) < c.depth(order[j]) })

	// The armature is the non-joint parent of the top-level joint.
	if p, ok := c.parents[order[0]]; ok {
		if _, isJointChild := c.jointParent(order[0], joints); !isJointChild {
			model.Armature = c.world[p]
		}
	}
	armInv := model.Armature.Inv()

	for _, j := range order {
		n := src.Nodes[j]
		w := armInv.Mul4(c.world[j])
		parent := rig.NoBone
		rest := w
		if p, ok := c.jointParent(j, joints); ok {
			parent = c.bones[p]
			rest = armInv.Mul4(c.world[p]).Inv().Mul4(w)
		}
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("joint_%d", j)
		}
		id, err := model.Skeleton.AddBone(name, parent, rest)
		if err != nil {
			return fmt.Errorf("joint %d: %w", j, err)
		}
		c.bones[j] = id
	}
	return nil
}

func (c *gltfToRig) texture(src *gltf.Document, info *gltf.TextureInfo) *rig.Texture {
	if info == nil || int(info.Index) >= len(src.Textures) || src.Textures[info.Index].Source == nil {
		return nil
	}
	index := *src.Textures[info.Index].Source
	if t, ok := c.images[index]; ok {
		return t
	}
	img := src.Images[index]
	if img.BufferView == nil {
		return nil
	}
	data, err := gltfutil.BufferViewData(src, *img.BufferView)
	if err != nil {
		return nil
	}
	t := &rig.Texture{Name: img.Name, MimeType: img.MimeType, Data: append([]byte(nil), data...)}
	c.images[index] = t
	return t
}

func (c *gltfToRig) convertMaterial(src *gltf.Document, m *gltf.Material) *rig.Material {
	mat := rig.NewMaterial(m.Name)
	mat.DoubleSided = m.DoubleSided
	mat.Blend = m.AlphaMode == gltf.AlphaBlend
	mat.Emissive = mgl64.Vec3{float64(m.EmissiveFactor[0]), float64(m.EmissiveFactor[1]), float64(m.EmissiveFactor[2])}
	if pbr := m.PBRMetallicRoughness; pbr != nil {
		col := pbr.BaseColorFactorOrDefault()
		mat.BaseColor = mgl64.Vec4{float64(col[0]), float64(col[1]), float64(col[2]), float64(col[3])}
		mat.Metallic = float64(pbr.MetallicFactorOrDefault())
		mat.Roughness = float64(pbr.RoughnessFactorOrDefault())
		mat.Texture = c.texture(src, pbr.BaseColorTexture)
	}
	return mat
}

func (c *gltfToRig) skinJoints(src *gltf.Document, skin *gltf.Skin) ([]rig.BoneID, []mgl64.Mat4, error) {
	ids := make([]rig.BoneID, len(skin.Joints))
	for i, j := range skin.Joints {
		ids[i] = c.bones[j]
	}
	binds := make([]mgl64.Mat4, len(skin.Joints))
	for i := range binds {
		binds[i] = mgl64.Ident4()
	}
	if skin.InverseBindMatrices != nil {
		mats, err := gltfutil.ReadMatrices(src, src.Accessors[*skin.InverseBindMatrices])
		if err != nil {
			return nil, nil, err
		}
		copy(binds, mats)
	}
	return ids, binds, nil
}

// readVertices appends the vertex attributes and skin weights of one
// primitive to mesh and returns the number of vertices read.
func (c *gltfToRig) readVertices(src *gltf.Document, p *gltf.Primitive, joints []rig.BoneID, mesh *rig.Mesh) (int, error) {
	pos, err := modeler.ReadPosition(src, src.Accessors[p.Attributes["POSITION"]], [][3]float32{})
	if err != nil {
		return 0, err
	}
	base := len(mesh.Positions)
	for _, v := range pos {
		mesh.Positions = append(mesh.Positions, mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])})
	}

	var normals [][3]float32
	if a, ok := p.Attributes["NORMAL"]; ok {
		if normals, err = modeler.ReadNormal(src, src.Accessors[a], [][3]float32{}); err != nil {
			return 0, err
		}
	}
	var texCoord [][2]float32
	if a, ok := p.Attributes["TEXCOORD_0"]; ok {
		if texCoord, err = modeler.ReadTextureCoord(src, src.Accessors[a], [][2]float32{}); err != nil {
			return 0, err
		}
	}
	for i := range pos {
		if len(normals) == len(pos) {
			mesh.Normals = append(mesh.Normals, mgl64.Vec3{float64(normals[i][0]), float64(normals[i][1]), float64(normals[i][2])})
		}
		if len(texCoord) == len(pos) {
			mesh.UVs = append(mesh.UVs, mgl64.Vec2{float64(texCoord[i][0]), float64(texCoord[i][1])})
		}
	}

	for set := 0; joints != nil; set++ {
		ja, ok1 := p.Attributes[fmt.Sprintf("JOINTS_%d", set)]
		wa, ok2 := p.Attributes[fmt.Sprintf("WEIGHTS_%d", set)]
		if !ok1 || !ok2 {
			break
		}
		js, err := modeler.ReadJoints(src, src.Accessors[ja], [][4]uint16{})
		if err != nil {
			return 0, err
		}
		ws, err := modeler.ReadWeights(src, src.Accessors[wa], [][4]float32{})
		if err != nil {
			return 0, err
		}
		for v := 0; v < len(js) && v < len(ws); v++ {
			for k := 0; k < 4; k++ {
				if ws[v][k] <= 0 || int(js[v][k]) >= len(joints) {
					continue
				}
				bone := joints[js[v][k]]
				mesh.SetWeight(bone, base+v, mesh.Weight(bone, base+v)+float64(ws[v][k]))
			}
		}
	}
	return len(pos), nil
}

func (c *gltfToRig) convertMesh(src *gltf.Document, node uint32, model *rig.Model) (*rig.Mesh, error) {
	n := src.Nodes[node]
	m := src.Meshes[*n.Mesh]
	name := n.Name
	if name == "" {
		name = m.Name
	}
	mesh := rig.NewMesh(name)

	var joints []rig.BoneID
	if n.Skin != nil {
		ids, binds, err := c.skinJoints(src, src.Skins[*n.Skin])
		if err != nil {
			return nil, err
		}
		joints = ids
		mesh.Skinned = true
		for i, id := range ids {
			mesh.Bind[id] = binds[i]
		}
	} else {
		mesh.Transform = model.Armature.Inv().Mul4(c.world[node])
	}

	// primitives written by us share one set of vertex attributes
	bases := map[uint32]int{}
	hasNormals, hasUVs := true, true
	for _, p := range m.Primitives {
		if p.Mode != gltf.PrimitiveTriangles {
			continue
		}
		a, ok := p.Attributes["POSITION"]
		if !ok {
			continue
		}
		base, shared := bases[a]
		if !shared {
			count, err := c.readVertices(src, p, joints, mesh)
			if err != nil {
				return nil, err
			}
			base = len(mesh.Positions) - count
			bases[a] = base
			hasNormals = hasNormals && len(mesh.Normals) == len(mesh.Positions)
			hasUVs = hasUVs && len(mesh.UVs) == len(mesh.Positions)
		}

		prim := &rig.Primitive{Material: -1}
		if p.Material != nil {
			prim.Material = int(*p.Material)
		}
		if p.Indices != nil {
			indices, err := modeler.ReadIndices(src, src.Accessors[*p.Indices], []uint32{})
			if err != nil {
				return nil, err
			}
			for _, i := range indices {
				prim.Indices = append(prim.Indices, uint32(base)+i)
			}
		} else {
			for i := 0; i < int(src.Accessors[a].Count); i++ {
				prim.Indices = append(prim.Indices, uint32(base+i))
			}
		}
		mesh.Primitives = append(mesh.Primitives, prim)
	}
	if !hasNormals {
		mesh.Normals = nil
	}
	if !hasUVs {
		mesh.UVs = nil
	}
	return mesh, nil
}

// Convert builds a rig model from a glTF document. Bones are the joints of all skins.
func (c *gltfToRig) Convert(src *gltf.Document, name string) (*rig.Model, error) {
	c.parents = gltfutil.Parents(src)
	c.world = gltfutil.WorldMatrices(src)

	model := rig.NewModel(name)
	if err := c.convertBones(src, model); err != nil {
		return nil, err
	}
	for _, m := range src.Materials {
		model.Materials = append(model.Materials, c.convertMaterial(src, m))
	}
	for i, n := range src.Nodes {
		if n.Mesh == nil {
			continue
		}
		mesh, err := c.convertMesh(src, uint32(i), model)
		if err != nil {
			return nil, fmt.Errorf("mesh %q: %w", n.Name, err)
		}
		if len(mesh.Primitives) > 0 {
			model.Meshes = append(model.Meshes, mesh)
		}
	}
	return model, nil
}
