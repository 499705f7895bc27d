package converter

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/binzume/rignorm/gltfutil"
	"github.com/binzume/rignorm/rig"
	"github.com/charmbracelet/log"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

type RigToGLTFOption struct {
	// ExportUnskinned also writes meshes that are not bound to the skeleton.
	ExportUnskinned bool
	// TextureResolutionLimit downscales wider textures. 0: unlimited.
	TextureResolutionLimit int
	Logger                 *log.Logger
}

type rigToGltf struct {
	*RigToGLTFOption
	*gltf.Document
	boneNodes map[rig.BoneID]uint32
	textures  map[*rig.Texture]uint32
}

func NewRigToGLTFConverter(options *RigToGLTFOption) *rigToGltf {
	if options == nil {
		options = &RigToGLTFOption{}
	}
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	return &rigToGltf{
		RigToGLTFOption: options,
		Document:        gltf.NewDocument(),
		boneNodes:       map[rig.BoneID]uint32{},
		textures:        map[*rig.Texture]uint32{},
	}
}

func (m *rigToGltf) addNode(node *gltf.Node, parent *uint32) uint32 {
	m.Nodes = append(m.Nodes, node)
	index := uint32(len(m.Nodes) - 1)
	if parent != nil {
		m.Nodes[*parent].Children = append(m.Nodes[*parent].Children, index)
	} else {
		m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, index)
	}
	return index
}

func newNode(name string, mat mgl64.Mat4) *gltf.Node {
	n := &gltf.Node{Name: name}
	gltfutil.SetNodeMatrix(n, mat)
	return n
}

func (m *rigToGltf) addMatrices(mats []mgl64.Mat4) uint32 {
	a := make([][4]float32, len(mats)*4)
	for i, mat := range mats {
		for c := 0; c < 4; c++ {
			col := mat.Col(c)
			a[i*4+c] = [4]float32{float32(col[0]), float32(col[1]), float32(col[2]), float32(col[3])}
		}
	}
	acc := modeler.WriteTangent(m.Document, a)
	m.Accessors[acc].Type = gltf.AccessorMat4
	m.Accessors[acc].Count /= 4
	m.BufferViews[*m.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

func (m *rigToGltf) addBoneNodes(s *rig.Skeleton, armature uint32) {
	var add func(id rig.BoneID, parent uint32)
	add = func(id rig.BoneID, parent uint32) {
		b := s.Bone(id)
		m.boneNodes[id] = m.addNode(newNode(b.Name, b.Rest), &parent)
		for _, c := range s.Children(id) {
			add(c, m.boneNodes[id])
		}
	}
	for _, root := range s.Roots() {
		add(root, armature)
	}
}

// addSkin binds every bone of the skeleton, so bones without weights survive a round trip.
func (m *rigToGltf) addSkin(s *rig.Skeleton, mesh *rig.Mesh) (uint32, map[rig.BoneID]uint16) {
	ids := make([]rig.BoneID, 0, s.Len())
	for _, b := range s.Bones {
		ids = append(ids, b.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	world := s.WorldMatrices()
	jointIndex := map[rig.BoneID]uint16{}
	joints := make([]uint32, len(ids))
	invmats := make([]mgl64.Mat4, len(ids))
	for i, id := range ids {
		jointIndex[id] = uint16(i)
		joints[i] = m.boneNodes[id]
		invmats[i] = mesh.BindMatrix(id, world[id])
	}
	skin := &gltf.Skin{Name: mesh.Name, Joints: joints}
	if roots := s.Roots(); len(roots) == 1 {
		skin.Skeleton = gltf.Index(m.boneNodes[roots[0]])
	}
	if len(invmats) > 0 {
		skin.InverseBindMatrices = gltf.Index(m.addMatrices(invmats))
	}
	m.Skins = append(m.Skins, skin)
	return uint32(len(m.Skins) - 1), jointIndex
}

// getWeights packs every influence into 4-wide sets, strongest first.
// Weights are normalized per vertex.
func getWeights(mesh *rig.Mesh, jointIndex map[rig.BoneID]uint16) ([][][4]uint16, [][][4]float32) {
	infl := mesh.VertexInfluences()
	sets := 1
	for _, in := range infl {
		if n := (len(in) + 3) / 4; n > sets {
			sets = n
		}
	}
	joints := make([][][4]uint16, sets)
	weights := make([][][4]float32, sets)
	for k := range joints {
		joints[k] = make([][4]uint16, len(infl))
		weights[k] = make([][4]float32, len(infl))
	}
	for v, in := range infl {
		sort.SliceStable(in, func(i, j int) bool { return in[i].Weight > in[j].Weight })
		var total float64
		for _, w := range in {
			total += w.Weight
		}
		for i, w := range in {
			j, ok := jointIndex[w.Bone]
			if !ok || total <= 0 {
				continue
			}
			joints[i/4][v][i%4] = j
			weights[i/4][v][i%4] = float32(w.Weight / total)
		}
	}
	return joints, weights
}

func (m *rigToGltf) addTexture(tex *rig.Texture) (uint32, error) {
	if t, ok := m.textures[tex]; ok {
		return t, nil
	}
	data := tex.Data
	if m.TextureResolutionLimit > 0 {
		scaled, err := scaleTexture(tex, m.TextureResolutionLimit)
		if err != nil {
			return 0, err
		}
		data = scaled
	}
	img, err := modeler.WriteImage(m.Document, tex.Name, tex.MimeType, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	m.Buffers[0].ByteLength = uint32(len(m.Buffers[0].Data)) // avoid AddImage bug
	m.Textures = append(m.Textures,
		&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(img)})
	m.textures[tex] = uint32(len(m.Textures) - 1)
	return m.textures[tex], nil
}

func (m *rigToGltf) convertMaterial(mat *rig.Material) *gltf.Material {
	metallic := float32(mat.Metallic)
	roughness := float32(mat.Roughness)
	mm := &gltf.Material{
		Name: mat.Name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{float32(mat.BaseColor[0]), float32(mat.BaseColor[1]), float32(mat.BaseColor[2]), float32(mat.BaseColor[3])},
			MetallicFactor:  &metallic,
			RoughnessFactor: &roughness,
		},
		EmissiveFactor: [3]float32{float32(mat.Emissive[0]), float32(mat.Emissive[1]), float32(mat.Emissive[2])},
		DoubleSided:    mat.DoubleSided,
	}
	if mat.Blend {
		mm.AlphaMode = gltf.AlphaBlend
	}
	if mat.Texture != nil {
		if tex, err := m.addTexture(mat.Texture); err == nil {
			mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: tex}
		} else {
			m.Logger.Warn("texture write error", "texture", mat.Texture.Name, "err", err)
		}
	}
	return mm
}

func toFloat3(a []mgl64.Vec3) [][3]float32 {
	r := make([][3]float32, len(a))
	for i, v := range a {
		r[i] = [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
	}
	return r
}

func (m *rigToGltf) convertMesh(s *rig.Skeleton, mesh *rig.Mesh, nmat int) (*gltf.Mesh, *uint32) {
	attributes := map[string]uint32{}
	attributes["POSITION"] = modeler.WritePosition(m.Document, toFloat3(mesh.Positions))
	if len(mesh.Normals) == len(mesh.Positions) {
		attributes["NORMAL"] = modeler.WriteNormal(m.Document, toFloat3(mesh.Normals))
	}
	if len(mesh.UVs) == len(mesh.Positions) {
		uvs := make([][2]float32, len(mesh.UVs))
		for i, uv := range mesh.UVs {
			uvs[i] = [2]float32{float32(uv[0]), float32(uv[1])}
		}
		attributes["TEXCOORD_0"] = modeler.WriteTextureCoord(m.Document, uvs)
	}

	var skin *uint32
	if mesh.Skinned {
		index, jointIndex := m.addSkin(s, mesh)
		skin = gltf.Index(index)
		joints, weights := getWeights(mesh, jointIndex)
		for k := range joints {
			attributes[fmt.Sprintf("JOINTS_%d", k)] = modeler.WriteJoints(m.Document, joints[k])
			attributes[fmt.Sprintf("WEIGHTS_%d", k)] = modeler.WriteWeights(m.Document, weights[k])
		}
	}

	var primitives []*gltf.Primitive
	for _, p := range mesh.Primitives {
		if len(p.Indices) == 0 {
			continue
		}
		prim := &gltf.Primitive{
			Indices:    gltf.Index(modeler.WriteIndices(m.Document, p.Indices)),
			Attributes: attributes,
		}
		if p.Material >= 0 && p.Material < nmat {
			prim.Material = gltf.Index(uint32(p.Material))
		}
		primitives = append(primitives, prim)
	}
	return &gltf.Mesh{Name: mesh.Name, Primitives: primitives}, skin
}

// Convert writes the model as an "Armature" node holding the bone hierarchy
// and the skinned meshes. Animations are never written. A model without
// bones is written as plain meshes when ExportUnskinned is set.
func (m *rigToGltf) Convert(model *rig.Model) (*gltf.Document, error) {
	var parent *uint32
	if model.Skeleton != nil && model.Skeleton.Len() > 0 {
		if err := model.CheckSkeleton(); err != nil {
			return nil, err
		}
		parent = gltf.Index(m.addNode(newNode("Armature", model.Armature), nil))
		m.addBoneNodes(model.Skeleton, *parent)
	} else if !m.ExportUnskinned {
		return nil, model.CheckSkeleton()
	}

	for _, mat := range model.Materials {
		m.Document.Materials = append(m.Document.Materials, m.convertMaterial(mat))
	}
	if len(m.Document.Textures) > 0 {
		m.Document.Samplers = []*gltf.Sampler{{}}
	}

	for _, mesh := range model.Meshes {
		if !mesh.Skinned && !m.ExportUnskinned || mesh.Skinned && parent == nil {
			continue
		}
		gm, skin := m.convertMesh(model.Skeleton, mesh, len(model.Materials))
		if len(gm.Primitives) == 0 {
			continue
		}
		node := newNode(mesh.Name, mgl64.Ident4())
		if !mesh.Skinned {
			transform := mesh.Transform
			if parent == nil {
				transform = model.Armature.Mul4(transform)
			}
			gltfutil.SetNodeMatrix(node, transform)
		}
		node.Mesh = gltf.Index(uint32(len(m.Document.Meshes)))
		node.Skin = skin
		m.Document.Meshes = append(m.Document.Meshes, gm)
		m.addNode(node, parent)
	}
	return m.Document, nil
}
