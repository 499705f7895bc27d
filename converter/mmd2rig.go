package converter

import (
	"fmt"
	"sort"

	"github.com/binzume/rignorm/mmd"
	"github.com/binzume/rignorm/rig"
	"github.com/go-gl/mathgl/mgl64"
)

// MMDUnit is the size of one MMD unit in meters.
const MMDUnit = 0.08

type MMDToRigOption struct {
	// Scale converts file units to meters. 0: MMDUnit.
	Scale float64
	// EnglishNames uses the English bone names where the file has them.
	EnglishNames bool
	TextureDir   string
}

type mmdToRig struct {
	*MMDToRigOption
	textures *textureCache
	bones    map[int]rig.BoneID
}

func NewMMDToRigConverter(options *MMDToRigOption) *mmdToRig {
	if options == nil {
		options = &MMDToRigOption{}
	}
	return &mmdToRig{
		MMDToRigOption: options,
		textures:       newTextureCache(options.TextureDir),
		bones:          map[int]rig.BoneID{},
	}
}

// MMD is left-handed, Z forward.
func (c *mmdToRig) convertVec3(v *mmd.Vector3, s float64) mgl64.Vec3 {
	return mgl64.Vec3{float64(v.X) * s, float64(v.Y) * s, -float64(v.Z) * s}
}

func boneDepth(bones []*mmd.Bone, i int) int {
	d := 0
	for p := bones[i].ParentID; p >= 0 && p < len(bones) && d < len(bones); p = bones[p].ParentID {
		d++
	}
	return d
}

func (c *mmdToRig) boneName(b *mmd.Bone, i int, used map[string]bool) string {
	name := b.Name
	if c.EnglishNames && b.NameEn != "" {
		name = b.NameEn
	}
	if name == "" || used[name] {
		name = fmt.Sprintf("%s_%d", name, i)
	}
	used[name] = true
	return name
}

// PMX bones carry only a model-space head position, so rests are pure translations.
func (c *mmdToRig) convertBones(doc *mmd.Document, model *rig.Model, scale float64) error {
	order := make([]int, len(doc.Bones))
	depth := make([]int, len(doc.Bones))
	for i := range doc.Bones {
		order[i] = i
		depth[i] = boneDepth(doc.Bones, i)
	}
	sort.SliceStable(order, func(i, j int) bool { return depth[order[i]] < depth[order[j]] })

	used := map[string]bool{}
	for _, i := range order {
		b := doc.Bones[i]
		pos := c.convertVec3(&b.Pos, scale)
		parent := rig.NoBone
		if p, ok := c.bones[b.ParentID]; ok {
			parent = p
			pos = pos.Sub(c.convertVec3(&doc.Bones[b.ParentID].Pos, scale))
		}
		id, err := model.Skeleton.AddBone(c.boneName(b, i, used), parent, mgl64.Translate3D(pos[0], pos[1], pos[2]))
		if err != nil {
			return fmt.Errorf("bone %d: %w", i, err)
		}
		c.bones[i] = id
	}
	return nil
}

func (c *mmdToRig) convertMaterial(doc *mmd.Document, m *mmd.Material) *rig.Material {
	mat := rig.NewMaterial(m.Name)
	mat.BaseColor = mgl64.Vec4{float64(m.Color.X), float64(m.Color.Y), float64(m.Color.Z), float64(m.Color.W)}
	mat.DoubleSided = m.Flags&mmd.MaterialFlagDoubleSided != 0
	mat.Blend = m.Color.W < 0.99
	if m.TextureID >= 0 && m.TextureID < len(doc.Textures) {
		name := doc.Textures[m.TextureID]
		if t, err := c.textures.load(name, nil); err == nil {
			mat.Texture = t
			mat.Blend = mat.Blend || c.textures.hasAlpha(name)
		}
	}
	return mat
}

func (c *mmdToRig) convertMesh(doc *mmd.Document, model *rig.Model, scale float64) *rig.Mesh {
	mesh := rig.NewMesh(doc.Name)
	mesh.Skinned = len(c.bones) > 0
	for _, v := range doc.Vertexes {
		mesh.Positions = append(mesh.Positions, c.convertVec3(&v.Pos, scale))
		mesh.Normals = append(mesh.Normals, c.convertVec3(&v.Normal, 1).Normalize())
		mesh.UVs = append(mesh.UVs, mgl64.Vec2{float64(v.UV.X), float64(v.UV.Y)})
	}
	for vi, v := range doc.Vertexes {
		for i, b := range v.Bones {
			id, ok := c.bones[b]
			if !ok || i >= len(v.BoneWeights) || v.BoneWeights[i] <= 0 {
				continue
			}
			mesh.SetWeight(id, vi, mesh.Weight(id, vi)+float64(v.BoneWeights[i]))
		}
	}
	for _, b := range model.Skeleton.Bones {
		mesh.Bind[b.ID] = model.Skeleton.World(b.ID).Inv()
	}

	// materials draw consecutive runs of faces
	face := 0
	for _, m := range doc.Materials {
		model.Materials = append(model.Materials, c.convertMaterial(doc, m))
		prim := &rig.Primitive{Material: len(model.Materials) - 1}
		for n := 0; n < m.Count/3 && face < len(doc.Faces); n++ {
			f := doc.Faces[face].Verts
			face++
			if f[0] >= len(mesh.Positions) || f[1] >= len(mesh.Positions) || f[2] >= len(mesh.Positions) {
				continue
			}
			// flipping Z reverses the winding
			prim.Indices = append(prim.Indices, uint32(f[0]), uint32(f[2]), uint32(f[1]))
		}
		if len(prim.Indices) > 0 {
			mesh.Primitives = append(mesh.Primitives, prim)
		}
	}
	return mesh
}

// Convert builds a rig model in Y-up meters from a PMX or PMD document.
func (c *mmdToRig) Convert(doc *mmd.Document, name string) (*rig.Model, error) {
	scale := c.Scale
	if scale == 0 {
		scale = MMDUnit
	}
	model := rig.NewModel(name)
	if err := c.convertBones(doc, model, scale); err != nil {
		return nil, err
	}
	if mesh := c.convertMesh(doc, model, scale); len(mesh.Primitives) > 0 {
		model.Meshes = append(model.Meshes, mesh)
	}
	return model, nil
}
