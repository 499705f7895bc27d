package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/binzume/rignorm/fbx"
	"github.com/binzume/rignorm/geom"
	"github.com/binzume/rignorm/gltfutil"
	"github.com/binzume/rignorm/mmd"
	"github.com/binzume/rignorm/rig"
	"github.com/go-gl/mathgl/mgl64"
)

func newTestModel(t *testing.T) *rig.Model {
	t.Helper()
	m := rig.NewModel("test")
	s := m.Skeleton
	root, _ := s.AddBone("root", rig.NoBone, mgl64.Ident4())
	pelvis, _ := s.AddBone("pelvis", root, mgl64.Translate3D(0, 1, 0))
	var prev = pelvis
	var ids []rig.BoneID
	for i, name := range []string{"spine_01", "spine_02", "spine_03", "neck_01", "Head"} {
		rot := mgl64.HomogRotate3DZ(0.1 * float64(i+1))
		id, err := s.AddBone(name, prev, mgl64.Translate3D(0, 0.2, 0).Mul4(rot))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		prev = id
	}
	world := s.WorldMatrices()

	mesh := rig.NewMesh("body")
	mesh.Skinned = true
	mesh.Positions = []mgl64.Vec3{{0, 1, 0}, {0.1, 1.5, 0}, {0, 2, 0.1}}
	mesh.Normals = []mgl64.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}
	mesh.UVs = []mgl64.Vec2{{0, 0}, {1, 0}, {0, 1}}
	mesh.Primitives = []*rig.Primitive{{Indices: []uint32{0, 1, 2}, Material: 0}}
	for _, id := range append([]rig.BoneID{pelvis}, ids...) {
		mesh.Bind[id] = world[id].Inv()
	}
	mesh.SetWeight(pelvis, 0, 1)
	// six influences on one vertex
	for i, id := range append([]rig.BoneID{pelvis}, ids...) {
		mesh.SetWeight(id, 1, float64(i+1))
	}
	mesh.SetWeight(ids[4], 2, 0.5)
	m.Meshes = append(m.Meshes, mesh)
	m.Materials = append(m.Materials, rig.NewMaterial("skin"))
	return m
}

func TestGLTFRoundTrip(t *testing.T) {
	src := newTestModel(t)
	doc, err := NewRigToGLTFConverter(nil).Convert(src)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Nodes[0].Name != "Armature" {
		t.Error("first node", doc.Nodes[0].Name)
	}
	if len(doc.Animations) != 0 {
		t.Error("animations written")
	}

	path := filepath.Join(t.TempDir(), "out.glb")
	if err := gltfutil.Save(doc, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := gltfutil.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := NewGLTFToRigConverter(nil).Convert(loaded, "out")
	if err != nil {
		t.Fatal(err)
	}

	ss, ds := src.Skeleton, dst.Skeleton
	if ds.Len() != ss.Len() {
		t.Fatal("bone count", ds.Len(), ss.Len())
	}
	for _, b := range ss.Bones {
		d := ds.BoneByName(b.Name)
		if d == nil {
			t.Error("missing bone", b.Name)
			continue
		}
		if ds.BoneName(d.Parent) != ss.BoneName(b.Parent) {
			t.Error("parent of", b.Name, ds.BoneName(d.Parent))
		}
		if !geom.MatrixEqual(d.Rest, b.Rest, 1e-5) {
			t.Error("rest of", b.Name, d.Rest, b.Rest)
		}
	}

	if len(dst.Meshes) != 1 || !dst.Meshes[0].Skinned {
		t.Fatal("meshes", dst.Meshes)
	}
	sm, dm := src.Meshes[0], dst.Meshes[0]
	if len(dm.Positions) != 3 {
		t.Fatal("positions", len(dm.Positions))
	}
	for v := range sm.Positions {
		sin := sm.Influences(v)
		din := dm.Influences(v)
		if len(din) != len(sin) {
			t.Error("influence count", v, len(din), len(sin))
			continue
		}
		var total float64
		for _, w := range sin {
			total += w
		}
		for id, w := range sin {
			did := ds.BoneByName(ss.BoneName(id)).ID
			if math.Abs(din[did]-w/total) > 1e-6 {
				t.Error("weight", v, ss.BoneName(id), din[did], w/total)
			}
		}
	}

	ss.ResolveWorld()
	ds.ResolveWorld()
	for v := range sm.Positions {
		a := sm.BindPosition(ss, v)
		b := dm.BindPosition(ds, v)
		if a.Sub(b).Len() > 1e-5 {
			t.Error("bind position", v, a, b)
		}
	}
	if len(dst.Materials) != 1 || dst.Materials[0].Name != "skin" {
		t.Error("materials", dst.Materials)
	}
}

func TestExportUnskinned(t *testing.T) {
	m := newTestModel(t)
	prop := rig.NewMesh("prop")
	prop.Positions = []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	prop.Primitives = []*rig.Primitive{{Indices: []uint32{0, 1, 2}, Material: -1}}
	prop.Transform = mgl64.Translate3D(0, 0, 2)
	m.Meshes = append(m.Meshes, prop)

	doc, err := NewRigToGLTFConverter(nil).Convert(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Meshes) != 1 {
		t.Error("unskinned mesh exported by default")
	}
	doc, err = NewRigToGLTFConverter(&RigToGLTFOption{ExportUnskinned: true}).Convert(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Meshes) != 2 {
		t.Fatal("meshes", len(doc.Meshes))
	}
	back, err := NewGLTFToRigConverter(nil).Convert(doc, "back")
	if err != nil {
		t.Fatal(err)
	}
	for _, mesh := range back.Meshes {
		if mesh.Name == "prop" {
			if p := mesh.BindPosition(back.Skeleton, 1); p.Sub(mgl64.Vec3{1, 0, 2}).Len() > 1e-6 {
				t.Error("prop placement", p)
			}
		}
	}
}

func TestExportWithoutSkeleton(t *testing.T) {
	if _, err := NewRigToGLTFConverter(nil).Convert(rig.NewModel("empty")); err == nil {
		t.Error("expected error")
	}
}

func TestFBXToRig(t *testing.T) {
	doc, err := fbx.Load("../fbx/testdata/rig.fbx")
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewFBXToRigConverter(nil).Convert(doc, "rig")
	if err != nil {
		t.Fatal(err)
	}
	s := m.Skeleton
	if s.Len() != 2 {
		t.Fatal("bones", s.Names())
	}
	spine := s.BoneByName("Spine")
	if spine == nil || s.BoneName(spine.Parent) != "Hips" {
		t.Fatal("Spine", spine)
	}
	if d := geom.TranslationDiff(spine.Rest, mgl64.Translate3D(0, 10, 0)); d > 1e-9 {
		t.Error("spine rest", spine.Rest)
	}

	if len(m.Meshes) != 1 {
		t.Fatal("meshes", len(m.Meshes))
	}
	mesh := m.Meshes[0]
	if !mesh.Skinned || len(mesh.Positions) != 4 {
		t.Fatal("mesh", mesh.Skinned, len(mesh.Positions))
	}
	if len(mesh.Primitives) != 1 || len(mesh.Primitives[0].Indices) != 6 || mesh.Primitives[0].Material != 0 {
		t.Error("primitives", mesh.Primitives)
	}
	hips := s.BoneByName("Hips").ID
	if w := mesh.Weight(hips, 2); w != 0.5 {
		t.Error("weight", w)
	}
	if uv := mesh.UVs[2]; uv != (mgl64.Vec2{1, 0}) {
		t.Error("uv", uv)
	}
	s.ResolveWorld()
	if p := mesh.BindPosition(s, 2); p.Sub(mgl64.Vec3{1, 1, 0}).Len() > 1e-9 {
		t.Error("bind position", p)
	}
	if len(m.Materials) != 1 || m.Materials[0].BaseColor[1] != 0.5 {
		t.Error("material", m.Materials)
	}
}

func TestMMDToRig(t *testing.T) {
	doc := &mmd.Document{
		Name: "miku",
		Vertexes: []*mmd.Vertex{
			{Pos: mmd.Vector3{X: 0, Y: 10, Z: 1}, Normal: mmd.Vector3{Z: -1}, Bones: []int{1}, BoneWeights: []float32{1}},
			{Pos: mmd.Vector3{X: 1, Y: 12, Z: 0}, Normal: mmd.Vector3{Z: -1}, Bones: []int{1, 0}, BoneWeights: []float32{0.25, 0.75}},
			{Pos: mmd.Vector3{X: 0, Y: 12, Z: 0}, Normal: mmd.Vector3{Z: -1}, Bones: []int{0, 0}, BoneWeights: []float32{1, 0}},
		},
		Faces:     []*mmd.Face{{Verts: [3]int{0, 1, 2}}},
		Materials: []*mmd.Material{{Name: "skin", Color: mmd.Vector4{X: 1, Y: 1, Z: 1, W: 1}, TextureID: -1, Count: 3}},
		Bones: []*mmd.Bone{
			{Name: "上半身", Pos: mmd.Vector3{Y: 12}, ParentID: 1},
			{Name: "センター", NameEn: "center", Pos: mmd.Vector3{Y: 8, Z: 1}, ParentID: -1},
		},
	}
	m, err := NewMMDToRigConverter(nil).Convert(doc, "miku")
	if err != nil {
		t.Fatal(err)
	}
	s := m.Skeleton
	center, ok := s.Lookup("センター")
	if !ok {
		t.Fatal("no center bone")
	}
	upper := s.BoneByName("上半身")
	if upper == nil || upper.Parent != center {
		t.Fatal("parent", upper)
	}
	want := mgl64.Vec3{0, 4 * MMDUnit, MMDUnit}
	if got := upper.Rest.Col(3).Vec3(); got.Sub(want).Len() > 1e-9 {
		t.Error("rest", got, want)
	}
	if got := s.World(center).Col(3).Vec3(); got.Sub(mgl64.Vec3{0, 8 * MMDUnit, -MMDUnit}).Len() > 1e-9 {
		t.Error("center world", got)
	}

	mesh := m.Meshes[0]
	if !mesh.Skinned || mesh.Weight(upper.ID, 1) != 0.75 || mesh.Weight(center, 1) != 0.25 {
		t.Error("weights", mesh.Influences(1))
	}
	if len(mesh.Influences(2)) != 1 {
		t.Error("zero weight kept", mesh.Influences(2))
	}
	if idx := mesh.Primitives[0].Indices; idx[0] != 0 || idx[1] != 2 || idx[2] != 1 {
		t.Error("winding", idx)
	}
	if mesh.Positions[0].Sub(mgl64.Vec3{0, 10 * MMDUnit, -MMDUnit}).Len() > 1e-9 {
		t.Error("position", mesh.Positions[0])
	}
	for v := range mesh.Positions {
		if p := mesh.BindPosition(s, v); p.Sub(mesh.Positions[v]).Len() > 1e-9 {
			t.Error("bind position", v, p)
		}
	}

	m, err = NewMMDToRigConverter(&MMDToRigOption{EnglishNames: true}).Convert(doc, "miku")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Skeleton.Lookup("center"); !ok {
		t.Error("english name not used", m.Skeleton.Names())
	}
}

func TestGLTFSharedAttributes(t *testing.T) {
	m := newTestModel(t)
	m.Materials = append(m.Materials, rig.NewMaterial("cloth"))
	mesh := m.Meshes[0]
	mesh.Positions = append(mesh.Positions, mgl64.Vec3{0.2, 1.5, 0})
	mesh.Normals = append(mesh.Normals, mgl64.Vec3{0, 0, 1})
	mesh.UVs = append(mesh.UVs, mgl64.Vec2{1, 1})
	mesh.Primitives = append(mesh.Primitives, &rig.Primitive{Indices: []uint32{1, 3, 2}, Material: 1})
	mesh.SetWeight(m.Skeleton.BoneByName("pelvis").ID, 3, 1)

	doc, err := NewRigToGLTFConverter(nil).Convert(m)
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewGLTFToRigConverter(nil).Convert(doc, "back")
	if err != nil {
		t.Fatal(err)
	}
	bm := back.Meshes[0]
	if len(bm.Positions) != 4 || len(bm.Primitives) != 2 {
		t.Fatal("vertices duplicated", len(bm.Positions), len(bm.Primitives))
	}
	if idx := bm.Primitives[1].Indices; idx[0] != 1 || idx[1] != 3 || idx[2] != 2 || bm.Primitives[1].Material != 1 {
		t.Error("second primitive", bm.Primitives[1])
	}
	if len(bm.Influences(1)) != 6 {
		t.Error("weights read twice", bm.Influences(1))
	}
}

func TestTextures(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	img.Set(1, 1, color.NRGBA{255, 0, 0, 128})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skin.png"), buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTextureCache(dir)
	tex, err := c.load(`textures\skin.png`, nil)
	if err == nil {
		t.Error("expected missing subdirectory", tex)
	}
	tex, err = c.load("skin.png", nil)
	if err != nil {
		t.Fatal(err)
	}
	if tex.MimeType != "image/png" || tex.Name != "skin.png" {
		t.Error("texture", tex.Name, tex.MimeType)
	}
	if !c.hasAlpha("skin.png") {
		t.Error("alpha not detected")
	}

	data, err := scaleTexture(tex, 16)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 16 || cfg.Height != 8 {
		t.Error("scaled size", cfg.Width, cfg.Height)
	}
	if same, _ := scaleTexture(tex, 0); !bytes.Equal(same, tex.Data) {
		t.Error("unlimited texture changed")
	}
}
