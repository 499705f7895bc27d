package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/binzume/rignorm/config"
	"github.com/binzume/rignorm/converter"
	"github.com/binzume/rignorm/geom"
	"github.com/binzume/rignorm/gltfutil"
	"github.com/binzume/rignorm/rig"
	"github.com/charmbracelet/log"
	"github.com/go-gl/mathgl/mgl64"
)

func newTestPipeline() *Pipeline {
	return New(&Options{Profile: config.Default(), Logger: log.New(io.Discard)})
}

func addChain(t *testing.T, s *rig.Skeleton, bones [][2]string, rest map[string]mgl64.Mat4) {
	t.Helper()
	for _, b := range bones {
		parent := rig.NoBone
		if b[1] != "" {
			parent, _ = s.Lookup(b[1])
		}
		if _, err := s.AddBone(b[0], parent, rest[b[0]]); err != nil {
			t.Fatal(err)
		}
	}
}

func referenceModel(t *testing.T) *rig.Model {
	m := rig.NewModel("mannequin")
	addChain(t, m.Skeleton, [][2]string{
		{"root", ""}, {"pelvis", "root"}, {"spine_01", "pelvis"}, {"hand_l", "spine_01"},
		{"thumb_01_l", "hand_l"}, {"thumb_02_l", "thumb_01_l"},
	}, map[string]mgl64.Mat4{
		"root":       mgl64.Ident4(),
		"pelvis":     mgl64.Translate3D(0, 1, 0),
		"spine_01":   mgl64.Translate3D(0, 0.2, 0),
		"hand_l":     mgl64.Translate3D(0.3, 0, 0).Mul4(mgl64.HomogRotate3DZ(-0.5)),
		"thumb_01_l": mgl64.Translate3D(0.05, 0, 0.02),
		"thumb_02_l": mgl64.Translate3D(0.03, 0, 0),
	})
	return m
}

func sourceModel(t *testing.T) *rig.Model {
	m := rig.NewModel("source")
	s := m.Skeleton
	addChain(t, s, [][2]string{
		{"Hips", ""}, {"Spine", "Hips"}, {"Spine_twist", "Spine"}, {"Hand.L", "Spine_twist"},
		{"HandThumb1.L", "Hand.L"}, {"HandThumb2.L", "HandThumb1.L"}, {"Accessory", "Hips"},
	}, map[string]mgl64.Mat4{
		"Hips":         mgl64.Translate3D(0, 0.9, 0.1).Mul4(mgl64.HomogRotate3DY(0.3)),
		"Spine":        mgl64.Translate3D(0, 0.25, 0),
		"Spine_twist":  mgl64.HomogRotate3DX(0.2),
		"Hand.L":       mgl64.Translate3D(0.28, 0.01, 0),
		"HandThumb1.L": mgl64.Translate3D(0.04, 0, 0.03),
		"HandThumb2.L": mgl64.Translate3D(0.03, 0, 0),
		"Accessory":    mgl64.Translate3D(0.1, 0, 0),
	})
	world := s.WorldMatrices()

	mesh := rig.NewMesh("body")
	mesh.Skinned = true
	mesh.Positions = []mgl64.Vec3{{0, 0.9, 0}, {0.3, 1.2, 0}, {0, 1.1, 0}, {0, 1.15, 0.05}}
	mesh.Primitives = []*rig.Primitive{{Indices: []uint32{0, 1, 2, 1, 3, 2}, Material: -1}}
	for _, b := range s.Bones {
		mesh.Bind[b.ID] = world[b.ID].Inv()
	}
	id := func(name string) rig.BoneID {
		i, _ := s.Lookup(name)
		return i
	}
	mesh.SetWeight(id("Hips"), 0, 1)
	mesh.SetWeight(id("Hand.L"), 1, 0.1)
	mesh.SetWeight(id("HandThumb1.L"), 1, 0.3)
	mesh.SetWeight(id("HandThumb2.L"), 1, 0.2)
	mesh.SetWeight(id("Spine_twist"), 2, 1)
	mesh.SetWeight(id("Spine"), 3, 1)
	m.Meshes = append(m.Meshes, mesh)
	return m
}

func reference(t *testing.T) *rig.ReferenceRestState {
	ref, err := rig.NewReferenceRestState(referenceModel(t))
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestProcess(t *testing.T) {
	ref := reference(t)
	m := sourceModel(t)
	mesh := m.Meshes[0]

	rep, err := newTestPipeline().Process(context.Background(), ref, m)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Perfect() {
		t.Error("bone set not perfect", rep.Deviation, m.Skeleton.SortedNames())
	}
	if !rep.RootInserted {
		t.Error("root not inserted")
	}
	sort.Strings(rep.Deleted)
	if len(rep.Deleted) != 2 || rep.Deleted[0] != "Accessory" || rep.Deleted[1] != "Spine_twist" {
		t.Error("deleted", rep.Deleted)
	}
	if rep.Deviation.MaxTranslation > 1e-9 {
		t.Error("max diff", rep.Deviation.MaxTranslation)
	}
	if len(rep.Warnings) == 0 {
		t.Error("expected unmapped bone warnings")
	}

	s := m.Skeleton
	for _, b := range s.Bones {
		want, _ := ref.Rest(b.Name)
		if !geom.MatrixEqual(s.World(b.ID), want, 1e-9) {
			t.Error("world of", b.Name)
		}
		if ref.Parent(b.Name) != s.BoneName(b.Parent) {
			t.Error("parent of", b.Name, s.BoneName(b.Parent))
		}
	}

	hand, _ := s.Lookup("hand_l")
	if w := mesh.Weight(hand, 1); w < 0.6-1e-12 || w > 0.6+1e-12 {
		t.Error("collapsed hand weight", w)
	}
	for _, id := range mesh.GroupIDs() {
		if name := s.BoneName(id); name == "thumb_01_l" || name == "thumb_02_l" {
			t.Error("donor group left", name)
		}
	}
	// vertex 2 was only weighted to a deleted bone
	if len(mesh.Influences(2)) != 0 {
		t.Error("discarded weights", mesh.Influences(2))
	}
	for _, v := range []int{0, 1, 3} {
		if p := mesh.BindPosition(s, v); p.Sub(mesh.Positions[v]).Len() > 1e-9 {
			t.Error("bind position moved", v, p, mesh.Positions[v])
		}
	}
}

func TestProcessIdempotent(t *testing.T) {
	ref := reference(t)
	m := sourceModel(t)
	p := newTestPipeline()
	if _, err := p.Process(context.Background(), ref, m); err != nil {
		t.Fatal(err)
	}
	before, err := m.Clone()
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Process(context.Background(), ref, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Renamed) != 0 || rep.RootInserted || len(rep.Deleted) != 0 || rep.CollapsedVertices() != 0 {
		t.Error("second run changed the asset", rep.Renamed, rep.RootInserted, rep.Deleted)
	}
	bs, as := before.Skeleton, m.Skeleton
	if len(bs.Bones) != len(as.Bones) {
		t.Fatal("bone count")
	}
	for _, b := range bs.Bones {
		a := as.BoneByName(b.Name)
		if a == nil || a.ID != b.ID || a.Parent != b.Parent || !geom.MatrixEqual(a.Rest, b.Rest, 1e-9) {
			t.Error("bone changed", b.Name)
		}
	}
	bm, am := before.Meshes[0], m.Meshes[0]
	if len(bm.Groups) != len(am.Groups) {
		t.Fatal("group count", len(bm.Groups), len(am.Groups))
	}
	for id, g := range bm.Groups {
		ag := am.Group(id)
		if ag == nil || len(ag.Weights) != len(g.Weights) {
			t.Error("group changed", id)
			continue
		}
		for v, w := range g.Weights {
			if ag.Weights[v] != w {
				t.Error("weight changed", id, v)
			}
		}
	}
}

func TestProcessRenameOnly(t *testing.T) {
	m := sourceModel(t)
	rep, err := newTestPipeline().Process(context.Background(), nil, m)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Retarget != nil || rep.Deviation != nil || len(rep.Deleted) != 0 {
		t.Error("reference stages ran without a reference")
	}
	for _, name := range []string{"root", "pelvis", "spine_01", "hand_l", "Spine_twist", "Accessory"} {
		if _, ok := m.Skeleton.Lookup(name); !ok {
			t.Error("missing", name)
		}
	}
}

func TestProcessNoSkeleton(t *testing.T) {
	_, err := newTestPipeline().Process(context.Background(), reference(t), rig.NewModel("props"))
	if !errors.Is(err, rig.ErrNoSkeleton) {
		t.Error("expected ErrNoSkeleton", err)
	}
}

func TestProcessCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestPipeline().Process(ctx, reference(t), sourceModel(t)); !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled", err)
	}
}

func writeGLB(t *testing.T, m *rig.Model, path string) {
	t.Helper()
	doc, err := converter.NewRigToGLTFConverter(&converter.RigToGLTFOption{Logger: log.New(io.Discard)}).Convert(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := gltfutil.Save(doc, path); err != nil {
		t.Fatal(err)
	}
}

func TestRetargetFile(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "mannequin.glb")
	srcPath := filepath.Join(dir, "source.glb")
	outPath := filepath.Join(dir, "out", "result.glb")
	writeGLB(t, referenceModel(t), refPath)
	writeGLB(t, sourceModel(t), srcPath)

	p := newTestPipeline()
	rep, err := p.RetargetFile(context.Background(), refPath, srcPath, outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Perfect() {
		t.Error("not perfect", rep.Deviation)
	}
	if rep.Deviation.MaxTranslation > 1e-5 {
		t.Error("max diff", rep.Deviation.MaxTranslation)
	}
	out, err := LoadModel(outPath)
	if err != nil {
		t.Fatal(err)
	}
	ref, _ := LoadReference(refPath)
	got, want := out.Skeleton.SortedNames(), ref.Names()
	if len(got) != len(want) {
		t.Fatal("names", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Error("name", got[i], want[i])
		}
	}

	if _, err := p.RetargetFile(context.Background(), filepath.Join(dir, "missing.glb"), srcPath, outPath); !errors.Is(err, ErrReferenceNotFound) {
		t.Error("expected ErrReferenceNotFound", err)
	}
	if _, err := p.RetargetFile(context.Background(), refPath, filepath.Join(dir, "missing.fbx"), outPath); !errors.Is(err, ErrInputNotFound) {
		t.Error("expected ErrInputNotFound", err)
	}
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(filepath.Join(src, "parts"), 0755); err != nil {
		t.Fatal(err)
	}
	refPath := filepath.Join(dir, "mannequin.glb")
	writeGLB(t, referenceModel(t), refPath)
	writeGLB(t, sourceModel(t), filepath.Join(src, "parts", "body.glb"))
	if err := os.WriteFile(filepath.Join(src, "broken.fbx"), []byte("not an fbx file"), 0644); err != nil {
		t.Fatal(err)
	}

	var seen []string
	rep, err := newTestPipeline().RunBatch(context.Background(), BatchOptions{
		SourceDir:     src,
		OutputDir:     out,
		ReferencePath: refPath,
		OnItem:        func(item *BatchItem) { seen = append(seen, item.Source) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID == "" {
		t.Error("no run id")
	}
	if rep.Succeeded != 1 || rep.Failed != 1 || len(seen) != 2 {
		t.Error("counts", rep.Succeeded, rep.Failed, seen)
	}
	if _, err := os.Stat(filepath.Join(out, "parts", "body.glb")); err != nil {
		t.Error("output not mirrored", err)
	}
	if _, err := os.Stat(filepath.Join(out, "broken.glb")); err == nil {
		t.Error("failed item written")
	}
}

func TestRunBatchErrors(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline()
	if _, err := p.RunBatch(context.Background(), BatchOptions{SourceDir: dir, OutputDir: dir}); !errors.Is(err, ErrNoInputs) {
		t.Error("expected ErrNoInputs", err)
	}
	if _, err := p.RunBatch(context.Background(), BatchOptions{SourceDir: filepath.Join(dir, "none")}); !errors.Is(err, ErrInputNotFound) {
		t.Error("expected ErrInputNotFound", err)
	}
	opts := BatchOptions{SourceDir: dir, ReferencePath: filepath.Join(dir, "none.glb")}
	if _, err := p.RunBatch(context.Background(), opts); !errors.Is(err, ErrReferenceNotFound) {
		t.Error("expected ErrReferenceNotFound", err)
	}
}

func TestCollapseFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.glb")
	out := filepath.Join(dir, "out.glb")

	m := referenceModel(t)
	world := m.Skeleton.WorldMatrices()
	mesh := rig.NewMesh("hand")
	mesh.Skinned = true
	mesh.Positions = []mgl64.Vec3{{0.3, 1.2, 0}, {0.35, 1.2, 0}, {0.35, 1.25, 0}}
	mesh.Primitives = []*rig.Primitive{{Indices: []uint32{0, 1, 2}, Material: -1}}
	for _, b := range m.Skeleton.Bones {
		mesh.Bind[b.ID] = world[b.ID].Inv()
	}
	hand, _ := m.Skeleton.Lookup("hand_l")
	thumb1, _ := m.Skeleton.Lookup("thumb_01_l")
	thumb2, _ := m.Skeleton.Lookup("thumb_02_l")
	mesh.SetWeight(hand, 0, 1)
	mesh.SetWeight(hand, 1, 0.5)
	mesh.SetWeight(thumb1, 1, 0.5)
	mesh.SetWeight(thumb2, 2, 1)
	m.Meshes = append(m.Meshes, mesh)
	writeGLB(t, m, in)

	p := newTestPipeline()
	rep, err := p.CollapseFile(context.Background(), in, out)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CollapsedVertices() != 2 {
		t.Error("collapsed vertices", rep.CollapsedVertices())
	}
	res, err := LoadModel(out)
	if err != nil {
		t.Fatal(err)
	}
	rm := res.Meshes[0]
	for _, id := range rm.GroupIDs() {
		if name := res.Skeleton.BoneName(id); name != "hand_l" {
			t.Error("unexpected group", name)
		}
	}
	rh, _ := res.Skeleton.Lookup("hand_l")
	for v := 0; v < 3; v++ {
		if w := rm.Weight(rh, v); w < 1-1e-6 {
			t.Error("hand weight", v, w)
		}
	}

	rep, err = p.CollapseFile(context.Background(), out, filepath.Join(dir, "again.glb"))
	if err != nil {
		t.Fatal(err)
	}
	if rep.CollapsedVertices() != 0 || len(rep.Warnings) != 1 {
		t.Error("second collapse", rep.CollapsedVertices(), rep.Warnings)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.fbx", "parts/b.gltf", "c.pmd", "d.glb", "e.pmx", "notes.txt", "out/old.glb"} {
		touch(t, filepath.Join(dir, filepath.FromSlash(name)))
	}
	files, err := FindInputs(dir, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.fbx", "c.pmd", "d.glb", "e.pmx", "parts/b.gltf"}
	if len(files) != len(want) {
		t.Fatal("inputs", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Error("input", i, files[i], want[i])
		}
	}
	for _, f := range files {
		if !isSupported(f) {
			t.Error("found unsupported", f)
		}
	}
}

func TestRunBatchOutputInsideSource(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(src, "normalized")
	writeGLB(t, sourceModel(t), filepath.Join(src, "body.glb"))

	p := newTestPipeline()
	for run := 0; run < 2; run++ {
		rep, err := p.RunBatch(context.Background(), BatchOptions{SourceDir: src, OutputDir: out})
		if err != nil {
			t.Fatal(err)
		}
		if len(rep.Items) != 1 || rep.Succeeded != 1 {
			t.Error("run", run, "items", len(rep.Items), rep.Succeeded)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "normalized", "body.glb")); err == nil {
		t.Error("previous output was converted again")
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	out := filepath.Join(src, "out")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	refPath := filepath.Join(dir, "mannequin.glb")
	writeGLB(t, referenceModel(t), refPath)
	staged := filepath.Join(dir, "body.glb")
	writeGLB(t, sourceModel(t), staged)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	items := make(chan *BatchItem, 8)
	done := make(chan error, 1)
	go func() {
		done <- newTestPipeline().Watch(ctx, WatchOptions{
			SourceDir:     src,
			OutputDir:     out,
			ReferencePath: refPath,
			OnReady:       func() { close(ready) },
			OnItem:        func(item *BatchItem) { items <- item },
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatal("watch stopped early", err)
	case <-time.After(10 * time.Second):
		t.Fatal("watcher not ready")
	}
	// a rename delivers the file complete in one event
	if err := os.Rename(staged, filepath.Join(src, "body.glb")); err != nil {
		t.Fatal(err)
	}

	select {
	case item := <-items:
		if item.Err != nil {
			t.Fatal(item.Err)
		}
		if item.Output != filepath.Join(out, "body.glb") {
			t.Error("output", item.Output)
		}
		if !item.Report.Perfect() {
			t.Error("not perfect", item.Report.Deviation)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no item converted")
	}
	if _, err := LoadModel(filepath.Join(out, "body.glb")); err != nil {
		t.Error("output", err)
	}

	select {
	case item := <-items:
		t.Error("unexpected conversion", item.Source)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Error(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchRejectsOutputAroundSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := newTestPipeline().Watch(context.Background(), WatchOptions{SourceDir: src, OutputDir: dir}); err == nil {
		t.Error("expected an error")
	}
}
