// Package retarget aligns a skeleton's rest pose with a reference skeleton
// and rebakes skin bind matrices so meshes keep their bind-time shape.
package retarget

import (
	"github.com/binzume/rignorm/geom"
	"github.com/binzume/rignorm/rig"
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
)

// DefaultEpsilon is the positional tolerance used when verifying a retarget.
const DefaultEpsilon = 1e-5

type Report struct {
	Matched   []string
	Unmatched []string // source bones with no reference transform
	Levels    int
	Rebaked   int // inverse bind matrices rewritten
}

// Retarget moves every bone that exists in the reference to the reference's
// armature-space rest transform, one depth level at a time, then commits the
// new pose as the rest pose.
//
// Each level is computed against the fully resolved world transforms of the
// levels above it. Bones missing from the reference keep their local
// transform. Inverse bind matrices of every skinned mesh are rebaked as
// newWorld^-1 * oldWorld * bind, which leaves bind-time vertex positions unchanged.
func Retarget(m *rig.Model, ref *rig.ReferenceRestState) (*Report, error) {
	s := m.Skeleton
	old := s.WorldMatrices()
	rep := &Report{}

	err := s.WalkLevels(func(depth int, ids []rig.BoneID) error {
		rep.Levels = depth + 1
		for _, id := range ids {
			b := s.Bone(id)
			target, ok := ref.Rest(b.Name)
			if !ok {
				rep.Unmatched = append(rep.Unmatched, b.Name)
				continue
			}
			parent := mgl64.Ident4()
			if b.Parent != rig.NoBone {
				parent = s.World(b.Parent)
			}
			s.SetRest(id, parent.Inv().Mul4(target))
			rep.Matched = append(rep.Matched, b.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	world := s.WorldMatrices()
	for _, mesh := range m.SkinnedMeshes() {
		rep.Rebaked += Rebake(mesh, old, world)
	}
	return rep, nil
}

// Rebake rewrites the inverse bind matrices of a mesh after its bones moved
// from old to world. Groups without a bind matrix get the default one for
// their old transform first.
func Rebake(mesh *rig.Mesh, old, world map[rig.BoneID]mgl64.Mat4) int {
	for id := range mesh.Groups {
		if o, ok := old[id]; ok {
			mesh.Bind[id] = mesh.BindMatrix(id, o)
		}
	}
	n := 0
	for id, bind := range mesh.Bind {
		o, ok1 := old[id]
		w, ok2 := world[id]
		if !ok1 || !ok2 || o == w {
			continue
		}
		mesh.Bind[id] = w.Inv().Mul4(o).Mul4(bind)
		n++
	}
	return n
}

// Deviation describes how far a skeleton is from the reference.
type Deviation struct {
	Missing []string // reference bones absent from the skeleton
	Extra   []string // skeleton bones absent from the reference
	// MaxTranslation is the largest origin distance over shared bones.
	MaxTranslation float64
	WorstBone      string
}

func (d *Deviation) Perfect() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0
}

// Measure compares bone names and armature-space rest positions.
func Measure(s *rig.Skeleton, ref *rig.ReferenceRestState) *Deviation {
	d := &Deviation{}
	world := s.WorldMatrices()
	var names []string
	var diffs []float64
	for _, b := range s.Bones {
		target, ok := ref.Rest(b.Name)
		if !ok {
			d.Extra = append(d.Extra, b.Name)
			continue
		}
		names = append(names, b.Name)
		diffs = append(diffs, geom.TranslationDiff(world[b.ID], target))
	}
	for _, n := range ref.Names() {
		if _, ok := s.Lookup(n); !ok {
			d.Missing = append(d.Missing, n)
		}
	}
	if len(diffs) > 0 {
		i := floats.MaxIdx(diffs)
		d.MaxTranslation = diffs[i]
		d.WorstBone = names[i]
	}
	return d
}
