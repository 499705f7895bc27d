package rig

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// DeletedWeights selects what happens to the skin weights of stripped bones.
type DeletedWeights string

const (
	// DeletedWeightsDiscard drops the weight mass of deleted bones.
	DeletedWeightsDiscard DeletedWeights = "discard"
	// DeletedWeightsMergeToParent adds it to the nearest surviving ancestor.
	DeletedWeightsMergeToParent DeletedWeights = "merge_parent"
)

func ParseDeletedWeights(s string) (DeletedWeights, error) {
	switch DeletedWeights(s) {
	case "", DeletedWeightsDiscard:
		return DeletedWeightsDiscard, nil
	case DeletedWeightsMergeToParent:
		return DeletedWeightsMergeToParent, nil
	}
	return "", fmt.Errorf("unknown deleted weights policy: %q", s)
}

// InsertRoot creates rootName as the single top-level bone, with pelvisName
// and any other top-level bones reparented under it in place.
// It does nothing if rootName exists or pelvisName is missing.
func InsertRoot(m *Model, rootName, pelvisName string) (bool, error) {
	s := m.Skeleton
	if _, ok := s.Lookup(rootName); ok {
		return false, nil
	}
	pelvis, ok := s.Lookup(pelvisName)
	if !ok {
		return false, nil
	}
	roots := s.Roots()
	root, err := s.AddBone(rootName, NoBone, mgl64.Ident4())
	if err != nil {
		return false, err
	}
	if err := s.SetParent(pelvis, root, true); err != nil {
		return false, err
	}
	for _, id := range roots {
		if id == pelvis {
			continue
		}
		if err := s.SetParent(id, root, true); err != nil {
			return false, err
		}
	}
	// keep the root first so exporters emit it before its children
	for i, b := range s.Bones {
		if b.ID == root {
			copy(s.Bones[1:i+1], s.Bones[:i])
			s.Bones[0] = b
			break
		}
	}
	return true, nil
}

// StripExtraBones deletes every bone whose name is not in valid.
//
// Children of each deleted bone are promoted to its parent before anything is
// deleted, so a surviving bone ends up under its nearest surviving ancestor
// with its armature-space transform unchanged. Vertex groups of deleted bones
// are then removed from every mesh; policy decides whether their weight mass
// is discarded or merged into that ancestor.
func StripExtraBones(m *Model, valid map[string]bool, policy DeletedWeights) ([]string, error) {
	s := m.Skeleton
	var toDelete []BoneID
	deleted := map[BoneID]bool{}
	for _, b := range s.Bones {
		if !valid[b.Name] {
			toDelete = append(toDelete, b.ID)
			deleted[b.ID] = true
		}
	}
	if len(toDelete) == 0 {
		return nil, nil
	}

	survivor := map[BoneID]BoneID{}
	for _, id := range toDelete {
		p := s.Bone(id).Parent
		for p != NoBone && deleted[p] {
			p = s.Bone(p).Parent
		}
		survivor[id] = p
	}

	world := s.WorldMatrices()
	for _, id := range toDelete {
		parent := s.Bone(id).Parent
		for _, c := range s.Children(id) {
			if err := s.SetParent(c, parent, true); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(toDelete))
	for _, id := range toDelete {
		names = append(names, s.Bone(id).Name)
		s.removeLeaf(id)
	}

	for _, mesh := range m.Meshes {
		for _, id := range toDelete {
			g := mesh.Group(id)
			if g == nil {
				continue
			}
			if dst := survivor[id]; policy == DeletedWeightsMergeToParent && dst != NoBone {
				if _, ok := mesh.Bind[dst]; !ok && mesh.Group(dst) == nil {
					// skin the merged mass as the deleted bone did
					mesh.Bind[dst] = world[dst].Inv().Mul4(world[id]).Mul4(mesh.BindMatrix(id, world[id]))
				}
				dg := mesh.EnsureGroup(dst)
				for v, w := range g.Weights {
					dg.Weights[v] += w
				}
			}
			mesh.RemoveGroup(id)
		}
		for _, id := range toDelete {
			delete(mesh.Bind, id)
		}
	}
	return names, nil
}
