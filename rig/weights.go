package rig

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Collapse adds the donor weights of every vertex into the destination group
// and deletes the donor groups. Weights are not renormalized.
// It returns the number of vertices that received weight. A mesh without a
// destination group is left untouched.
func Collapse(mesh *Mesh, dst BoneID, donors []BoneID) int {
	dest := mesh.Group(dst)
	if dest == nil {
		return 0
	}
	added := map[int]float64{}
	for _, d := range donors {
		if d == dst {
			continue
		}
		if g := mesh.Group(d); g != nil {
			for v, w := range g.Weights {
				if w > 0 {
					added[v] += w
				}
			}
		}
	}
	for v, w := range added {
		dest.Weights[v] += w
	}
	for _, d := range donors {
		if d != dst {
			delete(mesh.Groups, d)
		}
	}
	return len(added)
}

// CollapseRule names a destination bone and glob patterns for its donors.
type CollapseRule struct {
	Destination string   `yaml:"destination" toml:"destination" json:"destination"`
	Donors      []string `yaml:"donors" toml:"donors" json:"donors"`
}

type CollapseResult struct {
	Destination string
	Donors      []string
	Vertices    int
	Skipped     bool
}

// MatchBones returns the bones whose names match any of the patterns, in bone order.
func MatchBones(s *Skeleton, patterns []string) ([]BoneID, error) {
	var r []BoneID
	for _, b := range s.Bones {
		for _, p := range patterns {
			ok, err := doublestar.Match(p, b.Name)
			if err != nil {
				return nil, fmt.Errorf("donor pattern %q: %w", p, err)
			}
			if ok {
				r = append(r, b.ID)
				break
			}
		}
	}
	return r, nil
}

// CollapseByRule applies a rule to every skinned mesh of the model.
func CollapseByRule(m *Model, rule CollapseRule) (*CollapseResult, error) {
	res := &CollapseResult{Destination: rule.Destination}
	dst, ok := m.Skeleton.Lookup(rule.Destination)
	if !ok {
		res.Skipped = true
		return res, nil
	}
	matched, err := MatchBones(m.Skeleton, rule.Donors)
	if err != nil {
		return nil, err
	}
	var donors []BoneID
	for _, id := range matched {
		if id != dst {
			donors = append(donors, id)
			res.Donors = append(res.Donors, m.Skeleton.BoneName(id))
		}
	}
	hasDest := false
	for _, mesh := range m.SkinnedMeshes() {
		if mesh.Group(dst) != nil {
			hasDest = true
		}
		res.Vertices += Collapse(mesh, dst, donors)
	}
	res.Skipped = !hasDest
	return res, nil
}
