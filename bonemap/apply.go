package bonemap

import (
	"fmt"

	"github.com/binzume/rignorm/rig"
)

const renameTempPrefix = "__rignorm_tmp_"

type Result struct {
	Renamed    map[string]string // source -> canonical
	Unmapped   []string
	Collisions []string // source names left as-is because the target was taken
}

// Apply renames every bone of the skeleton. Vertex groups are keyed by bone
// ID and follow automatically. Two bones never end up with the same name: a
// rename whose target is taken is skipped and reported.
func (m *Mapper) Apply(s *rig.Skeleton) (*Result, error) {
	res := &Result{Renamed: map[string]string{}}
	target := map[rig.BoneID]string{}
	var movers []rig.BoneID
	for _, b := range s.Bones {
		dst, st := m.Map(b.Name)
		switch {
		case st == Unmapped:
			res.Unmapped = append(res.Unmapped, b.Name)
		case dst != b.Name:
			target[b.ID] = dst
			movers = append(movers, b.ID)
		}
	}

	stay := map[rig.BoneID]bool{}
	for {
		claimed := map[string]bool{}
		for _, b := range s.Bones {
			if _, moving := target[b.ID]; !moving || stay[b.ID] {
				claimed[b.Name] = true
			}
		}
		changed := false
		for _, id := range movers {
			if stay[id] {
				continue
			}
			if claimed[target[id]] {
				stay[id] = true
				changed = true
				continue
			}
			claimed[target[id]] = true
		}
		if !changed {
			break
		}
	}

	original := map[rig.BoneID]string{}
	for _, id := range movers {
		original[id] = s.BoneName(id)
		if stay[id] {
			res.Collisions = append(res.Collisions, original[id])
			continue
		}
		if err := s.Rename(id, fmt.Sprintf("%s%d", renameTempPrefix, id)); err != nil {
			return nil, err
		}
	}
	for _, id := range movers {
		if stay[id] {
			continue
		}
		if err := s.Rename(id, target[id]); err != nil {
			return nil, err
		}
		res.Renamed[original[id]] = target[id]
	}
	return res, nil
}
