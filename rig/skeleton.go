package rig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	deepcopy "github.com/tiendc/go-deepcopy"
)

type BoneID int

// NoBone is the parent of a top-level bone.
const NoBone BoneID = -1

var (
	ErrDuplicateBone = errors.New("duplicate bone name")
	ErrUnknownBone   = errors.New("unknown bone")
	ErrCycle         = errors.New("bone hierarchy cycle")
)

// Bone is a node of a Skeleton. Rest is the local rest transform in parent space.
type Bone struct {
	ID     BoneID
	Name   string
	Parent BoneID
	Rest   mgl64.Mat4
}

// Skeleton owns its bones. IDs are stable and never reused; names are unique.
//
// World (armature-space) matrices are memoized and only refreshed by
// ResolveWorld. Mutations mark the cache stale without recomputing it.
type Skeleton struct {
	Name  string
	Bones []*Bone

	byID   map[BoneID]*Bone
	byName map[string]BoneID
	nextID BoneID

	world map[BoneID]mgl64.Mat4
	stale bool
}

func NewSkeleton(name string) *Skeleton {
	return &Skeleton{
		Name:   name,
		byID:   map[BoneID]*Bone{},
		byName: map[string]BoneID{},
		world:  map[BoneID]mgl64.Mat4{},
	}
}

func (s *Skeleton) reindex() {
	s.byID = make(map[BoneID]*Bone, len(s.Bones))
	s.byName = make(map[string]BoneID, len(s.Bones))
	s.nextID = 0
	for _, b := range s.Bones {
		s.byID[b.ID] = b
		s.byName[b.Name] = b.ID
		if b.ID >= s.nextID {
			s.nextID = b.ID + 1
		}
	}
	s.stale = true
}

// AddBone appends a bone. parent may be NoBone.
func (s *Skeleton) AddBone(name string, parent BoneID, rest mgl64.Mat4) (BoneID, error) {
	if _, exists := s.byName[name]; exists {
		return NoBone, fmt.Errorf("%w: %q", ErrDuplicateBone, name)
	}
	if parent != NoBone && s.byID[parent] == nil {
		return NoBone, fmt.Errorf("%w: parent %d of %q", ErrUnknownBone, parent, name)
	}
	b := &Bone{ID: s.nextID, Name: name, Parent: parent, Rest: rest}
	s.nextID++
	s.Bones = append(s.Bones, b)
	s.byID[b.ID] = b
	s.byName[name] = b.ID
	s.stale = true
	return b.ID, nil
}

func (s *Skeleton) Len() int {
	return len(s.Bones)
}

func (s *Skeleton) Bone(id BoneID) *Bone {
	return s.byID[id]
}

// Lookup resolves a bone name to its ID.
func (s *Skeleton) Lookup(name string) (BoneID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

func (s *Skeleton) BoneByName(name string) *Bone {
	if id, ok := s.byName[name]; ok {
		return s.byID[id]
	}
	return nil
}

func (s *Skeleton) BoneName(id BoneID) string {
	if b := s.byID[id]; b != nil {
		return b.Name
	}
	return ""
}

// Names returns all bone names in bone order.
func (s *Skeleton) Names() []string {
	names := make([]string, len(s.Bones))
	for i, b := range s.Bones {
		names[i] = b.Name
	}
	return names
}

func (s *Skeleton) NameSet() map[string]bool {
	set := make(map[string]bool, len(s.Bones))
	for _, b := range s.Bones {
		set[b.Name] = true
	}
	return set
}

// Children returns the direct children of id in bone order.
func (s *Skeleton) Children(id BoneID) []BoneID {
	var r []BoneID
	for _, b := range s.Bones {
		if b.Parent == id {
			r = append(r, b.ID)
		}
	}
	return r
}

func (s *Skeleton) Roots() []BoneID {
	return s.Children(NoBone)
}

func (s *Skeleton) childMap() map[BoneID][]BoneID {
	m := make(map[BoneID][]BoneID, len(s.Bones))
	for _, b := range s.Bones {
		m[b.Parent] = append(m[b.Parent], b.ID)
	}
	return m
}

// Depth is the parent-chain length to a top-level bone, or -1 on a cycle.
func (s *Skeleton) Depth(id BoneID) int {
	d := 0
	for b := s.byID[id]; b != nil && b.Parent != NoBone; b = s.byID[b.Parent] {
		d++
		if d > len(s.Bones) {
			return -1
		}
	}
	return d
}

// Levels partitions bones by depth. Levels()[0] are the top-level bones.
func (s *Skeleton) Levels() [][]BoneID {
	children := s.childMap()
	var levels [][]BoneID
	level := children[NoBone]
	for len(level) > 0 {
		levels = append(levels, level)
		var next []BoneID
		for _, id := range level {
			next = append(next, children[id]...)
		}
		level = next
	}
	return levels
}

// Rename changes a bone name. The ID, and everything keyed by it, is unchanged.
func (s *Skeleton) Rename(id BoneID, name string) error {
	b := s.byID[id]
	if b == nil {
		return fmt.Errorf("%w: %d", ErrUnknownBone, id)
	}
	if b.Name == name {
		return nil
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBone, name)
	}
	delete(s.byName, b.Name)
	b.Name = name
	s.byName[name] = id
	return nil
}

func (s *Skeleton) SetRest(id BoneID, rest mgl64.Mat4) {
	if b := s.byID[id]; b != nil {
		b.Rest = rest
		s.stale = true
	}
}

// SetParent moves a bone under a new parent. With keepWorld the local rest
// transform is recomputed so the bone stays where it is in armature space.
func (s *Skeleton) SetParent(id, parent BoneID, keepWorld bool) error {
	b := s.byID[id]
	if b == nil {
		return fmt.Errorf("%w: %d", ErrUnknownBone, id)
	}
	if parent != NoBone {
		if s.byID[parent] == nil {
			return fmt.Errorf("%w: %d", ErrUnknownBone, parent)
		}
		for p := parent; p != NoBone; p = s.byID[p].Parent {
			if p == id {
				return fmt.Errorf("%w: %q under %q", ErrCycle, b.Name, s.byID[parent].Name)
			}
		}
	}
	if keepWorld {
		s.resolveIfStale()
		w := s.world[id]
		if parent == NoBone {
			b.Rest = w
		} else {
			b.Rest = s.world[parent].Inv().Mul4(w)
		}
	}
	b.Parent = parent
	s.stale = true
	return nil
}

func (s *Skeleton) removeLeaf(id BoneID) {
	b := s.byID[id]
	for i, bb := range s.Bones {
		if bb.ID == id {
			s.Bones = append(s.Bones[:i], s.Bones[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
	delete(s.byName, b.Name)
	delete(s.world, id)
	s.stale = true
}

// ResolveWorld recomputes every armature-space matrix, parents before children.
func (s *Skeleton) ResolveWorld() {
	children := s.childMap()
	world := make(map[BoneID]mgl64.Mat4, len(s.Bones))
	var walk func(id BoneID, parent mgl64.Mat4)
	walk = func(id BoneID, parent mgl64.Mat4) {
		w := parent.Mul4(s.byID[id].Rest)
		world[id] = w
		for _, c := range children[id] {
			walk(c, w)
		}
	}
	for _, r := range children[NoBone] {
		walk(r, mgl64.Ident4())
	}
	s.world = world
	s.stale = false
}

func (s *Skeleton) resolveIfStale() {
	if s.stale || len(s.world) != len(s.Bones) {
		s.ResolveWorld()
	}
}

// Stale reports whether rest transforms changed since the last ResolveWorld.
func (s *Skeleton) Stale() bool {
	return s.stale
}

// World returns the memoized armature-space matrix as of the last ResolveWorld.
func (s *Skeleton) World(id BoneID) mgl64.Mat4 {
	if w, ok := s.world[id]; ok {
		return w
	}
	return mgl64.Ident4()
}

// WorldMatrices resolves the cache if needed and returns a copy of it.
func (s *Skeleton) WorldMatrices() map[BoneID]mgl64.Mat4 {
	s.resolveIfStale()
	r := make(map[BoneID]mgl64.Mat4, len(s.world))
	for id, w := range s.world {
		r[id] = w
	}
	return r
}

// WalkLevels visits bones in increasing depth. The world cache is resolved
// before the first level and again after every level, so fn always sees
// final ancestor transforms.
func (s *Skeleton) WalkLevels(fn func(depth int, ids []BoneID) error) error {
	s.ResolveWorld()
	for depth, ids := range s.Levels() {
		if err := fn(depth, ids); err != nil {
			return err
		}
		s.ResolveWorld()
	}
	return nil
}

// Validate checks that the hierarchy is acyclic and names are unique.
func (s *Skeleton) Validate() error {
	seen := map[string]bool{}
	for _, b := range s.Bones {
		if seen[b.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateBone, b.Name)
		}
		seen[b.Name] = true
		if b.Parent != NoBone && s.byID[b.Parent] == nil {
			return fmt.Errorf("%w: parent %d of %q", ErrUnknownBone, b.Parent, b.Name)
		}
		if s.Depth(b.ID) < 0 {
			return fmt.Errorf("%w: %q", ErrCycle, b.Name)
		}
	}
	return nil
}

// SortedNames returns bone names sorted lexically.
func (s *Skeleton) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

func (s *Skeleton) Clone() (*Skeleton, error) {
	dst := &Skeleton{Name: s.Name}
	if err := deepcopy.Copy(&dst.Bones, s.Bones); err != nil {
		return nil, err
	}
	dst.reindex()
	if s.nextID > dst.nextID {
		dst.nextID = s.nextID
	}
	return dst, nil
}
