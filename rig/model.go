package rig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	deepcopy "github.com/tiendc/go-deepcopy"
)

var (
	ErrNoSkeleton      = errors.New("no skeletal root")
	ErrNoReferenceRoot = errors.New("no reference root")
)

type Texture struct {
	Name     string
	MimeType string
	Data     []byte
}

type Material struct {
	Name        string
	BaseColor   mgl64.Vec4
	Metallic    float64
	Roughness   float64
	Emissive    mgl64.Vec3
	DoubleSided bool
	Blend       bool
	Texture     *Texture
}

func NewMaterial(name string) *Material {
	return &Material{Name: name, BaseColor: mgl64.Vec4{1, 1, 1, 1}, Roughness: 1}
}

// Model is one imported asset: a skeleton and the meshes skinned to it.
type Model struct {
	Name      string
	Skeleton  *Skeleton
	Meshes    []*Mesh
	Materials []*Material

	// Armature is the world transform of the space the skeleton lives in.
	Armature mgl64.Mat4
}

func NewModel(name string) *Model {
	return &Model{Name: name, Skeleton: NewSkeleton(name), Armature: mgl64.Ident4()}
}

func (m *Model) SkinnedMeshes() []*Mesh {
	var r []*Mesh
	for _, mesh := range m.Meshes {
		if mesh.Skinned {
			r = append(r, mesh)
		}
	}
	return r
}

// CheckSkeleton returns ErrNoSkeleton when the model has no bones.
func (m *Model) CheckSkeleton() error {
	if m.Skeleton == nil || m.Skeleton.Len() == 0 {
		return fmt.Errorf("%w in %q", ErrNoSkeleton, m.Name)
	}
	return m.Skeleton.Validate()
}

func (m *Model) Clone() (*Model, error) {
	dst := &Model{Name: m.Name, Armature: m.Armature}
	if m.Skeleton != nil {
		s, err := m.Skeleton.Clone()
		if err != nil {
			return nil, err
		}
		dst.Skeleton = s
	}
	if err := deepcopy.Copy(&dst.Meshes, m.Meshes); err != nil {
		return nil, err
	}
	if err := deepcopy.Copy(&dst.Materials, m.Materials); err != nil {
		return nil, err
	}
	return dst, nil
}

// Scene holds the models loaded for one asset run. Reset drops all of them,
// so nothing from one batch item leaks into the next.
type Scene struct {
	Models []*Model
}

func (s *Scene) Add(m *Model) *Model {
	s.Models = append(s.Models, m)
	return m
}

func (s *Scene) Reset() {
	for i := range s.Models {
		s.Models[i] = nil
	}
	s.Models = s.Models[:0]
}

// ReferenceRestState is an immutable snapshot of a canonical skeleton:
// armature-space rest matrices by bone name.
type ReferenceRestState struct {
	Name    string
	rest    map[string]mgl64.Mat4
	parents map[string]string
	names   []string
}

// NewReferenceRestState extracts the rest state of a reference model.
// Its meshes are not retained.
func NewReferenceRestState(m *Model) (*ReferenceRestState, error) {
	if m.Skeleton == nil || m.Skeleton.Len() == 0 {
		return nil, fmt.Errorf("%w in %q", ErrNoReferenceRoot, m.Name)
	}
	if err := m.Skeleton.Validate(); err != nil {
		return nil, err
	}
	s := m.Skeleton
	world := s.WorldMatrices()
	ref := &ReferenceRestState{
		Name:    m.Name,
		rest:    make(map[string]mgl64.Mat4, s.Len()),
		parents: make(map[string]string, s.Len()),
	}
	for _, b := range s.Bones {
		ref.rest[b.Name] = world[b.ID]
		ref.parents[b.Name] = s.BoneName(b.Parent)
		ref.names = append(ref.names, b.Name)
	}
	sort.Strings(ref.names)
	return ref, nil
}

// Rest returns the armature-space rest matrix of a reference bone.
func (r *ReferenceRestState) Rest(name string) (mgl64.Mat4, bool) {
	m, ok := r.rest[name]
	return m, ok
}

// Parent returns the reference parent name, "" for a top-level bone.
func (r *ReferenceRestState) Parent(name string) string {
	return r.parents[name]
}

// Names returns the valid bone names, sorted.
func (r *ReferenceRestState) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *ReferenceRestState) NameSet() map[string]bool {
	set := make(map[string]bool, len(r.names))
	for _, n := range r.names {
		set[n] = true
	}
	return set
}

func (r *ReferenceRestState) Len() int {
	return len(r.names)
}
