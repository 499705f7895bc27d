// Package bonemap canonicalizes source bone names to the mannequin naming
// convention (pelvis, spine_01, thumb_01_l, ...).
package bonemap

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Status int

const (
	Unmapped Status = iota
	Mapped
	Canonical
)

func (s Status) String() string {
	switch s {
	case Mapped:
		return "mapped"
	case Canonical:
		return "canonical"
	}
	return "unmapped"
}

// LeafStyle selects the index used in the name of the fourth finger joint.
type LeafStyle string

const (
	LeafAuto LeafStyle = "auto"
	Leaf04   LeafStyle = "04"
	Leaf03   LeafStyle = "03"
)

func ParseLeafStyle(s string) (LeafStyle, error) {
	switch LeafStyle(s) {
	case "", LeafAuto:
		return LeafAuto, nil
	case Leaf04, Leaf03:
		return LeafStyle(s), nil
	}
	return "", fmt.Errorf("unknown leaf style: %q", s)
}

var coreBones = map[string]string{
	"Hips":   "pelvis",
	"Spine":  "spine_01",
	"Spine1": "spine_02",
	"Spine2": "spine_03",
	"Neck":   "neck_01",
	"Head":   "Head",
}

var sidedBones = map[string]string{
	"Shoulder": "clavicle",
	"Arm":      "upperarm",
	"ForeArm":  "lowerarm",
	"Hand":     "hand",
	"UpLeg":    "thigh",
	"Leg":      "calf",
	"Foot":     "foot",
	"ToeBase":  "ball",
	"Toe_End":  "ball_leaf",
}

// Fingers maps source finger prefixes to canonical finger names, thumb first.
var Fingers = []struct{ Source, Canonical string }{
	{"HandThumb", "thumb"},
	{"HandIndex", "index"},
	{"HandMiddle", "middle"},
	{"HandRing", "ring"},
	{"HandPinky", "pinky"},
}

// Sides maps source side suffixes to canonical ones.
var Sides = []struct{ Source, Canonical string }{
	{".L", "_l"},
	{".R", "_r"},
}

// FingerJoints is the number of joints per finger, the last being the leaf.
const FingerJoints = 4

// FingerBoneName returns the canonical name of a finger joint (1-based).
func FingerBoneName(finger string, joint int, side string, leaf LeafStyle) string {
	if joint < FingerJoints {
		return fmt.Sprintf("%s_%02d%s", finger, joint, side)
	}
	idx := string(leaf)
	if leaf == LeafAuto || idx == "" {
		idx = string(Leaf04)
	}
	return fmt.Sprintf("%s_%s_leaf%s", finger, idx, side)
}

// FingerBoneNames returns all canonical finger joint names.
func FingerBoneNames(leaf LeafStyle) []string {
	var r []string
	for _, f := range Fingers {
		for _, s := range Sides {
			for j := 1; j <= FingerJoints; j++ {
				r = append(r, FingerBoneName(f.Canonical, j, s.Canonical, leaf))
			}
		}
	}
	return r
}

// DetectLeafStyle returns the leaf style used by a set of reference names,
// or LeafAuto if none is present.
func DetectLeafStyle(names map[string]bool) LeafStyle {
	for _, f := range Fingers {
		for _, s := range Sides {
			if names[FingerBoneName(f.Canonical, FingerJoints, s.Canonical, Leaf04)] {
				return Leaf04
			}
			if names[FingerBoneName(f.Canonical, FingerJoints, s.Canonical, Leaf03)] {
				return Leaf03
			}
		}
	}
	return LeafAuto
}

type Options struct {
	Leaf LeafStyle
	// Extra entries override the built-in table.
	Extra map[string]string
	// StripPrefixes are removed from source names before lookup (e.g. "mixamorig:").
	StripPrefixes []string
	// Reference names are canonical as-is and drive LeafAuto.
	Reference map[string]bool
}

// Mapper is a pure name mapping. It is safe for concurrent use after New.
type Mapper struct {
	table     map[string]string
	canonical map[string]bool
	prefixes  []string
	leaf      LeafStyle
}

func New(opts *Options) *Mapper {
	if opts == nil {
		opts = &Options{}
	}
	leaf := opts.Leaf
	if leaf == "" || leaf == LeafAuto {
		leaf = DetectLeafStyle(opts.Reference)
		if leaf == LeafAuto {
			leaf = Leaf04
		}
	}
	other := Leaf03
	if leaf == Leaf03 {
		other = Leaf04
	}

	m := &Mapper{
		table:     map[string]string{},
		canonical: map[string]bool{},
		prefixes:  opts.StripPrefixes,
		leaf:      leaf,
	}
	for src, dst := range coreBones {
		m.table[src] = dst
	}
	for _, s := range Sides {
		for src, dst := range sidedBones {
			m.table[src+s.Source] = dst + s.Canonical
		}
		for _, f := range Fingers {
			for j := 1; j <= FingerJoints; j++ {
				m.table[fmt.Sprintf("%s%d%s", f.Source, j, s.Source)] = FingerBoneName(f.Canonical, j, s.Canonical, leaf)
			}
			// names written with the other leaf index by older tables
			legacy := FingerBoneName(f.Canonical, FingerJoints, s.Canonical, other)
			if !opts.Reference[legacy] {
				m.table[legacy] = FingerBoneName(f.Canonical, FingerJoints, s.Canonical, leaf)
			}
		}
	}
	for src, dst := range opts.Extra {
		m.table[norm.NFC.String(src)] = dst
	}
	for src, dst := range m.table {
		// follow chains like a -> b -> c so every target is final
		for i := 0; i < len(m.table); i++ {
			next, ok := m.table[dst]
			if !ok || next == dst || next == src {
				break
			}
			dst = next
		}
		m.table[src] = dst
	}
	for _, dst := range m.table {
		m.canonical[dst] = true
	}
	for name := range opts.Reference {
		m.canonical[name] = true
	}
	for src := range m.table {
		// a table key that is also a target must not be remapped again
		if m.canonical[src] && m.table[src] != src {
			delete(m.canonical, src)
		}
	}
	return m
}

func (m *Mapper) Leaf() LeafStyle {
	return m.leaf
}

// Map returns the canonical name for a source name. Canonical names are
// returned unchanged; unknown names are returned unchanged as Unmapped.
func (m *Mapper) Map(name string) (string, Status) {
	n := norm.NFC.String(name)
	for _, p := range m.prefixes {
		n = strings.TrimPrefix(n, p)
	}
	if m.canonical[n] {
		if n == name {
			return name, Canonical
		}
		return n, Mapped
	}
	if dst, ok := m.table[n]; ok {
		return dst, Mapped
	}
	return name, Unmapped
}
