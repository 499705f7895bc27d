// Package mmd reads MikuMikuDance models (.pmx and .pmd) far enough to
// import their skeleton, skin weights and materials.
package mmd

import (
	"bufio"
	"errors"
	"io"
	"os"
)

var ErrUnsupported = errors.New("unsupported mmd format")

type Vector2 struct {
	X float32
	Y float32
}

type Vector3 struct {
	X float32
	Y float32
	Z float32
}

type Vector4 struct {
	X float32
	Y float32
	Z float32
	W float32
}

type Document struct {
	Header    *Header
	Name      string
	NameEn    string
	Comment   string
	Vertexes  []*Vertex
	Faces     []*Face
	Textures  []string
	Materials []*Material
	Bones     []*Bone
}

type Header struct {
	Format  []byte
	Version float32
	Info    []byte
}

type Vertex struct {
	Pos    Vector3
	Normal Vector3
	UV     Vector2

	Bones       []int
	BoneWeights []float32
}

type Face struct {
	Verts [3]int
}

type Material struct {
	Name      string
	Color     Vector4
	Flags     byte
	TextureID int
	// Count is the number of face indices drawn with this material.
	Count int
}

const (
	MaterialFlagDoubleSided uint8 = 1
)

type Bone struct {
	Name     string
	NameEn   string
	Pos      Vector3 // model space
	ParentID int     // -1: none
	Flags    uint16
}

const (
	BoneFlagTailIndex          uint16 = 1
	BoneFlagEnableIK           uint16 = 32
	BoneFlagInheritRotation    uint16 = 256
	BoneFlagInheritTranslation uint16 = 512
	BoneFlagFixedAxis          uint16 = 1024
	BoneFlagLocalAxis          uint16 = 2048
	BoneFlagExternalParent     uint16 = 8192
)

// pmx header info indices
const (
	AttrStringEncoding int = iota
	AttrExtUV
	AttrVertIndexSz
	AttrTexIndexSz
	AttrMatIndexSz
	AttrBoneIndexSz
	AttrMorphIndexSz
	AttrRBIndexSz
)

// Parse detects the format from the magic bytes.
func Parse(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	switch {
	case string(magic) == "PMX ":
		return NewPMXParser(br).Parse()
	case string(magic[:3]) == "Pmd":
		return NewPMDParser(br).Parse()
	}
	return nil, ErrUnsupported
}

func Load(path string) (*Document, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Parse(r)
}
