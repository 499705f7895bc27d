package mmd

import (
	"fmt"
	"io"
	"unicode/utf16"
)

// see also:
// https://gist.github.com/felixjones/f8a06bd48f9da9a4539f

const maxElements = 1 << 24

type PMXParser struct {
	baseParser
	header *Header
}

func NewPMXParser(r io.Reader) *PMXParser {
	return &PMXParser{baseParser: baseParser{r: r}}
}

func (p *PMXParser) readIndex(attr int) int {
	return p.readVInt(p.header.Info[attr])
}

func (p *PMXParser) readUIndex(attr int) int {
	return p.readVUInt(p.header.Info[attr])
}

func (p *PMXParser) readText() string {
	n := p.readCount(maxElements)
	if p.header.Info[AttrStringEncoding] == 0 {
		data := make([]uint16, n/2)
		p.read(data)
		return string(utf16.Decode(data))
	}
	data := make([]byte, n)
	p.read(data)
	return string(data)
}

func (p *PMXParser) readHeader() error {
	h := &Header{Format: make([]byte, 4)}
	p.read(h.Format)
	if string(h.Format) != "PMX " {
		return ErrUnsupported
	}
	p.read(&h.Version)
	h.Info = make([]byte, p.readUint8())
	p.read(h.Info)
	if p.err != nil {
		return p.err
	}
	if len(h.Info) <= AttrRBIndexSz {
		return fmt.Errorf("%w: short pmx header", ErrUnsupported)
	}
	p.header = h
	return nil
}

func (p *PMXParser) readVertex() *Vertex {
	var v Vertex
	p.read(&v.Pos)
	p.read(&v.Normal)
	p.read(&v.UV)
	p.skip(16 * int(p.header.Info[AttrExtUV]))
	switch t := p.readUint8(); t {
	case 0: // BDEF1
		v.Bones = []int{p.readIndex(AttrBoneIndexSz)}
		v.BoneWeights = []float32{1}
	case 1, 3: // BDEF2, SDEF
		v.Bones = []int{p.readIndex(AttrBoneIndexSz), p.readIndex(AttrBoneIndexSz)}
		w := p.readFloat()
		v.BoneWeights = []float32{w, 1 - w}
		if t == 3 {
			p.skip(4 * 3 * 3)
		}
	case 2, 4: // BDEF4, QDEF
		v.Bones = make([]int, 4)
		v.BoneWeights = make([]float32, 4)
		for i := range v.Bones {
			v.Bones[i] = p.readIndex(AttrBoneIndexSz)
		}
		for i := range v.BoneWeights {
			v.BoneWeights[i] = p.readFloat()
		}
	default:
		if p.err == nil {
			p.err = fmt.Errorf("unknown weight type %d", t)
		}
	}
	p.readFloat() // edge scale
	return &v
}

func (p *PMXParser) readMaterial() *Material {
	var m Material
	m.Name = p.readText()
	p.readText()
	p.read(&m.Color)
	p.skip(4*3 + 4 + 4*3) // specular, specularity, ambient
	p.read(&m.Flags)
	p.skip(4*4 + 4) // edge color, edge size
	m.TextureID = p.readIndex(AttrTexIndexSz)
	p.readIndex(AttrTexIndexSz) // sphere
	p.readUint8()
	if p.readUint8() == 0 {
		p.readIndex(AttrTexIndexSz)
	} else {
		p.readUint8()
	}
	p.readText()
	m.Count = p.readInt()
	return &m
}

func (p *PMXParser) readBone() *Bone {
	var b Bone
	b.Name = p.readText()
	b.NameEn = p.readText()
	p.read(&b.Pos)
	b.ParentID = p.readIndex(AttrBoneIndexSz)
	p.readInt() // layer
	p.read(&b.Flags)

	if b.Flags&BoneFlagTailIndex != 0 {
		p.readIndex(AttrBoneIndexSz)
	} else {
		p.skip(4 * 3)
	}
	if b.Flags&(BoneFlagInheritRotation|BoneFlagInheritTranslation) != 0 {
		p.readIndex(AttrBoneIndexSz)
		p.readFloat()
	}
	if b.Flags&BoneFlagFixedAxis != 0 {
		p.skip(4 * 3)
	}
	if b.Flags&BoneFlagLocalAxis != 0 {
		p.skip(4 * 3 * 2)
	}
	if b.Flags&BoneFlagExternalParent != 0 {
		p.readInt()
	}
	if b.Flags&BoneFlagEnableIK != 0 {
		p.readIndex(AttrBoneIndexSz)
		p.readInt()
		p.readFloat()
		links := p.readCount(maxElements)
		for i := 0; i < links && p.err == nil; i++ {
			p.readIndex(AttrBoneIndexSz)
			if p.readUint8() != 0 {
				p.skip(4 * 3 * 2)
			}
		}
	}
	return &b
}

// Parse reads everything up to and including the bones. Morphs, display
// frames and rigid bodies are not read.
func (p *PMXParser) Parse() (*Document, error) {
	var doc Document
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	doc.Header = p.header
	doc.Name = p.readText()
	doc.NameEn = p.readText()
	doc.Comment = p.readText()
	p.readText()

	n := p.readCount(maxElements)
	doc.Vertexes = make([]*Vertex, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		doc.Vertexes = append(doc.Vertexes, p.readVertex())
	}

	n = p.readCount(maxElements) / 3
	doc.Faces = make([]*Face, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		var f Face
		for j := range f.Verts {
			f.Verts[j] = p.readUIndex(AttrVertIndexSz)
		}
		doc.Faces = append(doc.Faces, &f)
	}

	n = p.readCount(maxElements)
	for i := 0; i < n && p.err == nil; i++ {
		doc.Textures = append(doc.Textures, p.readText())
	}

	n = p.readCount(maxElements)
	for i := 0; i < n && p.err == nil; i++ {
		doc.Materials = append(doc.Materials, p.readMaterial())
	}

	n = p.readCount(maxElements)
	for i := 0; i < n && p.err == nil; i++ {
		doc.Bones = append(doc.Bones, p.readBone())
	}
	if p.err != nil {
		return nil, fmt.Errorf("pmx: %w", p.err)
	}
	return &doc, nil
}
