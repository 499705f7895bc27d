package mmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// PMDParser is parser for .pmd model.
type PMDParser struct {
	baseParser
}

// NewPMDParser returns new parser.
func NewPMDParser(r io.Reader) *PMDParser {
	return &PMDParser{baseParser: baseParser{r: r}}
}

// readString reads a fixed size, NUL padded Shift_JIS string.
func (p *PMDParser) readString(n int) string {
	b := make([]byte, n)
	p.read(b)
	s, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), bytes.SplitN(b, []byte{0}, 2)[0])
	if err != nil {
		return ""
	}
	return string(s)
}

func (p *PMDParser) readVertex() *Vertex {
	var v Vertex
	p.read(&v.Pos)
	p.read(&v.Normal)
	p.read(&v.UV)
	v.Bones = []int{int(p.readUint16()), int(p.readUint16())}
	w := float32(p.readUint8()) / 100
	v.BoneWeights = []float32{w, 1 - w}
	p.readUint8() // edge flag
	return &v
}

func (p *PMDParser) readMaterial(doc *Document, i int) *Material {
	m := Material{Name: fmt.Sprintf("mat%d", i+1), TextureID: -1}
	p.read(&m.Color)
	p.skip(4 + 4*3 + 4*3) // specularity, specular, ambient
	p.readUint8()         // toon
	p.readUint8()         // edge
	m.Count = p.readInt()

	tex := strings.SplitN(p.readString(20), "*", 2)
	if tex[0] != "" {
		m.TextureID = len(doc.Textures)
		doc.Textures = append(doc.Textures, tex[0])
	}
	if m.Color.W < 1 {
		m.Flags = MaterialFlagDoubleSided
	}
	return &m
}

func (p *PMDParser) readBone() *Bone {
	var b Bone
	b.Name = p.readString(20)
	b.ParentID = int(p.readUint16())
	if b.ParentID == 0xffff {
		b.ParentID = -1
	}
	p.readUint16() // tail
	p.readUint8()  // type
	p.readUint16() // ik parent
	p.read(&b.Pos)
	return &b
}

// Parse reads everything up to and including the bones.
func (p *PMDParser) Parse() (*Document, error) {
	var doc Document
	h := &Header{Format: make([]byte, 3)}
	p.read(h.Format)
	if string(h.Format) != "Pmd" {
		return nil, ErrUnsupported
	}
	p.read(&h.Version)
	doc.Header = h
	doc.Name = p.readString(20)
	doc.Comment = p.readString(256)

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
			f.Verts[j] = int(p.readUint16())
		}
		doc.Faces = append(doc.Faces, &f)
	}

	n = p.readCount(maxElements)
	for i := 0; i < n && p.err == nil; i++ {
		doc.Materials = append(doc.Materials, p.readMaterial(&doc, i))
	}

	n = int(p.readUint16())
	for i := 0; i < n && p.err == nil; i++ {
		doc.Bones = append(doc.Bones, p.readBone())
	}
	if p.err != nil {
		return nil, fmt.Errorf("pmd: %w", p.err)
	}
	return &doc, nil
}
