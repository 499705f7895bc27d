package fbx

import (
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const binaryMagic = "Kaydara FBX Binary  \x00"

var ErrUnknownFormat = errors.New("unknown fbx format")

type positionReader struct {
	r        io.Reader
	position int64
}

func (r *positionReader) Read(p []byte) (n int, err error) {
	n, err = r.r.Read(p)
	r.position += int64(n)
	return n, err
}

func (r *positionReader) SkipTo(pos int64) error {
	offset := pos - r.position
	if offset < 0 {
		return fmt.Errorf("cannot rewind to %d from %d", pos, r.position)
	}
	if offset == 0 {
		return nil
	}
	if s, ok := r.r.(io.Seeker); ok {
		if _, err := s.Seek(pos, io.SeekStart); err != nil {
			return err
		}
		r.position = pos
		return nil
	}
	_, err := io.CopyN(io.Discard, r, offset)
	return err
}

type binaryParser struct {
	r       *positionReader
	err     error
	version uint32
}

func (p *binaryParser) read(v interface{}) error {
	if p.err == nil {
		p.err = binary.Read(p.r, binary.LittleEndian, v)
	}
	return p.err
}

func (p *binaryParser) readUint8() uint8 {
	var v uint8
	p.read(&v)
	return v
}

func (p *binaryParser) readUint32() uint32 {
	var v uint32
	p.read(&v)
	return v
}

// readOffset reads a node header field: 64-bit since 7.5, 32-bit before.
func (p *binaryParser) readOffset() uint64 {
	if p.version >= 7500 {
		var v uint64
		p.read(&v)
		return v
	}
	return uint64(p.readUint32())
}

func (p *binaryParser) readString(n uint32) string {
	buf := make([]byte, n)
	p.read(buf)
	return string(buf)
}

func (p *binaryParser) readArray(typ uint8) *Attribute {
	count := p.readUint32()
	encoding := p.readUint32()
	size := p.readUint32()
	if p.err != nil {
		return nil
	}
	var buf interface{}
	switch typ {
	case 'b':
		buf = make([]bool, count)
	case 'i':
		buf = make([]int32, count)
	case 'l':
		buf = make([]int64, count)
	case 'f':
		buf = make([]float32, count)
	case 'd':
		buf = make([]float64, count)
	}
	if encoding == 0 {
		p.read(buf)
	} else {
		next := p.r.position + int64(size)
		r, err := zlib.NewReader(io.LimitReader(p.r, int64(size)))
		if err != nil {
			p.err = err
			return nil
		}
		err = binary.Read(r, binary.LittleEndian, buf)
		r.Close()
		if p.err == nil {
			p.err = err
		}
		if p.err == nil {
			p.err = p.r.SkipTo(next)
		}
	}
	return &Attribute{Value: buf, ArraySize: uint(count)}
}

func (p *binaryParser) readAttribute() *Attribute {
	typ := p.readUint8()
	switch typ {
	case 'C':
		return &Attribute{Value: p.readUint8() != 0}
	case 'Y':
		var v int16
		p.read(&v)
		return &Attribute{Value: v}
	case 'I':
		var v int32
		p.read(&v)
		return &Attribute{Value: v}
	case 'L':
		var v int64
		p.read(&v)
		return &Attribute{Value: v}
	case 'F':
		var v float32
		p.read(&v)
		return &Attribute{Value: v}
	case 'D':
		var v float64
		p.read(&v)
		return &Attribute{Value: v}
	case 'S':
		return &Attribute{Value: p.readString(p.readUint32())}
	case 'R':
		buf := make([]byte, p.readUint32())
		p.read(buf)
		return &Attribute{Value: buf}
	case 'b', 'i', 'l', 'f', 'd':
		return p.readArray(typ)
	}
	if p.err == nil {
		p.err = fmt.Errorf("unknown attribute type: %q at %d", typ, p.r.position)
	}
	return nil
}

// readNode returns nil at a null record, which ends a node list.
func (p *binaryParser) readNode() *Node {
	end := p.readOffset()
	nattr := p.readOffset()
	p.readOffset() // attribute list length
	name := p.readString(uint32(p.readUint8()))
	if p.err != nil || end == 0 {
		return nil
	}

	n := &Node{Name: name}
	for i := uint64(0); i < nattr && p.err == nil; i++ {
		if a := p.readAttribute(); a != nil {
			n.Attributes = append(n.Attributes, a)
		}
	}
	for p.r.position < int64(end) && p.err == nil {
		child := p.readNode()
		if child == nil {
			break
		}
		n.Children = append(n.Children, child)
	}
	if p.err == nil {
		p.err = p.r.SkipTo(int64(end))
	}
	return n
}

func (p *binaryParser) Parse() (*Node, error) {
	if p.readString(uint32(len(binaryMagic))) != binaryMagic {
		return nil, ErrUnknownFormat
	}
	p.readString(2)
	p.version = p.readUint32()
	root := &Node{Name: "_FBX_ROOT"}
	root.Attributes = AttributeList{{Value: int32(p.version)}}

	for p.err == nil {
		node := p.readNode()
		if node == nil {
			break
		}
		root.Children = append(root.Children, node)
	}
	if p.err != nil && p.err != io.EOF {
		return nil, p.err
	}
	return root, nil
}
