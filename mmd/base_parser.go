package mmd

import (
	"encoding/binary"
	"io"
)

// baseParser keeps the first read error; later reads become no-ops.
type baseParser struct {
	r   io.Reader
	err error
}

func (p *baseParser) read(v interface{}) error {
	if p.err == nil {
		p.err = binary.Read(p.r, binary.LittleEndian, v)
	}
	return p.err
}

func (p *baseParser) readUint8() uint8 {
	var v uint8
	p.read(&v)
	return v
}

func (p *baseParser) readUint16() uint16 {
	var v uint16
	p.read(&v)
	return v
}

func (p *baseParser) readInt() int {
	var v uint32
	p.read(&v)
	return int(v)
}

func (p *baseParser) readFloat() float32 {
	var v float32
	p.read(&v)
	return v
}

func (p *baseParser) skip(n int) {
	if p.err == nil && n > 0 {
		_, p.err = io.CopyN(io.Discard, p.r, int64(n))
	}
}

// readCount reads an element count and rejects values larger than limit.
func (p *baseParser) readCount(limit int) int {
	n := p.readInt()
	if p.err == nil && (n < 0 || n > limit) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	return n
}

func (p *baseParser) readVUInt(sz byte) int {
	switch sz {
	case 1:
		return int(p.readUint8())
	case 2:
		return int(p.readUint16())
	case 4:
		return p.readInt()
	}
	return 0
}

func (p *baseParser) readVInt(sz byte) int {
	switch sz {
	case 1:
		var v int8
		p.read(&v)
		return int(v)
	case 2:
		var v int16
		p.read(&v)
		return int(v)
	case 4:
		var v int32
		p.read(&v)
		return int(v)
	}
	return 0
}
