package fbx

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type tokenType int

const (
	tokIdent tokenType = iota
	tokNumber
	tokString
	tokOperator
	tokBlockStart
	tokBlockEnd
	tokEOL
	tokEOF
)

type textParser struct {
	r    *bufio.Reader
	err  error
	line int
}

func newTextParser(r io.Reader) *textParser {
	return &textParser{r: bufio.NewReader(r), line: 1}
}

func (p *textParser) errorf(f string, a ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf("line %d: %s", p.line, fmt.Sprintf(f, a...))
	}
}

func (p *textParser) read() (byte, bool) {
	if p.err != nil {
		return 0, false
	}
	c, err := p.r.ReadByte()
	if err != nil {
		p.err = err
		return 0, false
	}
	return c, true
}

func (p *textParser) unread() {
	p.r.UnreadByte()
}

func isIdentChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '|'
}

func isNumberChar(c byte) bool {
	return c >= '0' && c <= '9' || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E'
}

func (p *textParser) next() (tokenType, string) {
	for {
		c, ok := p.read()
		if !ok {
			return tokEOF, ""
		}
		switch {
		case c == ';':
			for ok && c != '\n' {
				c, ok = p.read()
			}
			p.line++
			return tokEOL, ""
		case c == '\n':
			p.line++
			return tokEOL, ""
		case c == ' ' || c == '\t' || c == '\r':
			continue
		case c == '{':
			return tokBlockStart, "{"
		case c == '}':
			return tokBlockEnd, "}"
		case c == '*' || c == ':' || c == ',':
			return tokOperator, string(c)
		case c == '"':
			var sb strings.Builder
			for c, ok = p.read(); ok && c != '"'; c, ok = p.read() {
				sb.WriteByte(c)
			}
			return tokString, sb.String()
		case c >= '0' && c <= '9' || c == '.' || c == '-' || c == '+':
			buf := []byte{c}
			for c, ok = p.read(); ok && isNumberChar(c); c, ok = p.read() {
				buf = append(buf, c)
			}
			if ok {
				p.unread()
			}
			return tokNumber, string(buf)
		case isIdentChar(c):
			buf := []byte{c}
			for c, ok = p.read(); ok && isIdentChar(c); c, ok = p.read() {
				buf = append(buf, c)
			}
			if ok {
				p.unread()
			}
			return tokIdent, string(buf)
		default:
			p.errorf("unexpected character %q", c)
			return tokEOF, ""
		}
	}
}

func parseNumber(s string) (*Attribute, error) {
	if strings.ContainsAny(s, ".eE") {
		v, err := strconv.ParseFloat(s, 64)
		return &Attribute{Value: v}, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return &Attribute{Value: v}, err
}

// parseArray reads "*N { a: v, v, ... }".
func (p *textParser) parseArray() *Attribute {
	_, s := p.next()
	size, err := strconv.Atoi(s)
	if err != nil {
		p.errorf("array size: %q", s)
		return nil
	}
	for typ, s := p.next(); s != ":" && p.err == nil; typ, s = p.next() {
		if typ == tokEOF {
			p.errorf("unterminated array")
		}
	}
	values := make([]float64, 0, size)
	isFloat := false
	for p.err == nil {
		typ, s := p.next()
		if typ == tokEOL || typ == tokOperator {
			continue
		} else if typ == tokBlockEnd {
			break
		} else if typ != tokNumber {
			p.errorf("invalid array token: %q", s)
			break
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			p.errorf("number: %q", s)
		}
		values = append(values, v)
		isFloat = isFloat || strings.ContainsAny(s, ".eE")
	}
	if len(values) != size {
		p.errorf("array size: %v != %v", size, len(values))
	}
	if isFloat {
		return &Attribute{Value: values, ArraySize: uint(size)}
	}
	ints := make([]int32, len(values))
	for i, v := range values {
		ints[i] = int32(v)
	}
	return &Attribute{Value: ints, ArraySize: uint(size)}
}

func (p *textParser) parseNodeList() []*Node {
	var nodes []*Node
	for p.err == nil {
		typ, s := p.next()
		if typ == tokEOL {
			continue
		} else if typ == tokEOF || typ == tokBlockEnd {
			break
		} else if typ != tokIdent {
			p.errorf("unexpected token: %q", s)
			break
		}
		if _, op := p.next(); op != ":" {
			p.errorf("expected ':' after %q", s)
			break
		}
		node := &Node{Name: s}
		nodes = append(nodes, node)
		for p.err == nil {
			typ, s := p.next()
			if typ == tokEOL || typ == tokEOF {
				break
			} else if typ == tokBlockStart {
				node.Children = p.parseNodeList()
				break
			}
			switch typ {
			case tokNumber:
				a, err := parseNumber(s)
				if err != nil {
					p.errorf("number: %q", s)
				}
				node.Attributes = append(node.Attributes, a)
			case tokString:
				node.Attributes = append(node.Attributes, &Attribute{Value: s})
			case tokIdent:
				// bare flags such as "T" or "Y"
				node.Attributes = append(node.Attributes, &Attribute{Value: s})
			case tokOperator:
				if s == "*" {
					if a := p.parseArray(); a != nil {
						node.Attributes = append(node.Attributes, a)
					}
				}
			}
		}
	}
	return nodes
}

func (p *textParser) Parse() (*Node, error) {
	root := &Node{Name: "_FBX_ROOT"}
	root.Children = p.parseNodeList()
	if p.err != nil && p.err != io.EOF {
		return nil, p.err
	}
	return root, nil
}
