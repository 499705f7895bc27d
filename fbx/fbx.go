package fbx

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

func Load(path string) (*Document, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Parse(r)
}

// Parse reads a binary or ASCII FBX document.
func Parse(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	var root *Node
	var err error
	if head, _ := br.Peek(len(binaryMagic)); string(head) == binaryMagic {
		p := binaryParser{r: &positionReader{r: br}}
		root, err = p.Parse()
	} else if head, _ := br.Peek(1); len(head) == 0 || bytes.IndexByte([]byte{';', 'F', '\n', '\r', ' ', '\t'}, head[0]) < 0 {
		return nil, ErrUnknownFormat
	} else {
		root, err = newTextParser(br).Parse()
	}
	if err != nil {
		return nil, err
	}
	return BuildDocument(root)
}

// Dump writes the document tree in ASCII form. Large arrays are elided unless full is set.
func Dump(doc *Document, w io.Writer, full bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "; FBX project file")
	fmt.Fprintln(bw, "; Generator: rignorm")
	for _, n := range doc.RawNode.Children {
		if n.Name != "FileId" {
			n.Dump(bw, 0, full)
		}
	}
	return bw.Flush()
}
