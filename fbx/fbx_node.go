package fbx

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Node is one record of an FBX document tree.
type Node struct {
	Name       string
	Attributes AttributeList
	Children   []*Node
}

// Attribute is a node value. Scalars are stored as bool, int16, int32, int64,
// float32, float64, string or []byte; arrays as slices of those.
type Attribute struct {
	Value     interface{}
	ArraySize uint
}

type AttributeList []*Attribute

func NewNode(name string, values ...interface{}) *Node {
	n := &Node{Name: name}
	for _, v := range values {
		n.Attributes = append(n.Attributes, &Attribute{Value: v})
	}
	return n
}

func (l AttributeList) Get(i int) *Attribute {
	if i < 0 || i >= len(l) {
		return nil
	}
	return l[i]
}

func (l AttributeList) ToVec3(x, y, z float64) mgl64.Vec3 {
	return mgl64.Vec3{l.Get(0).ToFloat64(x), l.Get(1).ToFloat64(y), l.Get(2).ToFloat64(z)}
}

func (n *Node) FindChild(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) FindChildren(name string) []*Node {
	if n == nil {
		return nil
	}
	var r []*Node
	for _, c := range n.Children {
		if c.Name == name {
			r = append(r, c)
		}
	}
	return r
}

func (n *Node) GetChildren() []*Node {
	if n == nil {
		return nil
	}
	return n.Children
}

func (n *Node) Attr(i int) *Attribute {
	if n == nil {
		return nil
	}
	return n.Attributes.Get(i)
}

func (n *Node) GetString() string {
	return n.Attr(0).ToString()
}

func (n *Node) GetInt() int {
	return int(n.Attr(0).ToInt64(0))
}

func (n *Node) GetFloat64Array() []float64 {
	return n.Attr(0).ToFloat64Array()
}

func (n *Node) GetInt32Array() []int32 {
	return n.Attr(0).ToInt32Array()
}

func (n *Node) GetVec3Array() []mgl64.Vec3 {
	a := n.GetFloat64Array()
	r := make([]mgl64.Vec3, len(a)/3)
	for i := range r {
		r[i] = mgl64.Vec3{a[i*3], a[i*3+1], a[i*3+2]}
	}
	return r
}

func (n *Node) GetVec2Array() []mgl64.Vec2 {
	a := n.GetFloat64Array()
	r := make([]mgl64.Vec2, len(a)/2)
	for i := range r {
		r[i] = mgl64.Vec2{a[i*2], a[i*2+1]}
	}
	return r
}

// GetMatrix reads a 16 element array as a column-major matrix.
func (n *Node) GetMatrix() (mgl64.Mat4, bool) {
	a := n.GetFloat64Array()
	if len(a) != 16 {
		return mgl64.Ident4(), false
	}
	var m mgl64.Mat4
	copy(m[:], a)
	return m, true
}

func (a *Attribute) ToInt64(def int64) int64 {
	if a == nil {
		return def
	}
	switch v := a.Value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case uint8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return def
}

func (a *Attribute) ToFloat64(def float64) float64 {
	if a == nil {
		return def
	}
	switch v := a.Value.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (a *Attribute) ToString() string {
	if a == nil {
		return ""
	}
	switch v := a.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func (a *Attribute) ToInt32Array() []int32 {
	if a == nil {
		return nil
	}
	switch vv := a.Value.(type) {
	case []int32:
		return vv
	case []int64:
		r := make([]int32, len(vv))
		for i, v := range vv {
			r[i] = int32(v)
		}
		return r
	case []float64:
		r := make([]int32, len(vv))
		for i, v := range vv {
			r[i] = int32(v)
		}
		return r
	case []bool:
		r := make([]int32, len(vv))
		for i, v := range vv {
			if v {
				r[i] = 1
			}
		}
		return r
	}
	return nil
}

func (a *Attribute) ToFloat64Array() []float64 {
	if a == nil {
		return nil
	}
	switch vv := a.Value.(type) {
	case []float64:
		return vv
	case []float32:
		r := make([]float64, len(vv))
		for i, v := range vv {
			r[i] = float64(v)
		}
		return r
	case []int32:
		r := make([]float64, len(vv))
		for i, v := range vv {
			r[i] = float64(v)
		}
		return r
	case []int64:
		r := make([]float64, len(vv))
		for i, v := range vv {
			r[i] = float64(v)
		}
		return r
	}
	return nil
}

func (a *Attribute) String() string {
	switch v := a.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case []byte:
		return fmt.Sprintf("\"%v\"", v)
	default:
		return fmt.Sprint(v)
	}
}

// Dump writes the tree in FBX ASCII layout. Long arrays are elided unless full.
func (n *Node) Dump(w io.Writer, d int, full bool) {
	fmt.Fprint(w, strings.Repeat("  ", d), n.Name, ":")
	var arrayReplacer = strings.NewReplacer("[", "{ a:", "]", "}", " ", ",")
	for i, a := range n.Attributes {
		sep := ", "
		if i == 0 {
			sep = " "
		}
		if !full && a.ArraySize > 16 {
			fmt.Fprintf(w, "%s*%d { SKIPPED }", sep, a.ArraySize)
			continue
		}
		s := a.String()
		if a.ArraySize > 0 {
			s = fmt.Sprint("*", a.ArraySize, " ", arrayReplacer.Replace(s))
		}
		fmt.Fprint(w, sep, s)
	}
	if len(n.Children) > 0 || len(n.Attributes) == 0 {
		fmt.Fprintln(w, " {")
		for _, c := range n.Children {
			c.Dump(w, d+1, full)
		}
		fmt.Fprintln(w, strings.Repeat("  ", d)+"}")
	} else {
		fmt.Fprintln(w, "")
	}
}
