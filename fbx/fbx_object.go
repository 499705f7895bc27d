package fbx

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Property is one "P" entry of a Properties70 block.
type Property struct {
	AttributeList
	Type  string
	Label string
	Flag  string
}

func (p *Property) Vec3(x, y, z float64) mgl64.Vec3 {
	if p == nil {
		return mgl64.Vec3{x, y, z}
	}
	return p.AttributeList.ToVec3(x, y, z)
}

func (p *Property) Float(def float64) float64 {
	if p == nil {
		return def
	}
	return p.Get(0).ToFloat64(def)
}

func (p *Property) Int(def int64) int64 {
	if p == nil {
		return def
	}
	return p.Get(0).ToInt64(def)
}

func (p *Property) String() string {
	if p == nil {
		return ""
	}
	return p.Get(0).ToString()
}

type Connection struct {
	Type string // OO or OP
	From int64
	To   int64
	Prop string
}

type Object interface {
	GetNode() *Node
	NodeName() string
	ID() int64
	Name() string
	Kind() string
	GetProperty(name string) *Property
	FindRefs(typ string) []Object
	AddRef(o Object)
	AddPropRef(o Object, prop string)
	Parents() []Object
	addParent(o Object)
}

// Obj is the common part of every object under the Objects section.
type Obj struct {
	*Node
	Template   *Obj
	Refs       []Object
	refProps   []string
	parents    []Object
	properties map[string]*Property // lazily built
}

func (o *Obj) GetNode() *Node {
	return o.Node
}

func (o *Obj) NodeName() string {
	return o.Node.Name
}

func (o *Obj) ID() int64 {
	return o.Attr(0).ToInt64(0)
}

// Name returns the object name without its class suffix ("Hips\x00\x01Model" or "Model::Hips").
func (o *Obj) Name() string {
	name := o.Attr(1).ToString()
	if i := strings.Index(name, "\x00\x01"); i >= 0 {
		return name[:i]
	}
	if i := strings.Index(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

func (o *Obj) Kind() string {
	return o.Attr(2).ToString()
}

func (o *Obj) GetProperty(name string) *Property {
	if o == nil || o.Node == nil {
		return nil
	}
	if o.properties == nil {
		o.properties = map[string]*Property{}
		for _, node := range o.FindChild("Properties70").GetChildren() {
			if len(node.Attributes) < 4 {
				continue
			}
			o.properties[node.Attr(0).ToString()] = &Property{
				AttributeList: node.Attributes[4:],
				Type:          node.Attr(1).ToString(),
				Label:         node.Attr(2).ToString(),
				Flag:          node.Attr(3).ToString(),
			}
		}
	}
	if p, ok := o.properties[name]; ok {
		return p
	}
	if o.Template != nil {
		return o.Template.GetProperty(name)
	}
	return nil
}

func (o *Obj) FindRefs(typ string) []Object {
	var refs []Object
	for _, r := range o.Refs {
		if r.NodeName() == typ {
			refs = append(refs, r)
		}
	}
	return refs
}

func (o *Obj) AddRef(ref Object) {
	o.AddPropRef(ref, "")
}

// AddPropRef adds a reference made through an object-property (OP) connection.
func (o *Obj) AddPropRef(ref Object, prop string) {
	o.Refs = append(o.Refs, ref)
	o.refProps = append(o.refProps, prop)
}

// Parents returns the objects this object is connected to.
func (o *Obj) Parents() []Object {
	return o.parents
}

func (o *Obj) addParent(p Object) {
	o.parents = append(o.parents, p)
}
