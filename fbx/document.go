package fbx

import "github.com/go-gl/mathgl/mgl64"

type Document struct {
	RawNode        *Node
	Version        int
	Creator        string
	GlobalSettings *Obj
	Scene          *Obj
	Objects        map[int64]Object
	Connections    []*Connection

	Models     []*Model
	Geometries []*Geometry
	Materials  []*Material
	Poses      []*Pose
}

func parseConnection(node *Node) *Connection {
	c := &Connection{
		Type: node.Attr(0).ToString(),
		From: node.Attr(1).ToInt64(0),
		To:   node.Attr(2).ToInt64(0),
	}
	if c.Type == "OP" {
		c.Prop = node.Attr(3).ToString()
	}
	return c
}

func BuildDocument(root *Node) (*Document, error) {
	doc := &Document{RawNode: root, Scene: &Obj{Node: NewNode("Model", int64(0), "RootNode", "")}}
	doc.Version = int(root.Attr(0).ToInt64(0))
	if v := root.FindChild("FBXHeaderExtension").FindChild("FBXVersion"); v != nil {
		doc.Version = v.GetInt()
	}
	doc.Creator = root.FindChild("Creator").GetString()
	doc.Objects = map[int64]Object{0: doc.Scene}

	templates := map[string]*Obj{}
	for _, node := range root.FindChild("Definitions").FindChildren("ObjectType") {
		if t := node.FindChild("PropertyTemplate"); t != nil {
			templates[node.GetString()] = &Obj{Node: t}
		}
	}
	doc.GlobalSettings = &Obj{Node: root.FindChild("GlobalSettings"), Template: templates["GlobalSettings"]}

	for _, node := range root.FindChild("Objects").GetChildren() {
		base := &Obj{Node: node, Template: templates[node.Name]}
		var obj Object = base
		switch node.Name {
		case "Model":
			m := &Model{Obj: *base}
			doc.Models = append(doc.Models, m)
			obj = m
		case "Geometry":
			g := parseGeometry(base)
			doc.Geometries = append(doc.Geometries, g)
			obj = g
		case "Material":
			m := &Material{Obj: *base}
			doc.Materials = append(doc.Materials, m)
			obj = m
		case "Texture":
			obj = &Texture{Obj: *base}
		case "Deformer":
			switch base.Kind() {
			case "Skin":
				obj = &Skin{Obj: *base}
			case "Cluster":
				obj = &Cluster{Obj: *base}
			}
		case "Pose":
			p := &Pose{Obj: *base}
			doc.Poses = append(doc.Poses, p)
			obj = p
		}
		doc.Objects[obj.ID()] = obj
	}

	for _, node := range root.FindChild("Connections").FindChildren("C") {
		c := parseConnection(node)
		if c.Type != "OO" && c.Type != "OP" {
			continue
		}
		doc.Connections = append(doc.Connections, c)
		from, to := doc.Objects[c.From], doc.Objects[c.To]
		if from == nil || to == nil {
			continue
		}
		to.AddPropRef(from, c.Prop)
		from.addParent(to)
		if child, ok := from.(*Model); ok {
			if parent, ok := to.(*Model); ok {
				child.Parent = parent
			}
		}
	}
	return doc, nil
}

// UnitScaleFactor is the size of one file unit in centimeters.
func (doc *Document) UnitScaleFactor() float64 {
	return doc.GlobalSettings.GetProperty("UnitScaleFactor").Float(1)
}

// AxisMatrix converts file axes to Y-up right-handed axes.
func (doc *Document) AxisMatrix() mgl64.Mat4 {
	gs := doc.GlobalSettings
	up := gs.GetProperty("UpAxis").Int(1)
	upSign := float64(gs.GetProperty("UpAxisSign").Int(1))
	front := gs.GetProperty("FrontAxis").Int(2)
	frontSign := float64(gs.GetProperty("FrontAxisSign").Int(1))
	coord := gs.GetProperty("CoordAxis").Int(0)
	coordSign := float64(gs.GetProperty("CoordAxisSign").Int(1))
	if up == coord || up == front || front == coord || up > 2 || front > 2 || coord > 2 {
		return mgl64.Ident4()
	}
	var m mgl64.Mat4
	m.Set(0, int(coord), coordSign)
	m.Set(1, int(up), upSign)
	m.Set(2, int(front), frontSign)
	m.Set(3, 3, 1)
	return m
}

func (doc *Document) FindModel(name string) *Model {
	for _, m := range doc.Models {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// BindPose returns the first bind pose, or nil.
func (doc *Document) BindPose() *Pose {
	for _, p := range doc.Poses {
		if p.Kind() == "BindPose" {
			return p
		}
	}
	return nil
}
