package fbx

import "github.com/go-gl/mathgl/mgl64"

type Material struct {
	Obj
}

func (m *Material) Color(name string, def mgl64.Vec3) mgl64.Vec3 {
	return m.GetProperty(name).Vec3(def[0], def[1], def[2])
}

func (m *Material) Factor(name string, def float64) float64 {
	return m.GetProperty(name).Float(def)
}

// Texture returns the texture connected to a material property such as
// "DiffuseColor", falling back to the first connected texture.
func (m *Material) Texture(prop string) *Texture {
	var first *Texture
	for i, o := range m.Refs {
		t, ok := o.(*Texture)
		if !ok {
			continue
		}
		if i < len(m.refProps) && m.refProps[i] == prop {
			return t
		}
		if first == nil {
			first = t
		}
	}
	return first
}

type Texture struct {
	Obj
}

// FileName returns the path stored in the texture, preferring the relative one.
func (t *Texture) FileName() string {
	if s := t.FindChild("RelativeFilename").GetString(); s != "" {
		return s
	}
	if s := t.FindChild("FileName").GetString(); s != "" {
		return s
	}
	return t.GetProperty("Path").String()
}

// Content returns embedded image bytes from the connected Video object.
func (t *Texture) Content() []byte {
	for _, o := range t.Refs {
		if o.NodeName() == "Video" {
			if b, ok := o.GetNode().FindChild("Content").Attr(0).Value.([]byte); ok && len(b) > 0 {
				return b
			}
		}
	}
	return nil
}
