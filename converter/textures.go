package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"

	"github.com/binzume/rignorm/rig"
	"github.com/blezek/tga"
	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type textureCache struct {
	srcDir   string
	textures map[string]*textureInfo
}

type textureInfo struct {
	name string
	tex  *rig.Texture
	img  image.Image
	err  error
}

func newTextureCache(srcDir string) *textureCache {
	return &textureCache{srcDir: srcDir, textures: map[string]*textureInfo{}}
}

func (c *textureCache) get(name string) *textureInfo {
	if t, ok := c.textures[name]; ok {
		return t
	}
	t := &textureInfo{name: name}
	c.textures[name] = t
	return t
}

func (c *textureCache) path(name string) string {
	name = filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name
		}
		name = filepath.Base(name)
	}
	return filepath.Join(c.srcDir, name)
}

func decodeImage(r io.ReadSeeker, name string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil && strings.ToLower(filepath.Ext(name)) == ".tga" {
		// retry
		r.Seek(0, io.SeekStart)
		img, err = tga.Decode(r)
	}
	return img, err
}

func (c *textureCache) getImage(name string) (image.Image, error) {
	t := c.get(name)
	if t.img != nil || t.err != nil {
		return t.img, t.err
	}
	f, err := os.Open(c.path(name))
	if err != nil {
		t.err = err
		return nil, err
	}
	defer f.Close()
	t.img, t.err = decodeImage(f, name)
	return t.img, t.err
}

func mimeTypeOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}

// load returns the texture as PNG or JPEG bytes. Other formats are re-encoded as PNG.
func (c *textureCache) load(name string, embedded []byte) (*rig.Texture, error) {
	t := c.get(name)
	if t.tex != nil {
		return t.tex, nil
	}
	mimeType := mimeTypeOf(name)
	data := embedded
	if data == nil {
		b, err := os.ReadFile(c.path(name))
		if err != nil {
			return nil, err
		}
		data = b
	}
	if mimeType == "" {
		img, err := decodeImage(bytes.NewReader(data), name)
		if err != nil {
			return nil, err
		}
		t.img = img
		if data, err = encodeImage(img, "image/png"); err != nil {
			return nil, err
		}
		mimeType = "image/png"
	}
	t.tex = &rig.Texture{Name: filepath.Base(name), MimeType: mimeType, Data: data}
	return t.tex, nil
}

func (c *textureCache) hasAlpha(name string) bool {
	if name == "" || mimeTypeOf(name) == "image/jpeg" || strings.HasSuffix(strings.ToLower(name), ".bmp") {
		return false
	}
	img, err := c.getImage(name)
	if err != nil {
		return false
	}
	switch img.ColorModel() {
	case color.YCbCrModel, color.CMYKModel, color.GrayModel:
		return false
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

func encodeImage(img image.Image, mime string) ([]byte, error) {
	w := new(bytes.Buffer)
	var err error
	if mime == "image/jpeg" {
		err = jpeg.Encode(w, img, nil)
	} else {
		err = png.Encode(w, img)
	}
	return w.Bytes(), err
}

// scaleTexture shrinks a texture so that its width is at most limit.
func scaleTexture(tex *rig.Texture, limit int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(tex.Data))
	if err != nil {
		return nil, err
	}
	rect := img.Bounds()
	if limit <= 0 || rect.Dx() <= limit {
		return tex.Data, nil
	}
	scale := float64(limit) / float64(rect.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, limit, int(float64(rect.Dy())*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
	return encodeImage(dst, tex.MimeType)
}
