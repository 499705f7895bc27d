package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/binzume/rignorm/converter"
	"github.com/binzume/rignorm/fbx"
	"github.com/binzume/rignorm/gltfutil"
	"github.com/binzume/rignorm/mmd"
	"github.com/binzume/rignorm/rig"
)

func isSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fbx", ".glb", ".gltf", ".pmx", ".pmd":
		return true
	}
	return false
}

func checkExists(path string, sentinel error) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", sentinel, path)
		}
		return err
	}
	return nil
}

func assetName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// LoadModel imports an FBX, glTF or MMD asset.
func LoadModel(path string) (*rig.Model, error) {
	if err := checkExists(path, ErrInputNotFound); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fbx":
		doc, err := fbx.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return converter.NewFBXToRigConverter(&converter.FBXToRigOption{TextureDir: filepath.Dir(path)}).Convert(doc, assetName(path))
	case ".glb", ".gltf":
		doc, err := gltfutil.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := gltfutil.ToSingleFile(doc, filepath.Dir(path)); err != nil {
			return nil, err
		}
		return converter.NewGLTFToRigConverter(nil).Convert(doc, assetName(path))
	case ".pmx", ".pmd":
		doc, err := mmd.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return converter.NewMMDToRigConverter(&converter.MMDToRigOption{TextureDir: filepath.Dir(path)}).Convert(doc, assetName(path))
	}
	return nil, fmt.Errorf("unsupported input format: %s", path)
}

// LoadReference imports the reference asset and keeps only its rest state.
func LoadReference(path string) (*rig.ReferenceRestState, error) {
	if err := checkExists(path, ErrReferenceNotFound); err != nil {
		return nil, err
	}
	m, err := LoadModel(path)
	if err != nil {
		return nil, err
	}
	return rig.NewReferenceRestState(m)
}

func (p *Pipeline) save(m *rig.Model, path string, exportUnskinned bool) error {
	conv := converter.NewRigToGLTFConverter(&converter.RigToGLTFOption{
		ExportUnskinned:        exportUnskinned,
		TextureResolutionLimit: p.profile.TextureLimit,
		Logger:                 p.logger,
	})
	doc, err := conv.Convert(m)
	if err != nil {
		return err
	}
	if err := gltfutil.Save(doc, path); err != nil {
		return err
	}
	p.logger.Info("exported", "path", path)
	return nil
}
