// Package config loads asset-class profiles that tune the normalization
// pipeline. Profiles may be YAML, TOML or JSON; fields left out keep their
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/binzume/rignorm/bonemap"
	"github.com/binzume/rignorm/rig"
	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v2"
)

type Profile struct {
	Name string `yaml:"name" toml:"name" json:"name"`

	RootBone   string `yaml:"root_bone" toml:"root_bone" json:"root_bone"`
	PelvisBone string `yaml:"pelvis_bone" toml:"pelvis_bone" json:"pelvis_bone"`

	// LeafStyle is "auto", "04" or "03".
	LeafStyle     string            `yaml:"leaf_style" toml:"leaf_style" json:"leaf_style"`
	StripPrefixes []string          `yaml:"strip_prefixes" toml:"strip_prefixes" json:"strip_prefixes"`
	BoneMap       map[string]string `yaml:"bone_map" toml:"bone_map" json:"bone_map"`

	// DeletedWeights is "discard" or "merge_parent".
	DeletedWeights string `yaml:"deleted_weights" toml:"deleted_weights" json:"deleted_weights"`
	KeepExtraBones bool   `yaml:"keep_extra_bones" toml:"keep_extra_bones" json:"keep_extra_bones"`

	Collapse []rig.CollapseRule `yaml:"collapse" toml:"collapse" json:"collapse"`

	Epsilon float64 `yaml:"epsilon" toml:"epsilon" json:"epsilon"`

	// ExportUnskinned keeps meshes that are not bound to the skeleton.
	ExportUnskinned bool `yaml:"export_unskinned" toml:"export_unskinned" json:"export_unskinned"`
	// MeshOnlyPassthrough exports assets without a skeleton unchanged instead of failing them.
	MeshOnlyPassthrough bool `yaml:"mesh_only_passthrough" toml:"mesh_only_passthrough" json:"mesh_only_passthrough"`
	// TextureLimit downscales embedded textures wider than this. 0: unlimited.
	TextureLimit int `yaml:"texture_limit" toml:"texture_limit" json:"texture_limit"`
}

var fingerPrefixes = []string{"thumb", "index", "middle", "ring", "pinky"}

// FingerCollapseRules merges all finger groups of each side into the hand.
func FingerCollapseRules() []rig.CollapseRule {
	var rules []rig.CollapseRule
	for _, side := range []string{"_l", "_r"} {
		rule := rig.CollapseRule{Destination: "hand" + side}
		for _, f := range fingerPrefixes {
			rule.Donors = append(rule.Donors, f+"_*"+side)
		}
		rules = append(rules, rule)
	}
	return rules
}

// Default is the profile for the UE-style mannequin skeleton.
func Default() *Profile {
	return &Profile{
		Name:           "mannequin",
		RootBone:       "root",
		PelvisBone:     "pelvis",
		LeafStyle:      string(bonemap.LeafAuto),
		DeletedWeights: string(rig.DeletedWeightsDiscard),
		Collapse:       FingerCollapseRules(),
		Epsilon:        1e-5,
	}
}

// Load reads a profile, choosing the format by file extension.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := Default()
	// decoders differ on whether lists replace or extend existing ones
	rules := p.Collapse
	p.Collapse = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, p)
	case ".toml":
		err = toml.Unmarshal(data, p)
	case ".json":
		err = json.Unmarshal(data, p)
	default:
		return nil, fmt.Errorf("unsupported profile format: %v", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if p.Collapse == nil {
		p.Collapse = rules
	}
	return p, p.Validate()
}

func (p *Profile) Validate() error {
	if p.RootBone == "" || p.PelvisBone == "" {
		return fmt.Errorf("root_bone and pelvis_bone are required")
	}
	if _, err := bonemap.ParseLeafStyle(p.LeafStyle); err != nil {
		return err
	}
	if _, err := rig.ParseDeletedWeights(p.DeletedWeights); err != nil {
		return err
	}
	for _, r := range p.Collapse {
		if r.Destination == "" {
			return fmt.Errorf("collapse rule without destination")
		}
	}
	if p.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive: %v", p.Epsilon)
	}
	return nil
}

// MapperOptions builds name mapper options against a reference name set.
func (p *Profile) MapperOptions(reference map[string]bool) *bonemap.Options {
	leaf, _ := bonemap.ParseLeafStyle(p.LeafStyle)
	return &bonemap.Options{
		Leaf:          leaf,
		Extra:         p.BoneMap,
		StripPrefixes: p.StripPrefixes,
		Reference:     reference,
	}
}

func (p *Profile) DeletedWeightsPolicy() rig.DeletedWeights {
	d, _ := rig.ParseDeletedWeights(p.DeletedWeights)
	return d
}
