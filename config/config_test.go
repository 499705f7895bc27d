package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const yamlProfile = `
name: creatures
leaf_style: "03"
deleted_weights: merge_parent
strip_prefixes: ["mixamorig:"]
bone_map:
  Chest: spine_03
collapse:
  - destination: hand_l
    donors: ["thumb_*_l", "index_*_l"]
`

const tomlProfile = `
name = "creatures"
leaf_style = "03"
deleted_weights = "merge_parent"
strip_prefixes = ["mixamorig:"]

[bone_map]
Chest = "spine_03"

[[collapse]]
destination = "hand_l"
donors = ["thumb_*_l", "index_*_l"]
`

const jsonProfile = `{
  "name": "creatures",
  "leaf_style": "03",
  "deleted_weights": "merge_parent",
  "strip_prefixes": ["mixamorig:"],
  "bone_map": {"Chest": "spine_03"},
  "collapse": [{"destination": "hand_l", "donors": ["thumb_*_l", "index_*_l"]}]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	var profiles []*Profile
	for name, body := range map[string]string{"p.yaml": yamlProfile, "p.toml": tomlProfile, "p.json": jsonProfile} {
		p, err := Load(writeFile(t, name, body))
		if err != nil {
			t.Fatal(name, ": ", err)
		}
		profiles = append(profiles, p)
	}
	for _, p := range profiles[1:] {
		if !reflect.DeepEqual(p, profiles[0]) {
			t.Errorf("profiles differ: %+v != %+v", p, profiles[0])
		}
	}
	p := profiles[0]
	if p.RootBone != "root" || p.Epsilon != 1e-5 {
		t.Error("defaults lost: ", p)
	}
	if len(p.Collapse) != 1 || p.Collapse[0].Destination != "hand_l" {
		t.Error("collapse: ", p.Collapse)
	}
	if p.DeletedWeightsPolicy() != "merge_parent" {
		t.Error("policy: ", p.DeletedWeights)
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.yaml", "leaf_style: '05'\n")); err == nil {
		t.Error("invalid leaf style accepted")
	}
	if _, err := Load(writeFile(t, "p.ini", "")); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(p.Collapse) != 2 || len(p.Collapse[1].Donors) != 5 || p.Collapse[1].Donors[0] != "thumb_*_r" {
		t.Error("collapse rules: ", p.Collapse)
	}
}

func TestLoadMMDProfile(t *testing.T) {
	p, err := Load(filepath.Join("..", "profiles", "mmd.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.BoneMap["下半身"] != "pelvis" || p.BoneMap["右親指０"] != "thumb_01_r" || p.BoneMap["左小指３"] != "pinky_03_l" {
		t.Error("bone map: ", p.BoneMap)
	}
	if len(p.Collapse) != 2 {
		t.Error("default collapse rules lost: ", p.Collapse)
	}
}
