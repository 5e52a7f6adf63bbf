package render

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes how one geometry compiler is invoked and what it
// produces. The zero configuration is OpenSCAD emitting binary STL.
type Profile struct {
	Name        string   `yaml:"name"`
	Binary      string   `yaml:"binary"`
	Args        []string `yaml:"args,omitempty"`
	SourceExt   string   `yaml:"source_ext"`
	ArtifactExt string   `yaml:"artifact_ext"`
	MIMEType    string   `yaml:"mime_type"`
}

type profilesConfig struct {
	Default  string    `yaml:"default"`
	Profiles []Profile `yaml:"profiles"`
}

func DefaultProfile() Profile {
	return Profile{
		Name:        "openscad-stl",
		Binary:      "openscad",
		SourceExt:   ".scad",
		ArtifactExt: ".stl",
		MIMEType:    "model/stl",
	}
}

// LoadProfile reads a compiler profiles file and returns the named profile,
// or the file's default when name is empty. Missing fields fall back to the
// built-in OpenSCAD profile.
func LoadProfile(path, name string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read compiler profiles file: %w", err)
	}
	var cfg profilesConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Profile{}, fmt.Errorf("parse compiler profiles file: %w", err)
	}
	if name == "" {
		name = strings.TrimSpace(cfg.Default)
	}
	if name == "" && len(cfg.Profiles) > 0 {
		name = cfg.Profiles[0].Name
	}
	for _, p := range cfg.Profiles {
		if p.Name == name {
			return withProfileDefaults(p), nil
		}
	}
	return Profile{}, fmt.Errorf("compiler profile %q not found in %s", name, path)
}

func withProfileDefaults(p Profile) Profile {
	def := DefaultProfile()
	if strings.TrimSpace(p.Binary) == "" {
		p.Binary = def.Binary
	}
	if strings.TrimSpace(p.SourceExt) == "" {
		p.SourceExt = def.SourceExt
	}
	if strings.TrimSpace(p.ArtifactExt) == "" {
		p.ArtifactExt = def.ArtifactExt
	}
	if strings.TrimSpace(p.MIMEType) == "" {
		p.MIMEType = def.MIMEType
	}
	return p
}
