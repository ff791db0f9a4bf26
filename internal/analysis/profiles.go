package analysis

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtinProfiles []byte

// Profile is an approved-claim reference the backend compares a document to.
type Profile struct {
	Name        string `yaml:"-" json:"name"`
	Description string `yaml:"description" json:"description"`
	Reference   string `yaml:"reference" json:"reference"`
}

type profileFile struct {
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profiles is an immutable set of reference profiles with a default.
type Profiles struct {
	byName map[string]Profile
	def    string
}

// DefaultProfiles returns the built-in medical and pharmacy references.
func DefaultProfiles() *Profiles {
	p, err := ParseProfiles(builtinProfiles)
	if err != nil {
		panic(fmt.Sprintf("builtin profiles: %v", err))
	}
	return p
}

func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

func ParseProfiles(data []byte) (*Profiles, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, errors.New("profiles file defines no profiles")
	}
	out := &Profiles{byName: make(map[string]Profile, len(f.Profiles))}
	for name, p := range f.Profiles {
		key := canonicalClaimType(name)
		if key == "" {
			return nil, errors.New("profile name is required")
		}
		if strings.TrimSpace(p.Reference) == "" {
			return nil, fmt.Errorf("profile %s has empty reference", key)
		}
		p.Name = key
		p.Reference = strings.TrimSpace(p.Reference)
		out.byName[key] = p
	}
	out.def = canonicalClaimType(f.Default)
	if out.def == "" {
		out.def = out.Names()[0]
	}
	if _, ok := out.byName[out.def]; !ok {
		return nil, fmt.Errorf("default profile %s is not defined", out.def)
	}
	return out, nil
}

// Select returns the profile for claimType, falling back to the default.
func (p *Profiles) Select(claimType string) Profile {
	key := canonicalClaimType(claimType)
	if prof, ok := p.byName[key]; ok {
		return prof
	}
	if prof, ok := p.byName[key+"_claim"]; ok {
		return prof
	}
	return p.byName[p.def]
}

func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p *Profiles) Default() string { return p.def }

func canonicalClaimType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
