package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Reasoning types used by the LLM-backed strategies for template selection.
const (
	ReasoningChain = "chain_of_thought"
	ReasoningTree  = "tree_of_thoughts"
)

//go:embed packs/default.yaml
var defaultPack []byte

// Pack is a YAML template pack.
type Pack struct {
	Templates []Template `yaml:"templates"`
}

// DefaultTemplates returns the built-in pack.
func DefaultTemplates() ([]Template, error) {
	return LoadPack(bytes.NewReader(defaultPack))
}

// LoadPack decodes a YAML template pack.
func LoadPack(r io.Reader) ([]Template, error) {
	var p Pack
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode template pack: %w", err)
	}
	seen := make(map[string]bool, len(p.Templates))
	for i, t := range p.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template pack entry %d has no id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("template pack has duplicate id %s", t.ID)
		}
		seen[t.ID] = true
		for name, cands := range t.Candidates {
			if _, ok := t.Variables[name]; !ok {
				return nil, fmt.Errorf("template %s: candidates for undeclared variable %s", t.ID, name)
			}
			if len(cands) == 0 {
				return nil, fmt.Errorf("template %s: variable %s has an empty candidate list", t.ID, name)
			}
		}
	}
	return p.Templates, nil
}

// LoadPackFile reads a pack from disk.
func LoadPackFile(path string) ([]Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template pack: %w", err)
	}
	defer f.Close()
	return LoadPack(f)
}
