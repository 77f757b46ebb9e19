package executor

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PolicyCommand is one allowed executable in the command policy file.
type PolicyCommand struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// policyFile is the top-level YAML structure.
type policyFile struct {
	Commands []PolicyCommand `yaml:"commands"`
}

// Policy holds allowed commands loaded from YAML, keyed by name.
type Policy struct {
	byName map[string]*PolicyCommand
	order  []string
}

// LoadPolicy reads the YAML file at path.
// If the file does not exist, LoadPolicy returns an empty Policy (not an error).
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{byName: make(map[string]*PolicyCommand)}, nil
		}
		return nil, err
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, err
	}

	p := &Policy{byName: make(map[string]*PolicyCommand, len(pf.Commands))}
	for i := range pf.Commands {
		c := &pf.Commands[i]
		if c.Name == "" {
			continue
		}
		if _, dup := p.byName[c.Name]; !dup {
			p.order = append(p.order, c.Name)
		}
		p.byName[c.Name] = c
	}
	return p, nil
}

// Names returns a sorted list of allowed command names.
func (p *Policy) Names() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	sort.Strings(names)
	return names
}
