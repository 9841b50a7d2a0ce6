package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDocument is the YAML shape of a policy file: a list of policy
// documents under a single "policies" key.
type fileDocument struct {
	Policies []*filePolicy `yaml:"policies"`
}

type filePolicy struct {
	ForKind      TargetRef      `yaml:"forKind"`
	Subjects     []SubjectMatch `yaml:"subjects"`
	Initializing Initializing   `yaml:"initializing"`
	Deleting     Deleting       `yaml:"deleting"`
	Rules        []Rule         `yaml:"rules"`
}

// LoadFromFile reads and validates a YAML policy file. Each listed policy
// must validate on its own and no two policies may govern the same kind.
func LoadFromFile(path string) ([]*AllowancePolicy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Load(b)
}

// Load parses and validates YAML policy file contents.
func Load(data []byte) ([]*AllowancePolicy, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}

	if len(doc.Policies) == 0 {
		return nil, fmt.Errorf("policy: file defines no policies")
	}

	seen := map[string]struct{}{}
	out := make([]*AllowancePolicy, 0, len(doc.Policies))

	for i, fp := range doc.Policies {
		if fp == nil {
			return nil, fmt.Errorf("policy: entry %d is empty", i)
		}

		p := &AllowancePolicy{
			ForKind:      fp.ForKind,
			Subjects:     fp.Subjects,
			Initializing: fp.Initializing,
			Deleting:     fp.Deleting,
			Rules:        fp.Rules,
		}

		if err := p.Validate(); err != nil {
			return nil, err
		}

		key := p.ForKind.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("policy: duplicate policy for kind %q", key)
		}
		seen[key] = struct{}{}

		out = append(out, p)
	}

	return out, nil
}
