package plans

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile is the on-disk catalogue layout:
//
//	plans:
//	  - id: free
//	    name: Free
//	    version: 1
//	    interval: none
//	    price: {amount: 0, currency: INR}
//	    limits:
//	      model_train: 3
//	      api_call: 1000
//	      storage_bytes: 1073741824
type yamlFile struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads the catalogue from a YAML file on every Load,
// so Registry.Reload picks up edits without a restart.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(ctx context.Context) (map[string]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plans file %s: %w", s.path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a catalogue document into a plan map keyed by ID.
func ParseYAML(data []byte) (map[string]Plan, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	out := make(map[string]Plan, len(doc.Plans))
	for _, plan := range doc.Plans {
		if _, dup := out[plan.ID]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan %q", plan.ID))
		}
		if plan.Version == 0 {
			plan.Version = 1
		}
		out[plan.ID] = plan
	}
	return out, nil
}
