package registry

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/terrama2/services/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Initial registry content. JSON documents are accepted as well.
type Seed struct {
	Entities []Entity `yaml:"entities"`
}

// Read a seed document.
func ReadSeed(fs utils.Fs, path string) (*Seed, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	seed := &Seed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", utils.ErrParse, path, err)
	}

	return seed, nil
}

// Add all entities of a seed document.
func (r *Registry) Load(fs utils.Fs, path string) error {
	seed, err := ReadSeed(fs, path)
	if err != nil {
		return err
	}

	return r.Add(seed.Entities...)
}
