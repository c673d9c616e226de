package datasets

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

type catalogFile struct {
	Datasets []DatasetSpec `yaml:"datasets"`
}

// Catalog maps dataset names to specs.
type Catalog struct {
	specs map[string]DatasetSpec
}

// LoadCatalog parses the built-in catalog and overlays the datasets declared
// in each extra file, replacing entries with the same name.
func LoadCatalog(extraPaths ...string) (*Catalog, error) {
	catalog := &Catalog{specs: map[string]DatasetSpec{}}
	if err := catalog.merge(builtinCatalog, "builtin catalog"); err != nil {
		return nil, err
	}
	for _, path := range extraPaths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %q: %w", path, err)
		}
		if err := catalog.merge(raw, path); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func (c *Catalog) merge(raw []byte, source string) error {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", source, err)
	}
	for _, spec := range file.Datasets {
		if err := spec.validate(); err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		c.specs[spec.Name] = spec
	}
	return nil
}

func (c *Catalog) Lookup(name string) (DatasetSpec, error) {
	spec, ok := c.specs[name]
	if !ok {
		return DatasetSpec{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDataset, name, strings.Join(c.Names(), ", "))
	}
	return spec, nil
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
