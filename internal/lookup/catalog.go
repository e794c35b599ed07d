// Package lookup rewrites coded columns to defer to standard-code lookup
// views. The catalog of declared views is hand-maintained YAML, passed in as
// immutable configuration so concurrent target-table compilations never share
// mutable state.
package lookup

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default lookup-side column names, matching the standard code mapping view.
const (
	DefaultSourceValue = "source_value1"
	DefaultCodeName    = "stndrd_cd_name"
	DefaultCodeValue   = "stndrd_cd_value"
)

// View declares one lookup view and the code domains it serves.
type View struct {
	Name        string   `yaml:"name"`
	Domains     []string `yaml:"domains"`
	SourceValue string   `yaml:"source_value_column"`
	CodeName    string   `yaml:"code_name_column"`
	CodeValue   string   `yaml:"code_value_column"`
}

// Catalog maps malcodes to their declared lookup views.
type Catalog struct {
	Malcodes map[string][]View `yaml:"malcodes"`
}

// LoadCatalog reads a lookup catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse lookup catalog: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	for mal, views := range c.Malcodes {
		for i := range views {
			if views[i].SourceValue == "" {
				views[i].SourceValue = DefaultSourceValue
			}
			if views[i].CodeName == "" {
				views[i].CodeName = DefaultCodeName
			}
			if views[i].CodeValue == "" {
				views[i].CodeValue = DefaultCodeValue
			}
		}
		c.Malcodes[mal] = views
	}
}

// ViewFor returns the view declared for the (malcode, domain) pair.
// Malcodes and domains compare case-insensitively.
func (c *Catalog) ViewFor(malcode, domain string) (*View, bool) {
	if c == nil {
		return nil, false
	}
	for mal, views := range c.Malcodes {
		if !strings.EqualFold(mal, malcode) {
			continue
		}
		for i := range views {
			for _, d := range views[i].Domains {
				if strings.EqualFold(d, domain) {
					return &views[i], true
				}
			}
		}
	}
	return nil, false
}
