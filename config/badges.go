package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/focus-league/internal/domain/badge"
)

//go:embed badges.yaml
var defaultBadgeCatalog []byte

// BadgeCatalog is the YAML document describing badge rules.
type BadgeCatalog struct {
	Version int               `yaml:"version"`
	Badges  []BadgeDefinition `yaml:"badges"`
}

// BadgeDefinition is one catalog entry.
type BadgeDefinition struct {
	Code            string  `yaml:"code"`
	Name            string  `yaml:"name"`
	Description     string  `yaml:"description"`
	Kind            string  `yaml:"kind"`
	Threshold       float64 `yaml:"threshold"`
	Movement        string  `yaml:"movement"`
	MinTotalMinutes int     `yaml:"min_total_minutes"`
}

// LoadBadgeCatalog reads the catalog from path, or the embedded default when
// path is empty.
func LoadBadgeCatalog(path string) (*BadgeCatalog, error) {
	data := defaultBadgeCatalog
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read badge catalog: %w", err)
		}
		data = raw
	}
	return ParseBadgeCatalog(data)
}

// ParseBadgeCatalog decodes a catalog document. Unknown fields are rejected
// so a typo in a threshold key does not silently disable a rule.
func ParseBadgeCatalog(data []byte) (*BadgeCatalog, error) {
	var cat BadgeCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	if cat.Version != 1 {
		return nil, fmt.Errorf("parse badge catalog: unsupported version %d", cat.Version)
	}
	return &cat, nil
}

// Rules converts the catalog into validated badge rules.
func (c *BadgeCatalog) Rules() ([]badge.Rule, error) {
	rules := make([]badge.Rule, 0, len(c.Badges))
	for _, d := range c.Badges {
		r, err := badge.NewRule(
			badge.Badge{Code: d.Code, Name: d.Name, Description: d.Description},
			badge.RuleKind(d.Kind), d.Threshold, d.Movement, d.MinTotalMinutes,
		)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
