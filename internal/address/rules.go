package address

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/rules.yaml
var defaultRulesYAML []byte

// ErrEmptyReplacement is returned when a rules file maps a value to nothing usable.
var ErrEmptyReplacement = errors.New("replacement rule has an empty source")

// Replacement is a single exact substring substitution.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Rules holds the ordered text tables used by the Normalizer.
// Lists are applied in file order.
type Rules struct {
	Noise       []string      `yaml:"noise"`
	Regions     []Replacement `yaml:"regions"`
	Corrections []Replacement `yaml:"corrections"`
}

// DefaultRules returns the rules embedded in the binary.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads a rules file from disk.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalizer rules: %w", err)
	}

	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rules document.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode normalizer rules: %w", err)
	}

	for _, table := range [][]Replacement{rules.Regions, rules.Corrections} {
		for i, rep := range table {
			if rep.From == "" {
				return nil, fmt.Errorf("%w (entry %d, to=%q)", ErrEmptyReplacement, i, rep.To)
			}
		}
	}

	return &rules, nil
}
