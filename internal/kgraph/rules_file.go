package kgraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk format for site-specific pattern rules.
//
//	rules:
//	  - name: raid_degraded
//	    layer: storage
//	    components: [raid]
//	    indicators: ["degraded"]
//	    implies: [linux.kernel]
//	    root_cause: RAID array running degraded
//	    fix_plan: Replace the failed member disk and resync
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads extra pattern rules from a YAML file. Every rule must
// validate and names must be unique within the file.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for i, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rules[%d]: %w: duplicate rule name %q", i, ErrInvalidRule, r.Name)
		}
		seen[r.Name] = true
	}
	return file.Rules, nil
}

// MergeRules appends extra rules to base. An extra rule with the same name
// as a base rule replaces it.
func MergeRules(base, extra []Rule) []Rule {
	index := make(map[string]int, len(base))
	merged := make([]Rule, len(base), len(base)+len(extra))
	copy(merged, base)
	for i, r := range merged {
		index[r.Name] = i
	}
	for _, r := range extra {
		if i, ok := index[r.Name]; ok {
			merged[i] = r
			continue
		}
		index[r.Name] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
