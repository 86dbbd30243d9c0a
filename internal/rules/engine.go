// Package rules provides a YAML-based rules engine for suggesting
// categorization values from transaction concepts.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against transaction concepts
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire concept exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the concept
	MatchTypeContains MatchType = "contains"
)

// Rule represents a single categorization rule.
//
// Rules should be created via YAML loading (NewEngine, LoadEmbedded,
// LoadFromFile), which validates all invariants:
//   - Priority in range [0, 999]
//   - Pattern must not be empty after trimming
//   - MatchType must be "exact" or "contains"
//   - At least one of group/subgroup/beneficiary must be set
type Rule struct {
	Name        string    `yaml:"name"`
	Pattern     string    `yaml:"pattern"`
	MatchType   MatchType `yaml:"match_type"`
	Priority    int       `yaml:"priority"`
	Group       string    `yaml:"group"`
	Subgroup    string    `yaml:"subgroup"`
	Beneficiary string    `yaml:"beneficiary"`
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine performs rule matching on transaction concepts
type Engine struct {
	rules []Rule // Sorted by priority (highest first)
}

// NewEngine creates a rules engine from YAML data
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	for i, rule := range ruleSet.Rules {
		if rule.Priority < 0 || rule.Priority > 999 {
			return nil, fmt.Errorf("rule %d (%s): priority must be in [0,999], got %d", i, rule.Name, rule.Priority)
		}
		if rule.MatchType != MatchTypeExact && rule.MatchType != MatchTypeContains {
			return nil, fmt.Errorf("rule %d (%s): invalid match_type %q (must be 'exact' or 'contains')", i, rule.Name, rule.MatchType)
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("rule %d (%s): pattern cannot be empty", i, rule.Name)
		}
		if rule.Group == "" && rule.Subgroup == "" && rule.Beneficiary == "" {
			return nil, fmt.Errorf("rule %d (%s): at least one of group, subgroup, beneficiary is required", i, rule.Name)
		}
	}

	// Sort rules by priority (highest first). Use SliceStable to preserve
	// YAML file order for rules with equal priority.
	sortedRules := make([]Rule, len(ruleSet.Rules))
	copy(sortedRules, ruleSet.Rules)
	sort.SliceStable(sortedRules, func(i, j int) bool {
		return sortedRules[i].Priority > sortedRules[j].Priority
	})

	return &Engine{rules: sortedRules}, nil
}

// LoadEmbedded loads the embedded rules.yaml file
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules: %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Match applies rules to a transaction concept and returns the first match.
// Rules are evaluated in priority order (highest first); equal priorities keep
// their YAML file order. Returns (nil, false) if no rules match.
func (e *Engine) Match(concept string) (*Rule, bool) {
	normalized := strings.ToLower(strings.TrimSpace(concept))

	for i := range e.rules {
		rule := &e.rules[i]
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))

		matched := false
		switch rule.MatchType {
		case MatchTypeExact:
			matched = normalized == pattern
		case MatchTypeContains:
			matched = strings.Contains(normalized, pattern)
		}

		if matched {
			return rule, true
		}
	}

	return nil, false
}

// Apply fills the blank enrichment fields of a transaction from the first
// matching rule. Values already present are never overwritten: manual
// categorization edits always win over rule suggestions.
func (e *Engine) Apply(txn *domain.Transaction) bool {
	rule, ok := e.Match(txn.Concept)
	if !ok {
		return false
	}

	applied := false
	if txn.Enrichment.CategoryGroup == "" && rule.Group != "" {
		txn.Enrichment.CategoryGroup = rule.Group
		applied = true
	}
	if txn.Enrichment.CategorySubgroup == "" && rule.Subgroup != "" {
		txn.Enrichment.CategorySubgroup = rule.Subgroup
		applied = true
	}
	if txn.Enrichment.Beneficiary == "" && rule.Beneficiary != "" {
		txn.Enrichment.Beneficiary = rule.Beneficiary
		applied = true
	}
	return applied
}

// GetRules returns a copy of the rules in priority order (highest first).
func (e *Engine) GetRules() []Rule {
	result := make([]Rule, len(e.rules))
	copy(result, e.rules)
	return result
}
