package aggregation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetricRule defines a configurable metric computed by the backend.
// Rules are loaded at startup from YAML files and fingerprinted so cache keys
// change whenever a rule file changes.
type MetricRule struct {
	Name        string   `yaml:"name"`
	Collection  string   `yaml:"collection"` // backend collection holding the events
	Actions     []string `yaml:"actions"`    // action types to include; empty means all
	Operator    string   `yaml:"operator"`   // count, sum, min, max
	Field       string   `yaml:"field"`      // event field to aggregate; empty for count
	Fingerprint string   `yaml:"-"`          // SHA-256 of the raw YAML file
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name       string   `yaml:"name"`
	Collection string   `yaml:"collection"`
	Actions    []string `yaml:"actions"`
	Operator   string   `yaml:"operator"`
	Field      string   `yaml:"field"`
}

// RuleRepository defines the interface for loading metric rules.
type RuleRepository interface {
	// Get returns the rule with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*MetricRule, error)

	// List returns all loaded rules, optionally filtered by collection.
	List(ctx context.Context, collection string) ([]MetricRule, error)

	// GetRules returns all rules as a slice ordered by name.
	GetRules() []MetricRule
}

// FileSystemRuleRepository loads metric rules from *.yaml files in a directory.
// Each file contains exactly one rule at the top level. Rules are loaded once
// at startup and kept in memory.
type FileSystemRuleRepository struct {
	dir   string
	rules map[string]MetricRule // keyed by Name
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all rules
// from dir. Returns an error if any rule file is malformed or invalid.
func NewFileSystemRuleRepository(dir string) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:   dir,
		rules: make(map[string]MetricRule),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no rules directory: zero metrics configured
	}
	if err != nil {
		return fmt.Errorf("metric rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("metric rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading metric rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if raw.Collection == "" {
			return fmt.Errorf("rule %q: collection must not be empty", raw.Name)
		}
		if !ValidOperator(raw.Operator) {
			return fmt.Errorf("rule %q: unsupported operator %q", raw.Name, raw.Operator)
		}
		if raw.Operator != OpCount && raw.Field == "" {
			return fmt.Errorf("rule %q: operator %s requires a field", raw.Name, raw.Operator)
		}
		if _, exists := r.rules[raw.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", raw.Name)
		}

		actions := append([]string(nil), raw.Actions...)
		sort.Strings(actions)

		r.rules[raw.Name] = MetricRule{
			Name:        raw.Name,
			Collection:  raw.Collection,
			Actions:     actions,
			Operator:    raw.Operator,
			Field:       raw.Field,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(_ context.Context, name string) (*MetricRule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("metric rule %q not found", name)
	}
	return &rule, nil
}

// List returns all loaded rules, optionally filtered by collection.
func (r *FileSystemRuleRepository) List(_ context.Context, collection string) ([]MetricRule, error) {
	var out []MetricRule
	for _, rule := range r.GetRules() {
		if collection != "" && rule.Collection != collection {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// GetRules returns all rules as a slice ordered by name.
func (r *FileSystemRuleRepository) GetRules() []MetricRule {
	rules := make([]MetricRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}
