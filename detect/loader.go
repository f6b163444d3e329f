package detect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goshawk/core"
)

// ErrNoRules is returned when neither single-event nor correlation
// rules could be loaded; scanning without rules is pointless.
var ErrNoRules = errors.New("no detection rules loaded")

// ruleSchemaFile is an optional JSON schema validated against each
// single-event rule document when present at the rule-tree root.
const ruleSchemaFile = "rules_schema.json"

// RuleSet is the loaded and filtered rule corpus for one scan.
type RuleSet struct {
	// Rules are the active single-event rules after level and
	// log-source service filtering.
	Rules []*core.Rule
	// CorrelationRules are all loaded correlation rules.
	CorrelationRules []*core.CorrelationRule
	// BaseRules maps base-rule names referenced by correlation rules
	// to their compiled rules.
	BaseRules map[string]*core.Rule
}

// LoadRuleSet loads every .yml rule under path (a file or a directory
// tree), splitting correlation documents from single-event rules.
// Single-event rules that fail to parse or compile are skipped with a
// warning; a malformed correlation document aborts the load, since
// partial correlation state would silently under-detect.
func LoadRuleSet(path string, source *core.LogSource, minLevel string, logger *zap.SugaredLogger) (*RuleSet, error) {
	files, err := enumerateRuleFiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate rules under %s: %w", path, err)
	}

	schema := loadRuleSchema(path, logger)

	rs := &RuleSet{BaseRules: make(map[string]*core.Rule)}
	var singles []*core.Rule
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Warnf("skipping unreadable rule file %s: %v", file, err)
			continue
		}
		if containsCorrelationKey(data) {
			if err := rs.loadCorrelationDocument(file, data); err != nil {
				return nil, err
			}
			continue
		}
		rule, err := parseSingleRule(data, schema)
		if err != nil {
			logger.Warnf("skipping rule file %s: %v", file, err)
			continue
		}
		singles = append(singles, rule)
	}

	singles = core.FilterRulesByService(singles, source)
	rs.Rules = core.FilterRulesByLevel(singles, minLevel)

	for _, cr := range rs.CorrelationRules {
		for _, name := range cr.Correlation.Rules {
			if _, ok := rs.BaseRules[name]; !ok {
				return nil, fmt.Errorf("correlation rule %q references unknown base rule %q", cr.Title, name)
			}
		}
	}

	if len(rs.Rules) == 0 && len(rs.CorrelationRules) == 0 {
		return nil, ErrNoRules
	}
	logger.Infow("rules loaded",
		"rules", len(rs.Rules),
		"correlation_rules", len(rs.CorrelationRules),
		"base_rules", len(rs.BaseRules))
	return rs, nil
}

// enumerateRuleFiles returns rule file paths in sorted order so rule
// precedence and diagnostics are reproducible across platforms.
func enumerateRuleFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yml", ".yaml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// containsCorrelationKey detects correlation documents by the presence
// of a "correlation:" mapping key at any indentation.
func containsCorrelationKey(data []byte) bool {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "correlation:") {
			return true
		}
	}
	return false
}

func parseSingleRule(data []byte, schema *gojsonschema.Schema) (*core.Rule, error) {
	if schema != nil {
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse rule: %w", err)
		}
		result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
		if !result.Valid() {
			return nil, fmt.Errorf("rule does not satisfy %s: %v", ruleSchemaFile, result.Errors())
		}
	}

	var rule core.Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	if rule.Title == "" {
		return nil, fmt.Errorf("rule has no title")
	}
	matcher, err := CompileDetection(rule.Detection)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Title, err)
	}
	rule.Matcher = matcher
	return &rule, nil
}

// loadCorrelationDocument parses a multi-document correlation file:
// documents with a correlation stanza become correlation rules, the
// rest become named base rules.
func (rs *RuleSet) loadCorrelationDocument(file string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse correlation document %s: %w", file, err)
		}

		var probe struct {
			Correlation *core.CorrelationSpec `yaml:"correlation"`
		}
		if err := node.Decode(&probe); err != nil {
			return fmt.Errorf("failed to parse correlation document %s: %w", file, err)
		}

		if probe.Correlation != nil {
			var cr core.CorrelationRule
			if err := node.Decode(&cr); err != nil {
				return fmt.Errorf("failed to parse correlation rule in %s: %w", file, err)
			}
			if err := cr.Validate(); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			rs.CorrelationRules = append(rs.CorrelationRules, &cr)
			continue
		}

		var base core.Rule
		if err := node.Decode(&base); err != nil {
			return fmt.Errorf("failed to parse base rule in %s: %w", file, err)
		}
		if base.Name == "" {
			return fmt.Errorf("base rule %q in %s has no name", base.Title, file)
		}
		matcher, err := CompileDetection(base.Detection)
		if err != nil {
			return fmt.Errorf("base rule %q in %s: %w", base.Name, file, err)
		}
		base.Matcher = matcher
		rs.BaseRules[base.Name] = &base
	}
}

// loadRuleSchema loads the optional rule schema from the rule-tree
// root. Absence is not an error.
func loadRuleSchema(path string, logger *zap.SugaredLogger) *gojsonschema.Schema {
	root := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		root = filepath.Dir(path)
	}
	schemaPath := filepath.Join(root, ruleSchemaFile)
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		logger.Warnf("ignoring invalid rule schema %s: %v", schemaPath, err)
		return nil
	}
	logger.Infof("validating rules against %s", schemaPath)
	return schema
}
