package core

import "strings"

// Logsource identifies the product/service a rule applies to.
type Logsource struct {
	Product  string `yaml:"product,omitempty" json:"product,omitempty"`
	Service  string `yaml:"service,omitempty" json:"service,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// RuleMatcher is the compiled detection predicate of a rule. The scan
// pipeline treats it as an opaque capability so alternative rule
// engines can be substituted.
type RuleMatcher interface {
	Matches(event *Event) bool
}

// Rule is a single-event Sigma detection rule. Immutable once loaded.
type Rule struct {
	Title          string                 `yaml:"title" json:"title"`
	ID             string                 `yaml:"id,omitempty" json:"id,omitempty"`
	Status         string                 `yaml:"status,omitempty" json:"status,omitempty"`
	Description    string                 `yaml:"description,omitempty" json:"description,omitempty"`
	References     []string               `yaml:"references,omitempty" json:"references,omitempty"`
	Author         string                 `yaml:"author,omitempty" json:"author,omitempty"`
	Date           string                 `yaml:"date,omitempty" json:"date,omitempty"`
	Modified       string                 `yaml:"modified,omitempty" json:"modified,omitempty"`
	Tags           []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	FalsePositives []string               `yaml:"falsepositives,omitempty" json:"falsepositives,omitempty"`
	Level          string                 `yaml:"level,omitempty" json:"level,omitempty"`
	Logsource      Logsource              `yaml:"logsource,omitempty" json:"logsource,omitempty"`
	Detection      map[string]interface{} `yaml:"detection" json:"detection"`

	// Name is set for base rules inside correlation documents and is
	// how correlation rules reference them.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Matcher is the compiled detection predicate, attached by the
	// loader. Not serialized.
	Matcher RuleMatcher `yaml:"-" json:"-"`
}

// Matches evaluates the rule's compiled predicate against an event.
// Rules without a compiled matcher never match.
func (r *Rule) Matches(event *Event) bool {
	if r == nil || r.Matcher == nil {
		return false
	}
	return r.Matcher.Matches(event)
}

// Severity levels, ordered. Unknown levels rank below informational.
const (
	LevelInformational = "informational"
	LevelLow           = "low"
	LevelMedium        = "medium"
	LevelHigh          = "high"
	LevelCritical      = "critical"
)

// Levels lists the severity levels from highest to lowest, the order
// summary reports use.
var Levels = []string{LevelCritical, LevelHigh, LevelMedium, LevelLow, LevelInformational}

// LevelIndex maps a severity level to its rank for ordered
// comparisons. Accepts the abbreviated forms used on the console.
func LevelIndex(level string) int {
	switch strings.ToLower(level) {
	case "info", LevelInformational:
		return 1
	case LevelLow:
		return 2
	case "med", LevelMedium:
		return 3
	case LevelHigh:
		return 4
	case "crit", LevelCritical:
		return 5
	default:
		return 0
	}
}

// AbbreviateLevel shortens a level name for console rows.
func AbbreviateLevel(level string) string {
	switch strings.ToLower(level) {
	case LevelCritical:
		return "crit"
	case LevelMedium:
		return "med"
	case LevelInformational:
		return "info"
	default:
		return strings.ToLower(level)
	}
}

// FilterRulesByLevel keeps rules at or above the given severity floor.
// Rules without a level are dropped.
func FilterRulesByLevel(rules []*Rule, minLevel string) []*Rule {
	min := LevelIndex(minLevel)
	var out []*Rule
	for _, r := range rules {
		if r.Level != "" && LevelIndex(r.Level) >= min {
			out = append(out, r)
		}
	}
	return out
}

// FilterRulesByService keeps rules whose logsource service is in the
// active log source's supported-service set.
func FilterRulesByService(rules []*Rule, source *LogSource) []*Rule {
	var out []*Rule
	for _, r := range rules {
		if source.SupportsService(r.Logsource.Service) {
			out = append(out, r)
		}
	}
	return out
}
