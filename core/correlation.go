package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Correlation kinds supported by the evaluator.
const (
	CorrelationEventCount = "event_count"
	CorrelationValueCount = "value_count"
	CorrelationTemporal   = "temporal"
)

// CorrelationSpec is the `correlation` stanza of a Sigma correlation
// document.
type CorrelationSpec struct {
	// Type is the correlation kind (event_count, value_count, temporal).
	Type string `yaml:"type" json:"type"`

	// Rules names the base rules this correlation aggregates over.
	Rules []string `yaml:"rules" json:"rules"`

	// GroupBy lists event field paths that partition matches into
	// groups (e.g. the actor identity field).
	GroupBy []string `yaml:"group-by,omitempty" json:"group-by,omitempty"`

	// Timespan is the correlation window, e.g. "5m", "1h", "2d".
	Timespan string `yaml:"timespan" json:"timespan"`

	// Field is the distinct-value field for value_count correlations.
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Condition holds the threshold, keyed by operator (gte, gt, lt,
	// lte, eq).
	Condition map[string]int `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Generate controls whether contributing events also produce
	// ordinary per-event output rows.
	Generate bool `yaml:"generate,omitempty" json:"generate,omitempty"`

	// Ordered requires temporal matches to occur in rule order.
	Ordered bool `yaml:"ordered,omitempty" json:"ordered,omitempty"`
}

// CorrelationRule is a full correlation rule: metadata shared with
// single-event rules plus the correlation stanza. Immutable once
// loaded.
type CorrelationRule struct {
	Title       string          `yaml:"title" json:"title"`
	ID          string          `yaml:"id,omitempty" json:"id,omitempty"`
	Status      string          `yaml:"status,omitempty" json:"status,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	References  []string        `yaml:"references,omitempty" json:"references,omitempty"`
	Author      string          `yaml:"author,omitempty" json:"author,omitempty"`
	Date        string          `yaml:"date,omitempty" json:"date,omitempty"`
	Modified    string          `yaml:"modified,omitempty" json:"modified,omitempty"`
	Tags        []string        `yaml:"tags,omitempty" json:"tags,omitempty"`
	Level       string          `yaml:"level,omitempty" json:"level,omitempty"`
	Correlation CorrelationSpec `yaml:"correlation" json:"correlation"`
}

// Validate checks the correlation stanza for the fields its kind
// requires.
func (r *CorrelationRule) Validate() error {
	c := &r.Correlation
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	switch c.Type {
	case CorrelationEventCount, CorrelationValueCount, CorrelationTemporal:
	case "":
		return fmt.Errorf("correlation rule %q: type is required", r.Title)
	default:
		return fmt.Errorf("correlation rule %q: unsupported type %q", r.Title, c.Type)
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("correlation rule %q: no base rules referenced", r.Title)
	}
	if c.Timespan == "" {
		return fmt.Errorf("correlation rule %q: timespan is required", r.Title)
	}
	if _, err := ParseTimespan(c.Timespan); err != nil {
		return fmt.Errorf("correlation rule %q: %w", r.Title, err)
	}
	if c.Type == CorrelationValueCount && c.Field == "" {
		return fmt.Errorf("correlation rule %q: value_count requires field", r.Title)
	}
	if c.Type != CorrelationTemporal && len(c.Condition) == 0 {
		return fmt.Errorf("correlation rule %q: condition is required", r.Title)
	}
	for op := range c.Condition {
		switch op {
		case "gte", "gt", "lt", "lte", "eq":
		default:
			return fmt.Errorf("correlation rule %q: unknown condition operator %q", r.Title, op)
		}
	}
	return nil
}

// Window returns the parsed correlation timespan. Validate must have
// accepted the rule first.
func (r *CorrelationRule) Window() time.Duration {
	d, _ := ParseTimespan(r.Correlation.Timespan)
	return d
}

// ConditionMet applies the rule's threshold condition to a count.
// Temporal rules without an explicit condition require every
// referenced base rule to appear, which the evaluator checks itself.
func (r *CorrelationRule) ConditionMet(count int) bool {
	for op, threshold := range r.Correlation.Condition {
		switch op {
		case "gte":
			if count < threshold {
				return false
			}
		case "gt":
			if count <= threshold {
				return false
			}
		case "lt":
			if count >= threshold {
				return false
			}
		case "lte":
			if count > threshold {
				return false
			}
		case "eq":
			if count != threshold {
				return false
			}
		}
	}
	return true
}

// ParseTimespan parses a Sigma timespan string: an integer followed by
// s, m, h, d or w.
func ParseTimespan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}
	switch s[len(s)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timespan unit in %q", s)
	}
}

// CorrelationResult is one evaluated (rule, group) outcome. Events are
// ordered by timestamp.
type CorrelationResult struct {
	Rule     *CorrelationRule
	GroupKey string
	Matched  bool
	Events   []*TimestampedEvent
}

// CorrelationEvaluator produces grouped results from the complete set
// of captured base-rule matches. Implementations run exactly once per
// scan, after all input is consumed.
type CorrelationEvaluator interface {
	Process(events []*TimestampedEvent) ([]CorrelationResult, error)
}
