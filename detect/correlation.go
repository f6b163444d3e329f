package detect

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"goshawk/core"
)

// CorrelationEngine implements core.CorrelationEvaluator over the
// global accumulator of captured base-rule matches. It runs exactly
// once per scan, after all input is consumed, so time windows spanning
// chunk and file boundaries are never missed.
type CorrelationEngine struct {
	rules     []*core.CorrelationRule
	baseRules map[string]*core.Rule
	logger    *zap.SugaredLogger
}

// NewCorrelationEngine builds the evaluator from a loaded rule set.
func NewCorrelationEngine(rs *RuleSet, logger *zap.SugaredLogger) *CorrelationEngine {
	return &CorrelationEngine{
		rules:     rs.CorrelationRules,
		baseRules: rs.BaseRules,
		logger:    logger,
	}
}

// BaseRules exposes the base rules the matcher must test every event
// against during ingestion.
func (e *CorrelationEngine) BaseRules() map[string]*core.Rule {
	return e.baseRules
}

// Process evaluates every correlation rule against the captured
// events and returns one result per (rule, group key).
func (e *CorrelationEngine) Process(events []*core.TimestampedEvent) ([]core.CorrelationResult, error) {
	var results []core.CorrelationResult
	for _, rule := range e.rules {
		ruleResults, err := e.processRule(rule, events)
		if err != nil {
			return nil, fmt.Errorf("correlation rule %q: %w", rule.Title, err)
		}
		results = append(results, ruleResults...)
	}
	return results, nil
}

func (e *CorrelationEngine) processRule(rule *core.CorrelationRule, events []*core.TimestampedEvent) ([]core.CorrelationResult, error) {
	referenced := make(map[string]bool, len(rule.Correlation.Rules))
	for _, name := range rule.Correlation.Rules {
		referenced[name] = true
	}

	groups := make(map[string][]*core.TimestampedEvent)
	var groupKeys []string
	for _, ev := range events {
		if ev.Rule == nil || !referenced[ev.Rule.Name] {
			continue
		}
		key := groupKey(ev.Event, rule.Correlation.GroupBy)
		if _, ok := groups[key]; !ok {
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], ev)
	}
	sort.Strings(groupKeys)

	var results []core.CorrelationResult
	for _, key := range groupKeys {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		matched, contributing, err := e.evaluateGroup(rule, group)
		if err != nil {
			return nil, err
		}
		if !matched {
			contributing = group
		}
		results = append(results, core.CorrelationResult{
			Rule:     rule,
			GroupKey: key,
			Matched:  matched,
			Events:   contributing,
		})
	}
	return results, nil
}

// evaluateGroup slides the rule's time window over one group's
// time-ordered events and reports the first satisfying window.
func (e *CorrelationEngine) evaluateGroup(rule *core.CorrelationRule, group []*core.TimestampedEvent) (bool, []*core.TimestampedEvent, error) {
	window := rule.Window()
	for start := 0; start < len(group); start++ {
		end := start
		for end < len(group) && group[end].Timestamp.Sub(group[start].Timestamp) <= window {
			end++
		}
		candidates := group[start:end]
		switch rule.Correlation.Type {
		case core.CorrelationEventCount:
			if rule.ConditionMet(len(candidates)) {
				return true, candidates, nil
			}
		case core.CorrelationValueCount:
			distinct := make(map[string]struct{})
			for _, ev := range candidates {
				distinct[ev.Event.GetString(rule.Correlation.Field)] = struct{}{}
			}
			if rule.ConditionMet(len(distinct)) {
				return true, candidates, nil
			}
		case core.CorrelationTemporal:
			if ok := e.temporalSatisfied(rule, candidates); ok {
				return true, candidates, nil
			}
		default:
			return false, nil, fmt.Errorf("unsupported correlation type %q", rule.Correlation.Type)
		}
	}
	return false, nil, nil
}

// temporalSatisfied requires every referenced base rule to appear in
// the window; with ordered set, first appearances must follow the
// rule-list order. An explicit condition overrides the all-present
// requirement with a distinct-rule-count threshold.
func (e *CorrelationEngine) temporalSatisfied(rule *core.CorrelationRule, candidates []*core.TimestampedEvent) bool {
	firstSeen := make(map[string]int)
	for i, ev := range candidates {
		if _, ok := firstSeen[ev.Rule.Name]; !ok {
			firstSeen[ev.Rule.Name] = i
		}
	}

	if len(rule.Correlation.Condition) > 0 {
		if !rule.ConditionMet(len(firstSeen)) {
			return false
		}
	} else if len(firstSeen) < len(rule.Correlation.Rules) {
		return false
	}

	if rule.Correlation.Ordered {
		prev := -1
		for _, name := range rule.Correlation.Rules {
			idx, ok := firstSeen[name]
			if !ok || idx < prev {
				return false
			}
			prev = idx
		}
	}
	return true
}

// groupKey joins the group-by field values. Missing fields group
// together under the empty value, matching how the aggregation treats
// absent actors.
func groupKey(event *core.Event, fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = event.GetString(f)
	}
	return strings.Join(parts, "|")
}
