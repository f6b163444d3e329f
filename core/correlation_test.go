package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationRuleValidate(t *testing.T) {
	valid := CorrelationRule{
		Title: "brute force",
		Correlation: CorrelationSpec{
			Type:      CorrelationEventCount,
			Rules:     []string{"failed_login"},
			Timespan:  "5m",
			Condition: map[string]int{"gte": 10},
		},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CorrelationRule)
	}{
		{"missing type", func(r *CorrelationRule) { r.Correlation.Type = "" }},
		{"unknown type", func(r *CorrelationRule) { r.Correlation.Type = "sequence" }},
		{"no base rules", func(r *CorrelationRule) { r.Correlation.Rules = nil }},
		{"missing timespan", func(r *CorrelationRule) { r.Correlation.Timespan = "" }},
		{"bad timespan", func(r *CorrelationRule) { r.Correlation.Timespan = "5x" }},
		{"missing condition", func(r *CorrelationRule) { r.Correlation.Condition = nil }},
		{"bad operator", func(r *CorrelationRule) { r.Correlation.Condition = map[string]int{"ge": 1} }},
		{"value_count without field", func(r *CorrelationRule) {
			r.Correlation.Type = CorrelationValueCount
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}

	// Temporal rules may omit the condition; all referenced rules must
	// then appear, which the evaluator enforces.
	temporal := valid
	temporal.Correlation.Type = CorrelationTemporal
	temporal.Correlation.Rules = []string{"a", "b"}
	temporal.Correlation.Condition = nil
	assert.NoError(t, temporal.Validate())
}

func TestConditionMet(t *testing.T) {
	rule := func(cond map[string]int) *CorrelationRule {
		return &CorrelationRule{Correlation: CorrelationSpec{Condition: cond}}
	}

	assert.True(t, rule(map[string]int{"gte": 3}).ConditionMet(3))
	assert.False(t, rule(map[string]int{"gte": 3}).ConditionMet(2))
	assert.True(t, rule(map[string]int{"gt": 3}).ConditionMet(4))
	assert.False(t, rule(map[string]int{"gt": 3}).ConditionMet(3))
	assert.True(t, rule(map[string]int{"lt": 3}).ConditionMet(2))
	assert.False(t, rule(map[string]int{"lt": 3}).ConditionMet(3))
	assert.True(t, rule(map[string]int{"lte": 3}).ConditionMet(3))
	assert.True(t, rule(map[string]int{"eq": 3}).ConditionMet(3))
	assert.False(t, rule(map[string]int{"eq": 3}).ConditionMet(4))
	// Multiple operators must all hold.
	assert.True(t, rule(map[string]int{"gte": 2, "lt": 5}).ConditionMet(4))
	assert.False(t, rule(map[string]int{"gte": 2, "lt": 5}).ConditionMet(5))
}

func TestParseTimespan(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseTimespan(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "m", "5", "-5m", "0m", "5y", "abc"} {
		_, err := ParseTimespan(bad)
		assert.Error(t, err, bad)
	}
}

func TestWindow(t *testing.T) {
	r := &CorrelationRule{Correlation: CorrelationSpec{Timespan: "10m"}}
	assert.Equal(t, 10*time.Minute, r.Window())
}
