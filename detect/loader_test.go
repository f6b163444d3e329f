package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goshawk/core"
)

const validRule = `title: Root account console login
id: 11111111-1111-1111-1111-111111111111
status: stable
author: alice
level: high
logsource:
  product: aws
  service: cloudtrail
detection:
  selection:
    eventName: ConsoleLogin
    userIdentity.type: Root
  condition: selection
`

const lowLevelRule = `title: Read-only describe call
level: informational
logsource:
  service: cloudtrail
detection:
  selection:
    eventName|startswith: Describe
  condition: selection
`

const wrongServiceRule = `title: Windows logon
level: high
logsource:
  product: windows
  service: security
detection:
  selection:
    EventID: 4624
  condition: selection
`

const brokenRule = `title: Broken
level: high
logsource:
  service: cloudtrail
detection:
  selection:
    eventName|bogusmod: x
  condition: selection
`

const correlationDoc = `title: Failed console login
name: failed_login
level: low
logsource:
  service: cloudtrail
detection:
  selection:
    eventName: ConsoleLogin
    errorMessage|contains: Failed
  condition: selection
---
title: Console login brute force
id: 22222222-2222-2222-2222-222222222222
level: high
correlation:
  type: event_count
  rules:
    - failed_login
  group-by:
    - userIdentity.arn
  timespan: 10m
  condition:
    gte: 10
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadRuleSet(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"root_login.yml":  validRule,
		"describe.yml":    lowLevelRule,
		"windows.yml":     wrongServiceRule,
		"brute_force.yml": correlationDoc,
	})

	rs, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	require.NoError(t, err)

	require.Len(t, rs.Rules, 2, "windows rule filtered by service")
	require.Len(t, rs.CorrelationRules, 1)
	require.Contains(t, rs.BaseRules, "failed_login")
	assert.NotNil(t, rs.BaseRules["failed_login"].Matcher)

	// Sorted enumeration: describe.yml loads before root_login.yml.
	assert.Equal(t, "Read-only describe call", rs.Rules[0].Title)
	assert.Equal(t, "Root account console login", rs.Rules[1].Title)
}

func TestLoadRuleSetMinLevel(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"root_login.yml": validRule,
		"describe.yml":   lowLevelRule,
	})

	rs, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelHigh, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "Root account console login", rs.Rules[0].Title)
}

func TestLoadRuleSetSkipsBrokenSingles(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"good.yml":   validRule,
		"broken.yml": brokenRule,
		"noise.txt":  "not a rule",
	})

	rs, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 1)
}

func TestLoadRuleSetAbortsOnBrokenCorrelation(t *testing.T) {
	broken := `title: base
name: base
level: low
logsource:
  service: cloudtrail
detection:
  selection:
    eventName: x
  condition: selection
---
title: bad correlation
correlation:
  type: event_count
  rules:
    - base
  timespan: not-a-span
  condition:
    gte: 2
`
	dir := writeRules(t, map[string]string{"bad.yml": broken})
	_, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestLoadRuleSetUnknownBaseRule(t *testing.T) {
	orphan := `title: orphan correlation
correlation:
  type: event_count
  rules:
    - never_defined
  timespan: 5m
  condition:
    gte: 2
`
	dir := writeRules(t, map[string]string{"orphan.yml": orphan})
	_, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never_defined")
}

func TestLoadRuleSetNoRules(t *testing.T) {
	dir := writeRules(t, map[string]string{"windows.yml": wrongServiceRule})
	_, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, ErrNoRules)

	_, err = LoadRuleSet(t.TempDir(), core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestLoadRuleSetSingleFile(t *testing.T) {
	dir := writeRules(t, map[string]string{"rule.yml": validRule})
	rs, err := LoadRuleSet(filepath.Join(dir, "rule.yml"), core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 1)
}

func TestLoadRuleSetSchemaValidation(t *testing.T) {
	schema := `{
  "type": "object",
  "required": ["title", "detection", "level"]
}`
	noLevel := `title: Missing level
logsource:
  service: cloudtrail
detection:
  selection:
    eventName: ConsoleLogin
  condition: selection
`
	dir := writeRules(t, map[string]string{
		"rules_schema.json": schema,
		"good.yml":          validRule,
		"no_level.yml":      noLevel,
	})

	rs, err := LoadRuleSet(dir, core.LogSourceAWS, core.LevelInformational, zap.NewNop().Sugar())
	require.NoError(t, err)
	// The schema rejects the level-less rule; the valid one survives.
	assert.Len(t, rs.Rules, 1)
	assert.Equal(t, "Root account console login", rs.Rules[0].Title)
}
