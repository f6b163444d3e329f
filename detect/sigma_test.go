package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goshawk/core"
)

func event(t *testing.T, fields map[string]interface{}) *core.Event {
	t.Helper()
	ev, err := core.NewEvent(fields)
	require.NoError(t, err)
	return ev
}

func compile(t *testing.T, detection map[string]interface{}) core.RuleMatcher {
	t.Helper()
	m, err := CompileDetection(detection)
	require.NoError(t, err)
	return m
}

func TestCompileDetectionErrors(t *testing.T) {
	_, err := CompileDetection(nil)
	assert.Error(t, err)

	_, err = CompileDetection(map[string]interface{}{
		"selection": map[string]interface{}{"eventName": "x"},
	})
	assert.Error(t, err, "missing condition")

	_, err = CompileDetection(map[string]interface{}{
		"selection": map[string]interface{}{"eventName": "x"},
		"condition": 42,
	})
	assert.Error(t, err, "non-string condition")

	_, err = CompileDetection(map[string]interface{}{
		"selection": "scalar selection",
		"condition": "selection",
	})
	assert.Error(t, err, "bad selection shape")
}

func TestEqualsMatching(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{
			"eventName": "ConsoleLogin",
		},
		"condition": "selection",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "ConsoleLogin"})))
	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "consolelogin"})), "case insensitive")
	assert.False(t, m.Matches(event(t, map[string]interface{}{"eventName": "AssumeRole"})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{"other": "ConsoleLogin"})))
}

func TestValueListIsOr(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{
			"eventName": []interface{}{"StopLogging", "DeleteTrail"},
		},
		"condition": "selection",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "DeleteTrail"})))
	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "StopLogging"})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{"eventName": "StartLogging"})))
}

func TestModifiers(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		hit   string
		miss  string
	}{
		{"contains", "userAgent|contains", "aws-cli", "aws-cli/2.13.0", "curl/8.0"},
		{"startswith", "arn|startswith", "arn:aws:iam", "arn:aws:iam::1:root", "iam:arn:aws"},
		{"endswith", "arn|endswith", ":root", "arn:aws:iam::1:root", "root:other"},
		{"re", "sourceIPAddress|re", `^10\.`, "10.0.0.5", "192.168.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := tt.key[:len(tt.key)-len("|"+tt.name)]
			m := compile(t, map[string]interface{}{
				"selection": map[string]interface{}{tt.key: tt.value},
				"condition": "selection",
			})
			assert.True(t, m.Matches(event(t, map[string]interface{}{field: tt.hit})))
			assert.False(t, m.Matches(event(t, map[string]interface{}{field: tt.miss})))
		})
	}
}

func TestContainsAllModifier(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{
			"requestParameters.policy|contains|all": []interface{}{"Allow", "*"},
		},
		"condition": "selection",
	})

	hit := map[string]interface{}{
		"requestParameters": map[string]interface{}{"policy": `{"Effect":"Allow","Action":"*"}`},
	}
	miss := map[string]interface{}{
		"requestParameters": map[string]interface{}{"policy": `{"Effect":"Allow"}`},
	}
	assert.True(t, m.Matches(event(t, hit)))
	assert.False(t, m.Matches(event(t, miss)))
}

func TestWildcardMatching(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{
			"eventSource": "*.amazonaws.com",
			"eventName":   "Delete?rail",
		},
		"condition": "selection",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{
		"eventSource": "cloudtrail.amazonaws.com",
		"eventName":   "DeleteTrail",
	})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{
		"eventSource": "cloudtrail.amazonaws.com.evil.example",
		"eventName":   "DeleteTrail",
	})), "wildcard is anchored")
}

func TestInvalidRegexRejected(t *testing.T) {
	_, err := CompileDetection(map[string]interface{}{
		"selection": map[string]interface{}{"field|re": "("},
		"condition": "selection",
	})
	assert.Error(t, err)
}

func TestNullValueMeansAbsent(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{
			"errorCode": nil,
		},
		"condition": "selection",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "x"})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{"errorCode": "AccessDenied"})))
}

func TestListOfMapsIsOrSelection(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": []interface{}{
			map[string]interface{}{"eventName": "StopLogging"},
			map[string]interface{}{"eventName": "DeleteTrail", "readOnly": false},
		},
		"condition": "selection",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "StopLogging"})))
	assert.True(t, m.Matches(event(t, map[string]interface{}{"eventName": "DeleteTrail", "readOnly": false})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{"eventName": "DeleteTrail", "readOnly": true})))
}

func TestKeywordSelection(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"keywords":  []interface{}{"mimikatz", "secretsdump"},
		"condition": "keywords",
	})

	assert.True(t, m.Matches(event(t, map[string]interface{}{
		"process": map[string]interface{}{"commandLine": "run Mimikatz now"},
	})), "keywords search nested values case-insensitively")
	assert.False(t, m.Matches(event(t, map[string]interface{}{
		"process": map[string]interface{}{"commandLine": "notepad.exe"},
	})))
}

func TestNumericValueMatching(t *testing.T) {
	m := compile(t, map[string]interface{}{
		"selection": map[string]interface{}{"statusCode": 403},
		"condition": "selection",
	})
	// JSON decodes numbers as float64; both sides normalize.
	assert.True(t, m.Matches(event(t, map[string]interface{}{"statusCode": float64(403)})))
	assert.False(t, m.Matches(event(t, map[string]interface{}{"statusCode": float64(200)})))
}
