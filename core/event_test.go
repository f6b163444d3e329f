package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(map[string]interface{}{"eventName": "ConsoleLogin"})
	require.NoError(t, err)
	assert.Equal(t, "ConsoleLogin", ev.GetString("eventName"))

	_, err = NewEvent([]interface{}{"not", "an", "object"})
	assert.Error(t, err)

	_, err = NewEvent("scalar")
	assert.Error(t, err)
}

func TestEventGet(t *testing.T) {
	ev, err := NewEvent(map[string]interface{}{
		"eventName": "AssumeRole",
		"userIdentity": map[string]interface{}{
			"type": "IAMUser",
			"sessionContext": map[string]interface{}{
				"mfaAuthenticated": "false",
			},
		},
	})
	require.NoError(t, err)

	v, ok := ev.Get("userIdentity.type")
	assert.True(t, ok)
	assert.Equal(t, "IAMUser", v)

	v, ok = ev.Get("userIdentity.sessionContext.mfaAuthenticated")
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	_, ok = ev.Get("userIdentity.arn")
	assert.False(t, ok)

	_, ok = ev.Get("eventName.nested")
	assert.False(t, ok)
}

func TestEventGetString(t *testing.T) {
	ev, err := NewEvent(map[string]interface{}{
		"errorCode":    "AccessDenied",
		"statusCode":   float64(403),
		"ratio":        1.5,
		"readOnly":     true,
		"requestID":    nil,
		"eventVersion": "1.08",
	})
	require.NoError(t, err)

	assert.Equal(t, "AccessDenied", ev.GetString("errorCode"))
	assert.Equal(t, "403", ev.GetString("statusCode"))
	assert.Equal(t, "1.5", ev.GetString("ratio"))
	assert.Equal(t, "true", ev.GetString("readOnly"))
	assert.Equal(t, "", ev.GetString("requestID"))
	assert.Equal(t, "", ev.GetString("missing"))
}

func TestEventTimestamp(t *testing.T) {
	ev, err := NewEvent(map[string]interface{}{
		"eventTime":  "2023-07-10T11:42:36Z",
		"time":       "2023-07-10T11:42:36.1234567Z",
		"eventName":  "ConsoleLogin",
		"notQuiteTS": "yesterday",
	})
	require.NoError(t, err)

	ts, err := ev.Timestamp("eventTime")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 7, 10, 11, 42, 36, 0, time.UTC), ts)

	ts, err = ev.Timestamp("time")
	require.NoError(t, err)
	assert.Equal(t, 2023, ts.Year())

	_, err = ev.Timestamp("notQuiteTS")
	assert.Error(t, err)

	_, err = ev.Timestamp("missing")
	assert.Error(t, err)
}
