package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestTextMode(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Errorf(l, "peer %s failed", "n2")
    assert.Equal(t, "ERROR peer n2 failed\n", buf.String())
}

func TestJSONMode(t *testing.T) {
    SetJSON(true)
    defer SetJSON(false)
    var buf bytes.Buffer
    Warnf(log.New(&buf, "", 0), "x=%d", 1)
    var evt map[string]any
    require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt))
    assert.Equal(t, "warn", evt["level"])
    assert.Equal(t, "x=1", evt["msg"])
}

func TestDebugGated(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    SetDebug(false)
    Debugf(l, "hidden")
    assert.Empty(t, buf.String())
    SetDebug(true)
    defer SetDebug(false)
    Debugf(l, "shown")
    assert.True(t, strings.HasPrefix(buf.String(), "DEBUG shown"))
}
