package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	SetLevel("info")
	Debugf("hidden %d", 1)
	Infof("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")

	SetLevel("debug")
	defer SetLevel("info")
	Debugf("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Equal(t, "debug", Level())
}

func TestSetFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	defer func() {
		SetFormat("text")
		SetOutput(os.Stdout)
	}()

	Warnf("[gate] busy holder=%s", "action")
	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "[gate] busy holder=action", rec["msg"])
}

func TestInfoBlockSkipsBlankLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	InfoBlock("first\n\n  \nsecond\n")
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "level=INFO"))
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}
